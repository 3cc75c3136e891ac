package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"FlowAgent-Chain/internal/action"
	xerrors "FlowAgent-Chain/internal/errors"
)

const taskColumns = `id, action_type, action_json, chain_id, account, status, attempts, max_retries,
        tx_hash, display, last_error, error_code, created_at, updated_at`

// MySQLStore 使用 MySQL 记录任务状态。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore 根据 DSN 建立连接并初始化表结构。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store, err := OpenMySQLStore(context.Background(), db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenMySQLStore 在已有连接上初始化表结构。
func OpenMySQLStore(ctx context.Context, db *sql.DB) (*MySQLStore, error) {
	store := &MySQLStore{db: db, now: time.Now}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS action_tasks (
        id VARCHAR(64) PRIMARY KEY,
        action_type VARCHAR(64) NOT NULL,
        action_json TEXT NOT NULL,
        chain_id BIGINT NOT NULL DEFAULT 0,
        account VARCHAR(64) DEFAULT '',
        status VARCHAR(32) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_retries INT NOT NULL DEFAULT 1,
        tx_hash VARCHAR(66) DEFAULT '',
        display TEXT,
        last_error TEXT,
        error_code VARCHAR(64) DEFAULT '',
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_action_task_status (status),
        INDEX idx_action_task_updated (updated_at)
)`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 action_tasks 表失败")
	}
	return nil
}

// Create 插入新的任务记录。
func (s *MySQLStore) Create(ctx context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	payload, err := json.Marshal(task.Action)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码动作失败")
	}

	now := s.now().Unix()
	task.CreatedAt = now
	task.UpdatedAt = now

	const stmt = `INSERT INTO action_tasks
        (id, action_type, action_json, chain_id, account, status, attempts, max_retries, tx_hash, display, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		task.ID,
		string(task.Action.Type),
		string(payload),
		task.ChainID,
		task.Account,
		string(task.Status),
		task.Attempts,
		task.MaxRetries,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM action_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return task, nil
}

// Claim 将待处理任务标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Task, error) {
	const stmt = `UPDATE action_tasks SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status = ? AND (max_retries = 0 OR attempts < max_retries)`

	res, err := s.db.ExecContext(ctx, stmt, string(StatusRunning), s.now().Unix(), id, string(StatusPending))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	task, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if affected > 0 {
		return task, nil
	}
	switch {
	case task.Status.Terminal():
		return task, ErrTaskTerminal
	case task.Status == StatusRunning:
		return task, ErrTaskConflict
	default:
		return task, ErrTaskExhausted
	}
}

// MarkCompleted 将任务标记为成功。
func (s *MySQLStore) MarkCompleted(ctx context.Context, id string, outcome Outcome) error {
	const stmt = `UPDATE action_tasks SET status = ?, tx_hash = ?, display = ?, last_error = '', error_code = '', updated_at = ?
        WHERE id = ? AND status IN (?, ?)`

	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusCompleted), outcome.TxHash, outcome.Display, s.now().Unix(),
		id, string(StatusPending), string(StatusRunning))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务成功失败")
	}
	return s.checkTransition(ctx, res, id)
}

// MarkFailed 将任务标记为失败。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, display string) error {
	const stmt = `UPDATE action_tasks SET status = ?, last_error = ?, error_code = ?, display = ?, updated_at = ?
        WHERE id = ? AND status IN (?, ?)`

	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusFailed), lastError, string(code), display, s.now().Unix(),
		id, string(StatusPending), string(StatusRunning))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务失败失败")
	}
	return s.checkTransition(ctx, res, id)
}

// Cancel 取消尚未终结的任务。
func (s *MySQLStore) Cancel(ctx context.Context, id string) (*Task, error) {
	const stmt = `UPDATE action_tasks SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`

	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusCancelled), s.now().Unix(), id, string(StatusPending), string(StatusRunning))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "取消任务失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if affected == 0 && task.Status != StatusCancelled {
		return task, ErrTaskTerminal
	}
	return task, nil
}

func (s *MySQLStore) checkTransition(ctx context.Context, res sql.Result, id string) error {
	if rows, _ := res.RowsAffected(); rows > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrTaskTerminal
}

// List 返回符合过滤条件的任务。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	opts.applyDefaults()

	query := `SELECT ` + taskColumns + ` FROM action_tasks`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.Order == SortByUpdatedAsc {
		query += " ORDER BY updated_at ASC, created_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, created_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	tasks := make([]*Task, 0, opts.Limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return tasks, nil
}

// Stats 返回符合过滤条件的任务聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (TaskStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS running,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS cancelled,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM action_tasks`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusPending), string(StatusRunning), string(StatusCompleted), string(StatusFailed), string(StatusCancelled)}
	args = append(args, filterArgs...)

	var stats TaskStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Completed,
		&stats.Failed,
		&stats.Cancelled,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return TaskStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task       Task
		actionType string
		payload    string
		status     string
		display    sql.NullString
		lastError  sql.NullString
	)
	if err := row.Scan(
		&task.ID,
		&actionType,
		&payload,
		&task.ChainID,
		&task.Account,
		&status,
		&task.Attempts,
		&task.MaxRetries,
		&task.TxHash,
		&display,
		&lastError,
		&task.ErrorCode,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &task.Action); err != nil {
		return nil, fmt.Errorf("解析动作 %s 失败: %w", task.ID, err)
	}
	if task.Action.Type == "" {
		task.Action.Type = action.Type(actionType)
	}
	task.Status = Status(status)
	task.Display = display.String
	task.LastError = lastError.String
	return &task, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", placeholders(len(opts.Statuses))))
		for _, status := range opts.Statuses {
			args = append(args, string(status))
		}
	}
	if len(opts.Types) > 0 {
		conditions = append(conditions, fmt.Sprintf("action_type IN (%s)", placeholders(len(opts.Types))))
		for _, t := range opts.Types {
			args = append(args, string(t))
		}
	}
	if opts.Account != "" {
		conditions = append(conditions, "LOWER(account) = LOWER(?)")
		args = append(args, opts.Account)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasHash != nil {
		if *opts.HasHash {
			conditions = append(conditions, "tx_hash <> ''")
		} else {
			conditions = append(conditions, "(tx_hash IS NULL OR tx_hash = '')")
		}
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR action_type LIKE ? OR action_json LIKE ? OR account LIKE ? OR tx_hash LIKE ? OR last_error LIKE ?)")
		for i := 0; i < 6; i++ {
			args = append(args, pattern)
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

var _ Store = (*MySQLStore)(nil)
