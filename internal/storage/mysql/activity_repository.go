package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ActivityRecord 表示一次动作派发在活动流中的记录。
type ActivityRecord struct {
	ID         int64  `json:"id"`
	MessageID  string `json:"message_id"`
	ActionType string `json:"action_type"`
	Status     string `json:"status"`
	ChainID    int64  `json:"chain_id"`
	Account    string `json:"account,omitempty"`
	TxHash     string `json:"tx_hash,omitempty"`
	Summary    string `json:"summary"`
	CreatedAt  int64  `json:"created_at"`
}

// ActivityRepository 抽象活动记录的持久化接口。
type ActivityRepository interface {
	Save(ctx context.Context, record *ActivityRecord) error
	ListLatest(ctx context.Context, limit int) ([]ActivityRecord, error)
}

const memoryActivityLimit = 512

// MemoryActivityRepository 将活动以 JSON 行追加写入本地文件，启动时回放。
type MemoryActivityRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []ActivityRecord
	nextID   int64
}

// NewMemoryActivityRepository 创建基于文件的活动仓库。
func NewMemoryActivityRepository(dataDir string) (*MemoryActivityRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryActivityRepository{dataFile: filepath.Join(dataDir, "activities.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 追加一条活动记录并分配 ID。
func (m *MemoryActivityRepository) Save(_ context.Context, record *ActivityRecord) error {
	if record == nil {
		return fmt.Errorf("活动记录不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	record.ID = m.nextID

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开活动日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化活动记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入活动日志失败: %w", err)
	}

	m.records = append([]ActivityRecord{*record}, m.records...)
	if len(m.records) > memoryActivityLimit {
		m.records = m.records[:memoryActivityLimit]
	}
	return nil
}

// ListLatest 返回最近的活动记录，按写入顺序倒序。
func (m *MemoryActivityRepository) ListLatest(_ context.Context, limit int) ([]ActivityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]ActivityRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

func (m *MemoryActivityRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取活动日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []ActivityRecord
	for scanner.Scan() {
		var record ActivityRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.ID > m.nextID {
			m.nextID = record.ID
		}
		restored = append([]ActivityRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析活动日志失败: %w", err)
	}

	if len(restored) > memoryActivityLimit {
		restored = restored[:memoryActivityLimit]
	}
	m.records = restored
	return nil
}

// SQLActivityRepository 使用 MySQL 存储活动记录。
type SQLActivityRepository struct {
	db *sql.DB
}

// NewSQLActivityRepository 建立连接池并执行迁移。
func NewSQLActivityRepository(ctx context.Context, cfg Config) (*SQLActivityRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLActivityRepository{db: db}, nil
}

const insertActivitySQL = `INSERT INTO activities
        (message_id, action_type, status, chain_id, account, tx_hash, summary, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// Save 写入活动记录。
func (s *SQLActivityRepository) Save(ctx context.Context, record *ActivityRecord) error {
	if record == nil {
		return fmt.Errorf("活动记录不能为空")
	}
	res, err := s.db.ExecContext(ctx, insertActivitySQL,
		record.MessageID,
		record.ActionType,
		record.Status,
		record.ChainID,
		record.Account,
		record.TxHash,
		record.Summary,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("写入活动记录失败: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		record.ID = id
	}
	return nil
}

const listActivitiesSQL = `SELECT id, message_id, action_type, status, chain_id, account, tx_hash, summary, created_at
        FROM activities ORDER BY created_at DESC, id DESC LIMIT ?`

// ListLatest 查询最近的活动记录。
func (s *SQLActivityRepository) ListLatest(ctx context.Context, limit int) ([]ActivityRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, listActivitiesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("查询活动记录失败: %w", err)
	}
	defer rows.Close()

	var records []ActivityRecord
	for rows.Next() {
		var r ActivityRecord
		if err := rows.Scan(&r.ID, &r.MessageID, &r.ActionType, &r.Status, &r.ChainID, &r.Account, &r.TxHash, &r.Summary, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析活动记录失败: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历活动记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLActivityRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
