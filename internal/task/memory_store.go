package task

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "FlowAgent-Chain/internal/errors"
)

// MemoryStore 以内存方式保存任务状态，用于单进程部署和测试。
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	now   func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task), now: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "task 不能为空")
	}
	if task.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return ErrTaskConflict
	}
	now := m.now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	m.tasks[task.ID] = task.Clone()
	return nil
}

// Get 返回任务。
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return task.Clone(), nil
}

// Claim 将待处理任务标记为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	switch {
	case task.Status.Terminal():
		return task.Clone(), ErrTaskTerminal
	case task.Status == StatusRunning:
		return task.Clone(), ErrTaskConflict
	case task.MaxRetries > 0 && task.Attempts >= task.MaxRetries:
		return task.Clone(), ErrTaskExhausted
	}
	task.Status = StatusRunning
	task.Attempts++
	task.LastError = ""
	task.ErrorCode = ""
	task.UpdatedAt = m.now().Unix()
	return task.Clone(), nil
}

// MarkCompleted 记录成功结果。
func (m *MemoryStore) MarkCompleted(_ context.Context, id string, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, err := m.open(id)
	if err != nil {
		return err
	}
	task.Status = StatusCompleted
	task.TxHash = outcome.TxHash
	task.Display = outcome.Display
	task.LastError = ""
	task.ErrorCode = ""
	task.UpdatedAt = m.now().Unix()
	return nil
}

// MarkFailed 标记任务失败。失败是终态，动作不会被再次派发。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, display string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, err := m.open(id)
	if err != nil {
		return err
	}
	task.Status = StatusFailed
	task.LastError = lastError
	task.ErrorCode = string(code)
	task.Display = display
	task.UpdatedAt = m.now().Unix()
	return nil
}

// Cancel 取消尚未终结的任务。重复取消是幂等的。
func (m *MemoryStore) Cancel(_ context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	switch task.Status {
	case StatusCancelled:
		return task.Clone(), nil
	case StatusCompleted, StatusFailed:
		return task.Clone(), ErrTaskTerminal
	}
	task.Status = StatusCancelled
	task.UpdatedAt = m.now().Unix()
	return task.Clone(), nil
}

func (m *MemoryStore) open(id string) (*Task, error) {
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return nil, ErrTaskTerminal
	}
	return task, nil
}

// List 返回符合过滤条件的任务。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if matchesListFilters(task, opts) {
			results = append(results, task.Clone())
		}
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if opts.Order == SortByUpdatedAsc {
			a, b = b, a
		}
		if a.UpdatedAt == b.UpdatedAt {
			if a.CreatedAt == b.CreatedAt {
				return a.ID > b.ID
			}
			return a.CreatedAt > b.CreatedAt
		}
		return a.UpdatedAt > b.UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Task{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的任务数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (TaskStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := TaskStats{}
	for _, task := range m.tasks {
		if matchesListFilters(task, opts) {
			stats.add(task)
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(task *Task, opts ListOptions) bool {
	if len(opts.Statuses) > 0 && !containsStatus(opts.Statuses, task.Status) {
		return false
	}
	if len(opts.Types) > 0 {
		matched := false
		for _, t := range opts.Types {
			if task.Action.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.Account != "" && !strings.EqualFold(opts.Account, task.Account) {
		return false
	}
	if opts.UpdatedGTE > 0 && task.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && task.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.HasHash != nil && (task.TxHash != "") != *opts.HasHash {
		return false
	}
	if opts.Query != "" {
		q := strings.ToLower(opts.Query)
		fields := []string{task.ID, string(task.Action.Type), task.Action.Description, task.Account, task.TxHash, task.LastError}
		found := false
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f), q) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsStatus(statuses []Status, status Status) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

var _ Store = (*MemoryStore)(nil)
