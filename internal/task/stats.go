package task

// TaskStats 聚合了任务状态的统计信息，常用于仪表盘或健康检查。
type TaskStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Completed       int   `json:"completed"`
	Failed          int   `json:"failed"`
	Cancelled       int   `json:"cancelled"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

func (s *TaskStats) add(t *Task) {
	s.Total++
	switch t.Status {
	case StatusPending:
		s.Pending++
	case StatusRunning:
		s.Running++
	case StatusCompleted:
		s.Completed++
	case StatusFailed:
		s.Failed++
	case StatusCancelled:
		s.Cancelled++
	}
	if t.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = t.UpdatedAt
	}
	if s.OldestUpdatedAt == 0 || (t.UpdatedAt != 0 && t.UpdatedAt < s.OldestUpdatedAt) {
		s.OldestUpdatedAt = t.UpdatedAt
	}
}
