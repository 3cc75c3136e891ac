package task

import (
	stdErrors "errors"

	"FlowAgent-Chain/internal/action"
	xerrors "FlowAgent-Chain/internal/errors"
)

// Status 表示动作任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Outcome 保存一次派发的结果。
type Outcome struct {
	TxHash  string `json:"tx_hash,omitempty"`
	Display string `json:"display"`
}

// Task 描述一个等待派发到链上的已确认动作。ID 与发起确认的聊天消息 ID 相同。
type Task struct {
	ID         string        `json:"id"`
	Action     action.Action `json:"action"`
	ChainID    int64         `json:"chain_id"`
	Account    string        `json:"account,omitempty"`
	Status     Status        `json:"status"`
	Attempts   int           `json:"attempts"`
	MaxRetries int           `json:"max_retries"`
	TxHash     string        `json:"tx_hash,omitempty"`
	Display    string        `json:"display,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
	ErrorCode  string        `json:"error_code,omitempty"`
	CreatedAt  int64         `json:"created_at"`
	UpdatedAt  int64         `json:"updated_at"`
}

// Clone 返回任务的深拷贝。
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Action = t.Action.Clone()
	return &clone
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务正在执行，不能再次领取。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task is already running", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrTaskTerminal 表示任务已经完成、失败或被取消。
	ErrTaskTerminal = xerrors.New(CodeTaskTerminal, "task already reached a terminal state", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrTaskExhausted 表示任务的领取次数已经耗尽。
	ErrTaskExhausted = xerrors.New(CodeTaskExhausted, "task retries exhausted", xerrors.WithSeverity(xerrors.SeverityCritical))
)

const (
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict   xerrors.Code = "TASK_CONFLICT"
	CodeTaskTerminal   xerrors.Code = "TASK_TERMINAL"
	CodeTaskExhausted  xerrors.Code = "TASK_RETRIES_EXHAUSTED"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskPublish    xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeTaskProcessing xerrors.Code = "TASK_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:  "task conflict",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTaskTerminal, xerrors.Attributes{
		Message:  "task already terminal",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskExhausted, xerrors.Attributes{
		Message:  "task retries exhausted",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:  "task validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskPublish, xerrors.Attributes{
		Message:   "failed to publish task",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTaskProcessing, xerrors.Attributes{
		Message:  "task execution failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// IsTaskError 判断错误是否为指定的任务错误。
func IsTaskError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch target {
	case CodeTaskNotFound:
		return stdErrors.Is(err, ErrTaskNotFound)
	case CodeTaskConflict:
		return stdErrors.Is(err, ErrTaskConflict)
	case CodeTaskTerminal:
		return stdErrors.Is(err, ErrTaskTerminal)
	case CodeTaskExhausted:
		return stdErrors.Is(err, ErrTaskExhausted)
	}
	return false
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
