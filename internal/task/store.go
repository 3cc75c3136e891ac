package task

import (
	"context"

	xerrors "FlowAgent-Chain/internal/errors"
)

// Store 抽象了任务状态的持久化接口。
//
// Claim 只允许从 pending 进入 running，保证同一动作在得到终态前只被派发一次；
// MarkCompleted 与 MarkFailed 只作用于未终结的任务，被取消的任务不会被覆盖。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Claim(ctx context.Context, id string) (*Task, error)
	MarkCompleted(ctx context.Context, id string, outcome Outcome) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, display string) error
	Cancel(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (TaskStats, error)
	Close() error
}
