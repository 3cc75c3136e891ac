package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"FlowAgent-Chain/internal/action"
	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/pkg/logger"
)

// Aborter 取消正在执行的任务。
type Aborter interface {
	Abort(taskID string) bool
}

// Request 描述一次派发请求。
type Request struct {
	ID      string
	Action  action.Action
	ChainID int64
	Account string
}

// Service 负责任务的创建、入队与查询。
type Service struct {
	store      Store
	producer   Producer
	aborter    Aborter
	maxRetries int
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithProducer 指定异步派发使用的队列。
func WithProducer(producer Producer) ServiceOption {
	return func(s *Service) { s.producer = producer }
}

// WithAborter 指定取消在途任务的执行者。
func WithAborter(aborter Aborter) ServiceOption {
	return func(s *Service) { s.aborter = aborter }
}

// WithMaxRetries 设置任务最多被领取的次数。
func WithMaxRetries(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewService 构造任务服务。
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, maxRetries: 1}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SetAborter 在处理器创建后补充注册。
func (s *Service) SetAborter(aborter Aborter) {
	s.aborter = aborter
}

// Create 保存一个待派发任务。相同 ID 的任务已存在时返回已有任务。
func (s *Service) Create(ctx context.Context, req Request) (*Task, error) {
	if req.Action.Type == "" {
		return nil, xerrors.New(CodeTaskValidation, "动作类型不能为空")
	}
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	taskID := strings.TrimSpace(req.ID)
	if taskID == "" {
		taskID = uuid.NewString()
	}
	task := &Task{
		ID:         taskID,
		Action:     req.Action.Clone(),
		ChainID:    req.ChainID,
		Account:    req.Account,
		Status:     StatusPending,
		MaxRetries: s.maxRetries,
	}
	if err := s.store.Create(ctx, task); err != nil {
		if stdErrors.Is(err, ErrTaskConflict) {
			return s.store.Get(ctx, taskID)
		}
		return nil, err
	}
	return task, nil
}

// Enqueue 将任务投递到队列，投递失败时任务被标记为失败。
func (s *Service) Enqueue(ctx context.Context, task *Task) error {
	if s.producer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务队列")
	}
	if err := s.producer.Publish(ctx, NewEnvelope(task)); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("task_id", task.ID))
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, task.ID, CodeTaskPublish, wrapped.Error(), "")
		return wrapped
	}
	logger.Audit().Info("任务入队成功",
		slog.String("task_id", task.ID),
		slog.String("action", string(task.Action.Type)),
		slog.String("account", task.Account),
		slog.Int64("chain_id", task.ChainID),
	)
	return nil
}

// Submit 创建任务并立即入队。
func (s *Service) Submit(ctx context.Context, req Request) (*Task, error) {
	task, err := s.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	if task.Status != StatusPending {
		return task, nil
	}
	if err := s.Enqueue(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if s.store == nil {
		return TaskStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, buildListOptions(opts))
}

// Cancel 取消任务，并中止正在进行的派发与重试。
func (s *Service) Cancel(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	task, err := s.store.Cancel(ctx, id)
	if err != nil {
		return task, err
	}
	if s.aborter != nil && s.aborter.Abort(id) {
		logger.L().Info("已中止在途任务", slog.String("task_id", id))
	}
	logger.Audit().Info("任务已取消", slog.String("task_id", id), slog.String("action", string(task.Action.Type)))
	return task, nil
}

// Close 释放资源。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 轮询任务直到进入终态或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Status.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
