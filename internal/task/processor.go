package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync"
	"time"

	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/observability/alerting"
	"FlowAgent-Chain/pkg/logger"
)

// Executor 派发一个已领取的任务并返回结果。返回错误时 Outcome 仍可携带失败提示文本。
type Executor interface {
	Execute(ctx context.Context, task *Task) (Outcome, error)
}

// Processor 负责从队列消费任务并交给 Executor 执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。consumer 为空时只能通过 Process 同步处理。
func NewProcessor(executor Executor, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
		logger:      logger.Named("processor"),
		inflight:    make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Dispatch)
}

// Dispatch 处理一条队列消息：先核对消息与存储中的任务，再交给 Process。
// 不一致的消息被记录并丢弃。
func (p *Processor) Dispatch(ctx context.Context, env Envelope) error {
	if p.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	stored, err := p.store.Get(ctx, env.ID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) {
			p.logger.Warn("派发消息对应的任务不存在", slog.String("task_id", env.ID))
			return nil
		}
		return err
	}
	if err := env.Matches(stored); err != nil {
		p.logger.Warn("派发消息与任务不一致，已丢弃",
			slog.String("task_id", env.ID),
			slog.String("envelope_action", string(env.ActionType)),
			slog.Int64("envelope_chain_id", env.ChainID),
			slog.Any("error", err),
		)
		return nil
	}
	p.logger.Debug("收到派发消息",
		slog.String("task_id", env.ID),
		slog.String("action", string(env.ActionType)),
		slog.Int64("chain_id", env.ChainID),
		slog.Duration("queued_for", time.Since(time.UnixMilli(env.EnqueuedAt))),
	)
	return p.Process(ctx, env.ID)
}

// Abort 取消正在执行的任务，返回任务是否在执行中。
func (p *Processor) Abort(taskID string) bool {
	p.mu.Lock()
	cancel, ok := p.inflight[taskID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Process 领取并执行单个任务。只有存储故障会返回错误，执行失败记录在任务上。
func (p *Processor) Process(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskTerminal) ||
			stdErrors.Is(err, ErrTaskConflict) || stdErrors.Is(err, ErrTaskExhausted) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		p.emitAlert(ctx, &Task{ID: taskID}, CodeTaskProcessing, err, "claim")
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.track(task.ID, cancel)
	defer p.untrack(task.ID)

	outcome, execErr := p.executor.Execute(runCtx, task)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, task, outcome, execErr)
	}

	if err := p.store.MarkCompleted(ctx, task.ID, outcome); err != nil {
		if stdErrors.Is(err, ErrTaskTerminal) {
			p.logger.Warn("任务已被取消，丢弃执行结果", slog.String("task_id", task.ID), slog.String("tx_hash", outcome.TxHash))
			return nil
		}
		p.logger.Error("标记任务完成失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("action", string(task.Action.Type)),
		slog.Int64("chain_id", task.ChainID),
		slog.String("tx_hash", outcome.TxHash),
	)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, outcome Outcome, execErr error) error {
	code := xerrors.Classify(execErr)
	if code == xerrors.CodeUnknown {
		if c := xerrors.CodeOf(execErr); c != xerrors.CodeUnknown {
			code = c
		}
	}

	if storeErr := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), outcome.Display); storeErr != nil {
		if stdErrors.Is(storeErr, ErrTaskTerminal) {
			p.logger.Info("任务已被取消", slog.String("task_id", task.ID))
			return nil
		}
		p.logger.Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", task.ID))
		return storeErr
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("action", string(task.Action.Type)),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
	)
	if xerrors.AttributesOf(code).Alert {
		p.emitAlert(ctx, task, code, execErr, "terminal")
	}
	return nil
}

func (p *Processor) track(id string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.inflight[id] = cancel
	p.mu.Unlock()
}

func (p *Processor) untrack(id string) {
	p.mu.Lock()
	cancel, ok := p.inflight[id]
	delete(p.inflight, id)
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		TaskID:     task.ID,
		ActionType: string(task.Action.Type),
		ChainID:    task.ChainID,
		Attempts:   task.Attempts,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
