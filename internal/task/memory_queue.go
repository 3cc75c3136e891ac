package task

import (
	"context"
	"log/slog"
	"sync"

	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/pkg/logger"
)

// MemoryQueue 是进程内的派发队列。同一任务在被消费前重复投递只保留一条。
type MemoryQueue struct {
	ch   chan Envelope
	done chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		ch:      make(chan Envelope, size),
		done:    make(chan struct{}),
		pending: make(map[string]struct{}),
	}
}

// Publish 投递派发消息，任务已在队列中时直接返回。
func (q *MemoryQueue) Publish(ctx context.Context, env Envelope) error {
	if env.ID == "" {
		return xerrors.New(CodeEnvelopeInvalid, "envelope id is empty")
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return xerrors.New(CodeTaskPublish, "队列已关闭")
	}
	if _, queued := q.pending[env.ID]; queued {
		q.mu.Unlock()
		logger.L().Debug("任务已在队列中", slog.String("task_id", env.ID))
		return nil
	}
	q.pending[env.ID] = struct{}{}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		q.release(env.ID)
		return ctx.Err()
	case <-q.done:
		q.release(env.ID)
		return xerrors.New(CodeTaskPublish, "队列已关闭")
	case q.ch <- env:
		return nil
	}
}

// Consume 启动 workerCount 个协程消费队列，直到 ctx 结束。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case env := <-q.ch:
					q.release(env.ID)
					if err := handler(ctx, env); err != nil {
						logger.L().Warn("派发消息处理失败", slog.String("task_id", env.ID), slog.Any("error", err))
					}
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Len 返回尚未被消费的消息数。
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) release(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.done)
		q.closed = true
	}
	return nil
}
