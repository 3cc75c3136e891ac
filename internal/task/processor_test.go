package task

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"FlowAgent-Chain/internal/action"
	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/observability/alerting"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	fail      error
}

func (f *fakeExecutor) Execute(ctx context.Context, task *Task) (Outcome, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return Outcome{Display: "Transaction was cancelled by the user."}, ctx.Err()
		}
	}
	f.processed.Add(1)
	if f.fail != nil {
		return Outcome{Display: "failed"}, f.fail
	}
	return Outcome{TxHash: "0x" + task.ID, Display: "ok"}, nil
}

type recordingAlerter struct {
	events []alerting.Event
}

func (r *recordingAlerter) Notify(_ context.Context, event alerting.Event) error {
	r.events = append(r.events, event)
	return nil
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 5 * time.Millisecond}

	service := NewService(store, WithProducer(queue))
	processor := NewProcessor(executor, store, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 100
	for i := 0; i < total; i++ {
		req := Request{Action: action.Action{Type: action.TypeSendPayment}, ChainID: 1}
		if _, err := service.Submit(ctx, req); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		stats, _ := service.Stats(ctx)
		if stats.Completed >= total {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", stats.Completed)
		case <-time.After(20 * time.Millisecond):
		}
	}
	if int(executor.processed.Load()) != total {
		t.Fatalf("expected each task to run once, got %d", executor.processed.Load())
	}
}

func TestProcessorRecordsFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	alerter := &recordingAlerter{}
	executor := &fakeExecutor{fail: fmt.Errorf("send: %w", errors.New("execution reverted"))}
	processor := NewProcessor(executor, store, nil, WithAlertDispatcher(alerter))
	service := NewService(store)

	task, err := service.Create(ctx, Request{ID: "msg-1", Action: action.Action{Type: action.TypeENSTransfer}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := processor.Process(ctx, task.ID); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, _ := service.Get(ctx, task.ID)
	if got.Status != StatusFailed || got.ErrorCode != string(xerrors.CodeReverted) || got.Display != "failed" {
		t.Fatalf("unexpected failed task %+v", got)
	}
	if len(alerter.events) != 1 || alerter.events[0].TaskID != "msg-1" {
		t.Fatalf("expected one alert, got %+v", alerter.events)
	}

	// 已终结的任务不会被再次派发。
	if err := processor.Process(ctx, task.ID); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if executor.processed.Load() != 1 {
		t.Fatalf("expected a single execution, got %d", executor.processed.Load())
	}
}

func TestServiceCancelAbortsInflightTask(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	executor := &fakeExecutor{latency: 5 * time.Second}
	processor := NewProcessor(executor, store, nil)
	service := NewService(store, WithAborter(processor))

	task, _ := service.Create(ctx, Request{ID: "msg-2", Action: action.Action{Type: action.TypeSendPayment}})
	done := make(chan error, 1)
	go func() { done <- processor.Process(ctx, task.ID) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		current, _ := service.Get(ctx, task.ID)
		if current.Status == StatusRunning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("task never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancelled, err := service.Cancel(ctx, task.ID)
	if err != nil || cancelled.Status != StatusCancelled {
		t.Fatalf("cancel: %v %+v", err, cancelled)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("process returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight task was not aborted")
	}
	final, err := service.WaitUntilCompleted(ctx, task.ID, 10*time.Millisecond)
	if err != nil || final.Status != StatusCancelled {
		t.Fatalf("expected cancelled task to stay cancelled, got %v %+v", err, final)
	}
}

func TestServiceCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	service := NewService(NewMemoryStore())
	first, err := service.Create(ctx, Request{ID: "msg-3", Action: action.Action{Type: action.TypeENSCheck}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := service.Create(ctx, Request{ID: "msg-3", Action: action.Action{Type: action.TypeENSCheck}})
	if err != nil || second.ID != first.ID {
		t.Fatalf("expected existing task, got %v %+v", err, second)
	}
	if _, err := service.Create(ctx, Request{}); !errors.Is(err, xerrors.New(CodeTaskValidation, "")) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := service.Enqueue(ctx, first); err == nil {
		t.Fatal("expected enqueue without producer to fail")
	}
}
