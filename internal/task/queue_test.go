package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"FlowAgent-Chain/internal/action"
	xerrors "FlowAgent-Chain/internal/errors"
)

func TestEnvelopeMatchesStoredTask(t *testing.T) {
	stored := &Task{ID: "msg-7", Action: action.Action{Type: action.TypeSendPayment}, ChainID: 11155111}
	env := NewEnvelope(stored)

	body, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeEnvelope(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := decoded.Matches(stored); err != nil {
		t.Fatalf("expected envelope to match: %v", err)
	}

	wrongChain := decoded
	wrongChain.ChainID = 1
	if err := wrongChain.Matches(stored); xerrors.CodeOf(err) != CodeEnvelopeInvalid {
		t.Fatalf("expected chain mismatch, got %v", err)
	}
	wrongAction := decoded
	wrongAction.ActionType = action.TypeCreateAgent
	if err := wrongAction.Matches(stored); xerrors.CodeOf(err) != CodeEnvelopeInvalid {
		t.Fatalf("expected action mismatch, got %v", err)
	}

	for _, body := range []string{"msg-7", `{"id":""}`, `{"id":"x"}`} {
		if _, err := DecodeEnvelope([]byte(body)); xerrors.CodeOf(err) != CodeEnvelopeInvalid {
			t.Fatalf("expected %q to be rejected, got %v", body, err)
		}
	}
	if _, err := (Envelope{}).Encode(); err == nil {
		t.Fatal("expected empty envelope to fail encoding")
	}
}

func TestMemoryQueueDedupesPendingTask(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := NewMemoryQueue(4)
	env := Envelope{ID: "msg-8", ActionType: action.TypeENSCheck, ChainID: 31337}
	for i := 0; i < 3; i++ {
		if err := queue.Publish(ctx, env); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if queue.Len() != 1 {
		t.Fatalf("expected a single pending envelope, got %d", queue.Len())
	}

	received := make(chan Envelope, 4)
	go queue.Consume(ctx, 1, func(_ context.Context, got Envelope) error {
		received <- got
		return nil
	})
	select {
	case got := <-received:
		if got.ID != env.ID || got.ActionType != env.ActionType {
			t.Fatalf("unexpected envelope %+v", got)
		}
	case <-ctx.Done():
		t.Fatal("envelope was not delivered")
	}

	// 消费后可以再次投递。
	if err := queue.Publish(ctx, env); err != nil {
		t.Fatalf("republish: %v", err)
	}
	select {
	case <-received:
	case <-ctx.Done():
		t.Fatal("republished envelope was not delivered")
	}

	if err := queue.Publish(ctx, Envelope{}); xerrors.CodeOf(err) != CodeEnvelopeInvalid {
		t.Fatalf("expected empty id to be rejected, got %v", err)
	}
	queue.Close()
	if err := queue.Publish(ctx, Envelope{ID: "msg-9", ActionType: action.TypeENSCheck}); err == nil {
		t.Fatal("expected publish after close to fail")
	}
}

func TestProcessorDropsMismatchedEnvelope(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	executor := &fakeExecutor{}
	processor := NewProcessor(executor, store, nil)
	service := NewService(store)

	stored, err := service.Create(ctx, Request{ID: "msg-10", Action: action.Action{Type: action.TypeSendPayment}, ChainID: 31337})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	forged := NewEnvelope(stored)
	forged.ChainID = 1
	if err := processor.Dispatch(ctx, forged); err != nil {
		t.Fatalf("dispatch mismatched: %v", err)
	}
	if got, _ := service.Get(ctx, stored.ID); got.Status != StatusPending || executor.processed.Load() != 0 {
		t.Fatalf("mismatched envelope must not run the task, got %+v", got)
	}

	if err := processor.Dispatch(ctx, Envelope{ID: "missing", ActionType: action.TypeSendPayment}); err != nil {
		t.Fatalf("dispatch unknown task: %v", err)
	}

	if err := processor.Dispatch(ctx, NewEnvelope(stored)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got, _ := service.Get(ctx, stored.ID); got.Status != StatusCompleted || executor.processed.Load() != 1 {
		t.Fatalf("expected task to complete, got %+v", got)
	}
}

type recordingAck struct {
	acked, nacked bool
	requeue       bool
}

func (r *recordingAck) Ack(bool) error {
	r.acked = true
	return nil
}

func (r *recordingAck) Nack(_, requeue bool) error {
	r.nacked = true
	r.requeue = requeue
	return nil
}

func TestHandleDeliveryRejectsBadMessages(t *testing.T) {
	ctx := context.Background()
	env := Envelope{ID: "msg-11", ActionType: action.TypeENSCheck, ChainID: 31337, EnqueuedAt: time.Now().UnixMilli()}
	msg, err := publishing(env, true)
	if err != nil {
		t.Fatalf("publishing: %v", err)
	}
	if msg.MessageId != env.ID || msg.Type != string(env.ActionType) || msg.ContentType != "application/json" {
		t.Fatalf("unexpected publishing %+v", msg)
	}

	var handled []string
	handler := func(_ context.Context, got Envelope) error {
		handled = append(handled, got.ID)
		return errors.New("executor failed")
	}

	ack := &recordingAck{}
	handleDelivery(ctx, msg.MessageId, msg.Body, ack, handler)
	if !ack.acked || ack.nacked || len(handled) != 1 {
		t.Fatalf("expected handled and acked message, got %+v handled=%v", ack, handled)
	}

	ack = &recordingAck{}
	handleDelivery(ctx, "other-id", msg.Body, ack, handler)
	if ack.acked || !ack.nacked || ack.requeue {
		t.Fatalf("expected mismatched id to be dropped, got %+v", ack)
	}

	ack = &recordingAck{}
	handleDelivery(ctx, "", []byte("msg-11"), ack, handler)
	if !ack.nacked || len(handled) != 1 {
		t.Fatalf("expected plain text body to be dropped, got %+v handled=%v", ack, handled)
	}
}

func TestRedisQueueKeys(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	q := newRedisQueue(client, RedisQueueConfig{})
	if q.queue != "flowagent:actions" || q.wait != 5*time.Second || q.pendingTTL != 10*time.Minute {
		t.Fatalf("unexpected defaults %+v", q)
	}
	if q.pendingKey("msg-12") != "flowagent:actions:pending:msg-12" || q.deadKey() != "flowagent:actions:dead" {
		t.Fatalf("unexpected keys %s %s", q.pendingKey("msg-12"), q.deadKey())
	}
}
