package task

import (
	"context"
	"testing"
	"time"

	"FlowAgent-Chain/internal/action"
)

func newTask(id string, typ action.Type) *Task {
	return &Task{
		ID:         id,
		Action:     action.Action{Type: typ, Params: action.Params{"name": id + ".eth"}, Description: "act " + id},
		ChainID:    11155111,
		Account:    "0x00000000000000000000000000000000000000A1",
		Status:     StatusPending,
		MaxRetries: 1,
	}
}

func TestMemoryStoreClaimIsSingleFlight(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, newTask("m1", action.TypeENSCreate)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, newTask("m1", action.TypeENSCreate)); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected duplicate create to conflict, got %v", err)
	}

	claimed, err := store.Claim(ctx, "m1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed task %+v", claimed)
	}
	if _, err := store.Claim(ctx, "m1"); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected running task to conflict, got %v", err)
	}

	if err := store.MarkCompleted(ctx, "m1", Outcome{TxHash: "0xabc", Display: "done"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := store.Claim(ctx, "m1"); !IsTaskError(err, CodeTaskTerminal) {
		t.Fatalf("expected terminal task to be rejected, got %v", err)
	}
	if err := store.MarkFailed(ctx, "m1", "X", "late", ""); !IsTaskError(err, CodeTaskTerminal) {
		t.Fatalf("expected terminal task to stay completed, got %v", err)
	}
	got, _ := store.Get(ctx, "m1")
	if got.Status != StatusCompleted || got.TxHash != "0xabc" {
		t.Fatalf("unexpected final task %+v", got)
	}
	if _, err := store.Claim(ctx, "missing"); !IsTaskError(err, CodeTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreCancel(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, newTask("c1", action.TypeSendPayment))
	if _, err := store.Claim(ctx, "c1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	cancelled, err := store.Cancel(ctx, "c1")
	if err != nil || cancelled.Status != StatusCancelled {
		t.Fatalf("cancel: %v %+v", err, cancelled)
	}
	if _, err := store.Cancel(ctx, "c1"); err != nil {
		t.Fatalf("repeat cancel should be idempotent, got %v", err)
	}
	if err := store.MarkCompleted(ctx, "c1", Outcome{TxHash: "0x1"}); !IsTaskError(err, CodeTaskTerminal) {
		t.Fatalf("cancelled task must not be completed, got %v", err)
	}

	_ = store.Create(ctx, newTask("c2", action.TypeSendPayment))
	_, _ = store.Claim(ctx, "c2")
	_ = store.MarkFailed(ctx, "c2", "NONCE_ERROR", "nonce too low", "")
	if _, err := store.Cancel(ctx, "c2"); !IsTaskError(err, CodeTaskTerminal) {
		t.Fatalf("failed task cannot be cancelled, got %v", err)
	}
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Minute)

	for _, task := range []*Task{newTask("t1", action.TypeENSCheck), newTask("t2", action.TypeSendPayment), newTask("t3", action.TypeENSCreate)} {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create task %s: %v", task.ID, err)
		}
	}
	_, _ = store.Claim(ctx, "t2")
	if err := store.MarkFailed(ctx, "t2", "INSUFFICIENT_FUNDS", "boom", "Insufficient funds"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	_, _ = store.Claim(ctx, "t3")
	if err := store.MarkCompleted(ctx, "t3", Outcome{TxHash: "0xfeed", Display: "ok"}); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	store.mu.Lock()
	store.tasks["t1"].UpdatedAt = base.Unix()
	store.tasks["t2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["t3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "t3" {
		t.Fatalf("expected newest task first, got %+v", all)
	}

	asc, _ := store.List(ctx, buildListOptions([]ListOption{WithSortOrder(SortByUpdatedAsc), WithLimit(1), WithOffset(1)}))
	if len(asc) != 1 || asc[0].ID != "t2" {
		t.Fatalf("unexpected paged ascending list: %+v", asc)
	}

	failed, _ := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if len(failed) != 1 || failed[0].ID != "t2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	hashed, _ := store.List(ctx, buildListOptions([]ListOption{WithHashPresence(true)}))
	if len(hashed) != 1 || hashed[0].ID != "t3" {
		t.Fatalf("unexpected hash list: %+v", hashed)
	}

	typed, _ := store.List(ctx, buildListOptions([]ListOption{WithActionTypes(action.TypeENSCheck, action.TypeENSCreate)}))
	if len(typed) != 2 {
		t.Fatalf("expected 2 ens tasks, got %d", len(typed))
	}

	recent, _ := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(base.Add(15 * time.Second))}))
	if len(recent) != 2 {
		t.Fatalf("expected 2 tasks to match since filter, got %d", len(recent))
	}

	queried, _ := store.List(ctx, buildListOptions([]ListOption{WithQuery("BOOM")}))
	if len(queried) != 1 || queried[0].ID != "t2" {
		t.Fatalf("unexpected query result: %+v", queried)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		_ = store.Create(ctx, newTask(id, action.TypeSendPayment))
	}
	_, _ = store.Claim(ctx, "b")
	_ = store.MarkFailed(ctx, "b", "NONCE_ERROR", "boom", "")
	_, _ = store.Claim(ctx, "c")
	_ = store.MarkCompleted(ctx, "c", Outcome{TxHash: "0x1"})
	_, _ = store.Cancel(ctx, "d")

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 4 || stats.Pending != 1 || stats.Failed != 1 || stats.Completed != 1 || stats.Cancelled != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.OldestUpdatedAt == 0 || stats.NewestUpdatedAt < stats.OldestUpdatedAt {
		t.Fatalf("unexpected timestamps: %+v", stats)
	}

	withHash, _ := store.Stats(ctx, buildListOptions([]ListOption{WithHashPresence(true)}))
	if withHash.Total != 1 || withHash.Completed != 1 {
		t.Fatalf("unexpected stats with hash: %+v", withHash)
	}
}
