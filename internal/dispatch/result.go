package dispatch

import (
	"encoding/json"
	"sync"

	xerrors "FlowAgent-Chain/internal/errors"
)

// Status 是交易结果的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrAlreadyTerminal 表示结果已经进入终态。
var ErrAlreadyTerminal = xerrors.New(xerrors.CodeConflict, "transaction result already terminal")

// TransactionResult 记录一次派发的结果，最多从 pending 转换一次到终态。
type TransactionResult struct {
	mu     sync.RWMutex
	hash   string
	status Status
	raw    string
}

// NewResult 创建处于 pending 状态的结果。
func NewResult() *TransactionResult {
	return &TransactionResult{status: StatusPending}
}

// Complete 将结果标记为成功。读调用的 hash 为空。
func (r *TransactionResult) Complete(hash, raw string) error {
	return r.finish(StatusCompleted, hash, raw)
}

// Fail 将结果标记为失败。
func (r *TransactionResult) Fail(raw string) error {
	return r.finish(StatusFailed, "", raw)
}

func (r *TransactionResult) finish(status Status, hash, raw string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusPending {
		return ErrAlreadyTerminal
	}
	r.status = status
	r.hash = hash
	r.raw = raw
	return nil
}

func (r *TransactionResult) Hash() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hash
}

func (r *TransactionResult) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *TransactionResult) RawOutcome() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.raw
}

// Terminal 判断结果是否已结束。
func (r *TransactionResult) Terminal() bool {
	return r.Status() != StatusPending
}

// MarshalJSON 输出 {hash, status, rawOutcome}，读调用的 hash 为 null。
func (r *TransactionResult) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var hash *string
	if r.hash != "" {
		h := r.hash
		hash = &h
	}
	return json.Marshal(struct {
		Hash       *string `json:"hash"`
		Status     Status  `json:"status"`
		RawOutcome string  `json:"rawOutcome"`
	}{hash, r.status, r.raw})
}
