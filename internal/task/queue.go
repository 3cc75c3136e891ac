package task

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"FlowAgent-Chain/internal/action"
	xerrors "FlowAgent-Chain/internal/errors"
)

// CodeEnvelopeInvalid 表示队列消息无法解析或与存储中的任务不一致。
const CodeEnvelopeInvalid xerrors.Code = "TASK_ENVELOPE_INVALID"

func init() {
	xerrors.Register(CodeEnvelopeInvalid, xerrors.Attributes{
		Message:  "dispatch envelope rejected",
		Severity: xerrors.SeverityWarning,
	})
}

// Envelope 是投递到队列的派发消息。任务本体只保存在 Store 中，
// 消息携带足以核对任务的摘要字段。
type Envelope struct {
	ID         string      `json:"id"`
	ActionType action.Type `json:"action_type"`
	ChainID    int64       `json:"chain_id"`
	Account    string      `json:"account,omitempty"`
	EnqueuedAt int64       `json:"enqueued_at"`
}

// NewEnvelope 根据任务生成派发消息。
func NewEnvelope(t *Task) Envelope {
	return Envelope{
		ID:         t.ID,
		ActionType: t.Action.Type,
		ChainID:    t.ChainID,
		Account:    t.Account,
		EnqueuedAt: time.Now().UnixMilli(),
	}
}

// Encode 序列化为 JSON。
func (e Envelope) Encode() ([]byte, error) {
	if strings.TrimSpace(e.ID) == "" {
		return nil, xerrors.New(CodeEnvelopeInvalid, "envelope id is empty")
	}
	return json.Marshal(e)
}

// DecodeEnvelope 解析队列消息体。
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, xerrors.Wrap(CodeEnvelopeInvalid, err, "decode envelope")
	}
	if strings.TrimSpace(env.ID) == "" || env.ActionType == "" {
		return Envelope{}, xerrors.New(CodeEnvelopeInvalid, "envelope is missing id or action_type")
	}
	return env, nil
}

// Matches 校验消息与存储中的任务是否描述同一次派发。
func (e Envelope) Matches(t *Task) error {
	switch {
	case t == nil:
		return xerrors.New(CodeEnvelopeInvalid, "task is nil")
	case t.ID != e.ID:
		return xerrors.New(CodeEnvelopeInvalid, fmt.Sprintf("envelope id %s does not match task %s", e.ID, t.ID))
	case t.Action.Type != e.ActionType:
		return xerrors.New(CodeEnvelopeInvalid, fmt.Sprintf("envelope action %s does not match task action %s", e.ActionType, t.Action.Type))
	case t.ChainID != e.ChainID:
		return xerrors.New(CodeEnvelopeInvalid, fmt.Sprintf("envelope chain %d does not match task chain %d", e.ChainID, t.ChainID))
	}
	return nil
}

// Handler 处理一条派发消息。
type Handler func(ctx context.Context, env Envelope) error

// Producer 负责投递派发消息。
type Producer interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// Consumer 负责消费派发消息。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
