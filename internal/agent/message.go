package agent

import (
	"sync"
	"time"

	"FlowAgent-Chain/internal/action"
	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/intent"
)

// MessageContext 是展示层随消息附带的上下文。
type MessageContext struct {
	Network     string `json:"network"`
	ChainID     int64  `json:"chainId"`
	UserAddress string `json:"userAddress"`
	Connected   bool   `json:"connected"`
	AgentName   string `json:"agentName,omitempty"`
	AgentRole   string `json:"agentRole,omitempty"`
}

// State 描述消息的展示状态。
type State string

const (
	StateInfo                 State = "info"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StatePending              State = "pending"
	StateCompleted            State = "completed"
	StateFailed               State = "failed"
	StateCancelled            State = "cancelled"
)

// Terminal 判断状态是否为终态。
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// 动作状态条目的取值。
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ActionStatus 记录动作的一次状态变化。
type ActionStatus struct {
	Type      action.Type `json:"type"`
	Status    string      `json:"status"`
	TxHash    string      `json:"txHash,omitempty"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Message 是展示层渲染的消息记录。
type Message struct {
	ID                string         `json:"id"`
	Sender            string         `json:"sender"`
	Content           string         `json:"content"`
	Timestamp         time.Time      `json:"timestamp"`
	State             State          `json:"state"`
	PendingAction     *action.Action `json:"pendingAction,omitempty"`
	Intent            *intent.Intent `json:"intent,omitempty"`
	Statuses          []ActionStatus `json:"statuses,omitempty"`
	ErrorCode         xerrors.Code   `json:"errorCode,omitempty"`
	NeedsConfirmation bool           `json:"needsConfirmation"`
}

// Clone 返回消息的深拷贝。
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := *m
	if m.PendingAction != nil {
		act := m.PendingAction.Clone()
		clone.PendingAction = &act
	}
	if m.Intent != nil {
		in := *m.Intent
		clone.Intent = &in
	}
	clone.Statuses = append([]ActionStatus(nil), m.Statuses...)
	return &clone
}

const senderAgent = "agent"

// messageStore 在内存中保存最近的消息，超过上限时淘汰最早的消息。
type messageStore struct {
	mu    sync.RWMutex
	byID  map[string]*Message
	order []string
	limit int
}

func newMessageStore(limit int) *messageStore {
	if limit <= 0 {
		limit = 1024
	}
	return &messageStore{byID: make(map[string]*Message), limit: limit}
}

func (s *messageStore) put(msg *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[msg.ID]; !exists {
		s.order = append(s.order, msg.ID)
	}
	s.byID[msg.ID] = msg.Clone()
	for len(s.order) > s.limit {
		delete(s.byID, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *messageStore) get(id string) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return msg.Clone(), true
}

// update 在锁内修改消息，fn 返回 false 时不做任何修改。
func (s *messageStore) update(id string, fn func(*Message) bool) (*Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	next := msg.Clone()
	if !fn(next) {
		return msg.Clone(), false
	}
	s.byID[id] = next
	return next.Clone(), true
}
