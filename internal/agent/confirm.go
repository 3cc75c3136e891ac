package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"

	"FlowAgent-Chain/internal/action"
	"FlowAgent-Chain/internal/dispatch"
	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/storage/mysql"
	"FlowAgent-Chain/internal/task"
	"FlowAgent-Chain/internal/web3"
	"FlowAgent-Chain/pkg/logger"
)

// Confirm 确认等待中的动作：先检查网络，再交给派发管线。终态消息不能再次确认。
func (a *Agent) Confirm(ctx context.Context, id string) (*Message, error) {
	msg, err := a.Message(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.State != StateAwaitingConfirmation || msg.PendingAction == nil {
		return msg, xerrors.New(CodeMessageState, fmt.Sprintf("message %s is %s and cannot be confirmed", id, msg.State))
	}
	return a.dispatch(ctx, id, *msg.PendingAction)
}

// Reject 取消动作。若动作已在派发中，同时中止在途的调用与重试。
func (a *Agent) Reject(ctx context.Context, id string) (*Message, error) {
	msg, err := a.Message(ctx, id)
	if err != nil {
		return nil, err
	}
	var act action.Action
	if msg.PendingAction != nil {
		act = msg.PendingAction.Clone()
	}

	updated, changed := a.messages.update(id, func(m *Message) bool {
		if m.State != StateAwaitingConfirmation && m.State != StatePending {
			return false
		}
		m.State = StateCancelled
		m.NeedsConfirmation = false
		m.Content = a.formatter.FormatCancelled(act)
		m.Statuses = append(m.Statuses, ActionStatus{Type: act.Type, Status: StatusFailed, UpdatedAt: a.now()})
		return true
	})
	if !changed {
		return updated, xerrors.New(CodeMessageState, fmt.Sprintf("message %s is %s and cannot be rejected", id, updated.State))
	}

	if a.service != nil {
		if _, err := a.service.Cancel(ctx, id); err != nil && !stdErrors.Is(err, task.ErrTaskNotFound) {
			a.logger.Warn("取消任务失败", slog.String("message_id", id), slog.Any("error", err))
		}
	}
	a.release(id)
	a.record(ctx, updated, nil, "")
	return updated, nil
}

// dispatch 捕获当前连接快照并把动作交给任务管线。
func (a *Agent) dispatch(ctx context.Context, id string, act action.Action) (*Message, error) {
	conn := a.current()
	network := networkOf(conn)
	if err := a.guard.Ensure(act, network); err != nil {
		msg, changed := a.finish(id, act, StateFailed, a.formatter.FormatError(err, act), "", xerrors.Classify(err))
		if changed {
			a.record(ctx, msg, conn, "")
		}
		return msg, nil
	}

	if _, ok := a.messages.update(id, func(m *Message) bool {
		if m.State.Terminal() || m.State == StatePending {
			return false
		}
		m.State = StatePending
		m.NeedsConfirmation = false
		m.Statuses = append(m.Statuses, ActionStatus{Type: act.Type, Status: StatusPending, UpdatedAt: a.now()})
		return true
	}); !ok {
		return a.Message(ctx, id)
	}
	a.capture(id, conn)

	req := task.Request{ID: id, Action: act, ChainID: network.ChainID}
	if conn != nil && conn.Connected() {
		req.Account = conn.Account().Hex()
	}
	t, err := a.service.Create(ctx, req)
	if err != nil {
		return a.abort(ctx, id, act, conn, err)
	}

	if a.async {
		if err := a.service.Enqueue(ctx, t); err != nil {
			return a.abort(ctx, id, act, conn, err)
		}
		return a.Message(ctx, id)
	}
	if err := a.processor.Process(ctx, id); err != nil {
		return a.abort(ctx, id, act, conn, err)
	}
	return a.Message(ctx, id)
}

func (a *Agent) abort(ctx context.Context, id string, act action.Action, conn dispatch.Connection, cause error) (*Message, error) {
	a.release(id)
	msg, changed := a.finish(id, act, StateFailed, a.formatter.FormatError(cause, act), "", xerrors.CodeOf(cause))
	if changed {
		a.record(ctx, msg, conn, "")
	}
	return msg, cause
}

// Execute 实现 task.Executor：网络守卫、合约派发、结果格式化，并更新消息与活动流。
func (a *Agent) Execute(ctx context.Context, t *task.Task) (task.Outcome, error) {
	act := t.Action
	conn := a.release(t.ID)
	if conn == nil {
		conn = a.current()
	}
	network := networkOf(conn)

	if err := a.guard.Ensure(act, network); err != nil {
		text := a.formatter.FormatError(err, act)
		if msg, changed := a.finish(t.ID, act, StateFailed, text, "", xerrors.Classify(err)); changed {
			a.record(ctx, msg, conn, "")
		}
		return task.Outcome{Display: text}, err
	}

	res, err := a.interactor.Execute(ctx, act, conn)
	if err != nil {
		code := xerrors.Classify(err)
		state, text := StateFailed, a.formatter.FormatError(err, act)
		if ctx.Err() != nil || code == xerrors.CodeUserRejected {
			state, text = StateCancelled, a.formatter.FormatCancelled(act)
		}
		if msg, changed := a.finish(t.ID, act, state, text, "", code); changed {
			a.record(ctx, msg, conn, "")
		}
		return task.Outcome{Display: text}, err
	}

	text := a.formatter.FormatResult(res, act, network.ChainID)
	if msg, changed := a.finish(t.ID, act, StateCompleted, text, res.Hash(), ""); changed {
		a.record(ctx, msg, conn, res.Hash())
	}
	return task.Outcome{TxHash: res.Hash(), Display: text}, nil
}

// finish 将非终态消息推进到终态，返回消息以及是否发生了变化。已取消的消息保持不变。
func (a *Agent) finish(id string, act action.Action, state State, content, hash string, code xerrors.Code) (*Message, bool) {
	status := StatusFailed
	if state == StateCompleted {
		status = StatusCompleted
	}
	msg, ok := a.messages.update(id, func(m *Message) bool {
		if m.State.Terminal() {
			return false
		}
		m.State = state
		m.Content = content
		m.ErrorCode = code
		m.NeedsConfirmation = false
		m.Statuses = append(m.Statuses, ActionStatus{Type: act.Type, Status: status, TxHash: hash, UpdatedAt: a.now()})
		return true
	})
	if msg == nil {
		// 消息不在本进程内，例如重启后由队列恢复的任务。
		return &Message{ID: id, Sender: senderAgent, Content: content, Timestamp: a.now(), State: state, ErrorCode: code, PendingAction: &act}, true
	}
	if !ok {
		a.logger.Debug("消息已处于终态，忽略结果", slog.String("message_id", id), slog.String("state", string(msg.State)))
	}
	return msg, ok
}

// record 将消息的最终状态写入活动流。
func (a *Agent) record(ctx context.Context, msg *Message, conn dispatch.Connection, hash string) {
	if a.activities == nil || msg == nil {
		return
	}
	rec := &mysql.ActivityRecord{
		MessageID: msg.ID,
		Status:    string(msg.State),
		TxHash:    hash,
		Summary:   firstLine(msg.Content),
		CreatedAt: a.now().Unix(),
	}
	if msg.PendingAction != nil {
		rec.ActionType = string(msg.PendingAction.Type)
	}
	if conn != nil {
		rec.ChainID = conn.Network().ChainID
		if conn.Connected() {
			rec.Account = conn.Account().Hex()
		}
	}
	if err := a.activities.Save(ctx, rec); err != nil {
		logger.L().Error("记录活动失败", slog.Any("error", err), slog.String("message_id", msg.ID))
	}
}

func (a *Agent) capture(id string, conn dispatch.Connection) {
	if conn == nil {
		return
	}
	a.mu.Lock()
	a.captured[id] = conn
	a.mu.Unlock()
}

func (a *Agent) release(id string) dispatch.Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	conn := a.captured[id]
	delete(a.captured, id)
	return conn
}

func networkOf(conn dispatch.Connection) web3.Network {
	if conn == nil {
		return web3.Network{}
	}
	return conn.Network()
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}
