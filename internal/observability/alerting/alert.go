package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog     Channel = "log"
	ChannelWebhook Channel = "webhook"
)

// Event 描述一次需要告警的派发事件。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	Channel    Channel
	TaskID     string
	ActionType string
	ChainID    int64
	Attempts   int
	Metadata   map[string]string
	OccurredAt time.Time
}

// Summary 返回单行告警描述。
func (e Event) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Severity, e.Code)
	if e.ActionType != "" {
		fmt.Fprintf(&b, " action=%s", e.ActionType)
	}
	if e.ChainID != 0 {
		fmt.Fprintf(&b, " chain=%d", e.ChainID)
	}
	if e.TaskID != "" {
		fmt.Fprintf(&b, " task=%s", e.TaskID)
	}
	fmt.Fprintf(&b, " attempts=%d: %s", e.Attempts, e.Message)
	return b.String()
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	channels := make([]string, 0, len(d.notifiers))
	for ch := range d.notifiers {
		channels = append(channels, string(ch))
	}
	sort.Strings(channels)

	var errs []error
	for _, ch := range channels {
		notifier := d.notifiers[Channel(ch)]
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch, err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 将告警写入审计日志。
type LogNotifier struct{}

// Channel 返回日志渠道。
func (LogNotifier) Channel() Channel { return ChannelLog }

// Notify 写入审计日志。
func (LogNotifier) Notify(_ context.Context, event Event) error {
	logger.Audit().Error("alert",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("task_id", event.TaskID),
		slog.String("action", event.ActionType),
		slog.Int64("chain_id", event.ChainID),
		slog.Int("attempts", event.Attempts),
		slog.String("message", event.Message),
	)
	return nil
}

// WebhookNotifier 以 JSON 形式推送告警，兼容 Slack 与钉钉的 incoming webhook。
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

type webhookPayload struct {
	Text     string            `json:"text"`
	Code     string            `json:"code"`
	Severity string            `json:"severity"`
	TaskID   string            `json:"task_id,omitempty"`
	Action   string            `json:"action,omitempty"`
	ChainID  int64             `json:"chain_id,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Time     string            `json:"time"`
}

// Channel 返回 webhook 渠道。
func (n *WebhookNotifier) Channel() Channel { return ChannelWebhook }

// Notify 推送告警。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("task_id", event.TaskID))
		return nil
	}
	body, err := json.Marshal(webhookPayload{
		Text:     event.Summary(),
		Code:     string(event.Code),
		Severity: string(event.Severity),
		TaskID:   event.TaskID,
		Action:   event.ActionType,
		ChainID:  event.ChainID,
		Metadata: event.Metadata,
		Time:     event.OccurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("推送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("告警 webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}
