package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"FlowAgent-Chain/internal/action"
	"FlowAgent-Chain/internal/dispatch"
	"FlowAgent-Chain/internal/display"
	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/intent"
	"FlowAgent-Chain/internal/llm"
	"FlowAgent-Chain/internal/storage/mysql"
	"FlowAgent-Chain/internal/task"
	"FlowAgent-Chain/pkg/logger"
)

// 消息相关的错误码。
const (
	CodeMessageNotFound xerrors.Code = "MESSAGE_NOT_FOUND"
	CodeMessageState    xerrors.Code = "MESSAGE_STATE_INVALID"
)

func init() {
	xerrors.Register(CodeMessageNotFound, xerrors.Attributes{Message: "message not found", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeMessageState, xerrors.Attributes{Message: "message cannot change state", Severity: xerrors.SeverityInfo})
}

// Examples 是可以被直接识别的示例指令。
var Examples = []string{
	"Check ENS availability: flow.agent.eth",
	"Create agent ENS: kwame.agent.eth",
	"Resolve ENS: vitalik.eth",
	"Get text records: kwame.agent.eth",
	"Send 0.5 ETH to kwame.agent.eth",
	"Create Multi-Signature Wallet",
	"register payment agent pay.agent.eth",
}

// Connections 返回当前的连接快照。
type Connections interface {
	Current() dispatch.Connection
}

// ConnectionsFunc 将函数适配为 Connections。
type ConnectionsFunc func() dispatch.Connection

// Current 实现 Connections。
func (f ConnectionsFunc) Current() dispatch.Connection { return f() }

// Agent 协调意图识别、动作构建、派发与结果展示，是系统的业务核心。
type Agent struct {
	recognizer  *intent.Recognizer
	builder     *action.Builder
	guard       action.Guard
	interactor  *dispatch.Interactor
	formatter   *display.Formatter
	connections Connections
	activities  mysql.ActivityRepository
	llmClient   llm.Client
	llmTimeout  time.Duration
	historyLen  int
	autoReads   bool
	now         func() time.Time
	logger      *slog.Logger

	messages  *messageStore
	service   *task.Service
	processor *task.Processor
	async     bool

	mu       sync.Mutex
	captured map[string]dispatch.Connection
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithRecognizer 替换意图识别器。
func WithRecognizer(r *intent.Recognizer) Option {
	return func(a *Agent) {
		if r != nil {
			a.recognizer = r
		}
	}
}

// WithBuilder 替换动作构建器，网络守卫随之使用其命名链。
func WithBuilder(b *action.Builder) Option {
	return func(a *Agent) {
		if b != nil {
			a.builder = b
		}
	}
}

// WithFormatter 替换结果格式化器。
func WithFormatter(f *display.Formatter) Option {
	return func(a *Agent) {
		if f != nil {
			a.formatter = f
		}
	}
}

// WithActivityRepository 配置活动记录仓库。
func WithActivityRepository(repo mysql.ActivityRepository) Option {
	return func(a *Agent) { a.activities = repo }
}

// WithLLM 配置无意图命中时的大模型回复。
func WithLLM(client llm.Client, timeout time.Duration) Option {
	return func(a *Agent) {
		a.llmClient = client
		if timeout > 0 {
			a.llmTimeout = timeout
		}
	}
}

// WithHistoryDepth 设置提供给大模型的历史活动条数。
func WithHistoryDepth(depth int) Option {
	return func(a *Agent) {
		if depth >= 0 {
			a.historyLen = depth
		}
	}
}

// WithAutoExecuteReads 控制查询类动作是否无需确认直接执行。
func WithAutoExecuteReads(enabled bool) Option {
	return func(a *Agent) { a.autoReads = enabled }
}

// WithClock 注入时钟。
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// New 创建一个 Agent。未调用 UsePipeline 时使用内存任务存储同步派发。
func New(interactor *dispatch.Interactor, connections Connections, opts ...Option) *Agent {
	a := &Agent{
		recognizer:  intent.NewRecognizer(),
		builder:     action.NewBuilder(),
		interactor:  interactor,
		formatter:   display.NewFormatter(),
		connections: connections,
		llmTimeout:  20 * time.Second,
		historyLen:  5,
		autoReads:   true,
		now:         time.Now,
		logger:      logger.Named("agent"),
		messages:    newMessageStore(0),
		captured:    make(map[string]dispatch.Connection),
	}
	if a.interactor == nil {
		a.interactor = dispatch.NewInteractor()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.guard = action.Guard{NamingChainID: a.builder.NamingChainID()}

	store := task.NewMemoryStore()
	service := task.NewService(store)
	processor := task.NewProcessor(a, store, nil)
	service.SetAborter(processor)
	a.UsePipeline(service, processor, false)
	return a
}

// UsePipeline 指定确认后的派发管线。async 为 true 时任务入队由处理器消费，
// 否则在 Confirm 中同步处理。
func (a *Agent) UsePipeline(service *task.Service, processor *task.Processor, async bool) {
	a.service = service
	a.processor = processor
	a.async = async
}

// Tasks 返回派发管线的任务服务。
func (a *Agent) Tasks() *task.Service { return a.service }

func (a *Agent) current() dispatch.Connection {
	if a.connections == nil {
		return nil
	}
	return a.connections.Current()
}

// HandleMessage 解析用户输入。识别出意图时返回等待确认的动作，否则返回提示或大模型回复。
func (a *Agent) HandleMessage(ctx context.Context, text string, mc MessageContext) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息内容不能为空")
	}

	msg := &Message{ID: uuid.NewString(), Sender: senderAgent, Timestamp: a.now(), State: StateInfo}
	in, ok := a.recognizer.Detect(text)
	if !ok {
		msg.Content = a.fallbackReply(ctx, text, mc)
		a.messages.put(msg)
		return msg.Clone(), nil
	}
	msg.Intent = &in

	act, err := a.builder.Build(ctx, in, a.buildOptions(mc)...)
	if err != nil {
		msg.State = StateFailed
		msg.ErrorCode = xerrors.Classify(err)
		msg.Content = a.formatter.FormatError(err, action.Action{Description: in.Description})
		a.messages.put(msg)
		return msg.Clone(), nil
	}
	msg.PendingAction = &act

	spec, err := action.Lookup(act.Type)
	if err == nil && spec.Read && a.autoReads {
		msg.Content = act.Description
		a.messages.put(msg)
		return a.dispatch(ctx, msg.ID, act)
	}

	msg.State = StateAwaitingConfirmation
	msg.NeedsConfirmation = true
	msg.Content = confirmationText(act)
	a.messages.put(msg)
	return msg.Clone(), nil
}

func (a *Agent) buildOptions(mc MessageContext) []action.BuildOption {
	opts := []action.BuildOption{action.WithAgent(mc.AgentName, mc.AgentRole)}
	if common.IsHexAddress(mc.UserAddress) {
		opts = append(opts, action.WithCaller(common.HexToAddress(mc.UserAddress)))
	} else if conn := a.current(); conn != nil && conn.Connected() {
		opts = append(opts, action.WithCaller(conn.Account()))
	}
	if conn := a.current(); conn != nil {
		opts = append(opts, action.WithPriceOracle(dispatch.OracleFor(conn)))
	}
	return opts
}

func confirmationText(act action.Action) string {
	var b strings.Builder
	b.WriteString(act.Description)
	b.WriteString(".")
	if act.EstimatedCost != "" {
		fmt.Fprintf(&b, "\n\nEstimated cost: %s ETH.", act.EstimatedCost)
	}
	if act.RequiredChainID != 0 {
		fmt.Fprintf(&b, "\nRequires chain %d.", act.RequiredChainID)
	}
	b.WriteString("\n\nConfirm to submit this transaction or reject to cancel.")
	return b.String()
}

const helpText = "I can help with agents, ENS names and payments. Try one of:"

func (a *Agent) fallbackReply(ctx context.Context, text string, mc MessageContext) string {
	if intent.RequiresConfirmation(text) {
		return "This looks like an on-chain operation, but I could not work out its details. " +
			"Please include the name, recipient and amount, for example \"Send 0.5 ETH to kwame.agent.eth\"."
	}
	if a.llmClient != nil {
		llmCtx, cancel := context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
		resp, err := a.llmClient.Generate(llmCtx, llm.Request{
			Text:      text,
			Network:   mc.Network,
			ChainID:   mc.ChainID,
			Address:   mc.UserAddress,
			AgentName: mc.AgentName,
			Examples:  Examples,
			History:   a.history(ctx),
		})
		if err == nil && resp != nil && strings.TrimSpace(resp.Reply) != "" {
			return strings.TrimSpace(resp.Reply)
		}
		if err != nil {
			a.logger.Warn("大模型回复失败", slog.Any("error", err), slog.Bool("timeout", stdErrors.Is(err, context.DeadlineExceeded)))
		}
	}
	return helpText + "\n- " + strings.Join(Examples, "\n- ")
}

func (a *Agent) history(ctx context.Context) []llm.HistoryEntry {
	if a.activities == nil || a.historyLen <= 0 {
		return nil
	}
	records, err := a.activities.ListLatest(ctx, a.historyLen)
	if err != nil {
		a.logger.Warn("加载历史活动失败", slog.Any("error", err))
		return nil
	}
	entries := make([]llm.HistoryEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, llm.HistoryEntry{ActionType: r.ActionType, Status: r.Status, Summary: r.Summary, CreatedAt: r.CreatedAt})
	}
	return entries
}

// Greeting 返回欢迎消息。
func (a *Agent) Greeting(_ context.Context, mc MessageContext) *Message {
	var b strings.Builder
	if name := strings.TrimSpace(mc.AgentName); name != "" {
		fmt.Fprintf(&b, "Hi, I'm %s.", name)
	} else {
		b.WriteString("Welcome to FlowAgent.")
	}
	switch {
	case !mc.Connected:
		b.WriteString(" Connect your wallet to run on-chain actions.")
	case mc.Network != "":
		fmt.Fprintf(&b, " You are connected to %s.", mc.Network)
	}
	b.WriteString("\n\n")
	b.WriteString(helpText)
	b.WriteString("\n- ")
	b.WriteString(strings.Join(Examples, "\n- "))

	msg := &Message{ID: uuid.NewString(), Sender: senderAgent, Content: b.String(), Timestamp: a.now(), State: StateInfo}
	a.messages.put(msg)
	return msg.Clone()
}

// Message 返回指定消息。
func (a *Agent) Message(_ context.Context, id string) (*Message, error) {
	msg, ok := a.messages.get(id)
	if !ok {
		return nil, xerrors.New(CodeMessageNotFound, fmt.Sprintf("message %s not found", id))
	}
	return msg, nil
}

// Activities 返回最近的活动记录。
func (a *Agent) Activities(ctx context.Context, limit int) ([]mysql.ActivityRecord, error) {
	if a.activities == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置活动仓库")
	}
	records, err := a.activities.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询活动记录失败")
	}
	return records, nil
}

// AgentExists 查询代理 ENS 名称是否已在注册表中登记。
func (a *Agent) AgentExists(ctx context.Context, ensName string) (bool, error) {
	name := strings.ToLower(strings.TrimSpace(ensName))
	if name == "" {
		return false, xerrors.New(xerrors.CodeInvalidArgument, "ENS 名称不能为空")
	}
	return dispatch.AgentExists(ctx, a.current(), name)
}
