package action

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/intent"
	"FlowAgent-Chain/internal/web3"
	"FlowAgent-Chain/pkg/logger"
)

// PriceOracle 返回命名注册的租金（wei）。
type PriceOracle interface {
	RentPrice(ctx context.Context, name string, durationSeconds *big.Int) (*big.Int, error)
}

// Pricing 控制注册价格的合理性上限与回退价格。
type Pricing struct {
	Ceiling  *big.Int
	Fallback *big.Int
	// RejectAboveCeiling 为 true 时超过上限的价格视为校验错误而不是回退。
	RejectAboveCeiling bool
}

// DefaultPricing 返回 1 ETH 上限与 0.01 ETH 回退价格。
func DefaultPricing() Pricing {
	return Pricing{
		Ceiling:  MustParseEther("1"),
		Fallback: MustParseEther("0.01"),
	}
}

// Exceeds 判断价格是否超过上限。
func (p Pricing) Exceeds(price *big.Int) bool {
	return p.Ceiling != nil && price != nil && price.Cmp(p.Ceiling) > 0
}

// CeilingError 构造价格超限的校验错误。
func (p Pricing) CeilingError(price *big.Int) error {
	return xerrors.New(xerrors.CodeValidation,
		fmt.Sprintf("Registration price %s exceeds the %s ceiling", FormatEther(price), FormatEther(p.Ceiling)),
		xerrors.WithMetadata("field", "price"),
		xerrors.WithMetadata("price", FormatEther(price)),
	)
}

// Builder 将意图转换为经过校验的动作。
type Builder struct {
	namingChainID int64
	pricing       Pricing
	now           func() time.Time
	logger        *slog.Logger
}

// Option 配置 Builder。
type Option func(*Builder)

// WithNamingChain 指定命名服务所在链。
func WithNamingChain(chainID int64) Option {
	return func(b *Builder) {
		if chainID > 0 {
			b.namingChainID = chainID
		}
	}
}

// WithPricing 覆盖默认的定价策略。
func WithPricing(p Pricing) Option {
	return func(b *Builder) {
		if p.Ceiling != nil {
			b.pricing.Ceiling = p.Ceiling
		}
		if p.Fallback != nil {
			b.pricing.Fallback = p.Fallback
		}
		b.pricing.RejectAboveCeiling = p.RejectAboveCeiling
	}
}

// WithClock 注入时钟，便于测试。
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBuilder 创建 Builder。
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		namingChainID: web3.ChainIDSepolia,
		pricing:       DefaultPricing(),
		now:           time.Now,
		logger:        logger.Named("action"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// NamingChainID 返回命名服务所在链。
func (b *Builder) NamingChainID() int64 { return b.namingChainID }

// Pricing 返回当前定价策略。
func (b *Builder) Pricing() Pricing { return b.pricing }

type buildContext struct {
	defaults DefaultContext
	oracle   PriceOracle
}

// BuildOption 为单次构建提供上下文。
type BuildOption func(*buildContext)

// WithCaller 指定发起人地址，用作 owners/members 等默认值。
func WithCaller(addr common.Address) BuildOption {
	return func(c *buildContext) { c.defaults.Caller = addr }
}

// WithAgent 指定当前对话的代理名称与角色。
func WithAgent(ensName, role string) BuildOption {
	return func(c *buildContext) {
		c.defaults.AgentENS = strings.ToLower(strings.TrimSpace(ensName))
		if r, ok := ParseRole(role); ok {
			c.defaults.AgentRole = r
		}
	}
}

// WithPriceOracle 指定注册定价使用的预言机。
func WithPriceOracle(o PriceOracle) BuildOption {
	return func(c *buildContext) { c.oracle = o }
}

var intentActions = map[intent.Type]Type{
	intent.TypeCreate:          TypeENSCreate,
	intent.TypeResolve:         TypeENSResolve,
	intent.TypeCheck:           TypeENSCheck,
	intent.TypeGetText:         TypeENSGetText,
	intent.TypeSetupProfile:    TypeENSSetupProfile,
	intent.TypeUpdate:          TypeENSUpdate,
	intent.TypeLink:            TypeENSLink,
	intent.TypeTransfer:        TypeENSTransfer,
	intent.TypeRegisterAgent:   TypeCreateAgent,
	intent.TypePayment:         TypeSendPayment,
	intent.TypeCreateWallet:    TypeCreateWallet,
	intent.TypeCreateDAO:       TypeCreateDAO,
	intent.TypeIssueCredential: TypeIssueCredential,
}

// TypeFor 返回意图对应的动作类型。
func TypeFor(t intent.Type) (Type, bool) {
	at, ok := intentActions[t]
	return at, ok
}

// Build 将意图转换为动作。
func (b *Builder) Build(ctx context.Context, in intent.Intent, opts ...BuildOption) (Action, error) {
	t, ok := TypeFor(in.Type)
	if !ok {
		return Action{}, xerrors.New(xerrors.CodeUnknownAction, fmt.Sprintf("Unknown action type: %s", in.Type))
	}
	return b.BuildParams(ctx, t, paramsFromIntent(in), opts...)
}

// BuildParams 填充默认值、校验参数并在需要时估算费用。
func (b *Builder) BuildParams(ctx context.Context, t Type, params Params, opts ...BuildOption) (Action, error) {
	spec, err := Lookup(t)
	if err != nil {
		return Action{}, err
	}

	bc := buildContext{defaults: DefaultContext{Now: b.now()}}
	for _, opt := range opts {
		if opt != nil {
			opt(&bc)
		}
	}

	p := params.Clone()
	if p == nil {
		p = Params{}
	}
	for _, f := range spec.Fields {
		if f.Default == nil || f.present(p) {
			continue
		}
		if v := f.Default(bc.defaults, p); v != nil {
			p[f.Name] = v
		}
	}
	if err := spec.Validate(p); err != nil {
		return Action{}, err
	}

	act := Action{Type: t, Params: p, Description: spec.Describe(p)}
	if spec.Naming {
		act.RequiredChainID = b.namingChainID
	}
	if spec.Priced {
		cost, err := b.estimate(ctx, bc.oracle, p)
		if err != nil {
			return Action{}, err
		}
		act.EstimatedCost = cost
	}
	return act, nil
}

// DurationSeconds 返回注册时长（秒）。
func DurationSeconds(p Params) *big.Int {
	years, ok := new(big.Int).SetString(p.String("duration"), 10)
	if !ok || years.Sign() <= 0 {
		years = big.NewInt(1)
	}
	return years.Mul(years, big.NewInt(SecondsPerYear))
}

// estimate 查询预言机价格；预言机不可用或价格超限时回退到固定价格，从不因预言机失败而中止。
func (b *Builder) estimate(ctx context.Context, oracle PriceOracle, p Params) (string, error) {
	fallback := FormatEther(b.pricing.Fallback)
	name := p.String("name")
	if oracle == nil {
		b.logger.Warn("price oracle unavailable, using fallback price", "name", name, "fallback", fallback)
		return fallback, nil
	}

	price, err := oracle.RentPrice(ctx, name, DurationSeconds(p))
	if err != nil || price == nil {
		b.logger.Warn("price oracle failed, using fallback price", "name", name, "fallback", fallback, "error", err)
		return fallback, nil
	}
	if b.pricing.Exceeds(price) {
		if b.pricing.RejectAboveCeiling {
			return "", b.pricing.CeilingError(price)
		}
		b.logger.Warn("oracle price above ceiling, using fallback price",
			"name", name, "price", FormatEther(price), "ceiling", FormatEther(b.pricing.Ceiling), "fallback", fallback)
		return fallback, nil
	}
	return FormatEther(price), nil
}

func paramsFromIntent(in intent.Intent) Params {
	p := Params{}
	set := func(key, value string) {
		if strings.TrimSpace(value) != "" {
			p[key] = strings.TrimSpace(value)
		}
	}
	switch payload := in.Payload.(type) {
	case intent.Create:
		set("name", payload.Name)
	case intent.Resolve:
		set("name", payload.Name)
	case intent.Check:
		set("name", payload.Name)
	case intent.GetText:
		set("name", payload.Name)
		if payload.Key != "" {
			p["keys"] = []string{payload.Key}
		}
	case intent.SetupProfile:
		set("name", payload.Name)
	case intent.Update:
		set("name", payload.Name)
		if len(payload.Records) > 0 {
			records := make(map[string]string, len(payload.Records))
			for k, v := range payload.Records {
				records[k] = v
			}
			p["records"] = records
		}
	case intent.Link:
		set("name", payload.Name)
		set("address", payload.Address)
	case intent.Transfer:
		set("name", payload.Name)
		set("to", payload.To)
	case intent.RegisterAgent:
		set("ensName", payload.Name)
		set("role", payload.Role)
	case intent.Payment:
		set("recipient", payload.Recipient)
		set("amount", payload.Amount)
		set("token", payload.Token)
	case intent.CreateWallet:
		set("ensName", payload.Name)
	case intent.CreateDAO:
		set("ensName", payload.Name)
	case intent.IssueCredential:
		set("recipient", payload.Recipient)
		set("name", payload.Title)
	}
	return p
}
