package dispatch

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"FlowAgent-Chain/internal/action"
	"FlowAgent-Chain/internal/contracts"
	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/web3"
	"FlowAgent-Chain/pkg/logger"
)

// Connection 是派发时捕获的连接快照：网络、账户与已绑定的合约。
type Connection interface {
	Network() web3.Network
	Account() common.Address
	Connected() bool
	Contract(name string) (contracts.Contract, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	WaitReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error)
}

// Observer 接收派发结果，用于指标统计。
type Observer interface {
	ObserveDispatch(actionType string, outcome string, attempts int, elapsed time.Duration)
}

// Interactor 将动作派发到对应的合约方法。
type Interactor struct {
	policy       RetryPolicy
	pricing      action.Pricing
	checkBalance bool
	entropy      io.Reader
	now          func() time.Time
	logger       *slog.Logger
	observer     Observer
}

// Option 配置 Interactor。
type Option func(*Interactor)

// WithRetryPolicy 覆盖默认重试策略。
func WithRetryPolicy(p RetryPolicy) Option {
	return func(i *Interactor) { i.policy = p }
}

// WithPricing 指定派发前价格复核使用的上限。
func WithPricing(p action.Pricing) Option {
	return func(i *Interactor) { i.pricing = p }
}

// WithBalanceCheck 开关付费动作的余额预检。
func WithBalanceCheck(enabled bool) Option {
	return func(i *Interactor) { i.checkBalance = enabled }
}

// WithEntropy 指定注册密钥的随机源。
func WithEntropy(r io.Reader) Option {
	return func(i *Interactor) {
		if r != nil {
			i.entropy = r
		}
	}
}

// WithClock 注入时钟。
func WithClock(now func() time.Time) Option {
	return func(i *Interactor) {
		if now != nil {
			i.now = now
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(i *Interactor) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithObserver 注册派发观察者。
func WithObserver(o Observer) Option {
	return func(i *Interactor) { i.observer = o }
}

// NewInteractor 创建 Interactor。
func NewInteractor(opts ...Option) *Interactor {
	i := &Interactor{
		policy:       DefaultRetryPolicy(),
		pricing:      action.DefaultPricing(),
		checkBalance: true,
		entropy:      rand.Reader,
		now:          time.Now,
		logger:       logger.Named("dispatch"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i
}

// Execute 派发动作。调用方必须保证同一动作在得到终态结果前不会被再次派发。
func (i *Interactor) Execute(ctx context.Context, act action.Action, conn Connection) (*TransactionResult, error) {
	started := i.now()
	attempts := 0
	result, err := i.execute(ctx, act, conn, &attempts)

	outcome := "completed"
	if err != nil {
		outcome = string(xerrors.Classify(err))
	}
	if i.observer != nil {
		i.observer.ObserveDispatch(string(act.Type), outcome, attempts, i.now().Sub(started))
	}
	attrs := []any{"action", act.Type, "outcome", outcome, "attempts", attempts}
	if result != nil && result.Hash() != "" {
		attrs = append(attrs, "tx_hash", result.Hash())
	}
	if err != nil {
		logger.Audit().Warn("action dispatch failed", append(attrs, "error", err)...)
	} else {
		logger.Audit().Info("action dispatched", attrs...)
	}
	return result, err
}

func (i *Interactor) execute(ctx context.Context, act action.Action, conn Connection, attempts *int) (*TransactionResult, error) {
	spec, err := action.Lookup(act.Type)
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(act.Params); err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, xerrors.New(xerrors.CodeNotConnected, "Wallet not connected")
	}
	if !spec.Read && !conn.Connected() {
		return nil, xerrors.New(xerrors.CodeNotConnected, "Wallet not connected")
	}

	contract, err := conn.Contract(spec.Contract)
	if err != nil {
		return nil, err
	}
	if act.Type == action.TypeCreateAgent {
		if err := i.ensureAgentAvailable(ctx, conn, act.Params.String("ensName")); err != nil {
			return nil, err
		}
	}

	env := action.Env{From: conn.Account(), Now: i.now()}
	if spec.Priced {
		if _, err := io.ReadFull(i.entropy, env.Secret[:]); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "generate registration secret")
		}
		price, err := i.livePrice(ctx, act, conn)
		if err != nil {
			return nil, err
		}
		env.Price = price
	}

	args, err := spec.Args(act.Params, env)
	if err != nil {
		return nil, err
	}
	var value *big.Int
	if spec.Value != nil {
		if value, err = spec.Value(act.Params, env); err != nil {
			return nil, err
		}
	}
	if value != nil && value.Sign() > 0 && i.checkBalance {
		if err := i.ensureBalance(ctx, conn, value); err != nil {
			return nil, err
		}
	}

	result := NewResult()
	if spec.Read {
		var out []any
		err := i.policy.Do(ctx, func(ctx context.Context, attempt int) error {
			*attempts = attempt
			var callErr error
			out, callErr = contract.Call(ctx, spec.Method, args...)
			return callErr
		})
		if err != nil {
			_ = result.Fail(err.Error())
			return result, err
		}
		_ = result.Complete("", spec.Render(act.Params, out))
		return result, nil
	}

	var tx *coretypes.Transaction
	err = i.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		*attempts = attempt
		// 交易已经提交时只重试等待回执，避免重复提交。
		if tx == nil {
			submitted, err := contract.Transact(ctx, value, spec.Method, args...)
			if err != nil {
				return err
			}
			tx = submitted
			i.logger.Info("transaction submitted", "action", act.Type, "tx_hash", tx.Hash().Hex(), "attempt", attempt)
		}
		receipt, err := conn.WaitReceipt(ctx, tx.Hash())
		if err != nil {
			return err
		}
		if receipt.Status != coretypes.ReceiptStatusSuccessful {
			return xerrors.New(xerrors.CodeReverted, "Transaction reverted on chain",
				xerrors.WithMetadata("tx_hash", tx.Hash().Hex()))
		}
		return nil
	})
	if err != nil {
		_ = result.Fail(err.Error())
		return result, err
	}
	_ = result.Complete(tx.Hash().Hex(), fmt.Sprintf("Transaction confirmed. Tx: %s", tx.Hash().Hex()))
	return result, nil
}

// livePrice 在提交前重新读取注册价格。预言机失败时回退到构建时的估算价格，
// 超过上限时拒绝提交。
func (i *Interactor) livePrice(ctx context.Context, act action.Action, conn Connection) (*big.Int, error) {
	name := act.Params.String("name")
	price, err := OracleFor(conn).RentPrice(ctx, name, action.DurationSeconds(act.Params))
	if err != nil {
		fallback := i.pricing.Fallback
		if act.EstimatedCost != "" {
			if estimate, parseErr := action.ParseEther(act.EstimatedCost); parseErr == nil {
				fallback = estimate
			}
		}
		i.logger.Warn("live price unavailable, using build time estimate",
			"name", name, "estimate", action.FormatEther(fallback), "error", err)
		price = fallback
	}
	if i.pricing.Exceeds(price) {
		return nil, i.pricing.CeilingError(price)
	}
	return price, nil
}

func (i *Interactor) ensureBalance(ctx context.Context, conn Connection, required *big.Int) error {
	balance, err := conn.BalanceAt(ctx, conn.Account())
	if err != nil {
		return err
	}
	if balance.Cmp(required) >= 0 {
		return nil
	}
	symbol := conn.Network().NativeCurrency
	if symbol == "" {
		symbol = "ETH"
	}
	return xerrors.New(xerrors.CodeInsufficientFunds,
		fmt.Sprintf("Insufficient funds: requires %s %s but only %s %s is available",
			action.FormatEther(required), symbol, action.FormatEther(balance), symbol),
		xerrors.WithMetadata("required", action.FormatEther(required)),
		xerrors.WithMetadata("available", action.FormatEther(balance)),
	)
}

// ensureAgentAvailable 拒绝重复注册代理。查询失败时只记录日志，由合约自行校验。
func (i *Interactor) ensureAgentAvailable(ctx context.Context, conn Connection, ensName string) error {
	exists, err := AgentExists(ctx, conn, ensName)
	if err != nil {
		i.logger.Warn("agent lookup failed", "ens_name", ensName, "error", err)
		return nil
	}
	if exists {
		return xerrors.New(xerrors.CodeValidation, fmt.Sprintf("Agent %s is already registered", ensName),
			xerrors.WithMetadata("field", "ensName"))
	}
	return nil
}

// AgentExists 通过代理注册表判断名称是否已注册为代理。
func AgentExists(ctx context.Context, conn Connection, ensName string) (bool, error) {
	if conn == nil {
		return false, xerrors.New(xerrors.CodeNotConnected, "Wallet not connected")
	}
	registry, err := conn.Contract(contracts.FlowAgentRegistry)
	if err != nil {
		return false, err
	}
	out, err := registry.Call(ctx, "ensNameToAgentId", crypto.Keccak256Hash([]byte(ensName)))
	if err != nil {
		return false, err
	}
	if len(out) == 0 {
		return false, nil
	}
	id, ok := out[0].(*big.Int)
	return ok && id.Sign() > 0, nil
}
