package agent

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	"FlowAgent-Chain/internal/action"
	"FlowAgent-Chain/internal/contracts"
	"FlowAgent-Chain/internal/dispatch"
	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/llm"
	"FlowAgent-Chain/internal/web3"
)

type call struct {
	method string
	args   []any
	value  *big.Int
	write  bool
}

type stubContract struct {
	name     string
	mu       sync.Mutex
	calls    []call
	reads    map[string][]any
	started  chan struct{}
	blocking bool
}

func (c *stubContract) Name() string            { return c.name }
func (c *stubContract) Address() common.Address { return common.HexToAddress("0x00000000000000000000000000000000000000f1") }

func (c *stubContract) Call(_ context.Context, method string, args ...any) ([]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{method: method, args: args})
	return c.reads[method], nil
}

func (c *stubContract) Transact(ctx context.Context, value *big.Int, method string, args ...any) (*coretypes.Transaction, error) {
	c.mu.Lock()
	c.calls = append(c.calls, call{method: method, args: args, value: value, write: true})
	nonce := uint64(len(c.calls))
	blocking := c.blocking
	c.mu.Unlock()
	if blocking {
		close(c.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return coretypes.NewTx(&coretypes.LegacyTx{Nonce: nonce, Value: value, Gas: 21000, GasPrice: big.NewInt(1)}), nil
}

func (c *stubContract) recorded() []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]call(nil), c.calls...)
}

type stubConn struct {
	network   web3.Network
	account   common.Address
	balance   *big.Int
	contracts map[string]*stubContract
}

func newStubConn(chainID int64) *stubConn {
	return &stubConn{
		network:   web3.Network{ChainID: chainID, DisplayName: "test", NativeCurrency: "ETH"},
		account:   common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		balance:   action.MustParseEther("100"),
		contracts: map[string]*stubContract{},
	}
}

func (c *stubConn) contract(name string) *stubContract {
	if existing, ok := c.contracts[name]; ok {
		return existing
	}
	sc := &stubContract{name: name, reads: map[string][]any{}, started: make(chan struct{})}
	c.contracts[name] = sc
	return sc
}

func (c *stubConn) totalCalls() int {
	total := 0
	for _, sc := range c.contracts {
		total += len(sc.recorded())
	}
	return total
}

func (c *stubConn) Network() web3.Network   { return c.network }
func (c *stubConn) Account() common.Address { return c.account }
func (c *stubConn) Connected() bool         { return true }

func (c *stubConn) Contract(name string) (contracts.Contract, error) {
	sc, ok := c.contracts[name]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "contract "+name+" not configured")
	}
	return sc, nil
}

func (c *stubConn) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return c.balance, nil
}

func (c *stubConn) WaitReceipt(_ context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	return &coretypes.Receipt{Status: coretypes.ReceiptStatusSuccessful, TxHash: hash}, nil
}

type stubLLM struct {
	reply string
	err   error
	last  llm.Request
}

func (s *stubLLM) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Reply: s.reply}, nil
}

func newTestAgent(conn *stubConn, opts ...Option) *Agent {
	interactor := dispatch.NewInteractor(dispatch.WithRetryPolicy(dispatch.RetryPolicy{MaxAttempts: 1, Delay: time.Millisecond}))
	return New(interactor, ConnectionsFunc(func() dispatch.Connection { return conn }), opts...)
}
