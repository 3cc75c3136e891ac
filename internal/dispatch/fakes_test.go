package dispatch

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	"FlowAgent-Chain/internal/contracts"
	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/web3"
)

type recordedCall struct {
	method string
	args   []any
	value  *big.Int
	write  bool
}

type fakeContract struct {
	name     string
	mu       sync.Mutex
	calls    []recordedCall
	call     func(method string, args []any) ([]any, error)
	transact func(method string, args []any) error
	nonce    uint64
}

func (f *fakeContract) Name() string            { return f.name }
func (f *fakeContract) Address() common.Address { return common.HexToAddress("0x00000000000000000000000000000000000000f1") }

func (f *fakeContract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{method: method, args: args})
	f.mu.Unlock()
	if f.call == nil {
		return nil, nil
	}
	return f.call(method, args)
}

func (f *fakeContract) Transact(ctx context.Context, value *big.Int, method string, args ...any) (*coretypes.Transaction, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recordedCall{method: method, args: args, value: value, write: true})
	f.nonce++
	nonce := f.nonce
	f.mu.Unlock()
	if f.transact != nil {
		if err := f.transact(method, args); err != nil {
			return nil, err
		}
	}
	return coretypes.NewTx(&coretypes.LegacyTx{Nonce: nonce, Value: value, Gas: 21000, GasPrice: big.NewInt(1)}), nil
}

func (f *fakeContract) recorded() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func (f *fakeContract) writes() []recordedCall {
	var out []recordedCall
	for _, c := range f.recorded() {
		if c.write {
			out = append(out, c)
		}
	}
	return out
}

type fakeConn struct {
	network   web3.Network
	account   common.Address
	connected bool
	contracts map[string]*fakeContract
	balance   *big.Int
	status    uint64
	waitErrs  []error
	waits     int
	mu        sync.Mutex
}

func newFakeConn(chainID int64) *fakeConn {
	return &fakeConn{
		network:   web3.Network{ChainID: chainID, NativeCurrency: "ETH"},
		account:   common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		connected: true,
		contracts: map[string]*fakeContract{},
		balance:   new(big.Int).Mul(big.NewInt(100), big.NewInt(1_000_000_000_000_000_000)),
		status:    coretypes.ReceiptStatusSuccessful,
	}
}

func (c *fakeConn) contract(name string) *fakeContract {
	if existing, ok := c.contracts[name]; ok {
		return existing
	}
	f := &fakeContract{name: name}
	c.contracts[name] = f
	return f
}

func (c *fakeConn) Network() web3.Network   { return c.network }
func (c *fakeConn) Account() common.Address { return c.account }
func (c *fakeConn) Connected() bool         { return c.connected }

func (c *fakeConn) Contract(name string) (contracts.Contract, error) {
	f, ok := c.contracts[name]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "contract "+name+" not configured")
	}
	return f, nil
}

func (c *fakeConn) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.balance, nil
}

func (c *fakeConn) WaitReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits++
	if len(c.waitErrs) > 0 {
		err := c.waitErrs[0]
		c.waitErrs = c.waitErrs[1:]
		return nil, err
	}
	return &coretypes.Receipt{Status: c.status, TxHash: hash}, nil
}

func (c *fakeConn) totalCalls() int {
	total := 0
	for _, f := range c.contracts {
		total += len(f.recorded())
	}
	return total
}
