package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/web3"
)

// Contract is a callable handle bound to one deployed contract.
type Contract interface {
	Name() string
	Address() common.Address
	// Call performs a read only call and returns the decoded outputs.
	Call(ctx context.Context, method string, args ...any) ([]any, error)
	// Transact submits a state changing call carrying value wei.
	Transact(ctx context.Context, value *big.Int, method string, args ...any) (*coretypes.Transaction, error)
}

// Registry maps logical names to handles for one (network, signer) pair.
// It is never mutated after construction; a network or signer change builds a new one.
type Registry struct {
	chainID   int64
	contracts map[string]*BoundContract
}

// NewRegistry binds every contract configured on the network. signer may be
// nil, in which case the handles are read only.
func NewRegistry(network web3.Network, backend bind.ContractBackend, signer *bind.TransactOpts) (*Registry, error) {
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "缺少合约访问后端")
	}
	bound := make(map[string]*BoundContract)
	for _, name := range Names() {
		raw, ok := network.ContractAddress(name)
		if !ok {
			continue
		}
		if !common.IsHexAddress(raw) {
			return nil, xerrors.New(xerrors.CodeInitializationFailure,
				fmt.Sprintf("合约 %s 地址无效: %s", name, raw))
		}
		parsed, _ := ABI(name)
		address := common.HexToAddress(raw)
		bound[name] = &BoundContract{
			name:    name,
			address: address,
			bound:   bind.NewBoundContract(address, parsed, backend, backend, backend),
			signer:  signer,
		}
	}
	return &Registry{chainID: network.ChainID, contracts: bound}, nil
}

// ChainID reports the network the registry was bound for.
func (r *Registry) ChainID() int64 {
	if r == nil {
		return 0
	}
	return r.chainID
}

// Contract returns the handle for a logical name.
func (r *Registry) Contract(name string) (Contract, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeNotConnected, "Wallet not connected")
	}
	c, ok := r.contracts[name]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("contract %s is not deployed on chain %d", name, r.chainID))
	}
	return c, nil
}

// Len returns the number of bound contracts.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.contracts)
}

// BoundContract adapts a go-ethereum bound contract to Contract.
type BoundContract struct {
	name    string
	address common.Address
	bound   *bind.BoundContract
	signer  *bind.TransactOpts
}

func (c *BoundContract) Name() string            { return c.name }
func (c *BoundContract) Address() common.Address { return c.address }

func (c *BoundContract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	opts := &bind.CallOpts{Context: ctx}
	if c.signer != nil {
		opts.From = c.signer.From
	}
	var out []any
	if err := c.bound.Call(opts, &out, method, args...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BoundContract) Transact(ctx context.Context, value *big.Int, method string, args ...any) (*coretypes.Transaction, error) {
	if c.signer == nil {
		return nil, xerrors.New(xerrors.CodeNotConnected, "Wallet not connected")
	}
	// 每次提交使用签名器的副本，避免并发动作互相覆盖 Value/Context。
	opts := *c.signer
	opts.Context = ctx
	opts.Value = value
	return c.bound.Transact(&opts, method, args...)
}
