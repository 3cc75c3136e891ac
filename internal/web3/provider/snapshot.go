package provider

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	"FlowAgent-Chain/internal/contracts"
	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/web3"
	"FlowAgent-Chain/internal/web3/ethereum"
)

// Snapshot 是某一时刻的连接状态：网络、账户、节点客户端与合约注册表。
// Snapshot 创建后不再修改，切换网络或签名者时由 Manager 整体替换。
type Snapshot struct {
	network  web3.Network
	account  common.Address
	signer   bool
	client   *ethereum.Client
	registry *contracts.Registry
}

// Network 返回快照所属网络。
func (s *Snapshot) Network() web3.Network { return s.network }

// Account 返回签名账户，未配置签名者时为零地址。
func (s *Snapshot) Account() common.Address { return s.account }

// Connected 表示快照具备节点连接与签名者，可以提交交易。
func (s *Snapshot) Connected() bool {
	return s != nil && s.client != nil && s.signer
}

// Online 表示快照持有节点连接，可以执行只读调用。
func (s *Snapshot) Online() bool {
	return s != nil && s.client != nil
}

// Contract 返回快照注册表中的合约句柄。
func (s *Snapshot) Contract(name string) (contracts.Contract, error) {
	if s == nil {
		return nil, xerrors.New(xerrors.CodeNotConnected, "Wallet not connected")
	}
	return s.registry.Contract(name)
}

// BalanceAt 查询账户余额。
func (s *Snapshot) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	if !s.Online() {
		return nil, xerrors.New(xerrors.CodeNotConnected, "Wallet not connected")
	}
	return s.client.BalanceAt(ctx, account)
}

// WaitReceipt 等待交易上链。
func (s *Snapshot) WaitReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	if !s.Online() {
		return nil, xerrors.New(xerrors.CodeNotConnected, "Wallet not connected")
	}
	return s.client.WaitReceipt(ctx, hash)
}

// Status 是快照的对外描述。
type Status struct {
	ChainID   int64  `json:"chain_id"`
	Network   string `json:"network"`
	Account   string `json:"account,omitempty"`
	Connected bool   `json:"connected"`
	Contracts int    `json:"contracts"`
	Currency  string `json:"native_currency"`
}

// Status 返回快照状态。
func (s *Snapshot) Status() Status {
	st := Status{
		ChainID:   s.network.ChainID,
		Network:   s.network.Label(),
		Connected: s.Connected(),
		Contracts: s.registry.Len(),
		Currency:  s.network.NativeCurrency,
	}
	if s.signer {
		st.Account = s.account.Hex()
	}
	return st
}
