package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const defaultPollInterval = 2 * time.Second

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name         string
	RPCURLs      []string
	PollInterval time.Duration
}

// Backend is the subset of the node API the agent relies on.
type Backend interface {
	bind.ContractBackend
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Client wraps a go-ethereum backend for one network.
type Client struct {
	name         string
	rpcClient    *gethrpc.Client
	backend      Backend
	pollInterval time.Duration
	// onPoll advances simulated chains while waiting for receipts.
	onPoll func()
	mu     sync.Mutex
}

// NewClient dials the first reachable RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var lastErr error
	for _, raw := range cfg.RPCURLs {
		rpcURL := strings.TrimSpace(raw)
		if rpcURL == "" {
			continue
		}
		rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
		if err != nil {
			lastErr = err
			continue
		}
		return &Client{
			name:         cfg.Name,
			rpcClient:    rpcClient,
			backend:      ethclient.NewClient(rpcClient),
			pollInterval: pollInterval(cfg.PollInterval),
		}, nil
	}
	if lastErr == nil {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}
	return nil, fmt.Errorf("连接以太坊节点失败: %w", lastErr)
}

// NewSimulatedClient wraps a go-ethereum simulated backend for testing purposes.
// Every receipt poll mines a block so pending transactions get included.
func NewSimulatedClient(name string, sim *simulated.Backend) *Client {
	return &Client{
		name:         name,
		backend:      sim.Client(),
		pollInterval: 20 * time.Millisecond,
		onPoll:       func() { sim.Commit() },
	}
}

func pollInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultPollInterval
	}
	return d
}

// Name returns the configured network name.
func (c *Client) Name() string { return c.name }

// Backend exposes the contract backend used to bind Flow contracts.
func (c *Client) Backend() bind.ContractBackend {
	if c == nil {
		return nil
	}
	return c.backend
}

// ChainID queries the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	return id, nil
}

// BalanceAt returns the latest balance of an account in wei.
func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	balance, err := c.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// WaitReceipt polls until the transaction is mined or ctx is done.
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	if c.onPoll != nil {
		c.onPoll()
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, fmt.Errorf("查询交易回执失败: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if c.onPoll != nil {
				c.onPoll()
			}
		}
	}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}
