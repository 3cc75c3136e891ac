package provider

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"

	"FlowAgent-Chain/internal/contracts"
	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/web3"
	"FlowAgent-Chain/internal/web3/ethereum"
	"FlowAgent-Chain/pkg/logger"
)

const defaultCloseGrace = time.Minute

// Dialer 为指定网络建立节点客户端。
type Dialer func(ctx context.Context, network web3.Network) (*ethereum.Client, error)

// Manager 持有当前连接快照。连接、切换与断开都会构造新的快照并原子替换，
// 正在执行的动作继续使用它派发时拿到的旧快照。
type Manager struct {
	networks   []web3.Network
	dial       Dialer
	key        *ecdsa.PrivateKey
	closeGrace time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

// Option 配置 Manager。
type Option func(*Manager)

// WithDialer 替换默认的 RPC 拨号逻辑。
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dial = d
		}
	}
}

// WithKey 指定签名私钥。未设置时快照只读。
func WithKey(key *ecdsa.PrivateKey) Option {
	return func(m *Manager) { m.key = key }
}

// WithCloseGrace 设置旧客户端在被替换后延迟关闭的时间。
func WithCloseGrace(d time.Duration) Option {
	return func(m *Manager) { m.closeGrace = d }
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager 创建 Manager，初始快照为第一个网络上的未连接状态。
func NewManager(networks []web3.Network, opts ...Option) (*Manager, error) {
	if len(networks) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置任何网络")
	}
	m := &Manager{
		networks:   append([]web3.Network(nil), networks...),
		dial:       dialRPC,
		closeGrace: defaultCloseGrace,
		logger:     logger.Named("provider"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.current.Store(m.offline(m.networks[0]))
	return m, nil
}

func dialRPC(ctx context.Context, network web3.Network) (*ethereum.Client, error) {
	return ethereum.NewClient(ctx, ethereum.Config{Name: network.Name, RPCURLs: network.RPCURLs})
}

// LoadKey 解析十六进制私钥，允许 0x 前缀。
func LoadKey(hexKey string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "签名私钥格式无效")
	}
	return key, nil
}

// Networks 返回支持的网络。
func (m *Manager) Networks() []web3.Network {
	return append([]web3.Network(nil), m.networks...)
}

// Snapshot 返回当前快照，永不为 nil。
func (m *Manager) Snapshot() *Snapshot {
	return m.current.Load()
}

// Connect 连接指定链并替换当前快照。
func (m *Manager) Connect(ctx context.Context, chainID int64) (*Snapshot, error) {
	network, ok := web3.Find(m.networks, chainID)
	if !ok {
		return nil, xerrors.New(xerrors.CodeValidation, fmt.Sprintf("Unsupported network: chain id %d", chainID),
			xerrors.WithMetadata("chain_id", fmt.Sprint(chainID)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	client, err := m.dial(ctx, network)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransientRPC, err, fmt.Sprintf("无法连接到 %s", network.Label()))
	}
	reported, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, xerrors.Wrap(xerrors.CodeTransientRPC, err, "查询节点链 ID 失败")
	}
	if reported.Int64() != network.ChainID {
		client.Close()
		return nil, xerrors.New(xerrors.CodeWrongNetwork,
			fmt.Sprintf("节点链 ID %d 与网络 %s 不一致", reported.Int64(), network.Label()),
			xerrors.WithMetadata("required_chain_id", fmt.Sprint(network.ChainID)),
			xerrors.WithMetadata("current_chain_id", reported.String()))
	}

	snap := &Snapshot{network: network, client: client}
	var signer *bind.TransactOpts
	if m.key != nil {
		signer, err = bind.NewKeyedTransactorWithChainID(m.key, reported)
		if err != nil {
			client.Close()
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建交易签名者失败")
		}
		snap.account = signer.From
		snap.signer = true
	}
	registry, err := contracts.NewRegistry(network, client.Backend(), signer)
	if err != nil {
		client.Close()
		return nil, err
	}
	snap.registry = registry

	m.swap(snap)
	m.logger.Info("connected", "network", network.Label(), "chain_id", network.ChainID,
		"contracts", registry.Len(), "signer", snap.signer)
	return snap, nil
}

// Switch 切换到另一条链。切换失败时保留当前快照。
func (m *Manager) Switch(ctx context.Context, chainID int64) (*Snapshot, error) {
	return m.Connect(ctx, chainID)
}

// Disconnect 替换为当前网络上的未连接快照。
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swap(m.offline(m.Snapshot().network))
	m.logger.Info("disconnected")
}

// Close 关闭当前连接。
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.current.Swap(m.offline(m.Snapshot().network))
	if old != nil && old.client != nil {
		old.client.Close()
	}
}

func (m *Manager) offline(network web3.Network) *Snapshot {
	return &Snapshot{network: network}
}

// swap 原子替换快照，旧客户端延迟关闭以便在途动作完成。
func (m *Manager) swap(next *Snapshot) {
	old := m.current.Swap(next)
	if old == nil || old.client == nil || old.client == next.client {
		return
	}
	if m.closeGrace <= 0 {
		old.client.Close()
		return
	}
	time.AfterFunc(m.closeGrace, old.client.Close)
}
