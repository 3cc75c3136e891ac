package provider

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	"FlowAgent-Chain/internal/contracts"
	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/web3"
	"FlowAgent-Chain/internal/web3/ethereum"
)

const simulatedChainID = 1337

func newSimulatedManager(t *testing.T, withKey bool) (*Manager, *big.Int) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	funds := new(big.Int).Mul(big.NewInt(5), big.NewInt(1_000_000_000_000_000_000))
	sim := simulated.NewBackend(coretypes.GenesisAlloc{crypto.PubkeyToAddress(key.PublicKey): {Balance: funds}})
	t.Cleanup(func() { _ = sim.Close() })

	networks := []web3.Network{
		{ChainID: simulatedChainID, Name: "simulated", NativeCurrency: "ETH", Contracts: map[string]string{
			contracts.FlowENSIntegration: "0x1000000000000000000000000000000000000001",
		}},
		{ChainID: web3.ChainIDSepolia, Name: "sepolia", NativeCurrency: "ETH"},
	}
	opts := []Option{
		WithCloseGrace(0),
		WithDialer(func(ctx context.Context, n web3.Network) (*ethereum.Client, error) {
			return ethereum.NewSimulatedClient(n.Name, sim), nil
		}),
	}
	if withKey {
		opts = append(opts, WithKey(key))
	}
	m, err := NewManager(networks, opts...)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, funds
}

func TestManagerConnectSwapsSnapshot(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m, funds := newSimulatedManager(t, true)

	initial := m.Snapshot()
	if initial.Connected() {
		t.Fatal("initial snapshot must be disconnected")
	}
	if _, err := initial.Contract(contracts.FlowENSIntegration); xerrors.CodeOf(err) != xerrors.CodeNotConnected {
		t.Fatalf("expected not connected, got %v", err)
	}

	snap, err := m.Connect(ctx, simulatedChainID)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if m.Snapshot() != snap || !snap.Connected() {
		t.Fatal("expected connected snapshot to be current")
	}
	if _, err := snap.Contract(contracts.FlowENSIntegration); err != nil {
		t.Fatalf("contract: %v", err)
	}
	balance, err := snap.BalanceAt(ctx, snap.Account())
	if err != nil || balance.Cmp(funds) != 0 {
		t.Fatalf("unexpected balance %v (%v)", balance, err)
	}
	status := snap.Status()
	if status.ChainID != simulatedChainID || status.Account == "" || status.Contracts != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	m.Disconnect()
	if m.Snapshot().Connected() {
		t.Fatal("expected disconnected snapshot after Disconnect")
	}
	if snap.Network().ChainID != simulatedChainID || !snap.Connected() {
		t.Fatal("captured snapshot must not change after a swap")
	}
}

func TestManagerRejectsMismatchedChain(t *testing.T) {
	ctx := context.Background()
	m, _ := newSimulatedManager(t, true)
	current, err := m.Connect(ctx, simulatedChainID)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if _, err := m.Switch(ctx, web3.ChainIDSepolia); xerrors.CodeOf(err) != xerrors.CodeWrongNetwork {
		t.Fatalf("expected wrong network, got %v", err)
	}
	if _, err := m.Switch(ctx, 999); xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected unsupported network, got %v", err)
	}
	if m.Snapshot() != current {
		t.Fatal("failed switch must keep the current snapshot")
	}
}

func TestManagerWithoutKeyIsReadOnly(t *testing.T) {
	m, _ := newSimulatedManager(t, false)
	snap, err := m.Connect(context.Background(), simulatedChainID)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if snap.Connected() || !snap.Online() {
		t.Fatalf("expected read only snapshot, connected=%v online=%v", snap.Connected(), snap.Online())
	}
	if snap.Status().Account != "" {
		t.Fatal("read only snapshot must not report an account")
	}
}

func TestLoadKey(t *testing.T) {
	key, _ := crypto.GenerateKey()
	raw := "0x" + hex.EncodeToString(crypto.FromECDSA(key))
	loaded, err := LoadKey(raw)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	if crypto.PubkeyToAddress(loaded.PublicKey) != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatal("loaded key does not match")
	}
	if k, err := LoadKey(""); k != nil || err != nil {
		t.Fatalf("expected no key for empty input, got %v %v", k, err)
	}
	if _, err := LoadKey("zz"); err == nil {
		t.Fatal("expected malformed key to fail")
	}
}

func TestNewManagerRequiresNetworks(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Fatal("expected error without networks")
	}
}
