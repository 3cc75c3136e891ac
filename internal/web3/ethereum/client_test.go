package ethereum

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

func TestClientBalanceAndReceipt(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	funds := new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000_000_000_000))

	sim := simulated.NewBackend(coretypes.GenesisAlloc{from: {Balance: funds}})
	t.Cleanup(func() { _ = sim.Close() })
	client := NewSimulatedClient("simulated", sim)
	t.Cleanup(client.Close)

	chainID, err := client.ChainID(ctx)
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}

	balance, err := client.BalanceAt(ctx, from)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(funds) != 0 {
		t.Fatalf("unexpected balance %s", balance)
	}

	backend := client.Backend()
	nonce, err := backend.PendingNonceAt(ctx, from)
	if err != nil {
		t.Fatalf("pending nonce: %v", err)
	}
	head, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		t.Fatalf("latest header: %v", err)
	}
	gasTipCap := big.NewInt(1_000_000_000)
	gasFeeCap := new(big.Int).Set(gasTipCap)
	if head.BaseFee != nil {
		gasFeeCap = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), gasTipCap)
	}
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(1_000),
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), key)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		t.Fatalf("send tx: %v", err)
	}

	receipt, err := client.WaitReceipt(ctx, signed.Hash())
	if err != nil {
		t.Fatalf("wait receipt: %v", err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		t.Fatalf("unexpected receipt status %d", receipt.Status)
	}

	received, err := client.BalanceAt(ctx, to)
	if err != nil {
		t.Fatalf("recipient balance: %v", err)
	}
	if received.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("unexpected recipient balance %s", received)
	}
}

func TestWaitReceiptHonoursContext(t *testing.T) {
	sim := simulated.NewBackend(coretypes.GenesisAlloc{})
	t.Cleanup(func() { _ = sim.Close() })
	client := NewSimulatedClient("simulated", sim)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := client.WaitReceipt(ctx, common.HexToHash("0x01")); err == nil {
		t.Fatal("expected unknown transaction to time out")
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatal("expected missing endpoint to fail")
	}
}
