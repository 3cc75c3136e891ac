package action

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/web3"
)

func TestSpecArgsFollowContractOrder(t *testing.T) {
	spec, _ := Lookup(TypeENSCreate)
	var secret [32]byte
	secret[31] = 7
	price := MustParseEther("0.3")
	env := Env{Secret: secret, Price: price, Now: time.Now()}
	params := Params{"name": "kwame.agent.eth", "duration": "1"}

	args, err := spec.Args(params, env)
	if err != nil {
		t.Fatalf("args: %v", err)
	}
	if len(args) != 3 || args[0] != "kwame.agent.eth" || args[1].(*big.Int).Int64() != 1 || args[2] != secret {
		t.Fatalf("unexpected args %#v", args)
	}
	value, err := spec.Value(params, env)
	if err != nil || value.Cmp(price) != 0 {
		t.Fatalf("expected registration value to equal price, got %v (%v)", value, err)
	}
	if _, err := spec.Value(params, Env{}); xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected unknown price to fail, got %v", err)
	}
}

func TestPaymentValueOnlyForNativeToken(t *testing.T) {
	spec, _ := Lookup(TypeSendPayment)
	params := Params{"recipient": "bob.eth", "amount": "0.25", "token": common.Address{}.Hex(), "description": "Payment", "agentId": common.Hash{}.Hex()}
	value, err := spec.Value(params, Env{})
	if err != nil || FormatEther(value) != "0.25" {
		t.Fatalf("expected native value 0.25, got %v (%v)", value, err)
	}
	params["token"] = bobHex
	value, err = spec.Value(params, Env{})
	if err != nil || value != nil {
		t.Fatalf("expected no value for token payment, got %v (%v)", value, err)
	}
}

func TestArgsSurviveJSONRoundTrip(t *testing.T) {
	act, err := NewBuilder().BuildParams(context.Background(), TypeCreateDAO, Params{"ensName": "builders.eth", "members": []string{aliceHex, bobHex}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	raw, _ := json.Marshal(act)
	var decoded Action
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	spec, _ := Lookup(TypeCreateDAO)
	if err := spec.Validate(decoded.Params); err != nil {
		t.Fatalf("validate decoded: %v", err)
	}
	args, err := spec.Args(decoded.Params, Env{})
	if err != nil {
		t.Fatalf("args: %v", err)
	}
	members := args[3].([]common.Address)
	if len(members) != 2 || members[1] != common.HexToAddress(bobHex) {
		t.Fatalf("unexpected members %v", members)
	}
	if args[5].(*big.Int).Int64() != 86400 || args[7].(uint8) != 0 {
		t.Fatalf("unexpected numeric args %#v", args)
	}
}

func TestReadRenderers(t *testing.T) {
	check, _ := Lookup(TypeENSCheck)
	if got := check.Render(Params{"name": "flow.agent.eth"}, []any{true}); got != `ENS name "flow.agent.eth" is available for registration` {
		t.Fatalf("unexpected check text %q", got)
	}
	if got := check.Render(Params{"name": "flow.agent.eth"}, []any{false}); got != `ENS name "flow.agent.eth" is already registered` {
		t.Fatalf("unexpected check text %q", got)
	}
	text, _ := Lookup(TypeENSGetText)
	got := text.Render(Params{"name": "k.eth", "keys": []string{"description", "url"}}, []any{[]string{"helper", ""}})
	if got != "Text records for \"k.eth\":\n• description: helper" {
		t.Fatalf("unexpected text records %q", got)
	}
}

func TestGuard(t *testing.T) {
	guard := Guard{NamingChainID: web3.ChainIDSepolia}
	naming := Action{Type: TypeENSCheck, RequiredChainID: web3.ChainIDSepolia}

	if err := guard.Ensure(naming, web3.Network{ChainID: web3.ChainIDSepolia}); err != nil {
		t.Fatalf("expected sepolia to pass: %v", err)
	}
	err := guard.Ensure(naming, web3.Network{ChainID: web3.ChainIDMainnet})
	e, ok := xerrors.From(err)
	if !ok || e.Code() != xerrors.CodeWrongNetwork {
		t.Fatalf("expected wrong network, got %v", err)
	}
	if e.Message() != "Please switch to Ethereum Sepolia testnet to use ENS operations" {
		t.Fatalf("unexpected message %q", e.Message())
	}
	// 即使 RequiredChainID 缺失，命名动作仍受保护。
	if err := guard.Ensure(Action{Type: TypeENSLink}, web3.Network{ChainID: web3.ChainIDAnvil}); xerrors.CodeOf(err) != xerrors.CodeWrongNetwork {
		t.Fatalf("expected naming action without chain to be guarded, got %v", err)
	}
	if err := guard.Ensure(Action{Type: TypeSendPayment}, web3.Network{ChainID: web3.ChainIDAnvil}); err != nil {
		t.Fatalf("chain agnostic action rejected: %v", err)
	}
}

func TestEtherUnits(t *testing.T) {
	cases := map[string]string{"0.3": "0.3", "1": "1", "0.010": "0.01", ".5": "0.5", "12.000000000000000001": "12.000000000000000001"}
	for in, want := range cases {
		wei, err := ParseEther(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got := FormatEther(wei); got != want {
			t.Fatalf("format(%q) = %q, want %q", in, got, want)
		}
	}
	for _, bad := range []string{"", "-1", "abc", "1.0000000000000000001"} {
		if _, err := ParseEther(bad); err == nil {
			t.Fatalf("expected %q to fail", bad)
		}
	}
}
