package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"
)

type rpcError struct {
	code int
	msg  string
}

func (e rpcError) Error() string  { return e.msg }
func (e rpcError) ErrorCode() int { return e.code }

func TestClassifyBySubstring(t *testing.T) {
	cases := []struct {
		msg  string
		want Code
	}{
		{"MetaMask Tx Signature: User rejected the transaction", CodeUserRejected},
		{"user denied transaction signature", CodeUserRejected},
		{"insufficient funds for gas * price + value", CodeInsufficientFunds},
		{"nonce too low", CodeNonce},
		{"replacement transaction underpriced", CodeNonce},
		{"Internal JSON-RPC error.", CodeTransientRPC},
		{"network congestion, try later", CodeTransientRPC},
		{"execution reverted: name taken", CodeReverted},
		{"something odd happened", CodeUnknown},
	}
	for _, tc := range cases {
		if got := Classify(fmt.Errorf("send: %s", tc.msg)); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
}

func TestClassifyPrefersStructuredCodes(t *testing.T) {
	if got := Classify(New(CodeWrongNetwork, "switch to sepolia with nonce")); got != CodeWrongNetwork {
		t.Fatalf("expected unified code to win, got %s", got)
	}
	if got := Classify(rpcError{code: 4001, msg: "request failed"}); got != CodeUserRejected {
		t.Fatalf("expected 4001 to map to user rejected, got %s", got)
	}
	if got := Classify(rpcError{code: -32603, msg: "Internal JSON-RPC error: nonce too low"}); got != CodeNonce {
		t.Fatalf("expected nested nonce detail, got %s", got)
	}
	if got := Classify(rpcError{code: -32603, msg: "Internal JSON-RPC error"}); got != CodeTransientRPC {
		t.Fatalf("expected internal error to be transient, got %s", got)
	}
	if got := Classify(fmt.Errorf("call: %w", context.DeadlineExceeded)); got != CodeTransientRPC {
		t.Fatalf("expected deadline to be transient, got %s", got)
	}
	if got := Classify(nil); got != "" {
		t.Fatalf("expected empty kind for nil, got %s", got)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("nonce too low")) {
		t.Fatal("nonce errors should be retryable")
	}
	if IsRetryable(fmt.Errorf("user rejected transaction")) {
		t.Fatal("user rejection must not be retried")
	}
	if IsRetryable(New(CodeValidation, "Required parameter 'name' is missing")) {
		t.Fatal("validation errors must not be retried")
	}
	if IsRetryable(fmt.Errorf("boom")) {
		t.Fatal("unknown errors are not retried by default")
	}
}

func TestErrorMetadataAndIs(t *testing.T) {
	err := Wrap(CodeInsufficientFunds, fmt.Errorf("balance"), "not enough",
		WithMetadata("required", "0.3"), WithMetadata("available", "0.1"))
	if !stdErrors.Is(err, New(CodeInsufficientFunds, "")) {
		t.Fatal("expected errors.Is to match on code")
	}
	meta := err.Metadata()
	if meta["required"] != "0.3" || meta["available"] != "0.1" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if CodeOf(fmt.Errorf("outer: %w", err)) != CodeInsufficientFunds {
		t.Fatal("expected CodeOf to unwrap")
	}
}
