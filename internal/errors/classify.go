package errors

import (
	"context"
	stdErrors "errors"
	"strings"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Rule 将错误信息中的子串映射为错误类别。
type Rule struct {
	Substring string
	Kind      Code
}

// ClassificationRules 按顺序匹配，先命中者生效。仅在错误不携带结构化错误码时使用。
var ClassificationRules = []Rule{
	{Substring: "user rejected", Kind: CodeUserRejected},
	{Substring: "user denied", Kind: CodeUserRejected},
	{Substring: "action_rejected", Kind: CodeUserRejected},
	{Substring: "insufficient funds", Kind: CodeInsufficientFunds},
	{Substring: "replacement transaction underpriced", Kind: CodeNonce},
	{Substring: "nonce", Kind: CodeNonce},
	{Substring: "internal json-rpc error", Kind: CodeTransientRPC},
	{Substring: "congest", Kind: CodeTransientRPC},
	{Substring: "too many requests", Kind: CodeTransientRPC},
	{Substring: "timeout", Kind: CodeTransientRPC},
	{Substring: "timed out", Kind: CodeTransientRPC},
	{Substring: "connection refused", Kind: CodeTransientRPC},
	{Substring: "connection reset", Kind: CodeTransientRPC},
	{Substring: "execution reverted", Kind: CodeReverted},
}

// 钱包与节点返回的结构化 JSON-RPC 错误码。
const (
	rpcCodeUserRejected = 4001
	rpcCodeInternal     = -32603
	rpcCodeLimitExceed  = -32005
)

var taxonomy = map[Code]struct{}{
	CodeValidation:        {},
	CodeWrongNetwork:      {},
	CodeUnknownAction:     {},
	CodeInsufficientFunds: {},
	CodeUserRejected:      {},
	CodeNonce:             {},
	CodeTransientRPC:      {},
	CodeNotConnected:      {},
	CodeReverted:          {},
}

// Classify 将任意错误归入稳定的错误类别。未命中任何规则时返回 CodeUnknown。
func Classify(err error) Code {
	if err == nil {
		return ""
	}
	if e, ok := From(err); ok {
		if _, known := taxonomy[e.Code()]; known {
			return e.Code()
		}
	}

	var rpcErr gethrpc.Error
	if stdErrors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case rpcCodeUserRejected:
			return CodeUserRejected
		case rpcCodeLimitExceed:
			return CodeTransientRPC
		case rpcCodeInternal:
			// 节点把 nonce、余额等错误都包在 -32603 里，先看具体信息。
			if kind := classifyMessage(rpcErr.Error()); kind != CodeUnknown {
				return kind
			}
			return CodeTransientRPC
		}
	}

	if stdErrors.Is(err, context.DeadlineExceeded) {
		return CodeTransientRPC
	}
	return classifyMessage(err.Error())
}

func classifyMessage(message string) Code {
	lowered := strings.ToLower(message)
	for _, rule := range ClassificationRules {
		if strings.Contains(lowered, rule.Substring) {
			return rule.Kind
		}
	}
	return CodeUnknown
}

// IsRetryable 判断错误经分类后是否属于可重试的瞬时故障。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return AttributesOf(Classify(err)).Retryable
}
