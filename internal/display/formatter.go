package display

import (
	"fmt"
	"regexp"
	"strings"

	"FlowAgent-Chain/internal/action"
	"FlowAgent-Chain/internal/dispatch"
	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/web3"
)

var hashPattern = regexp.MustCompile(`(?i)(?:(?:tx|hash)\s*:?\s*)?(0x[0-9a-f]{64})\b`)

// DefaultExplorers 是链 ID 到区块浏览器根地址的静态映射。
var DefaultExplorers = map[int64]string{
	1:        "https://etherscan.io",
	11155111: "https://sepolia.etherscan.io",
	137:      "https://polygonscan.com",
	8453:     "https://basescan.org",
	10:       "https://optimistic.etherscan.io",
	42161:    "https://arbiscan.io",
	545:      "https://evm-testnet.flowscan.io",
	747:      "https://evm.flowscan.io",
}

const (
	genericSuccess = "Transaction completed successfully."
	localNote      = "This transaction ran on a local development chain and cannot be verified on a public block explorer."
	cancelledText  = "Transaction was cancelled by the user."
	fundsText      = "Insufficient funds to complete the transaction. Please check your wallet balance."
	nonceText      = "Transaction nonce error. Please refresh and try again."
	transientText  = "The network is temporarily unavailable. Please try again in a moment."
	revertedText   = "The contract rejected the transaction and it was reverted on chain."
	internalRPC    = "Transaction failed on the blockchain. This could be due to:\n\n" +
		"• Insufficient gas or incorrect gas estimation\n" +
		"• Contract validation failure\n" +
		"• Network congestion\n" +
		"• Insufficient funds for gas fees\n\n" +
		"Please check your wallet balance and try again."
)

// Formatter 渲染执行结果。Formatter 无状态，相同输入总是得到相同输出。
type Formatter struct {
	explorers map[int64]string
	localID   int64
}

// Option 配置 Formatter。
type Option func(*Formatter)

// WithExplorer 新增或覆盖某条链的浏览器地址。
func WithExplorer(chainID int64, baseURL string) Option {
	return func(f *Formatter) {
		f.explorers[chainID] = strings.TrimRight(baseURL, "/")
	}
}

// WithLocalChain 指定没有公共浏览器的本地链。
func WithLocalChain(chainID int64) Option {
	return func(f *Formatter) { f.localID = chainID }
}

// NewFormatter 创建 Formatter。
func NewFormatter(opts ...Option) *Formatter {
	f := &Formatter{explorers: make(map[int64]string, len(DefaultExplorers)), localID: web3.ChainIDAnvil}
	for id, base := range DefaultExplorers {
		f.explorers[id] = base
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// ExtractHash 返回文本中第一个交易哈希。
func ExtractHash(raw string) (string, bool) {
	m := hashPattern.FindStringSubmatch(raw)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// ExplorerURL 返回交易在浏览器上的地址，未知链返回空串。
func (f *Formatter) ExplorerURL(chainID int64, hash string) string {
	base, ok := f.explorers[chainID]
	if !ok || hash == "" {
		return ""
	}
	return base + "/tx/" + hash
}

// Format 渲染原始执行输出。查询类动作原样返回，交易类动作附加哈希与浏览器链接。
func (f *Formatter) Format(raw string, act action.Action, chainID int64) string {
	spec, err := action.Lookup(act.Type)
	if err == nil && spec.Read {
		return raw
	}

	headline := genericSuccess
	if err == nil && spec.Success != nil {
		headline = spec.Success(act.Params) + "."
	}
	hash, ok := ExtractHash(raw)
	if !ok {
		if headline == genericSuccess {
			return genericSuccess
		}
		return headline + "\n\n" + genericSuccess
	}

	var b strings.Builder
	b.WriteString(headline)
	b.WriteString("\n\nTransaction: ")
	b.WriteString(hash)
	switch {
	case chainID == f.localID:
		b.WriteString("\n\n")
		b.WriteString(localNote)
	case f.ExplorerURL(chainID, hash) != "":
		b.WriteString("\nView on explorer: ")
		b.WriteString(f.ExplorerURL(chainID, hash))
	}
	return b.String()
}

// FormatResult 渲染派发结果。
func (f *Formatter) FormatResult(res *dispatch.TransactionResult, act action.Action, chainID int64) string {
	if res == nil {
		return genericSuccess
	}
	switch res.Status() {
	case dispatch.StatusFailed:
		return f.failure(act, classifyText(res.RawOutcome()))
	case dispatch.StatusPending:
		return fmt.Sprintf("%s is pending confirmation.", describe(act))
	}
	raw := res.RawOutcome()
	if res.Hash() != "" && !strings.Contains(raw, res.Hash()) {
		raw = strings.TrimSpace(raw + " Tx: " + res.Hash())
	}
	return f.Format(raw, act, chainID)
}

// FormatError 根据错误类别给出失败提示。
func (f *Formatter) FormatError(err error, act action.Action) string {
	if err == nil {
		return genericSuccess
	}
	return f.failure(act, ErrorText(err))
}

// FormatCancelled 渲染用户取消。
func (f *Formatter) FormatCancelled(act action.Action) string {
	if act.Description == "" {
		return cancelledText
	}
	return fmt.Sprintf("%s\n\n%q was not submitted.", cancelledText, act.Description)
}

func (f *Formatter) failure(act action.Action, text string) string {
	return fmt.Sprintf("Failed to execute %q:\n\n%s", describe(act), text)
}

func describe(act action.Action) string {
	if act.Description != "" {
		return act.Description
	}
	return string(act.Type)
}

// ErrorText 返回错误类别对应的用户提示。未分类的错误原样呈现。
func ErrorText(err error) string {
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	switch xerrors.Classify(err) {
	case xerrors.CodeUserRejected:
		return cancelledText
	case xerrors.CodeInsufficientFunds:
		if e, ok := xerrors.From(err); ok {
			meta := e.Metadata()
			if meta["required"] != "" {
				return fmt.Sprintf("%s\n\nRequired: %s, available: %s.", fundsText, meta["required"], meta["available"])
			}
		}
		return fundsText
	case xerrors.CodeNonce:
		return nonceText
	case xerrors.CodeTransientRPC:
		if strings.Contains(strings.ToLower(err.Error()), "internal json-rpc error") {
			return internalRPC
		}
		return transientText
	case xerrors.CodeReverted:
		return revertedText
	default:
		return message
	}
}

func classifyText(raw string) string {
	return ErrorText(rawError(raw))
}

type rawError string

func (e rawError) Error() string { return string(e) }
