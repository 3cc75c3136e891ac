package action

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"FlowAgent-Chain/internal/contracts"
	xerrors "FlowAgent-Chain/internal/errors"
)

// SecondsPerYear 是注册时长换算使用的年长度。
const SecondsPerYear = 365 * 24 * 60 * 60

const defaultAgentDescription = "AI Agent for automation and financial operations"

// DefaultTextKeys 是查询文本记录时的默认键集合。
var DefaultTextKeys = []string{"description", "url", "avatar", "com.twitter", "com.github"}

// Spec 描述一种动作如何映射到合约调用。注册表在包初始化后只读。
type Spec struct {
	Type     Type
	Contract string
	Method   string
	Fields   []Field
	// Naming 表示动作属于命名服务，只能在指定链上执行。
	Naming bool
	// Read 表示纯查询调用，不产生交易。
	Read bool
	// Priced 表示动作需要通过价格预言机定价并以价格作为 value。
	Priced bool
	Args   func(Params, Env) ([]any, error)
	// Value 返回需要随交易发送的 wei，nil 表示不附带。
	Value    func(Params, Env) (*big.Int, error)
	Render   func(Params, []any) string
	Success  func(Params) string
	Describe func(Params) string
}

// Validate 校验参数。所有错误都是 CodeValidation 并以字段命名。
func (s Spec) Validate(p Params) error {
	for _, f := range s.Fields {
		if err := f.validate(p); err != nil {
			return err
		}
	}
	return nil
}

// Field 按名称查找字段声明。
func (s Spec) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

var specs = buildSpecs()

// Lookup 返回动作类型对应的规格。
func Lookup(t Type) (Spec, error) {
	spec, ok := specs[t]
	if !ok {
		return Spec{}, xerrors.New(xerrors.CodeUnknownAction, fmt.Sprintf("Unknown action type: %s", t))
	}
	return *spec, nil
}

// Types 返回所有已注册的动作类型。
func Types() []Type {
	out := make([]Type, 0, len(specs))
	for t := range specs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func constant(v any) func(DefaultContext, Params) any {
	return func(DefaultContext, Params) any { return v }
}

// agentENSOr 优先使用聊天上下文中的代理 ENS，否则使用固定名称。
func agentENSOr(fallback string) func(DefaultContext, Params) any {
	return func(dc DefaultContext, _ Params) any {
		if dc.AgentENS != "" {
			return dc.AgentENS
		}
		return fallback
	}
}

func callerList(dc DefaultContext, _ Params) any {
	if dc.Caller == (common.Address{}) {
		return nil
	}
	return []string{dc.Caller.Hex()}
}

func callerAddress(dc DefaultContext, _ Params) any {
	if dc.Caller == (common.Address{}) {
		return nil
	}
	return dc.Caller.Hex()
}

var zeroAddress = common.Address{}.Hex()

var zeroHash = common.Hash{}.Hex()

func shortAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}

func roleOf(p Params) Role {
	role, _ := ParseRole(p.String("role"))
	return role
}

func checkRole(raw string) error {
	if _, ok := ParseRole(raw); !ok {
		return invalid("role", fmt.Sprintf("Parameter 'role' has unsupported value %q", raw))
	}
	return nil
}

func reader(p Params) *argReader { return &argReader{p: p} }

func buildSpecs() map[Type]*Spec {
	list := []*Spec{
		{
			Type:     TypeCreateAgent,
			Contract: contracts.FlowAgentRegistry,
			Method:   "registerAgent",
			Fields: []Field{
				{Name: "ensName", Kind: KindString},
				{Name: "role", Kind: KindString, Check: checkRole, Default: func(dc DefaultContext, _ Params) any {
					if dc.AgentRole != "" {
						return string(dc.AgentRole)
					}
					return string(RoleAI)
				}},
				{Name: "agentType", Kind: KindNumber, Default: func(_ DefaultContext, p Params) any {
					if t, ok := roleOf(p).AgentType(); ok {
						return fmt.Sprint(t)
					}
					return nil
				}},
				{Name: "description", Kind: KindString, Default: func(dc DefaultContext, p Params) any {
					if dc.Caller == (common.Address{}) {
						return defaultAgentDescription
					}
					return fmt.Sprintf("%s for %s", roleOf(p).Title(), shortAddress(dc.Caller))
				}},
				{Name: "capabilities", Kind: KindStrings, Default: func(_ DefaultContext, p Params) any {
					if caps, ok := roleOf(p).Capabilities(); ok {
						return caps
					}
					return nil
				}},
				{Name: "metadata", Kind: KindString, Default: func(dc DefaultContext, p Params) any {
					raw, _ := json.Marshal(map[string]string{
						"role":      string(roleOf(p)),
						"createdAt": dc.Now.UTC().Format(time.RFC3339),
						"owner":     dc.Caller.Hex(),
					})
					return string(raw)
				}},
			},
			Args: func(p Params, _ Env) ([]any, error) {
				r := reader(p)
				args := []any{r.str("ensName"), r.str("description"), r.uint8("agentType"), r.strs("capabilities"), r.str("metadata")}
				return args, r.err
			},
			Success: func(p Params) string {
				return fmt.Sprintf("Agent %s registered as %s", p.String("ensName"), roleOf(p).Title())
			},
			Describe: func(p Params) string {
				return fmt.Sprintf("Register %s agent %s", roleOf(p).Title(), p.String("ensName"))
			},
		},
		{
			Type:     TypeSendPayment,
			Contract: contracts.FlowPayments,
			Method:   "sendPaymentToENS",
			Fields: []Field{
				{Name: "recipient", Kind: KindString},
				{Name: "amount", Kind: KindAmount, NonZero: true},
				{Name: "token", Kind: KindAddress, Default: constant(zeroAddress)},
				{Name: "description", Kind: KindString, Default: constant("Payment")},
				{Name: "agentId", Kind: KindBytes32, Default: constant(zeroHash)},
			},
			Args: func(p Params, _ Env) ([]any, error) {
				r := reader(p)
				args := []any{r.str("recipient"), r.wei("amount"), r.addr("token"), r.str("description"), r.bytes32("agentId")}
				return args, r.err
			},
			Value: func(p Params, _ Env) (*big.Int, error) {
				r := reader(p)
				if r.addr("token") != (common.Address{}) {
					return nil, r.err
				}
				return r.wei("amount"), r.err
			},
			Success: func(p Params) string {
				return fmt.Sprintf("Sent %s to %s", p.String("amount"), p.String("recipient"))
			},
			Describe: func(p Params) string {
				return fmt.Sprintf("Send %s to %s", p.String("amount"), p.String("recipient"))
			},
		},
		{
			Type:     TypeCreateWallet,
			Contract: contracts.FlowMultiSigWallet,
			Method:   "createWallet",
			Fields: []Field{
				{Name: "ensName", Kind: KindString, Default: agentENSOr("wallet.eth")},
				{Name: "description", Kind: KindString, Default: constant("Multi-signature wallet")},
				{Name: "owners", Kind: KindAddresses, Default: callerList},
				{Name: "requiredApprovals", Kind: KindNumber, NonZero: true, Default: constant("1")},
				{Name: "walletType", Kind: KindNumber, Default: constant("0")},
			},
			Args: func(p Params, _ Env) ([]any, error) {
				r := reader(p)
				args := []any{r.str("ensName"), r.str("description"), r.addrs("owners"), r.uint("requiredApprovals"), r.uint8("walletType")}
				return args, r.err
			},
			Success: func(p Params) string {
				return fmt.Sprintf("Multi-signature wallet %s created", p.String("ensName"))
			},
			Describe: func(p Params) string {
				return fmt.Sprintf("Create multi-signature wallet %s", p.String("ensName"))
			},
		},
		{
			Type:     TypeCreateDAO,
			Contract: contracts.FlowDAO,
			Method:   "createDAO",
			Fields: []Field{
				{Name: "ensName", Kind: KindString, Default: agentENSOr("community.eth")},
				{Name: "name", Kind: KindString, Default: constant("Community DAO")},
				{Name: "description", Kind: KindString, Default: constant("Community governance")},
				{Name: "members", Kind: KindAddresses, Default: callerList},
				{Name: "proposalThreshold", Kind: KindNumber, NonZero: true, Default: constant("1")},
				{Name: "votingPeriod", Kind: KindNumber, NonZero: true, Default: constant("86400")},
				{Name: "quorum", Kind: KindNumber, NonZero: true, Default: constant("1")},
				{Name: "daoType", Kind: KindNumber, Default: constant("0")},
				{Name: "governanceToken", Kind: KindAddress, Default: constant(zeroAddress)},
			},
			Args: func(p Params, _ Env) ([]any, error) {
				r := reader(p)
				args := []any{
					r.str("ensName"), r.str("name"), r.str("description"), r.addrs("members"),
					r.uint("proposalThreshold"), r.uint("votingPeriod"), r.uint("quorum"),
					r.uint8("daoType"), r.addr("governanceToken"),
				}
				return args, r.err
			},
			Success: func(p Params) string {
				return fmt.Sprintf("DAO %s created for %s", p.String("name"), p.String("ensName"))
			},
			Describe: func(p Params) string {
				return fmt.Sprintf("Create DAO %s", p.String("ensName"))
			},
		},
		{
			Type:     TypeIssueCredential,
			Contract: contracts.FlowCredentials,
			Method:   "issueCredential",
			Fields: []Field{
				{Name: "recipient", Kind: KindAddress, NonZero: true},
				{Name: "name", Kind: KindString, Default: constant("Badge")},
				{Name: "description", Kind: KindString, Default: constant("Credential")},
				{Name: "credentialType", Kind: KindNumber, Default: constant("0")},
				{Name: "score", Kind: KindNumber, NonZero: true, Default: constant("50")},
				{Name: "icon", Kind: KindString, Default: constant("🏆")},
				{Name: "expiryDate", Kind: KindNumber, NonZero: true, Default: func(dc DefaultContext, _ Params) any {
					return fmt.Sprint(dc.Now.Add(SecondsPerYear * time.Second).Unix())
				}},
				{Name: "metadata", Kind: KindString, Default: constant("Credential")},
			},
			Args: func(p Params, _ Env) ([]any, error) {
				r := reader(p)
				args := []any{
					r.addr("recipient"), r.str("name"), r.str("description"), r.uint8("credentialType"),
					r.uint("score"), r.str("icon"), r.uint("expiryDate"), r.str("metadata"),
				}
				return args, r.err
			},
			Success: func(p Params) string {
				return fmt.Sprintf("Credential %q issued to %s", p.String("name"), p.String("recipient"))
			},
			Describe: func(p Params) string {
				return fmt.Sprintf("Issue credential %q to %s", p.String("name"), p.String("recipient"))
			},
		},
		{
			Type:     TypeENSCreate,
			Contract: contracts.FlowENSIntegration,
			Method:   "registerENSName",
			Naming:   true,
			Priced:   true,
			Fields: []Field{
				{Name: "name", Kind: KindString},
				// 注册时长，单位为年。
				{Name: "duration", Kind: KindNumber, NonZero: true, Default: constant("1")},
			},
			Args: func(p Params, env Env) ([]any, error) {
				r := reader(p)
				args := []any{r.str("name"), r.uint("duration"), env.Secret}
				return args, r.err
			},
			Value: func(_ Params, env Env) (*big.Int, error) {
				if env.Price == nil {
					return nil, xerrors.New(xerrors.CodeValidation, "registration price is unknown")
				}
				return env.Price, nil
			},
			Success: func(p Params) string {
				return fmt.Sprintf("ENS name %s registered", p.String("name"))
			},
			Describe: func(p Params) string {
				return fmt.Sprintf("Register ENS name %s", p.String("name"))
			},
		},
		{
			Type:     TypeENSResolve,
			Contract: contracts.ENSRegistry,
			Method:   "resolve",
			Naming:   true,
			Read:     true,
			Fields:   []Field{{Name: "name", Kind: KindString}},
			Args: func(p Params, _ Env) ([]any, error) {
				return []any{p.String("name")}, nil
			},
			Render: func(p Params, out []any) string {
				addr, _ := first(out).(common.Address)
				if addr == (common.Address{}) {
					return fmt.Sprintf("ENS name %q does not resolve to an address", p.String("name"))
				}
				return fmt.Sprintf("ENS name %q resolves to %s", p.String("name"), addr.Hex())
			},
			Describe: func(p Params) string {
				return fmt.Sprintf("Resolve ENS name %s", p.String("name"))
			},
		},
		{
			Type:     TypeENSCheck,
			Contract: contracts.FlowENSIntegration,
			Method:   "isAvailable",
			Naming:   true,
			Read:     true,
			Fields:   []Field{{Name: "name", Kind: KindString}},
			Args: func(p Params, _ Env) ([]any, error) {
				return []any{p.String("name")}, nil
			},
			Render: func(p Params, out []any) string {
				if available, _ := first(out).(bool); available {
					return fmt.Sprintf("ENS name %q is available for registration", p.String("name"))
				}
				return fmt.Sprintf("ENS name %q is already registered", p.String("name"))
			},
			Describe: func(p Params) string {
				return fmt.Sprintf("Check availability of %s", p.String("name"))
			},
		},
		{
			Type:     TypeENSGetText,
			Contract: contracts.ENSRegistry,
			Method:   "getTextRecords",
			Naming:   true,
			Read:     true,
			Fields: []Field{
				{Name: "name", Kind: KindString},
				{Name: "keys", Kind: KindStrings, Default: constant(append([]string(nil), DefaultTextKeys...))},
			},
			Args: func(p Params, _ Env) ([]any, error) {
				r := reader(p)
				return []any{r.str("name"), r.strs("keys")}, r.err
			},
			Render: func(p Params, out []any) string {
				values, _ := first(out).([]string)
				keys := p.Strings("keys")
				var b strings.Builder
				for i, key := range keys {
					if i >= len(values) || strings.TrimSpace(values[i]) == "" {
						continue
					}
					fmt.Fprintf(&b, "\n• %s: %s", key, values[i])
				}
				if b.Len() == 0 {
					return fmt.Sprintf("No text records found for %q", p.String("name"))
				}
				return fmt.Sprintf("Text records for %q:%s", p.String("name"), b.String())
			},
			Describe: func(p Params) string {
				return fmt.Sprintf("Get text records of %s", p.String("name"))
			},
		},
		{
			Type:     TypeENSSetupProfile,
			Contract: contracts.FlowENSIntegration,
			Method:   "setupProfile",
			Naming:   true,
			Fields: []Field{
				{Name: "owner", Kind: KindAddress, NonZero: true, Default: callerAddress},
				{Name: "name", Kind: KindString, Optional: true},
				{Name: "records", Kind: KindRecords, Default: func(dc DefaultContext, p Params) any {
					label := p.String("name")
					if label == "" {
						label = dc.AgentENS
					}
					description := "Flow agent profile"
					if label != "" {
						description = "Flow agent profile for " + label
					}
					return map[string]string{"description": description, "url": ""}
				}},
			},
			Args: func(p Params, _ Env) ([]any, error) {
				r := reader(p)
				keys, values := SortedRecords(p.Records("records"))
				return []any{r.addr("owner"), r.str("name"), keys, values}, r.err
			},
			Success: func(p Params) string {
				if name := p.String("name"); name != "" {
					return fmt.Sprintf("ENS profile for %s set up", name)
				}
				return "ENS profile set up"
			},
			Describe: func(p Params) string {
				return "Set up ENS profile"
			},
		},
		{
			Type:     TypeENSUpdate,
			Contract: contracts.FlowENSIntegration,
			Method:   "setTextRecords",
			Naming:   true,
			Fields: []Field{
				{Name: "name", Kind: KindString, Default: func(dc DefaultContext, _ Params) any {
					if dc.AgentENS == "" {
						return nil
					}
					return dc.AgentENS
				}},
				{Name: "records", Kind: KindRecords},
			},
			Args: func(p Params, _ Env) ([]any, error) {
				keys, values := SortedRecords(p.Records("records"))
				return []any{p.String("name"), keys, values}, nil
			},
			Success: func(p Params) string {
				return fmt.Sprintf("Updated %d text record(s) on %s", len(p.Records("records")), p.String("name"))
			},
			Describe: func(p Params) string {
				return fmt.Sprintf("Update text records of %s", p.String("name"))
			},
		},
		{
			Type:     TypeENSLink,
			Contract: contracts.FlowENSIntegration,
			Method:   "linkENSToAddress",
			Naming:   true,
			Fields: []Field{
				{Name: "name", Kind: KindString},
				{Name: "address", Kind: KindAddress, NonZero: true},
			},
			Args: func(p Params, _ Env) ([]any, error) {
				r := reader(p)
				return []any{r.str("name"), r.addr("address")}, r.err
			},
			Success: func(p Params) string {
				return fmt.Sprintf("%s now points to %s", p.String("name"), p.String("address"))
			},
			Describe: func(p Params) string {
				return fmt.Sprintf("Link %s to %s", p.String("name"), p.String("address"))
			},
		},
		{
			Type:     TypeENSTransfer,
			Contract: contracts.FlowENSIntegration,
			Method:   "transferENS",
			Naming:   true,
			Fields: []Field{
				{Name: "name", Kind: KindString},
				{Name: "to", Kind: KindAddress, NonZero: true},
			},
			Args: func(p Params, _ Env) ([]any, error) {
				r := reader(p)
				return []any{r.str("name"), r.addr("to")}, r.err
			},
			Success: func(p Params) string {
				return fmt.Sprintf("%s transferred to %s", p.String("name"), p.String("to"))
			},
			Describe: func(p Params) string {
				return fmt.Sprintf("Transfer %s to %s", p.String("name"), p.String("to"))
			},
		},
	}

	out := make(map[Type]*Spec, len(list))
	for _, spec := range list {
		out[spec.Type] = spec
	}
	return out
}

func first(out []any) any {
	if len(out) == 0 {
		return nil
	}
	return out[0]
}
