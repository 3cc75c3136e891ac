package action

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Type 标识一种链上动作。
type Type string

const (
	TypeCreateAgent     Type = "create_agent"
	TypeSendPayment     Type = "send_payment"
	TypeCreateWallet    Type = "create_wallet"
	TypeCreateDAO       Type = "create_dao"
	TypeIssueCredential Type = "issue_credential"
	TypeENSCreate       Type = "ens_create"
	TypeENSResolve      Type = "ens_resolve"
	TypeENSCheck        Type = "ens_check"
	TypeENSGetText      Type = "ens_get_text"
	TypeENSSetupProfile Type = "ens_setup_profile"
	TypeENSUpdate       Type = "ens_update"
	TypeENSLink         Type = "ens_link"
	TypeENSTransfer     Type = "ens_transfer"
)

// Action 是经过校验、可直接派发的智能合约动作。校验通过后不再修改。
type Action struct {
	Type            Type   `json:"type"`
	Params          Params `json:"parameters"`
	Description     string `json:"description"`
	RequiredChainID int64  `json:"requiredChainId,omitempty"`
	EstimatedCost   string `json:"estimatedCost,omitempty"`
}

// Clone 返回动作的深拷贝。
func (a Action) Clone() Action {
	a.Params = a.Params.Clone()
	return a
}

// Env 描述派发时才能确定的参数来源。
type Env struct {
	From   common.Address
	Now    time.Time
	Secret [32]byte
	// Price 为派发前实时获取的注册价格，仅对需要定价的动作有效。
	Price *big.Int
}

// Params 保存动作参数。值只使用 string、[]string 与 map[string]string，
// 以便经过 JSON 序列化后仍能被访问器读取。
type Params map[string]any

// Clone 返回参数的深拷贝。
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		switch val := v.(type) {
		case []string:
			out[k] = append([]string(nil), val...)
		case map[string]string:
			m := make(map[string]string, len(val))
			for mk, mv := range val {
				m[mk] = mv
			}
			out[k] = m
		default:
			out[k] = v
		}
	}
	return out
}

// String 返回字符串参数，数字会被格式化。
func (p Params) String(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return big.NewFloat(v).Text('f', -1)
	case fmt.Stringer:
		return v.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Strings 返回列表参数。
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, strings.TrimSpace(fmt.Sprint(item)))
		}
		return out
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	default:
		return nil
	}
}

// Records 返回键值记录参数。
func (p Params) Records(key string) map[string]string {
	switch v := p[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			out[k] = fmt.Sprint(item)
		}
		return out
	default:
		return nil
	}
}

// SortedRecords 按键排序返回记录的键与值。
func SortedRecords(records map[string]string) ([]string, []string) {
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = records[k]
	}
	return keys, values
}
