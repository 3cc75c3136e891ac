package action

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "FlowAgent-Chain/internal/errors"
)

// Kind 描述参数值的形态。
type Kind int

const (
	KindString Kind = iota
	KindAddress
	KindNumber
	KindAmount
	KindBytes32
	KindStrings
	KindAddresses
	KindRecords
)

// DefaultContext 为默认值提供聊天上下文。
type DefaultContext struct {
	Caller    common.Address
	Now       time.Time
	AgentENS  string
	AgentRole Role
}

// Field 声明动作的一个参数。非 Optional 字段在填充默认值后必须存在。
type Field struct {
	Name     string
	Kind     Kind
	Optional bool
	NonZero  bool
	Default  func(DefaultContext, Params) any
	Check    func(string) error
}

// Required 表示字段没有默认值，调用方必须提供。
func (f Field) Required() bool {
	return !f.Optional && f.Default == nil
}

func missing(name string) error {
	return invalid(name, fmt.Sprintf("Required parameter '%s' is missing", name))
}

func invalid(name, message string) error {
	return xerrors.New(xerrors.CodeValidation, message, xerrors.WithMetadata("field", name))
}

func (f Field) present(p Params) bool {
	switch f.Kind {
	case KindStrings, KindAddresses:
		return len(p.Strings(f.Name)) > 0
	case KindRecords:
		return len(p.Records(f.Name)) > 0
	default:
		return p.String(f.Name) != ""
	}
}

func (f Field) validate(p Params) error {
	if !f.present(p) {
		if f.Optional {
			return nil
		}
		return missing(f.Name)
	}

	switch f.Kind {
	case KindString:
		if f.Check != nil {
			return f.Check(p.String(f.Name))
		}
	case KindAddress:
		return validateAddress(f.Name, p.String(f.Name), f.NonZero)
	case KindNumber:
		n, ok := new(big.Int).SetString(p.String(f.Name), 10)
		if !ok || n.Sign() < 0 {
			return invalid(f.Name, fmt.Sprintf("Parameter '%s' must be a non-negative integer", f.Name))
		}
		if f.NonZero && n.Sign() == 0 {
			return invalid(f.Name, fmt.Sprintf("Parameter '%s' must be greater than 0", f.Name))
		}
	case KindAmount:
		wei, err := ParseEther(p.String(f.Name))
		if err != nil {
			return invalid(f.Name, fmt.Sprintf("Parameter '%s' must be a decimal amount", f.Name))
		}
		if f.NonZero && wei.Sign() == 0 {
			return invalid(f.Name, fmt.Sprintf("Parameter '%s' must be greater than 0", f.Name))
		}
	case KindBytes32:
		raw := p.String(f.Name)
		if !isBytes32(raw) {
			return invalid(f.Name, fmt.Sprintf("Parameter '%s' must be a 32-byte hex value", f.Name))
		}
		if f.NonZero && common.HexToHash(raw) == (common.Hash{}) {
			return invalid(f.Name, fmt.Sprintf("Parameter '%s' cannot be zero bytes32", f.Name))
		}
	case KindStrings:
		for _, item := range p.Strings(f.Name) {
			if strings.TrimSpace(item) == "" {
				return invalid(f.Name, fmt.Sprintf("Parameter '%s' contains an empty entry", f.Name))
			}
		}
	case KindAddresses:
		for _, item := range p.Strings(f.Name) {
			if err := validateAddress(f.Name, item, true); err != nil {
				return err
			}
		}
	case KindRecords:
		for key := range p.Records(f.Name) {
			if strings.TrimSpace(key) == "" {
				return invalid(f.Name, fmt.Sprintf("Parameter '%s' contains an empty record key", f.Name))
			}
		}
	}
	return nil
}

func validateAddress(name, raw string, nonZero bool) error {
	if !common.IsHexAddress(raw) {
		return invalid(name, fmt.Sprintf("Parameter '%s' must be a valid address", name))
	}
	if nonZero && common.HexToAddress(raw) == (common.Address{}) {
		return invalid(name, fmt.Sprintf("Parameter '%s' cannot be zero address", name))
	}
	return nil
}

func isBytes32(raw string) bool {
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	if len(raw) != 64 {
		return false
	}
	for _, c := range raw {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

// argReader 将参数转换为 ABI 类型，记录遇到的第一个错误。
type argReader struct {
	p   Params
	err error
}

func (r *argReader) fail(key string) {
	if r.err == nil {
		r.err = invalid(key, fmt.Sprintf("Parameter '%s' has an invalid value", key))
	}
}

func (r *argReader) str(key string) string { return r.p.String(key) }

func (r *argReader) strs(key string) []string { return append([]string(nil), r.p.Strings(key)...) }

func (r *argReader) uint(key string) *big.Int {
	n, ok := new(big.Int).SetString(r.p.String(key), 10)
	if !ok || n.Sign() < 0 {
		r.fail(key)
		return new(big.Int)
	}
	return n
}

func (r *argReader) uint8(key string) uint8 {
	n := r.uint(key)
	if !n.IsUint64() || n.Uint64() > 255 {
		r.fail(key)
		return 0
	}
	return uint8(n.Uint64())
}

func (r *argReader) addr(key string) common.Address {
	raw := r.p.String(key)
	if !common.IsHexAddress(raw) {
		r.fail(key)
	}
	return common.HexToAddress(raw)
}

func (r *argReader) addrs(key string) []common.Address {
	items := r.p.Strings(key)
	out := make([]common.Address, 0, len(items))
	for _, item := range items {
		if !common.IsHexAddress(item) {
			r.fail(key)
		}
		out = append(out, common.HexToAddress(item))
	}
	return out
}

func (r *argReader) bytes32(key string) [32]byte {
	raw := r.p.String(key)
	if !isBytes32(raw) {
		r.fail(key)
	}
	return common.HexToHash(raw)
}

func (r *argReader) wei(key string) *big.Int {
	wei, err := ParseEther(r.p.String(key))
	if err != nil {
		r.fail(key)
		return new(big.Int)
	}
	return wei
}
