package action

import (
	"fmt"
	"math/big"
	"strings"
)

const etherDecimals = 18

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(etherDecimals), nil)

// ParseEther converts a decimal ether amount such as "0.3" to wei.
func ParseEther(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(amount, "-") {
		return nil, fmt.Errorf("negative amount %q", amount)
	}
	whole, frac, _ := strings.Cut(amount, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > etherDecimals {
		return nil, fmt.Errorf("amount %q has more than %d decimals", amount, etherDecimals)
	}
	digits := whole + frac + strings.Repeat("0", etherDecimals-len(frac))
	wei, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}
	return wei, nil
}

// MustParseEther panics on malformed constants.
func MustParseEther(amount string) *big.Int {
	wei, err := ParseEther(amount)
	if err != nil {
		panic(err)
	}
	return wei
}

// FormatEther renders wei as a decimal ether string without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	sign := ""
	v := new(big.Int).Set(wei)
	if v.Sign() < 0 {
		sign = "-"
		v.Neg(v)
	}
	whole, frac := new(big.Int).QuoRem(v, weiPerEther, new(big.Int))
	if frac.Sign() == 0 {
		return sign + whole.String()
	}
	fracText := frac.String()
	fracText = strings.Repeat("0", etherDecimals-len(fracText)) + fracText
	fracText = strings.TrimRight(fracText, "0")
	return sign + whole.String() + "." + fracText
}
