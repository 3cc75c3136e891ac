package action

import (
	"fmt"
	"strconv"

	xerrors "FlowAgent-Chain/internal/errors"
	"FlowAgent-Chain/internal/web3"
)

// Guard 在任何合约调用之前确认当前网络满足动作要求。
type Guard struct {
	NamingChainID int64
}

// Ensure 在链不匹配时返回 CodeWrongNetwork。
func (g Guard) Ensure(act Action, current web3.Network) error {
	required := act.RequiredChainID
	if required == 0 {
		if spec, err := Lookup(act.Type); err == nil && spec.Naming {
			required = g.namingChain()
		}
	}
	if required == 0 || current.ChainID == required {
		return nil
	}

	message := fmt.Sprintf("Please switch to chain %d to run this action", required)
	if required == web3.ChainIDSepolia {
		message = "Please switch to Ethereum Sepolia testnet to use ENS operations"
	}
	return xerrors.New(xerrors.CodeWrongNetwork, message,
		xerrors.WithMetadata("required_chain_id", strconv.FormatInt(required, 10)),
		xerrors.WithMetadata("current_chain_id", strconv.FormatInt(current.ChainID, 10)),
	)
}

func (g Guard) namingChain() int64 {
	if g.NamingChainID > 0 {
		return g.NamingChainID
	}
	return web3.ChainIDSepolia
}
