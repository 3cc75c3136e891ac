package contracts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Logical contract names as they appear in network configuration.
const (
	ENSRegistry          = "ensRegistry"
	FlowAgentRegistry    = "flowAgentRegistry"
	FlowCredentials      = "flowCredentials"
	FlowPayments         = "flowPayments"
	FlowMultiSigWallet   = "flowMultiSigWallet"
	FlowDAO              = "flowDAO"
	FlowENSIntegration   = "flowENSIntegration"
	FlowAgentIntegration = "flowAgentIntegration"
)

const ensRegistryABI = `[
 {"type":"function","name":"resolve","stateMutability":"view","inputs":[{"name":"name","type":"string"}],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"getTextRecords","stateMutability":"view","inputs":[{"name":"name","type":"string"},{"name":"keys","type":"string[]"}],"outputs":[{"name":"","type":"string[]"}]}
]`

const flowAgentRegistryABI = `[
 {"type":"function","name":"registerAgent","stateMutability":"nonpayable","inputs":[{"name":"ensName","type":"string"},{"name":"description","type":"string"},{"name":"agentType","type":"uint8"},{"name":"capabilities","type":"string[]"},{"name":"metadata","type":"string"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"ensNameToAgentId","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const flowCredentialsABI = `[
 {"type":"function","name":"issueCredential","stateMutability":"nonpayable","inputs":[{"name":"recipient","type":"address"},{"name":"name","type":"string"},{"name":"description","type":"string"},{"name":"credentialType","type":"uint8"},{"name":"score","type":"uint256"},{"name":"icon","type":"string"},{"name":"expiryDate","type":"uint256"},{"name":"metadata","type":"string"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const flowPaymentsABI = `[
 {"type":"function","name":"sendPaymentToENS","stateMutability":"payable","inputs":[{"name":"recipientENS","type":"string"},{"name":"amount","type":"uint256"},{"name":"token","type":"address"},{"name":"description","type":"string"},{"name":"agentId","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const flowMultiSigWalletABI = `[
 {"type":"function","name":"createWallet","stateMutability":"nonpayable","inputs":[{"name":"ensName","type":"string"},{"name":"description","type":"string"},{"name":"owners","type":"address[]"},{"name":"requiredApprovals","type":"uint256"},{"name":"walletType","type":"uint8"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const flowDAOABI = `[
 {"type":"function","name":"createDAO","stateMutability":"nonpayable","inputs":[{"name":"ensName","type":"string"},{"name":"name","type":"string"},{"name":"description","type":"string"},{"name":"members","type":"address[]"},{"name":"proposalThreshold","type":"uint256"},{"name":"votingPeriod","type":"uint256"},{"name":"quorum","type":"uint256"},{"name":"daoType","type":"uint8"},{"name":"governanceToken","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const flowENSIntegrationABI = `[
 {"type":"function","name":"registerENSName","stateMutability":"payable","inputs":[{"name":"name","type":"string"},{"name":"duration","type":"uint256"},{"name":"secret","type":"bytes32"}],"outputs":[]},
 {"type":"function","name":"rentPrice","stateMutability":"view","inputs":[{"name":"name","type":"string"},{"name":"duration","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"isAvailable","stateMutability":"view","inputs":[{"name":"name","type":"string"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"setupProfile","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"name","type":"string"},{"name":"keys","type":"string[]"},{"name":"values","type":"string[]"}],"outputs":[]},
 {"type":"function","name":"setTextRecords","stateMutability":"nonpayable","inputs":[{"name":"name","type":"string"},{"name":"keys","type":"string[]"},{"name":"values","type":"string[]"}],"outputs":[]},
 {"type":"function","name":"linkENSToAddress","stateMutability":"nonpayable","inputs":[{"name":"name","type":"string"},{"name":"addr","type":"address"}],"outputs":[]},
 {"type":"function","name":"transferENS","stateMutability":"nonpayable","inputs":[{"name":"name","type":"string"},{"name":"to","type":"address"}],"outputs":[]}
]`

const flowAgentIntegrationABI = `[
 {"type":"function","name":"getAgentByENS","stateMutability":"view","inputs":[{"name":"ensName","type":"string"}],"outputs":[{"name":"agentId","type":"uint256"},{"name":"owner","type":"address"},{"name":"active","type":"bool"}]}
]`

var rawABIs = map[string]string{
	ENSRegistry:          ensRegistryABI,
	FlowAgentRegistry:    flowAgentRegistryABI,
	FlowCredentials:      flowCredentialsABI,
	FlowPayments:         flowPaymentsABI,
	FlowMultiSigWallet:   flowMultiSigWalletABI,
	FlowDAO:              flowDAOABI,
	FlowENSIntegration:   flowENSIntegrationABI,
	FlowAgentIntegration: flowAgentIntegrationABI,
}

var parsedABIs = mustParseABIs()

func mustParseABIs() map[string]abi.ABI {
	out := make(map[string]abi.ABI, len(rawABIs))
	for name, raw := range rawABIs {
		parsed, err := abi.JSON(strings.NewReader(raw))
		if err != nil {
			panic(fmt.Sprintf("parse %s abi: %v", name, err))
		}
		out[name] = parsed
	}
	return out
}

// Names returns every logical contract name in a stable order.
func Names() []string {
	return []string{
		ENSRegistry,
		FlowAgentRegistry,
		FlowCredentials,
		FlowPayments,
		FlowMultiSigWallet,
		FlowDAO,
		FlowENSIntegration,
		FlowAgentIntegration,
	}
}

// ABI returns the parsed ABI of a logical contract.
func ABI(name string) (abi.ABI, bool) {
	parsed, ok := parsedABIs[name]
	return parsed, ok
}
