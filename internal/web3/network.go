package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Well known chain ids.
const (
	ChainIDMainnet int64 = 1
	ChainIDSepolia int64 = 11155111
	ChainIDAnvil   int64 = 31337
)

// Network describes one supported EVM network.
type Network struct {
	ChainID        int64             `yaml:"chain_id" json:"chainId"`
	Name           string            `yaml:"name" json:"name"`
	DisplayName    string            `yaml:"display_name" json:"displayName"`
	RPCURLs        []string          `yaml:"rpc_urls" json:"rpcUrls"`
	Contracts      map[string]string `yaml:"contracts" json:"contracts,omitempty"`
	NativeCurrency string            `yaml:"native_currency" json:"nativeCurrency"`
}

// Label returns the human readable network name.
func (n Network) Label() string {
	if strings.TrimSpace(n.DisplayName) != "" {
		return n.DisplayName
	}
	if strings.TrimSpace(n.Name) != "" {
		return n.Name
	}
	return fmt.Sprintf("chain %d", n.ChainID)
}

// ContractAddress returns the configured address of a logical contract.
func (n Network) ContractAddress(name string) (string, bool) {
	addr, ok := n.Contracts[name]
	if !ok || strings.TrimSpace(addr) == "" {
		return "", false
	}
	return strings.TrimSpace(addr), true
}

// Networks models the structure of configs/networks.yaml.
type Networks struct {
	Networks []Network `yaml:"networks"`
}

// DefaultNetworks returns the built in network table used when no file is configured.
func DefaultNetworks() []Network {
	return []Network{
		{
			ChainID:        ChainIDMainnet,
			Name:           "mainnet",
			DisplayName:    "Ethereum Mainnet",
			RPCURLs:        []string{"https://ethereum-rpc.publicnode.com"},
			NativeCurrency: "ETH",
		},
		{
			ChainID:        ChainIDSepolia,
			Name:           "sepolia",
			DisplayName:    "Ethereum Sepolia",
			RPCURLs:        []string{"https://ethereum-sepolia.publicnode.com"},
			NativeCurrency: "ETH",
		},
		{
			ChainID:        ChainIDAnvil,
			Name:           "anvil",
			DisplayName:    "Local Anvil",
			RPCURLs:        []string{"http://127.0.0.1:8545"},
			NativeCurrency: "ETH",
		},
	}
}

// LoadNetworks parses the YAML network file. An empty path yields DefaultNetworks.
func LoadNetworks(path string) ([]Network, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultNetworks(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取网络配置失败: %w", err)
	}
	return ParseNetworks(content)
}

// ParseNetworks decodes and validates a YAML network document.
func ParseNetworks(content []byte) ([]Network, error) {
	var defs Networks
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return nil, fmt.Errorf("解析网络配置失败: %w", err)
	}
	if len(defs.Networks) == 0 {
		return nil, fmt.Errorf("网络配置为空")
	}

	seen := make(map[int64]struct{}, len(defs.Networks))
	for i := range defs.Networks {
		n := &defs.Networks[i]
		if n.ChainID <= 0 {
			return nil, fmt.Errorf("网络 %q 缺少有效的 chain_id", n.Name)
		}
		if _, dup := seen[n.ChainID]; dup {
			return nil, fmt.Errorf("网络 chain_id %d 重复", n.ChainID)
		}
		seen[n.ChainID] = struct{}{}
		if n.NativeCurrency == "" {
			n.NativeCurrency = "ETH"
		}
		if n.Contracts == nil {
			n.Contracts = map[string]string{}
		}
	}
	sort.Slice(defs.Networks, func(i, j int) bool { return defs.Networks[i].ChainID < defs.Networks[j].ChainID })
	return defs.Networks, nil
}

// Find returns the network with the given chain id.
func Find(networks []Network, chainID int64) (Network, bool) {
	for _, n := range networks {
		if n.ChainID == chainID {
			return n, true
		}
	}
	return Network{}, false
}
