package web3

import "testing"

func TestParseNetworks(t *testing.T) {
	doc := []byte(`
networks:
  - chain_id: 31337
    name: anvil
    rpc_urls: ["http://127.0.0.1:8545"]
  - chain_id: 11155111
    name: sepolia
    display_name: Ethereum Sepolia
    rpc_urls: ["https://ethereum-sepolia.publicnode.com"]
    contracts:
      flowENSIntegration: "0x1000000000000000000000000000000000000001"
`)
	networks, err := ParseNetworks(doc)
	if err != nil {
		t.Fatalf("parse networks: %v", err)
	}
	if len(networks) != 2 || networks[0].ChainID != ChainIDAnvil || networks[1].ChainID != ChainIDSepolia {
		t.Fatalf("expected networks sorted by chain id, got %+v", networks)
	}
	if networks[0].NativeCurrency != "ETH" {
		t.Fatalf("expected default native currency, got %q", networks[0].NativeCurrency)
	}
	sepolia, ok := Find(networks, ChainIDSepolia)
	if !ok {
		t.Fatal("expected to find sepolia")
	}
	if addr, ok := sepolia.ContractAddress("flowENSIntegration"); !ok || addr == "" {
		t.Fatal("expected ens integration address")
	}
	if _, ok := sepolia.ContractAddress("flowDAO"); ok {
		t.Fatal("unexpected address for unconfigured contract")
	}
	if networks[0].Label() != "anvil" || networks[1].Label() != "Ethereum Sepolia" {
		t.Fatalf("unexpected labels %q, %q", networks[0].Label(), networks[1].Label())
	}
}

func TestParseNetworksRejectsDuplicates(t *testing.T) {
	doc := []byte(`
networks:
  - chain_id: 1
  - chain_id: 1
`)
	if _, err := ParseNetworks(doc); err == nil {
		t.Fatal("expected duplicate chain id to fail")
	}
}

func TestLoadNetworksDefaults(t *testing.T) {
	networks, err := LoadNetworks("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if _, ok := Find(networks, ChainIDAnvil); !ok {
		t.Fatal("expected local network in defaults")
	}
}
