package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "flowagent.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"web3": {"networks_file": "networks.yaml"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dir := filepath.Dir(path)
	if cfg.Server.Address != ":8080" || cfg.Dispatch.Mode != "sync" || cfg.Queue.Driver != "memory" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Dispatch.MaxAttempts != 3 || cfg.Dispatch.RetryDelay().Seconds() != 2 {
		t.Fatalf("unexpected retry defaults %+v", cfg.Dispatch)
	}
	if !*cfg.Dispatch.BalanceCheck || !*cfg.Dispatch.AutoReads {
		t.Fatal("balance check and auto reads default to enabled")
	}
	if cfg.Web3.NetworksFile != filepath.Join(dir, "networks.yaml") {
		t.Fatalf("networks file not resolved: %s", cfg.Web3.NetworksFile)
	}
	if cfg.Runtime.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("unexpected data dir %s", cfg.Runtime.DataDir)
	}
	if cfg.Pricing.Ceiling != "1" || cfg.Pricing.Fallback != "0.01" {
		t.Fatalf("unexpected pricing %+v", cfg.Pricing)
	}
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"address": ":9000", "rate_limit": 5},
		"dispatch": {"mode": "async", "balance_check": false},
		"log": {"audit": {"enabled": true}}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9000" || cfg.Server.Burst != 10 {
		t.Fatalf("unexpected server %+v", cfg.Server)
	}
	if !cfg.Dispatch.Async() || *cfg.Dispatch.BalanceCheck {
		t.Fatalf("unexpected dispatch %+v", cfg.Dispatch)
	}
	if !strings.HasSuffix(cfg.Log.Audit.Path, "audit.log") {
		t.Fatalf("audit path not defaulted: %q", cfg.Log.Audit.Path)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := []string{
		`{"dispatch": {"mode": "later"}}`,
		`{"queue": {"driver": "kafka"}}`,
		`{"storage": {"task_store": {"driver": "mysql"}}}`,
		`{not json`,
	}
	for _, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Errorf("expected error for %s", content)
		}
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	if ResolvePath() != DefaultPath {
		t.Fatalf("expected default path")
	}
	t.Setenv(EnvConfigPath, "/etc/flowagent.json")
	if ResolvePath() != "/etc/flowagent.json" {
		t.Fatalf("expected env override")
	}
}
