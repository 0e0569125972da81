package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BatchSize != 100 || cfg.PollInterval != 5*time.Second || cfg.SweepInterval != 2*time.Minute {
		t.Fatalf("unexpected indexer defaults %+v", cfg)
	}
	if cfg.Settlement.SafetyBuffer != 30*time.Second || cfg.Settlement.Interval != time.Minute || cfg.Settlement.Enabled {
		t.Fatalf("unexpected settlement defaults %+v", cfg.Settlement)
	}
	if cfg.Signer.GasLimit != 1000000 || cfg.Signer.FeeAmount != "200000" || cfg.Signer.FeeDenom != "utestcore" {
		t.Fatalf("unexpected fee defaults %+v", cfg.Signer)
	}
	if cfg.Beacon.URL != "https://api.drand.sh" || cfg.Beacon.Timeout != 10*time.Second {
		t.Fatalf("unexpected beacon defaults %+v", cfg.Beacon)
	}
	if cfg.Chain.RPCTimeout != 10*time.Second || cfg.Store.Kind != StorePostgres || cfg.Listen != ":3000" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Signer.Enabled() {
		t.Fatalf("signer should be disabled without a key")
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error without rpc and contract")
	}
}

func TestLoadEnvAndFlags(t *testing.T) {
	t.Setenv("RAFFLE_BATCH_SIZE", "25")
	t.Setenv("RAFFLE_SETTLEMENT_ENABLED", "true")
	t.Setenv("RAFFLE_RPC", "http://env:26657")

	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.String("contract", "", "")
	flags.String("store", "postgres", "")
	if err := flags.Parse([]string{"--rpc", "http://flag:26657", "--contract", "testcore1abc", "--store", "memory"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chain.RPCURL != "http://flag:26657" {
		t.Fatalf("flag should win over env, got %s", cfg.Chain.RPCURL)
	}
	if cfg.BatchSize != 25 || !cfg.Settlement.Enabled {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raffle.yaml")
	body := "rpc: http://file:26657\ncontract: testcore1xyz\nsafety-buffer: 45s\nstore: memory\nprivate-key: abcd\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadSettle(path, nil)
	if err != nil {
		t.Fatalf("load settle: %v", err)
	}
	if cfg.Chain.RPCURL != "http://file:26657" || cfg.Settlement.SafetyBuffer != 45*time.Second {
		t.Fatalf("config file not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid settle config: %v", err)
	}
}

func TestReprocessValidate(t *testing.T) {
	cfg := ReprocessConfig{
		Chain: ChainConfig{RPCURL: "http://x", Contract: "c"},
		Store: StoreConfig{Kind: StoreMemory},
		From:  10,
		To:    5,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected inverted range to fail")
	}
	cfg.To = 20
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid range: %v", err)
	}
	cfg.Store = StoreConfig{Kind: StorePostgres}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing dsn to fail")
	}
}
