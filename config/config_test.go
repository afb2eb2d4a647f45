package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testAdmin = "0x00000000000000000000000000000000000000a0"

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefaultWithAdminKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be written: %v", err)
	}
	key, err := cfg.LoadAdminKey()
	if err != nil {
		t.Fatalf("load admin key: %v", err)
	}
	if got := key.PubKey().Address().Hex(); got != cfg.Admin {
		t.Fatalf("admin %s does not match key address %s", cfg.Admin, got)
	}
	info, err := os.Stat(cfg.AdminKeyPath)
	if err != nil {
		t.Fatalf("stat key: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("admin key permissions %v", info.Mode().Perm())
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Admin != cfg.Admin || reloaded.Pool != cfg.Pool || reloaded.Score != cfg.Score {
		t.Fatalf("reloaded config differs: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadParsesSections(t *testing.T) {
	path := writeConfig(t, `DataDir = "./data"
Admin = "`+testAdmin+`"

[collateral]
Symbol = "weth"
Name = "Wrapped Ether"

[debt]
Symbol = "usdc"
Decimals = 6

[pool]
BaseLTVBps = 4000
LiquidationThresholdBps = 5000
LiquidationBonusBps = 700
MaxPriceAgeSeconds = 300

[pauses]
Borrow = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	params := cfg.LendingParams()
	if params.BaseLTVBps != 4_000 || params.LiquidationThresholdBps != 5_000 || params.LiquidationBonusBps != 700 {
		t.Fatalf("unexpected pool params %+v", params)
	}
	if params.MaxPriceAge != 5*time.Minute {
		t.Fatalf("unexpected max price age %s", params.MaxPriceAge)
	}
	if cfg.Score.MaxLTVBoostBps != 400 {
		t.Fatalf("expected default score section, got %+v", cfg.Score)
	}
	if cfg.Collateral.Decimals != 18 || cfg.Debt.Decimals != 6 {
		t.Fatalf("unexpected decimals %d/%d", cfg.Collateral.Decimals, cfg.Debt.Decimals)
	}
	pauses := cfg.PauseView()
	if !pauses.IsPaused("lending.borrow") || pauses.IsPaused("lending") || pauses.IsPaused("lending.deposit") {
		t.Fatalf("unexpected pauses %v", pauses)
	}

	opts, err := cfg.NodeOptions(nil, nil)
	if err != nil {
		t.Fatalf("node options: %v", err)
	}
	if !strings.EqualFold(opts.Admin.Hex(), testAdmin) {
		t.Fatalf("unexpected admin %s", opts.Admin.Hex())
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name     string
		contents string
		want     string
	}{
		{
			"unknown key",
			"DataDir = \"d\"\nAdmin = \"" + testAdmin + "\"\nBogus = 1\n",
			"unknown key",
		},
		{
			"bad admin",
			"DataDir = \"d\"\nAdmin = \"nope\"\n[collateral]\nSymbol = \"A\"\n[debt]\nSymbol = \"B\"\n",
			"Admin",
		},
		{
			"same assets",
			"DataDir = \"d\"\nAdmin = \"" + testAdmin + "\"\n[collateral]\nSymbol = \"usd\"\n[debt]\nSymbol = \"USD\"\n",
			"different assets",
		},
		{
			"threshold inside boosted band",
			"DataDir = \"d\"\nAdmin = \"" + testAdmin + "\"\n[collateral]\nSymbol = \"A\"\n[debt]\nSymbol = \"B\"\n[pool]\nBaseLTVBps = 5000\nLiquidationThresholdBps = 5400\n",
			"liquidation threshold",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.contents))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
