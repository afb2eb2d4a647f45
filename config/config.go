package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"occrlend/crypto"
)

type Config struct {
	DataDir string `toml:"DataDir"`
	// Admin owns identity overrides, score pool registration, price updates
	// and token minting.
	Admin        string `toml:"Admin"`
	AdminKeyPath string `toml:"AdminKeyPath"`

	Collateral Asset  `toml:"collateral"`
	Debt       Asset  `toml:"debt"`
	Pool       Pool   `toml:"pool"`
	Score      Score  `toml:"score"`
	Pauses     Pauses `toml:"pauses"`
}

// Load loads the configuration from the given path. A missing file is
// created with defaults and a freshly generated admin key.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return CreateDefault(path)
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with the reference risk policy. Admin is
// left empty.
func Default() *Config {
	cfg := &Config{
		DataDir:    "./occr-data",
		Collateral: Asset{Symbol: "ETH", Name: "Wrapped Ether", Decimals: 18},
		Debt:       Asset{Symbol: "USDC", Name: "USD Coin", Decimals: 18},
	}
	cfg.applyDefaults()
	return cfg
}

// CreateDefault writes a default configuration to path together with a new
// admin key stored next to it.
func CreateDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	cfg := Default()
	cfg.Admin = key.PubKey().Address().Hex()
	cfg.AdminKeyPath = defaultKeyPath(path)
	if err := writeKey(cfg.AdminKeyPath, key); err != nil {
		return nil, err
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAdminKey reads the admin private key referenced by AdminKeyPath.
func (c *Config) LoadAdminKey() (*crypto.PrivateKey, error) {
	if strings.TrimSpace(c.AdminKeyPath) == "" {
		return nil, fmt.Errorf("config: AdminKeyPath not set")
	}
	raw, err := os.ReadFile(c.AdminKeyPath)
	if err != nil {
		return nil, err
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("config: admin key: %w", err)
	}
	return crypto.PrivateKeyFromBytes(decoded)
}

func (c *Config) applyDefaults() {
	if c.Pool == (Pool{}) {
		c.Pool = Pool{BaseLTVBps: 5_000, LiquidationThresholdBps: 5_500, LiquidationBonusBps: 500}
	}
	if c.Score == (Score{}) {
		c.Score = Score{
			MaxScoreMicro:   1_000_000,
			MaxLTVBoostBps:  400,
			BorrowCreditBps: 100,
			RepayCreditBps:  2_000,
		}
	}
	if c.Score.MaxScoreMicro == 0 {
		c.Score.MaxScoreMicro = 1_000_000
	}
	if c.Collateral.Decimals == 0 {
		c.Collateral.Decimals = 18
	}
	if c.Debt.Decimals == 0 {
		c.Debt.Decimals = 18
	}
}

func writeKey(path string, key *crypto.PrivateKey) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(hex.EncodeToString(key.Bytes())+"\n"), 0o600)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeyPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "admin.key")
}
