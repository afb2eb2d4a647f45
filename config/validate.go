package config

import (
	"fmt"
	"strings"

	"occrlend/crypto"
)

// Validate checks the configuration without touching the filesystem.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil config")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if _, err := crypto.ParseAddress(c.Admin); err != nil {
		return fmt.Errorf("config: Admin: %w", err)
	}
	col := strings.ToUpper(strings.TrimSpace(c.Collateral.Symbol))
	debt := strings.ToUpper(strings.TrimSpace(c.Debt.Symbol))
	if col == "" || debt == "" {
		return fmt.Errorf("config: collateral and debt symbols required")
	}
	if col == debt {
		return fmt.Errorf("config: collateral and debt must be different assets")
	}
	score := c.ScoreParams()
	if err := score.Validate(); err != nil {
		return fmt.Errorf("config: score: %w", err)
	}
	if err := c.LendingParams().Validate(score.MaxLTVBoostBps); err != nil {
		return fmt.Errorf("config: pool: %w", err)
	}
	return nil
}
