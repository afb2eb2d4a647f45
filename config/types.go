package config

// Asset describes one of the pool tokens.
type Asset struct {
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

// Pool holds the lending risk parameters. Ratios are basis points.
type Pool struct {
	BaseLTVBps              uint64 `toml:"BaseLTVBps"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	LiquidationBonusBps     uint64 `toml:"LiquidationBonusBps"`
	// MaxPriceAgeSeconds rejects risk checks against older prices. Zero
	// disables the check.
	MaxPriceAgeSeconds uint64 `toml:"MaxPriceAgeSeconds"`
}

// Score tunes the OCCR score curve.
type Score struct {
	MaxScoreMicro         uint64 `toml:"MaxScoreMicro"`
	MaxLTVBoostBps        uint64 `toml:"MaxLTVBoostBps"`
	BorrowCreditBps       uint64 `toml:"BorrowCreditBps"`
	RepayCreditBps        uint64 `toml:"RepayCreditBps"`
	LiquidationPenaltyBps uint64 `toml:"LiquidationPenaltyBps"`
}

// Pauses switches off the whole pool or individual flows.
type Pauses struct {
	Lending   bool `toml:"Lending"`
	Deposit   bool `toml:"Deposit"`
	Withdraw  bool `toml:"Withdraw"`
	Borrow    bool `toml:"Borrow"`
	Repay     bool `toml:"Repay"`
	Buffer    bool `toml:"Buffer"`
	Liquidate bool `toml:"Liquidate"`
}
