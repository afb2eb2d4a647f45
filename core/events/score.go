package events

import (
	"github.com/ethereum/go-ethereum/common"

	"occrlend/core/types"
)

const TypeScoreUpdated = "occr.score.updated"

// Score update reasons.
const (
	ScoreReasonBorrow      = "borrow"
	ScoreReasonRepay       = "repay"
	ScoreReasonLiquidation = "liquidation"
)

type ScoreUpdated struct {
	Address common.Address
	Reason  string
	Before  uint64
	After   uint64
}

func (ScoreUpdated) EventType() string { return TypeScoreUpdated }

func (e ScoreUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeScoreUpdated,
		Attributes: map[string]string{
			"account": formatAddress(e.Address),
			"reason":  e.Reason,
			"before":  uintToString(e.Before),
			"after":   uintToString(e.After),
		},
	}
}
