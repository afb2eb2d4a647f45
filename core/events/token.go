package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"occrlend/core/types"
)

const TypeTokenMinted = "token.minted"

type TokenMinted struct {
	Asset  string
	To     common.Address
	Amount *big.Int
}

func (TokenMinted) EventType() string { return TypeTokenMinted }

func (e TokenMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenMinted,
		Attributes: map[string]string{
			"account": formatAddress(e.To),
			"asset":   normalizeAsset(e.Asset),
			"amount":  formatAmount(e.Amount),
		},
	}
}
