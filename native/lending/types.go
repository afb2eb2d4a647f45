package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Position is a borrower's account inside the pool. All fields are
// non-negative and stay within the uint256 domain.
type Position struct {
	Collateral *big.Int
	Debt       *big.Int
	Buffer     *big.Int
}

func newPosition() *Position {
	return &Position{Collateral: new(big.Int), Debt: new(big.Int), Buffer: new(big.Int)}
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	if p == nil {
		return newPosition()
	}
	return &Position{
		Collateral: cloneBig(p.Collateral),
		Debt:       cloneBig(p.Debt),
		Buffer:     cloneBig(p.Buffer),
	}
}

// IsEmpty reports whether the position holds nothing.
func (p *Position) IsEmpty() bool {
	return p.Collateral.Sign() == 0 && p.Debt.Sign() == 0 && p.Buffer.Sign() == 0
}

// Market aggregates every position so pool liquidity can be reconciled with
// the vault's token balances.
type Market struct {
	TotalCollateral *big.Int
	TotalDebt       *big.Int
	TotalBuffer     *big.Int
}

func newMarket() *Market {
	return &Market{TotalCollateral: new(big.Int), TotalDebt: new(big.Int), TotalBuffer: new(big.Int)}
}

// PriceRecord is the pool-wide collateral price in debt units scaled by 1e18.
type PriceRecord struct {
	Price     *big.Int
	UpdatedAt uint64
	UpdatedBy common.Address
}

// Account bundles a position with the borrower's derived risk figures.
type Account struct {
	Address       common.Address
	Position      *Position
	ScoreMicro    uint64
	MaxLTVBps     uint64
	MaxBorrowable *big.Int
	Underwater    bool
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
