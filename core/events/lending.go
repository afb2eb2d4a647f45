package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"occrlend/core/types"
)

const (
	TypeLendingDeposit        = "lending.deposit"
	TypeLendingWithdraw       = "lending.withdraw"
	TypeLendingBorrow         = "lending.borrow"
	TypeLendingRepay          = "lending.repay"
	TypeLendingBufferDeposit  = "lending.buffer.deposit"
	TypeLendingBufferWithdraw = "lending.buffer.withdraw"
	TypeLendingLiquidation    = "lending.liquidation"
	TypeLendingPriceUpdated   = "lending.price.updated"
)

// Repayment sources recorded on LendingRepay.
const (
	RepaySourceWallet   = "wallet"
	RepaySourceOnBehalf = "on_behalf"
	RepaySourceBuffer   = "buffer"
	RepaySourceProtect  = "buffer_protection"
)

// LendingCollateral covers collateral deposits and withdrawals.
type LendingCollateral struct {
	Withdraw   bool
	User       common.Address
	Amount     *big.Int
	Collateral *big.Int
}

func (e LendingCollateral) EventType() string {
	if e.Withdraw {
		return TypeLendingWithdraw
	}
	return TypeLendingDeposit
}

func (e LendingCollateral) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"account":    formatAddress(e.User),
			"amount":     formatAmount(e.Amount),
			"collateral": formatAmount(e.Collateral),
		},
	}
}

type LendingBorrow struct {
	User      common.Address
	Amount    *big.Int
	Debt      *big.Int
	MaxLTVBps uint64
}

func (LendingBorrow) EventType() string { return TypeLendingBorrow }

func (e LendingBorrow) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingBorrow,
		Attributes: map[string]string{
			"account":   formatAddress(e.User),
			"amount":    formatAmount(e.Amount),
			"debt":      formatAmount(e.Debt),
			"maxLtvBps": uintToString(e.MaxLTVBps),
		},
	}
}

// LendingRepay is emitted for every debt reduction that is not a liquidation.
type LendingRepay struct {
	Payer    common.Address
	Borrower common.Address
	Amount   *big.Int
	Debt     *big.Int
	Source   string
}

func (LendingRepay) EventType() string { return TypeLendingRepay }

func (e LendingRepay) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingRepay,
		Attributes: map[string]string{
			"account": formatAddress(e.Borrower),
			"payer":   formatAddress(e.Payer),
			"amount":  formatAmount(e.Amount),
			"debt":    formatAmount(e.Debt),
			"source":  e.Source,
		},
	}
}

type LendingBuffer struct {
	Withdraw bool
	User     common.Address
	Amount   *big.Int
	Buffer   *big.Int
}

func (e LendingBuffer) EventType() string {
	if e.Withdraw {
		return TypeLendingBufferWithdraw
	}
	return TypeLendingBufferDeposit
}

func (e LendingBuffer) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"account": formatAddress(e.User),
			"amount":  formatAmount(e.Amount),
			"buffer":  formatAmount(e.Buffer),
		},
	}
}

type LendingLiquidation struct {
	Liquidator common.Address
	Borrower   common.Address
	Repaid     *big.Int
	Seized     *big.Int
	Debt       *big.Int
	Collateral *big.Int
}

func (LendingLiquidation) EventType() string { return TypeLendingLiquidation }

func (e LendingLiquidation) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingLiquidation,
		Attributes: map[string]string{
			"account":    formatAddress(e.Borrower),
			"liquidator": formatAddress(e.Liquidator),
			"repaid":     formatAmount(e.Repaid),
			"seized":     formatAmount(e.Seized),
			"debt":       formatAmount(e.Debt),
			"collateral": formatAmount(e.Collateral),
		},
	}
}

type LendingPriceUpdated struct {
	Caller    common.Address
	Price     *big.Int
	UpdatedAt int64
}

func (LendingPriceUpdated) EventType() string { return TypeLendingPriceUpdated }

func (e LendingPriceUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingPriceUpdated,
		Attributes: map[string]string{
			"account":   formatAddress(e.Caller),
			"price":     formatAmount(e.Price),
			"updatedAt": intToString(e.UpdatedAt),
		},
	}
}
