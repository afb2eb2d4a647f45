package lending

import "math/big"

var (
	basisPoints = big.NewInt(10_000)
	// wad is the fixed-point scale of the pool price: 1e18 means one debt unit
	// per collateral unit.
	wad = mustBigInt("1000000000000000000")
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func bps(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

// scaledDebt returns debt*1e18*10000, the left-hand side of every LTV and
// threshold comparison.
func scaledDebt(debt *big.Int) *big.Int {
	out := new(big.Int).Mul(debt, wad)
	return out.Mul(out, basisPoints)
}

// collateralCapacity returns collateral*price*ratioBps.
func collateralCapacity(collateral, price *big.Int, ratioBps uint64) *big.Int {
	out := new(big.Int).Mul(collateral, price)
	return out.Mul(out, bps(ratioBps))
}

// withinLTV reports debt <= collateral*price/1e18*ltv/10000 without dividing,
// so the boundary is exact.
func withinLTV(debt, collateral, price *big.Int, ltvBps uint64) bool {
	return scaledDebt(debt).Cmp(collateralCapacity(collateral, price, ltvBps)) <= 0
}

// isUnderwater reports debt > collateral*price/1e18*threshold/10000.
func isUnderwater(debt, collateral, price *big.Int, thresholdBps uint64) bool {
	if debt.Sign() == 0 {
		return false
	}
	return scaledDebt(debt).Cmp(collateralCapacity(collateral, price, thresholdBps)) > 0
}

// maxBorrowable returns the additional debt a position can take on at ltvBps,
// truncated toward zero and floored at zero.
func maxBorrowable(debt, collateral, price *big.Int, ltvBps uint64) *big.Int {
	limit := collateralCapacity(collateral, price, ltvBps)
	limit.Quo(limit, new(big.Int).Mul(wad, basisPoints))
	limit.Sub(limit, debt)
	if limit.Sign() < 0 {
		return new(big.Int)
	}
	return limit
}

// seizeAmount converts a repayment in debt units into collateral units,
// adding the liquidation bonus: repay*(10000+bonus)*1e18/(price*10000),
// truncated toward zero and capped at the available collateral.
func seizeAmount(repay, price, collateral *big.Int, bonusBps uint64) *big.Int {
	numerator := new(big.Int).Mul(repay, new(big.Int).Add(basisPoints, bps(bonusBps)))
	numerator.Mul(numerator, wad)
	denominator := new(big.Int).Mul(price, basisPoints)
	seized := numerator.Quo(numerator, denominator)
	if seized.Cmp(collateral) > 0 {
		return new(big.Int).Set(collateral)
	}
	return seized
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
