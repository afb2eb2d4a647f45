package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"occrlend/core/events"
	nativecommon "occrlend/native/common"
)

var (
	errNilState  = errors.New("lending engine: state not configured")
	errNilAssets = errors.New("lending engine: assets not configured")

	errNoDebt            = fmt.Errorf("%w: no outstanding debt", nativecommon.ErrInvalidAmount)
	errRepayExceedsDebt  = fmt.Errorf("%w: repayment exceeds outstanding debt", nativecommon.ErrInvalidAmount)
	errCollateralShort   = fmt.Errorf("%w: collateral", nativecommon.ErrInsufficientBalance)
	errBufferShort       = fmt.Errorf("%w: buffer", nativecommon.ErrInsufficientBalance)
	errLiquidityShort    = fmt.Errorf("%w: pool liquidity", nativecommon.ErrInsufficientBalance)
	errPriceMissing      = fmt.Errorf("%w: price not set", nativecommon.ErrStaleOrInvalidPrice)
	errPriceStale        = fmt.Errorf("%w: price older than max age", nativecommon.ErrStaleOrInvalidPrice)
	errRefsNotConfigured = fmt.Errorf("%w: score and identity references", nativecommon.ErrNotConfigured)
)

const moduleName = "lending"

// Pause actions checked in addition to the module-wide flag.
const (
	ActionDeposit   = "deposit"
	ActionWithdraw  = "withdraw"
	ActionBorrow    = "borrow"
	ActionRepay     = "repay"
	ActionBuffer    = "buffer"
	ActionLiquidate = "liquidate"
)

var (
	marketKey     = []byte("lending/market")
	priceKey      = []byte("lending/price")
	positionIndex = []byte("lending/positions")
)

func positionKey(addr common.Address) []byte {
	return append([]byte("lending/position/"), addr.Bytes()...)
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// AssetLedger is the fungible token collaborator that custodies collateral and
// debt funds.
type AssetLedger interface {
	BalanceOf(addr common.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error
}

// ScoreKeeper supplies the score-boosted LTV ceiling and receives credit
// events. Record* calls are authorised against the pool address.
type ScoreKeeper interface {
	ScoreMicro(addr common.Address) (uint64, error)
	MaxLTVBps(addr common.Address, baseLTVBps uint64) (uint64, error)
	RecordBorrow(caller, user common.Address, amount *big.Int) error
	RecordRepay(caller, user common.Address, repaid, debtBefore *big.Int) error
	RecordLiquidation(caller, user common.Address, repaid *big.Int) error
}

// IdentityGate reports whether an address may borrow.
type IdentityGate interface {
	IsVerified(addr common.Address) (bool, error)
}

// Engine is the collateralized lending pool. Every mutating method validates
// all preconditions before touching state. Callers that need atomicity across
// collaborator failures run each call inside a state journal.
type Engine struct {
	state      engineState
	address    common.Address
	admin      common.Address
	params     Params
	collateral AssetLedger
	debt       AssetLedger
	score      ScoreKeeper
	identity   IdentityGate
	pauses     nativecommon.PauseView
	nowFn      func() time.Time
	emitter    events.Emitter
}

// NewEngine constructs a pool that custodies funds at address. admin may set
// prices and wire the collaborator references.
func NewEngine(address, admin common.Address, params Params) *Engine {
	return &Engine{
		address: address,
		admin:   admin,
		params:  params,
		nowFn:   time.Now,
		emitter: events.NoopEmitter{},
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAssets configures the collateral and debt token ledgers.
func (e *Engine) SetAssets(collateral, debt AssetLedger) {
	e.collateral = collateral
	e.debt = debt
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
}

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetRefs wires the score keeper and identity gate. It can be called once, by
// the admin; later calls fail with ErrAlreadyConfigured.
func (e *Engine) SetRefs(caller common.Address, score ScoreKeeper, identity IdentityGate) error {
	if caller != e.admin {
		return fmt.Errorf("%w: pool admin required", nativecommon.ErrUnauthorized)
	}
	if score == nil || identity == nil {
		return fmt.Errorf("%w: score and identity references required", nativecommon.ErrInvalidAmount)
	}
	if e.score != nil || e.identity != nil {
		return fmt.Errorf("%w: pool references", nativecommon.ErrAlreadyConfigured)
	}
	e.score = score
	e.identity = identity
	return nil
}

func (e *Engine) Address() common.Address { return e.address }

func (e *Engine) Admin() common.Address { return e.admin }

func (e *Engine) Params() Params { return e.params }

// BaseLTVBps returns the borrow ceiling applied to a zero score.
func (e *Engine) BaseLTVBps() uint64 { return e.params.BaseLTVBps }

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.collateral == nil || e.debt == nil {
		return errNilAssets
	}
	return nil
}

func (e *Engine) guard(action string) error {
	if err := e.ready(); err != nil {
		return err
	}
	return nativecommon.GuardAction(e.pauses, moduleName, action)
}

func (e *Engine) loadPosition(addr common.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pos := newPosition()
	if _, err := e.state.KVGet(positionKey(addr), pos); err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

func (e *Engine) storePosition(addr common.Address, pos *Position) error {
	for _, v := range []*big.Int{pos.Collateral, pos.Debt, pos.Buffer} {
		if v.Sign() < 0 {
			return fmt.Errorf("lending engine: negative position balance for %s", addr.Hex())
		}
	}
	if err := e.state.KVPut(positionKey(addr), pos); err != nil {
		return err
	}
	return e.state.KVAppend(positionIndex, addr.Bytes())
}

func (e *Engine) loadMarket() (*Market, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	market := newMarket()
	if _, err := e.state.KVGet(marketKey, market); err != nil {
		return nil, err
	}
	if market.TotalCollateral == nil {
		market.TotalCollateral = new(big.Int)
	}
	if market.TotalDebt == nil {
		market.TotalDebt = new(big.Int)
	}
	if market.TotalBuffer == nil {
		market.TotalBuffer = new(big.Int)
	}
	return market, nil
}

// Market returns the pool totals.
func (e *Engine) Market() (*Market, error) { return e.loadMarket() }

// Price returns the stored price record without checking its age.
func (e *Engine) Price() (*PriceRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	rec := &PriceRecord{Price: new(big.Int)}
	if _, err := e.state.KVGet(priceKey, rec); err != nil {
		return nil, err
	}
	if rec.Price == nil {
		rec.Price = new(big.Int)
	}
	return rec, nil
}

// currentPrice returns a price usable for risk checks.
func (e *Engine) currentPrice() (*big.Int, error) {
	rec, err := e.Price()
	if err != nil {
		return nil, err
	}
	if rec.Price.Sign() <= 0 {
		return nil, errPriceMissing
	}
	if e.params.MaxPriceAge > 0 {
		age := e.nowFn().Sub(time.Unix(int64(rec.UpdatedAt), 0))
		if age > e.params.MaxPriceAge {
			return nil, errPriceStale
		}
	}
	return rec.Price, nil
}

// PriceAtOrBelow reports whether the current price is at most threshold.
// A missing or stale price is an error rather than a false result.
func (e *Engine) PriceAtOrBelow(threshold *big.Int) (bool, *big.Int, error) {
	return e.comparePrice(threshold, func(cmp int) bool { return cmp <= 0 })
}

// PriceAtOrAbove reports whether the current price is at least threshold.
func (e *Engine) PriceAtOrAbove(threshold *big.Int) (bool, *big.Int, error) {
	return e.comparePrice(threshold, func(cmp int) bool { return cmp >= 0 })
}

func (e *Engine) comparePrice(threshold *big.Int, holds func(int) bool) (bool, *big.Int, error) {
	if err := nativecommon.PositiveAmount(threshold); err != nil {
		return false, nil, err
	}
	price, err := e.currentPrice()
	if err != nil {
		return false, nil, err
	}
	return holds(price.Cmp(threshold)), new(big.Int).Set(price), nil
}

// SetPrice replaces the pool-wide price. Only subsequent checks observe it.
func (e *Engine) SetPrice(ctx context.Context, caller common.Address, price *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.admin {
		return fmt.Errorf("%w: price updates require the pool admin", nativecommon.ErrUnauthorized)
	}
	if err := nativecommon.PositiveAmount(price); err != nil {
		return fmt.Errorf("%w: %v", nativecommon.ErrStaleOrInvalidPrice, err)
	}
	now := e.nowFn().Unix()
	rec := &PriceRecord{Price: new(big.Int).Set(price), UpdatedAt: uint64(now), UpdatedBy: caller}
	if err := e.state.KVPut(priceKey, rec); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingPriceUpdated{Caller: caller, Price: new(big.Int).Set(price), UpdatedAt: now})
	return nil
}

func (e *Engine) maxLTVFor(addr common.Address) (uint64, error) {
	if e.score == nil {
		return 0, errRefsNotConfigured
	}
	return e.score.MaxLTVBps(addr, e.params.BaseLTVBps)
}

// Deposit moves amount of collateral from caller into the pool.
func (e *Engine) Deposit(ctx context.Context, caller common.Address, amount *big.Int) error {
	if err := e.guard(ActionDeposit); err != nil {
		return err
	}
	if err := nativecommon.PositiveAmount(amount); err != nil {
		return err
	}
	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	market, err := e.loadMarket()
	if err != nil {
		return err
	}
	pos.Collateral.Add(pos.Collateral, amount)
	market.TotalCollateral.Add(market.TotalCollateral, amount)
	if err := nativecommon.PositiveAmount(pos.Collateral); err != nil {
		return err
	}

	if err := e.collateral.TransferFrom(ctx, e.address, caller, e.address, amount); err != nil {
		return err
	}
	if err := e.storePosition(caller, pos); err != nil {
		return err
	}
	if err := e.state.KVPut(marketKey, market); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingCollateral{User: caller, Amount: new(big.Int).Set(amount), Collateral: cloneBig(pos.Collateral)})
	return nil
}

// Withdraw returns collateral to caller as long as the remaining collateral
// still covers the outstanding debt at the caller's max LTV.
func (e *Engine) Withdraw(ctx context.Context, caller common.Address, amount *big.Int) error {
	if err := e.guard(ActionWithdraw); err != nil {
		return err
	}
	if err := nativecommon.PositiveAmount(amount); err != nil {
		return err
	}
	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	if pos.Collateral.Cmp(amount) < 0 {
		return errCollateralShort
	}
	remaining := new(big.Int).Sub(pos.Collateral, amount)
	if pos.Debt.Sign() > 0 {
		price, err := e.currentPrice()
		if err != nil {
			return err
		}
		maxLTV, err := e.maxLTVFor(caller)
		if err != nil {
			return err
		}
		if !withinLTV(pos.Debt, remaining, price, maxLTV) {
			return fmt.Errorf("%w: withdrawal would leave debt %s uncovered", nativecommon.ErrExceedsLTV, pos.Debt)
		}
	}
	market, err := e.loadMarket()
	if err != nil {
		return err
	}
	pos.Collateral = remaining
	market.TotalCollateral.Sub(market.TotalCollateral, amount)

	if err := e.storePosition(caller, pos); err != nil {
		return err
	}
	if err := e.state.KVPut(marketKey, market); err != nil {
		return err
	}
	if err := e.collateral.Transfer(ctx, e.address, caller, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingCollateral{Withdraw: true, User: caller, Amount: new(big.Int).Set(amount), Collateral: cloneBig(pos.Collateral)})
	return nil
}

// availableLiquidity is the debt-asset balance of the pool not earmarked as
// borrower buffers.
func (e *Engine) availableLiquidity(market *Market) (*big.Int, error) {
	balance, err := e.debt.BalanceOf(e.address)
	if err != nil {
		return nil, err
	}
	free := new(big.Int).Sub(balance, market.TotalBuffer)
	if free.Sign() < 0 {
		free.SetInt64(0)
	}
	return free, nil
}

// AvailableLiquidity reports how much of the debt asset can still be lent.
func (e *Engine) AvailableLiquidity() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	market, err := e.loadMarket()
	if err != nil {
		return nil, err
	}
	return e.availableLiquidity(market)
}

// Borrow transfers amount of the debt asset to a verified caller if the new
// debt stays within collateral*price*maxLTV. The boundary is inclusive.
func (e *Engine) Borrow(ctx context.Context, caller common.Address, amount *big.Int) error {
	if err := e.guard(ActionBorrow); err != nil {
		return err
	}
	if err := nativecommon.PositiveAmount(amount); err != nil {
		return err
	}
	if e.score == nil || e.identity == nil {
		return errRefsNotConfigured
	}
	verified, err := e.identity.IsVerified(caller)
	if err != nil {
		return err
	}
	if !verified {
		return fmt.Errorf("%w: %s", nativecommon.ErrIdentityNotVerified, caller.Hex())
	}
	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	price, err := e.currentPrice()
	if err != nil {
		return err
	}
	maxLTV, err := e.maxLTVFor(caller)
	if err != nil {
		return err
	}
	newDebt := new(big.Int).Add(pos.Debt, amount)
	if !withinLTV(newDebt, pos.Collateral, price, maxLTV) {
		return fmt.Errorf("%w: debt %s over %d bps of collateral value", nativecommon.ErrExceedsLTV, newDebt, maxLTV)
	}
	market, err := e.loadMarket()
	if err != nil {
		return err
	}
	free, err := e.availableLiquidity(market)
	if err != nil {
		return err
	}
	if free.Cmp(amount) < 0 {
		return errLiquidityShort
	}

	pos.Debt = newDebt
	market.TotalDebt.Add(market.TotalDebt, amount)
	if err := e.storePosition(caller, pos); err != nil {
		return err
	}
	if err := e.state.KVPut(marketKey, market); err != nil {
		return err
	}
	if err := e.debt.Transfer(ctx, e.address, caller, amount); err != nil {
		return err
	}
	if err := e.score.RecordBorrow(e.address, caller, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingBorrow{User: caller, Amount: new(big.Int).Set(amount), Debt: cloneBig(pos.Debt), MaxLTVBps: maxLTV})
	return nil
}

// Repay reduces the caller's debt. Amounts above the outstanding debt are
// clamped; only the applied amount is pulled from the caller.
func (e *Engine) Repay(ctx context.Context, caller common.Address, amount *big.Int) (*big.Int, error) {
	return e.repay(ctx, caller, caller, amount, events.RepaySourceWallet)
}

// RepayOnBehalf lets caller pay down borrower's debt. The payer does not need
// to be verified; the score credit goes to the borrower.
func (e *Engine) RepayOnBehalf(ctx context.Context, caller, borrower common.Address, amount *big.Int) (*big.Int, error) {
	return e.repay(ctx, caller, borrower, amount, events.RepaySourceOnBehalf)
}

func (e *Engine) repay(ctx context.Context, payer, borrower common.Address, amount *big.Int, source string) (*big.Int, error) {
	if err := e.guard(ActionRepay); err != nil {
		return nil, err
	}
	if err := nativecommon.PositiveAmount(amount); err != nil {
		return nil, err
	}
	if e.score == nil {
		return nil, errRefsNotConfigured
	}
	pos, err := e.loadPosition(borrower)
	if err != nil {
		return nil, err
	}
	if pos.Debt.Sign() == 0 {
		return nil, errNoDebt
	}
	market, err := e.loadMarket()
	if err != nil {
		return nil, err
	}
	applied := minBig(amount, pos.Debt)
	debtBefore := cloneBig(pos.Debt)

	if err := e.debt.TransferFrom(ctx, e.address, payer, e.address, applied); err != nil {
		return nil, err
	}
	pos.Debt.Sub(pos.Debt, applied)
	market.TotalDebt.Sub(market.TotalDebt, applied)
	if err := e.storePosition(borrower, pos); err != nil {
		return nil, err
	}
	if err := e.state.KVPut(marketKey, market); err != nil {
		return nil, err
	}
	if err := e.score.RecordRepay(e.address, borrower, applied, debtBefore); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.LendingRepay{Payer: payer, Borrower: borrower, Amount: cloneBig(applied), Debt: cloneBig(pos.Debt), Source: source})
	return applied, nil
}

// DepositBuffer moves debt-asset funds from caller into their buffer.
func (e *Engine) DepositBuffer(ctx context.Context, caller common.Address, amount *big.Int) error {
	if err := e.guard(ActionBuffer); err != nil {
		return err
	}
	if err := nativecommon.PositiveAmount(amount); err != nil {
		return err
	}
	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	market, err := e.loadMarket()
	if err != nil {
		return err
	}
	pos.Buffer.Add(pos.Buffer, amount)
	market.TotalBuffer.Add(market.TotalBuffer, amount)
	if err := nativecommon.PositiveAmount(pos.Buffer); err != nil {
		return err
	}

	if err := e.debt.TransferFrom(ctx, e.address, caller, e.address, amount); err != nil {
		return err
	}
	if err := e.storePosition(caller, pos); err != nil {
		return err
	}
	if err := e.state.KVPut(marketKey, market); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingBuffer{User: caller, Amount: new(big.Int).Set(amount), Buffer: cloneBig(pos.Buffer)})
	return nil
}

// WithdrawBuffer returns buffered funds to caller. Debt is unaffected.
func (e *Engine) WithdrawBuffer(ctx context.Context, caller common.Address, amount *big.Int) error {
	if err := e.guard(ActionBuffer); err != nil {
		return err
	}
	if err := nativecommon.PositiveAmount(amount); err != nil {
		return err
	}
	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	if pos.Buffer.Cmp(amount) < 0 {
		return errBufferShort
	}
	market, err := e.loadMarket()
	if err != nil {
		return err
	}
	pos.Buffer.Sub(pos.Buffer, amount)
	market.TotalBuffer.Sub(market.TotalBuffer, amount)

	if err := e.storePosition(caller, pos); err != nil {
		return err
	}
	if err := e.state.KVPut(marketKey, market); err != nil {
		return err
	}
	if err := e.debt.Transfer(ctx, e.address, caller, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingBuffer{Withdraw: true, User: caller, Amount: new(big.Int).Set(amount), Buffer: cloneBig(pos.Buffer)})
	return nil
}

// RepayFromBuffer applies amount of the caller's buffer to their debt. No
// tokens move; the funds are already held by the pool.
func (e *Engine) RepayFromBuffer(ctx context.Context, caller common.Address, amount *big.Int) error {
	if err := e.guard(ActionRepay); err != nil {
		return err
	}
	if err := nativecommon.PositiveAmount(amount); err != nil {
		return err
	}
	pos, err := e.loadPosition(caller)
	if err != nil {
		return err
	}
	if pos.Buffer.Cmp(amount) < 0 {
		return errBufferShort
	}
	if pos.Debt.Cmp(amount) < 0 {
		return errRepayExceedsDebt
	}
	return e.applyBuffer(caller, caller, pos, amount, events.RepaySourceBuffer)
}

// ProtectWithBuffer lets any keeper apply an underwater borrower's buffer to
// their debt, up to the smaller of the two balances.
func (e *Engine) ProtectWithBuffer(ctx context.Context, caller, borrower common.Address) (*big.Int, error) {
	if err := e.guard(ActionRepay); err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(borrower)
	if err != nil {
		return nil, err
	}
	price, err := e.currentPrice()
	if err != nil {
		return nil, err
	}
	if !isUnderwater(pos.Debt, pos.Collateral, price, e.params.LiquidationThresholdBps) {
		return nil, nativecommon.ErrNotUnderwater
	}
	applied := minBig(pos.Buffer, pos.Debt)
	if applied.Sign() == 0 {
		return nil, fmt.Errorf("%w: borrower has no buffer", nativecommon.ErrInvalidAmount)
	}
	if err := e.applyBuffer(caller, borrower, pos, applied, events.RepaySourceProtect); err != nil {
		return nil, err
	}
	return applied, nil
}

func (e *Engine) applyBuffer(caller, borrower common.Address, pos *Position, amount *big.Int, source string) error {
	if e.score == nil {
		return errRefsNotConfigured
	}
	market, err := e.loadMarket()
	if err != nil {
		return err
	}
	debtBefore := cloneBig(pos.Debt)
	pos.Buffer.Sub(pos.Buffer, amount)
	pos.Debt.Sub(pos.Debt, amount)
	market.TotalBuffer.Sub(market.TotalBuffer, amount)
	market.TotalDebt.Sub(market.TotalDebt, amount)
	if err := e.storePosition(borrower, pos); err != nil {
		return err
	}
	if err := e.state.KVPut(marketKey, market); err != nil {
		return err
	}
	if err := e.score.RecordRepay(e.address, borrower, amount, debtBefore); err != nil {
		return err
	}
	e.emitter.Emit(events.LendingRepay{Payer: caller, Borrower: borrower, Amount: cloneBig(amount), Debt: cloneBig(pos.Debt), Source: source})
	return nil
}

// Liquidate repays repayAmount of an underwater borrower's debt with the
// caller's funds and transfers the equivalent collateral plus the liquidation
// bonus to the caller. The seized amount is returned.
func (e *Engine) Liquidate(ctx context.Context, caller, borrower common.Address, repayAmount *big.Int) (*big.Int, error) {
	if err := e.guard(ActionLiquidate); err != nil {
		return nil, err
	}
	if err := nativecommon.PositiveAmount(repayAmount); err != nil {
		return nil, err
	}
	if e.score == nil {
		return nil, errRefsNotConfigured
	}
	pos, err := e.loadPosition(borrower)
	if err != nil {
		return nil, err
	}
	price, err := e.currentPrice()
	if err != nil {
		return nil, err
	}
	if !isUnderwater(pos.Debt, pos.Collateral, price, e.params.LiquidationThresholdBps) {
		return nil, nativecommon.ErrNotUnderwater
	}
	if repayAmount.Cmp(pos.Debt) > 0 {
		return nil, errRepayExceedsDebt
	}
	market, err := e.loadMarket()
	if err != nil {
		return nil, err
	}
	seized := seizeAmount(repayAmount, price, pos.Collateral, e.params.LiquidationBonusBps)

	if err := e.debt.TransferFrom(ctx, e.address, caller, e.address, repayAmount); err != nil {
		return nil, err
	}
	pos.Debt.Sub(pos.Debt, repayAmount)
	pos.Collateral.Sub(pos.Collateral, seized)
	market.TotalDebt.Sub(market.TotalDebt, repayAmount)
	market.TotalCollateral.Sub(market.TotalCollateral, seized)
	if err := e.storePosition(borrower, pos); err != nil {
		return nil, err
	}
	if err := e.state.KVPut(marketKey, market); err != nil {
		return nil, err
	}
	if seized.Sign() > 0 {
		if err := e.collateral.Transfer(ctx, e.address, caller, seized); err != nil {
			return nil, err
		}
	}
	if err := e.score.RecordLiquidation(e.address, borrower, repayAmount); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.LendingLiquidation{
		Liquidator: caller,
		Borrower:   borrower,
		Repaid:     new(big.Int).Set(repayAmount),
		Seized:     cloneBig(seized),
		Debt:       cloneBig(pos.Debt),
		Collateral: cloneBig(pos.Collateral),
	})
	return seized, nil
}

// IsUnderwater reports whether debt exceeds collateral value at the
// liquidation threshold. Positions without debt are never underwater.
func (e *Engine) IsUnderwater(user common.Address) (bool, error) {
	pos, err := e.loadPosition(user)
	if err != nil {
		return false, err
	}
	if pos.Debt.Sign() == 0 {
		return false, nil
	}
	price, err := e.currentPrice()
	if err != nil {
		return false, err
	}
	return isUnderwater(pos.Debt, pos.Collateral, price, e.params.LiquidationThresholdBps), nil
}

// GetUserPositions returns (collateral, debt, buffer) for user.
func (e *Engine) GetUserPositions(user common.Address) (*Position, error) {
	return e.loadPosition(user)
}

func (e *Engine) CollateralBalance(user common.Address) (*big.Int, error) {
	pos, err := e.loadPosition(user)
	if err != nil {
		return nil, err
	}
	return pos.Collateral, nil
}

func (e *Engine) DebtBalance(user common.Address) (*big.Int, error) {
	pos, err := e.loadPosition(user)
	if err != nil {
		return nil, err
	}
	return pos.Debt, nil
}

func (e *Engine) BufferBalance(user common.Address) (*big.Int, error) {
	pos, err := e.loadPosition(user)
	if err != nil {
		return nil, err
	}
	return pos.Buffer, nil
}

// MaxBorrowable returns how much more user could borrow right now, ignoring
// pool liquidity and identity gating.
func (e *Engine) MaxBorrowable(user common.Address) (*big.Int, error) {
	pos, err := e.loadPosition(user)
	if err != nil {
		return nil, err
	}
	price, err := e.currentPrice()
	if err != nil {
		return nil, err
	}
	maxLTV, err := e.maxLTVFor(user)
	if err != nil {
		return nil, err
	}
	return maxBorrowable(pos.Debt, pos.Collateral, price, maxLTV), nil
}

// AccountOf assembles the position and derived risk figures for user. When
// no valid price is available MaxBorrowable is zero and Underwater false.
func (e *Engine) AccountOf(user common.Address) (*Account, error) {
	pos, err := e.loadPosition(user)
	if err != nil {
		return nil, err
	}
	if e.score == nil {
		return nil, errRefsNotConfigured
	}
	score, err := e.score.ScoreMicro(user)
	if err != nil {
		return nil, err
	}
	maxLTV, err := e.maxLTVFor(user)
	if err != nil {
		return nil, err
	}
	acct := &Account{
		Address:       user,
		Position:      pos,
		ScoreMicro:    score,
		MaxLTVBps:     maxLTV,
		MaxBorrowable: new(big.Int),
	}
	price, err := e.currentPrice()
	switch {
	case errors.Is(err, nativecommon.ErrStaleOrInvalidPrice):
		return acct, nil
	case err != nil:
		return nil, err
	}
	acct.MaxBorrowable = maxBorrowable(pos.Debt, pos.Collateral, price, maxLTV)
	acct.Underwater = isUnderwater(pos.Debt, pos.Collateral, price, e.params.LiquidationThresholdBps)
	return acct, nil
}

// Borrowers lists every address that ever held a position, in first-seen
// order.
func (e *Engine) Borrowers() ([]common.Address, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var raw [][]byte
	if err := e.state.KVGetList(positionIndex, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(raw))
	for _, b := range raw {
		out = append(out, common.BytesToAddress(b))
	}
	return out, nil
}
