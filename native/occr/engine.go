package occr

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"occrlend/core/events"
	nativecommon "occrlend/native/common"
)

var (
	errNilState = errors.New("occr: state not configured")
	poolKey     = []byte("occr/pool")
)

// Record is the per-address reputation state. It is created lazily with a
// zero score.
type Record struct {
	ScoreMicro    uint64
	Borrows       uint64
	Repayments    uint64
	Liquidations  uint64
	TotalBorrowed *big.Int
	TotalRepaid   *big.Int
	UpdatedAt     uint64
}

func newRecord() *Record {
	return &Record{TotalBorrowed: new(big.Int), TotalRepaid: new(big.Int)}
}

type scoreState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Engine keeps credit scores and derives the score-boosted LTV ceiling. Only
// the pool registered through SetPool may change scores.
type Engine struct {
	state   scoreState
	owner   common.Address
	params  Params
	nowFn   func() time.Time
	emitter events.Emitter
}

func NewEngine(owner common.Address, params Params) *Engine {
	return &Engine{
		owner:   owner,
		params:  params,
		nowFn:   time.Now,
		emitter: events.NoopEmitter{},
	}
}

func (e *Engine) SetState(state scoreState) { e.state = state }

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

func (e *Engine) Params() Params { return e.params }

func scoreKey(addr common.Address) []byte {
	return append([]byte("occr/score/"), addr.Bytes()...)
}

// Pool returns the authorised pool, if one was registered.
func (e *Engine) Pool() (common.Address, bool, error) {
	if e == nil || e.state == nil {
		return common.Address{}, false, errNilState
	}
	var pool common.Address
	ok, err := e.state.KVGet(poolKey, &pool)
	if err != nil {
		return common.Address{}, false, err
	}
	return pool, ok, nil
}

// SetPool authorises pool as the sole writer of score updates. It may only be
// called once, by the owner.
func (e *Engine) SetPool(caller, pool common.Address) error {
	if caller != e.owner {
		return fmt.Errorf("%w: score owner required", nativecommon.ErrUnauthorized)
	}
	if pool == (common.Address{}) {
		return fmt.Errorf("%w: pool address required", nativecommon.ErrInvalidAmount)
	}
	_, ok, err := e.Pool()
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: score pool", nativecommon.ErrAlreadyConfigured)
	}
	return e.state.KVPut(poolKey, pool)
}

// Record returns the reputation record for addr, zero-valued when unseen.
func (e *Engine) Record(addr common.Address) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	rec := newRecord()
	if _, err := e.state.KVGet(scoreKey(addr), rec); err != nil {
		return nil, err
	}
	if rec.TotalBorrowed == nil {
		rec.TotalBorrowed = new(big.Int)
	}
	if rec.TotalRepaid == nil {
		rec.TotalRepaid = new(big.Int)
	}
	return rec, nil
}

// ScoreMicro returns the score of addr scaled by 1e6. Unseen addresses score 0.
func (e *Engine) ScoreMicro(addr common.Address) (uint64, error) {
	rec, err := e.Record(addr)
	if err != nil {
		return 0, err
	}
	return rec.ScoreMicro, nil
}

// MaxLTVBps maps the score of addr onto a borrow ceiling. The curve is linear:
// base + MaxLTVBoostBps*score/MaxScoreMicro, truncated. A zero score returns
// base exactly and a full score returns base+MaxLTVBoostBps.
func (e *Engine) MaxLTVBps(addr common.Address, baseLTVBps uint64) (uint64, error) {
	score, err := e.ScoreMicro(addr)
	if err != nil {
		return 0, err
	}
	return e.maxLTVForScore(score, baseLTVBps), nil
}

// RiskMicro is the complement of the score: MaxScoreMicro minus the clamped
// score. Unseen addresses carry full risk.
func (e *Engine) RiskMicro(addr common.Address) (uint64, error) {
	score, err := e.ScoreMicro(addr)
	if err != nil {
		return 0, err
	}
	if score > e.params.MaxScoreMicro {
		score = e.params.MaxScoreMicro
	}
	return e.params.MaxScoreMicro - score, nil
}

// RiskWithin reports whether the risk of addr is at most maxRiskMicro.
func (e *Engine) RiskWithin(addr common.Address, maxRiskMicro uint64) (bool, uint64, error) {
	risk, err := e.RiskMicro(addr)
	if err != nil {
		return false, 0, err
	}
	return risk <= maxRiskMicro, risk, nil
}

func (e *Engine) maxLTVForScore(score, base uint64) uint64 {
	if score > e.params.MaxScoreMicro {
		score = e.params.MaxScoreMicro
	}
	boost := new(big.Int).SetUint64(e.params.MaxLTVBoostBps)
	boost.Mul(boost, new(big.Int).SetUint64(score))
	boost.Quo(boost, new(big.Int).SetUint64(e.params.MaxScoreMicro))
	return base + boost.Uint64()
}

func (e *Engine) authorise(caller common.Address) error {
	pool, ok, err := e.Pool()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: score pool", nativecommon.ErrNotConfigured)
	}
	if caller != pool {
		return fmt.Errorf("%w: only the pool may update scores", nativecommon.ErrUnauthorized)
	}
	return nil
}

func (e *Engine) gapCredit(score, bps uint64) *big.Int {
	gap := new(big.Int).SetUint64(e.params.MaxScoreMicro - score)
	gap.Mul(gap, new(big.Int).SetUint64(bps))
	return gap.Quo(gap, new(big.Int).SetUint64(basisPoints))
}

func (e *Engine) save(user common.Address, rec *Record, before uint64, reason string) error {
	if rec.ScoreMicro > e.params.MaxScoreMicro {
		rec.ScoreMicro = e.params.MaxScoreMicro
	}
	rec.UpdatedAt = uint64(e.nowFn().Unix())
	if err := e.state.KVPut(scoreKey(user), rec); err != nil {
		return err
	}
	e.emitter.Emit(events.ScoreUpdated{Address: user, Reason: reason, Before: before, After: rec.ScoreMicro})
	return nil
}

func (e *Engine) load(caller, user common.Address) (*Record, error) {
	if err := e.authorise(caller); err != nil {
		return nil, err
	}
	rec, err := e.Record(user)
	if err != nil {
		return nil, err
	}
	if rec.ScoreMicro > e.params.MaxScoreMicro {
		rec.ScoreMicro = e.params.MaxScoreMicro
	}
	return rec, nil
}

// RecordBorrow credits a small fixed share of the remaining gap for taking on
// credit.
func (e *Engine) RecordBorrow(caller, user common.Address, amount *big.Int) error {
	rec, err := e.load(caller, user)
	if err != nil {
		return err
	}
	before := rec.ScoreMicro
	rec.ScoreMicro += e.gapCredit(rec.ScoreMicro, e.params.BorrowCreditBps).Uint64()
	rec.Borrows++
	if amount != nil {
		rec.TotalBorrowed.Add(rec.TotalBorrowed, amount)
	}
	return e.save(user, rec, before, events.ScoreReasonBorrow)
}

// RecordRepay credits the gap in proportion to the share of outstanding debt
// that was repaid: gap*RepayCreditBps/10000*repaid/debtBefore, truncated.
func (e *Engine) RecordRepay(caller, user common.Address, repaid, debtBefore *big.Int) error {
	rec, err := e.load(caller, user)
	if err != nil {
		return err
	}
	before := rec.ScoreMicro
	if repaid != nil && repaid.Sign() > 0 && debtBefore != nil && debtBefore.Sign() > 0 {
		share := new(big.Int).Set(repaid)
		if share.Cmp(debtBefore) > 0 {
			share.Set(debtBefore)
		}
		credit := new(big.Int).SetUint64(e.params.MaxScoreMicro - rec.ScoreMicro)
		credit.Mul(credit, new(big.Int).SetUint64(e.params.RepayCreditBps))
		credit.Mul(credit, share)
		credit.Quo(credit, new(big.Int).Mul(new(big.Int).SetUint64(basisPoints), debtBefore))
		rec.ScoreMicro += credit.Uint64()
		rec.TotalRepaid.Add(rec.TotalRepaid, share)
	}
	rec.Repayments++
	return e.save(user, rec, before, events.ScoreReasonRepay)
}

// RecordLiquidation removes LiquidationPenaltyBps of the current score.
func (e *Engine) RecordLiquidation(caller, user common.Address, repaid *big.Int) error {
	rec, err := e.load(caller, user)
	if err != nil {
		return err
	}
	before := rec.ScoreMicro
	penalty := new(big.Int).SetUint64(rec.ScoreMicro)
	penalty.Mul(penalty, new(big.Int).SetUint64(e.params.LiquidationPenaltyBps))
	penalty.Quo(penalty, new(big.Int).SetUint64(basisPoints))
	rec.ScoreMicro -= penalty.Uint64()
	rec.Liquidations++
	return e.save(user, rec, before, events.ScoreReasonLiquidation)
}
