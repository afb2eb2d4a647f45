package occr

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"occrlend/core/events"
	nativecommon "occrlend/native/common"
)

type memoryStore struct {
	data map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.data[string(key)] = encoded
	return nil
}

func (m *memoryStore) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.data[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func makeAddress(b byte) common.Address {
	var addr common.Address
	addr[19] = b
	return addr
}

var (
	owner = makeAddress(0xA0)
	pool  = makeAddress(0xB0)
	user  = makeAddress(0x01)
)

func newTestEngine(t *testing.T, params Params) *Engine {
	t.Helper()
	engine := NewEngine(owner, params)
	engine.SetState(newMemoryStore())
	if err := engine.SetPool(owner, pool); err != nil {
		t.Fatalf("set pool: %v", err)
	}
	return engine
}

func TestSetPoolOnceByOwner(t *testing.T) {
	engine := NewEngine(owner, DefaultParams())
	engine.SetState(newMemoryStore())

	if err := engine.SetPool(user, pool); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := engine.RecordBorrow(pool, user, big.NewInt(1)); !errors.Is(err, nativecommon.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured before wiring, got %v", err)
	}
	if err := engine.SetPool(owner, pool); err != nil {
		t.Fatalf("set pool: %v", err)
	}
	if err := engine.SetPool(owner, makeAddress(0xB1)); !errors.Is(err, nativecommon.ErrAlreadyConfigured) {
		t.Fatalf("expected ErrAlreadyConfigured, got %v", err)
	}
	got, ok, err := engine.Pool()
	if err != nil || !ok || got != pool {
		t.Fatalf("unexpected pool %s ok=%v err=%v", got.Hex(), ok, err)
	}
}

func TestOnlyPoolMayUpdateScores(t *testing.T) {
	engine := newTestEngine(t, DefaultParams())
	for name, fn := range map[string]func() error{
		"borrow":      func() error { return engine.RecordBorrow(user, user, big.NewInt(1)) },
		"repay":       func() error { return engine.RecordRepay(owner, user, big.NewInt(1), big.NewInt(1)) },
		"liquidation": func() error { return engine.RecordLiquidation(user, user, big.NewInt(1)) },
	} {
		if err := fn(); !errors.Is(err, nativecommon.ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
	if score, _ := engine.ScoreMicro(user); score != 0 {
		t.Fatalf("unauthorised updates changed score to %d", score)
	}
}

func TestScoreDirection(t *testing.T) {
	engine := newTestEngine(t, DefaultParams())
	rec := &events.Recorder{}
	engine.SetEmitter(rec)

	if err := engine.RecordBorrow(pool, user, big.NewInt(100)); err != nil {
		t.Fatalf("record borrow: %v", err)
	}
	afterBorrow, _ := engine.ScoreMicro(user)
	if afterBorrow != 10_000 {
		t.Fatalf("expected 1%% of the gap after borrow, got %d", afterBorrow)
	}

	if err := engine.RecordRepay(pool, user, big.NewInt(40), big.NewInt(100)); err != nil {
		t.Fatalf("record repay: %v", err)
	}
	afterRepay, _ := engine.ScoreMicro(user)
	// gap 990000 * 20% * 40/100 = 79200
	if afterRepay != afterBorrow+79_200 {
		t.Fatalf("unexpected score after repay: %d", afterRepay)
	}

	if err := engine.RecordLiquidation(pool, user, big.NewInt(10)); err != nil {
		t.Fatalf("record liquidation: %v", err)
	}
	afterLiquidation, _ := engine.ScoreMicro(user)
	if afterLiquidation < afterRepay {
		t.Fatalf("default liquidation must be neutral: %d < %d", afterLiquidation, afterRepay)
	}

	record, err := engine.Record(user)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if record.Borrows != 1 || record.Repayments != 1 || record.Liquidations != 1 {
		t.Fatalf("unexpected counters %+v", record)
	}
	if record.TotalBorrowed.Int64() != 100 || record.TotalRepaid.Int64() != 40 {
		t.Fatalf("unexpected totals borrowed=%s repaid=%s", record.TotalBorrowed, record.TotalRepaid)
	}
	if len(rec.Events) != 3 {
		t.Fatalf("expected three score events, got %v", rec.Types())
	}
}

func TestLiquidationPenalty(t *testing.T) {
	params := DefaultParams()
	params.LiquidationPenaltyBps = 5_000
	engine := newTestEngine(t, params)
	if err := engine.RecordBorrow(pool, user, big.NewInt(1)); err != nil {
		t.Fatalf("record borrow: %v", err)
	}
	if err := engine.RecordLiquidation(pool, user, big.NewInt(1)); err != nil {
		t.Fatalf("record liquidation: %v", err)
	}
	if score, _ := engine.ScoreMicro(user); score != 5_000 {
		t.Fatalf("expected half the score removed, got %d", score)
	}
}

func TestScoreSaturatesAtMax(t *testing.T) {
	params := DefaultParams()
	params.RepayCreditBps = 10_000
	engine := newTestEngine(t, params)
	for i := 0; i < 3; i++ {
		if err := engine.RecordRepay(pool, user, big.NewInt(500), big.NewInt(100)); err != nil {
			t.Fatalf("record repay: %v", err)
		}
	}
	score, _ := engine.ScoreMicro(user)
	if score != params.MaxScoreMicro {
		t.Fatalf("expected saturated score, got %d", score)
	}
	record, _ := engine.Record(user)
	if record.TotalRepaid.Int64() != 300 {
		t.Fatalf("repaid share must be capped at outstanding debt, got %s", record.TotalRepaid)
	}
}

func TestMaxLTVCurve(t *testing.T) {
	engine := newTestEngine(t, DefaultParams())
	base := uint64(5_000)
	if got := engine.maxLTVForScore(0, base); got != base {
		t.Fatalf("zero score must return base, got %d", got)
	}
	if got := engine.maxLTVForScore(500_000, base); got != 5_200 {
		t.Fatalf("half score: expected 5200, got %d", got)
	}
	if got := engine.maxLTVForScore(2_000_000, base); got != 5_400 {
		t.Fatalf("over-max score must saturate, got %d", got)
	}
	prev := uint64(0)
	for score := uint64(0); score <= DefaultMaxScoreMicro; score += 12_345 {
		got := engine.maxLTVForScore(score, base)
		if got < prev {
			t.Fatalf("curve not monotonic at %d", score)
		}
		prev = got
	}
	got, err := engine.MaxLTVBps(user, base)
	if err != nil || got != base {
		t.Fatalf("unseen address: got %d err=%v", got, err)
	}
}

func TestRiskWithin(t *testing.T) {
	params := DefaultParams()
	params.RepayCreditBps = 10_000
	engine := newTestEngine(t, params)

	ok, risk, err := engine.RiskWithin(user, DefaultMaxRiskMicro)
	if err != nil || ok || risk != params.MaxScoreMicro {
		t.Fatalf("unseen address: ok=%v risk=%d err=%v", ok, risk, err)
	}
	if err := engine.RecordBorrow(pool, user, big.NewInt(100)); err != nil {
		t.Fatalf("record borrow: %v", err)
	}
	if _, risk, _ := engine.RiskWithin(user, DefaultMaxRiskMicro); risk != 990_000 {
		t.Fatalf("expected risk 990000 after borrow, got %d", risk)
	}
	if ok, _, _ := engine.RiskWithin(user, 990_000); !ok {
		t.Fatalf("risk equal to the ceiling must pass")
	}
	if ok, _, _ := engine.RiskWithin(user, 989_999); ok {
		t.Fatalf("risk above the ceiling must fail")
	}
	if err := engine.RecordRepay(pool, user, big.NewInt(100), big.NewInt(100)); err != nil {
		t.Fatalf("record repay: %v", err)
	}
	ok, risk, err = engine.RiskWithin(user, DefaultMaxRiskMicro)
	if err != nil || !ok || risk != 0 {
		t.Fatalf("saturated score: ok=%v risk=%d err=%v", ok, risk, err)
	}
}

func TestParamsValidate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	bad := DefaultParams()
	bad.RepayCreditBps = 10_001
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected repay credit overflow to fail")
	}
	bad = DefaultParams()
	bad.MaxScoreMicro = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected zero max score to fail")
	}
}
