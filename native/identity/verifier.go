package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"occrlend/core/events"
	nativecommon "occrlend/native/common"
)

var errNilState = errors.New("identity: state not configured")

// Record is the persisted verification state of an address. Records are
// created on first verification and never deleted.
type Record struct {
	Verified    bool
	Revoked     bool
	VerifiedAt  uint64
	ProofDigest [32]byte
	UpdatedBy   common.Address
}

type verifierState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Verifier gates borrowing behind a per-address verified flag. Proofs are
// accepted opaquely; only their keccak256 digest is kept for audit.
type Verifier struct {
	state   verifierState
	admin   common.Address
	nowFn   func() time.Time
	emitter events.Emitter
}

func NewVerifier(admin common.Address) *Verifier {
	return &Verifier{admin: admin, nowFn: time.Now, emitter: events.NoopEmitter{}}
}

func (v *Verifier) SetState(state verifierState) { v.state = state }

// SetNowFunc overrides the wall clock used for VerifiedAt.
func (v *Verifier) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	v.nowFn = now
}

func (v *Verifier) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		v.emitter = events.NoopEmitter{}
		return
	}
	v.emitter = emitter
}

// Admin returns the address allowed to override verification.
func (v *Verifier) Admin() common.Address { return v.admin }

func recordKey(addr common.Address) []byte {
	return append([]byte("identity/record/"), addr.Bytes()...)
}

// Record returns the stored record for addr; ok is false for unseen addresses.
func (v *Verifier) Record(addr common.Address) (Record, bool, error) {
	if v == nil || v.state == nil {
		return Record{}, false, errNilState
	}
	var rec Record
	ok, err := v.state.KVGet(recordKey(addr), &rec)
	if err != nil {
		return Record{}, false, err
	}
	return rec, ok, nil
}

// IsVerified reports whether addr may borrow.
func (v *Verifier) IsVerified(addr common.Address) (bool, error) {
	rec, _, err := v.Record(addr)
	if err != nil {
		return false, err
	}
	return rec.Verified, nil
}

// VerifyIdentity marks caller verified. Calling it again on a verified address
// changes nothing. Addresses revoked by the admin cannot re-verify themselves.
func (v *Verifier) VerifyIdentity(caller common.Address, proof []byte) error {
	rec, _, err := v.Record(caller)
	if err != nil {
		return err
	}
	if rec.Verified {
		return nil
	}
	if rec.Revoked {
		return fmt.Errorf("%w: verification revoked by admin", nativecommon.ErrUnauthorized)
	}
	rec = Record{
		Verified:   true,
		VerifiedAt: uint64(v.nowFn().Unix()),
		UpdatedBy:  caller,
	}
	copy(rec.ProofDigest[:], ethcrypto.Keccak256(proof))
	if err := v.state.KVPut(recordKey(caller), &rec); err != nil {
		return err
	}
	v.emitter.Emit(events.IdentityVerified{Address: caller, Verified: true, UpdatedBy: caller, ProofDigest: rec.ProofDigest})
	return nil
}

// AdminSetVerified overrides the verification flag of addr.
func (v *Verifier) AdminSetVerified(caller, addr common.Address, verified bool) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	if caller != v.admin {
		return fmt.Errorf("%w: identity admin required", nativecommon.ErrUnauthorized)
	}
	rec, _, err := v.Record(addr)
	if err != nil {
		return err
	}
	if rec.Verified == verified && rec.Revoked == !verified {
		return nil
	}
	rec.Verified = verified
	rec.Revoked = !verified
	rec.UpdatedBy = caller
	if verified && rec.VerifiedAt == 0 {
		rec.VerifiedAt = uint64(v.nowFn().Unix())
	}
	if err := v.state.KVPut(recordKey(addr), &rec); err != nil {
		return err
	}
	v.emitter.Emit(events.IdentityVerified{Address: addr, Verified: verified, UpdatedBy: caller})
	return nil
}
