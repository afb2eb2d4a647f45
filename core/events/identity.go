package events

import (
	"encoding/hex"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"occrlend/core/types"
)

const TypeIdentityVerified = "identity.verified"

// IdentityVerified is emitted whenever an address's verification flag changes,
// either through self-service verification or an admin override.
type IdentityVerified struct {
	Address     common.Address
	Verified    bool
	UpdatedBy   common.Address
	ProofDigest [32]byte
}

// EventType implements the Event interface.
func (IdentityVerified) EventType() string { return TypeIdentityVerified }

// Event converts the strongly typed event to the generic representation used by subscribers.
func (e IdentityVerified) Event() *types.Event {
	attrs := map[string]string{
		"account":   formatAddress(e.Address),
		"verified":  strconv.FormatBool(e.Verified),
		"updatedBy": formatAddress(e.UpdatedBy),
	}
	if e.ProofDigest != ([32]byte{}) {
		attrs["proofDigest"] = hex.EncodeToString(e.ProofDigest[:])
	}
	return &types.Event{Type: TypeIdentityVerified, Attributes: attrs}
}
