package common

import "errors"

// Rejection taxonomy shared by the identity, score and lending engines. Engines
// wrap these with context via fmt.Errorf("%w: ...") so callers can match them
// with errors.Is.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrIdentityNotVerified = errors.New("identity not verified")
	ErrExceedsLTV          = errors.New("exceeds loan-to-value ceiling")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrNotUnderwater       = errors.New("position not underwater")
	ErrStaleOrInvalidPrice = errors.New("stale or invalid price")
	ErrAlreadyConfigured   = errors.New("already configured")
	ErrNotConfigured       = errors.New("not configured")
	ErrReentrant           = errors.New("reentrant call rejected")
)

// Error kinds are stable labels for metrics and API responses.
const (
	KindUnauthorized        = "unauthorized"
	KindIdentityNotVerified = "identity_not_verified"
	KindExceedsLTV          = "exceeds_ltv"
	KindInsufficientBalance = "insufficient_balance"
	KindInvalidAmount       = "invalid_amount"
	KindNotUnderwater       = "not_underwater"
	KindStaleOrInvalidPrice = "stale_or_invalid_price"
	KindAlreadyConfigured   = "already_configured"
	KindNotConfigured       = "not_configured"
	KindReentrant           = "reentrant"
	KindPaused              = "paused"
	KindInternal            = "internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrUnauthorized, KindUnauthorized},
	{ErrIdentityNotVerified, KindIdentityNotVerified},
	{ErrExceedsLTV, KindExceedsLTV},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrNotUnderwater, KindNotUnderwater},
	{ErrStaleOrInvalidPrice, KindStaleOrInvalidPrice},
	{ErrAlreadyConfigured, KindAlreadyConfigured},
	{ErrNotConfigured, KindNotConfigured},
	{ErrReentrant, KindReentrant},
	{ErrModulePaused, KindPaused},
}

// Kind classifies err into one of the Kind* labels. Nil maps to "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range kinds {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternal
}
