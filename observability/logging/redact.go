package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Keys that are safe to log verbatim. Everything else passed through
// MaskField is masked.
var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"op":        {},
	"kind":      {},
	"method":    {},
	"path":      {},
	"status":    {},
	"account":   {},
	"asset":     {},
}

// IsAllowlisted reports whether key may be logged without masking.
func IsAllowlisted(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := redactionAllowlist[normalized]
	return ok
}

// MaskField masks value unless key is allowlisted.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskBearer keeps the authorization scheme and masks the credential.
func MaskBearer(header string) slog.Attr {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return slog.String("authorization", "")
	}
	scheme, _, found := strings.Cut(trimmed, " ")
	if !found {
		return slog.String("authorization", RedactedValue)
	}
	return slog.String("authorization", scheme+" "+RedactedValue)
}

// ProofSize logs only the length of an identity proof.
func ProofSize(proof []byte) slog.Attr {
	return slog.Int("proof_bytes", len(proof))
}
