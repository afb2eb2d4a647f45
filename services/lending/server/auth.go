package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"occrlend/crypto"
	"occrlend/observability/logging"
)

// Scopes carried in the token's scope claim.
const (
	ScopeLending = "lending"
	ScopeAdmin   = "admin"

	// HeaderCaller names the caller when authentication is disabled.
	HeaderCaller = "X-OCCR-Caller"
)

// AuthConfig configures bearer token validation.
type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	ClockSkew  time.Duration
}

type contextKey string

const (
	contextKeyCaller contextKey = "occr.caller"
	contextKeyScopes contextKey = "occr.scopes"
)

// Authenticator validates HS256 bearer tokens whose subject is the caller's
// address.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
	now    func() time.Time
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	secret := []byte(strings.TrimSpace(cfg.HMACSecret))
	if cfg.Enabled && len(secret) == 0 {
		return nil, errors.New("auth: hmac secret required when auth is enabled")
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, secret: secret, logger: logger, now: time.Now}, nil
}

// Middleware resolves the caller and enforces requiredScopes.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				caller, err := crypto.ParseAddress(r.Header.Get(HeaderCaller))
				if err != nil {
					writeError(w, http.StatusUnauthorized, "unauthorized", "caller header required")
					return
				}
				ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
				ctx = context.WithValue(ctx, contextKeyScopes, []string{ScopeLending, ScopeAdmin})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			claims, err := a.parseToken(tokenString)
			if err != nil {
				a.logger.Warn("auth: token rejected", logging.MaskBearer(r.Header.Get("Authorization")), slog.Any("error", err))
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			subject, _ := claims["sub"].(string)
			caller, err := crypto.ParseAddress(subject)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "token subject is not an address")
				return
			}
			scopes := extractScopes(claims, a.cfg.ScopeClaim)
			if !hasScopes(scopes, requiredScopes) {
				writeError(w, http.StatusForbidden, "unauthorized", "insufficient scope")
				return
			}
			ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
			ctx = context.WithValue(ctx, contextKeyScopes, scopes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects requests whose resolved scopes lack scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scopes, _ := r.Context().Value(contextKeyScopes).([]string)
			if !hasScopes(scopes, []string{scope}) {
				writeError(w, http.StatusForbidden, "unauthorized", "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallerFromContext returns the authenticated caller.
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(contextKeyCaller).(common.Address)
	return caller, ok
}

func callerSubject(r *http.Request) string {
	if caller, ok := CallerFromContext(r.Context()); ok {
		return strings.ToLower(caller.Hex())
	}
	return ""
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("token invalid")
	}
	if a.cfg.Issuer != "" {
		if iss, _ := claims.GetIssuer(); iss != a.cfg.Issuer {
			return nil, errors.New("issuer mismatch")
		}
	}
	if a.cfg.Audience != "" {
		aud, _ := claims.GetAudience()
		matched := false
		for _, entry := range aud {
			if entry == a.cfg.Audience {
				matched = true
				break
			}
		}
		if !matched {
			return nil, errors.New("audience mismatch")
		}
	}
	return claims, nil
}

// IssueToken mints an HS256 token for subject. Operators use it to hand out
// API credentials.
func IssueToken(cfg AuthConfig, subject common.Address, scopes []string, ttl time.Duration, now time.Time) (string, error) {
	secret := []byte(strings.TrimSpace(cfg.HMACSecret))
	if len(secret) == 0 {
		return "", errors.New("auth: hmac secret required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("auth: ttl must be positive")
	}
	claim := cfg.ScopeClaim
	if claim == "" {
		claim = "scope"
	}
	claims := jwt.MapClaims{
		"sub": strings.ToLower(subject.Hex()),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		claim: strings.Join(scopes, " "),
	}
	if cfg.Issuer != "" {
		claims["iss"] = cfg.Issuer
	}
	if cfg.Audience != "" {
		claims["aud"] = cfg.Audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	switch v := claims[scopeClaim].(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(scopes []string, required []string) bool {
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	for _, scope := range required {
		if _, ok := set[scope]; !ok {
			return false
		}
	}
	return true
}
