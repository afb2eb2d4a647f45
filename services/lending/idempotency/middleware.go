package idempotency

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	HeaderKey   = "Idempotency-Key"
	HeaderCache = "X-Idempotency-Cache"

	maxBodyBytes = 1 << 20
	defaultTTL   = 24 * time.Hour
)

// Middleware replays the stored response for repeated POST requests carrying
// the same Idempotency-Key. Concurrent duplicates share a single execution.
type Middleware struct {
	store   *Store
	ttl     time.Duration
	subject func(*http.Request) string
	now     func() time.Time
	logger  *slog.Logger
	group   singleflight.Group
}

// NewMiddleware builds the middleware. subject scopes keys per caller; it may
// be nil when keys are global.
func NewMiddleware(store *Store, ttl time.Duration, subject func(*http.Request) string, logger *slog.Logger) *Middleware {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if subject == nil {
		subject = func(*http.Request) string { return "" }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{store: store, ttl: ttl, subject: subject, now: time.Now, logger: logger}
}

type outcome struct {
	record Record
	cached bool
}

func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idem := strings.TrimSpace(r.Header.Get(HeaderKey))
		if m == nil || m.store == nil || idem == "" || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil || len(body) > maxBodyBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body too large")
			return
		}
		_ = r.Body.Close()
		fingerprint := Fingerprint(body)
		key := Key(m.subject(r), r.Method, r.URL.Path, idem)

		v, err, _ := m.group.Do(key, func() (interface{}, error) {
			record, found, err := m.store.Get(key, m.now())
			if err != nil {
				return nil, err
			}
			if found {
				return outcome{record: record, cached: true}, nil
			}
			rec := newBufferedResponse()
			replay := r.Clone(r.Context())
			replay.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(rec, replay)

			now := m.now()
			record = Record{
				Fingerprint: fingerprint,
				StatusCode:  rec.status,
				Body:        rec.body.Bytes(),
				ContentType: rec.header.Get("Content-Type"),
				StoredAt:    now,
				ExpiresAt:   now.Add(m.ttl),
			}
			if record.StatusCode < http.StatusInternalServerError {
				if err := m.store.Put(key, record); err != nil {
					m.logger.Warn("idempotency store write failed", slog.Any("error", err))
				}
			}
			return outcome{record: record}, nil
		})
		if err != nil {
			m.logger.Error("idempotency lookup failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "internal", "idempotency store unavailable")
			return
		}
		result := v.(outcome)
		if result.record.Fingerprint != fingerprint {
			writeError(w, http.StatusConflict, "idempotency_conflict", ErrFingerprintMismatch.Error())
			return
		}
		if result.cached {
			w.Header().Set(HeaderCache, "hit")
		}
		if ct := result.record.ContentType; ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(result.record.StatusCode)
		_, _ = w.Write(result.record.Body)
	})
}

// bufferedResponse captures a handler's response so it can be stored and
// shared between concurrent duplicates.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header), status: http.StatusOK}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) { b.status = status }

func (b *bufferedResponse) Write(p []byte) (int, error) { return b.body.Write(p) }

// errorBody matches the API's {error, message} envelope.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: kind, Message: message})
}
