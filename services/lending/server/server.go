package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"occrlend/core"
	"occrlend/services/lending/history"
	"occrlend/services/lending/idempotency"
)

// Rate limit classes.
const (
	LimitRead  = "read"
	LimitWrite = "write"
	LimitAdmin = "admin"
)

// RequestMetrics records per-route HTTP outcomes.
type RequestMetrics interface {
	ObserveRequest(route string, status int)
	RecordThrottle(route string)
}

// HistoryReader serves the indexed event log.
type HistoryReader interface {
	List(ctx context.Context, f history.Filter) ([]history.EventRecord, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Node           *core.Node
	Auth           AuthConfig
	RateLimits     map[string]RateLimit
	Idempotency    *idempotency.Store
	IdempotencyTTL time.Duration
	History        HistoryReader
	Metrics        RequestMetrics
	OriginPatterns []string
	Logger         *slog.Logger
}

// Server exposes the node over HTTP.
type Server struct {
	node           *core.Node
	auth           *Authenticator
	limiter        *RateLimiter
	idem           *idempotency.Middleware
	history        HistoryReader
	metrics        RequestMetrics
	stream         *Stream
	originPatterns []string
	logger         *slog.Logger

	router http.Handler
}

// New constructs the router and subscribes the event stream to the node.
func New(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "api"))
	auth, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	origins := cfg.OriginPatterns
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	srv := &Server{
		node:           cfg.Node,
		auth:           auth,
		history:        cfg.History,
		metrics:        cfg.Metrics,
		stream:         NewStream(),
		originPatterns: origins,
		logger:         logger,
	}
	onLimit := func(string) {}
	if srv.metrics != nil {
		onLimit = srv.metrics.RecordThrottle
	}
	srv.limiter = NewRateLimiter(cfg.RateLimits, onLimit)
	if cfg.Idempotency != nil {
		srv.idem = idempotency.NewMiddleware(cfg.Idempotency, cfg.IdempotencyTTL, callerSubject, logger)
	}
	if srv.node != nil {
		srv.node.Subscribe(srv.stream)
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Stream returns the websocket fan-out.
func (s *Server) Stream() *Stream { return s.stream }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(s.observeRequests)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(s.limiter.Middleware(LimitRead))
			public.Get("/market", s.handleMarket)
			public.Get("/price", s.handlePrice)
			public.Get("/accounts", s.handleAccounts)
			public.Get("/accounts/{address}", s.handleAccount)
			public.Get("/accounts/{address}/score", s.handleScore)
			public.Get("/accounts/{address}/identity", s.handleIdentity)
			public.Get("/accounts/{address}/balances/{asset}", s.handleBalance)
			public.Get("/predicates/risk/{address}", s.handleRiskPredicate)
			public.Get("/predicates/price", s.handlePricePredicate)
			public.Get("/history", s.handleHistory)
			public.Get("/events/ws", s.handleEventStream)
		})

		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.Middleware(ScopeLending))
			protected.Use(s.limiter.Middleware(LimitWrite))
			protected.Use(s.idempotent)
			protected.Post("/identity/verify", s.handleVerify)
			protected.Post("/collateral/deposit", s.handleDeposit)
			protected.Post("/collateral/withdraw", s.handleWithdraw)
			protected.Post("/borrow", s.handleBorrow)
			protected.Post("/repay", s.handleRepay)
			protected.Post("/repay-on-behalf", s.handleRepayOnBehalf)
			protected.Post("/buffer/deposit", s.handleBufferDeposit)
			protected.Post("/buffer/withdraw", s.handleBufferWithdraw)
			protected.Post("/buffer/repay", s.handleBufferRepay)
			protected.Post("/protect", s.handleProtect)
			protected.Post("/liquidate", s.handleLiquidate)
			protected.Post("/tokens/{asset}/approve", s.handleApprove)
			protected.Post("/tokens/{asset}/transfer", s.handleTransfer)
		})

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(s.auth.Middleware(ScopeAdmin))
			admin.Use(s.limiter.Middleware(LimitAdmin))
			admin.Use(s.idempotent)
			admin.Post("/price", s.handleSetPrice)
			admin.Post("/identity", s.handleAdminIdentity)
			admin.Post("/mint", s.handleMint)
		})
	})

	return otelhttp.NewHandler(r, "occr-lending",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}

func (s *Server) idempotent(next http.Handler) http.Handler {
	if s.idem == nil {
		return next
	}
	return s.idem.Handler(next)
}

func (s *Server) observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.metrics == nil {
			return
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRequest(route, status)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.node == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "node unavailable")
		return
	}
	if _, err := s.node.Market(); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"subscribers": s.stream.Subscribers(),
	})
}
