package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"occrlend/core/events"
	"occrlend/core/state"
	"occrlend/crypto"
	"occrlend/native/bank"
	nativecommon "occrlend/native/common"
	"occrlend/native/identity"
	"occrlend/native/lending"
	"occrlend/native/occr"
	"occrlend/storage"
)

// Module names used to derive the deterministic engine accounts.
const (
	PoolModule     = "occr/lending-pool"
	ScoreModule    = "occr/score"
	IdentityModule = "occr/identity"
)

var (
	// ErrUnknownAsset is returned when a token symbol is not configured.
	ErrUnknownAsset = fmt.Errorf("%w: unknown asset", nativecommon.ErrInvalidAmount)

	errClosed = errors.New("node: closed")
)

// AssetSpec describes one of the pool's two tokens.
type AssetSpec struct {
	Symbol   string
	Name     string
	Decimals uint8
}

// OperationObserver receives one call per completed node operation. kind is
// empty on success and a nativecommon.Kind label otherwise.
type OperationObserver interface {
	ObserveOperation(op, kind string, elapsed time.Duration)
}

// Options configures a Node.
type Options struct {
	Admin      common.Address
	Collateral AssetSpec
	Debt       AssetSpec
	Lending    lending.Params
	Score      occr.Params
	Pauses     nativecommon.PauseView
	Now        func() time.Time
	Logger     *slog.Logger
	Observer   OperationObserver
}

// Node owns the state journal and the three engines. Every mutating call runs
// under one mutex inside a journal that commits only when the whole operation
// succeeds; events are published to subscribers after the commit.
type Node struct {
	mu sync.Mutex
	// owner is the goroutine holding mu, zero when the node is idle.
	owner atomic.Uint64

	db       storage.Database
	state    *state.Manager
	admin    common.Address
	identity *identity.Verifier
	score    *occr.Engine
	lending  *lending.Engine
	tokens   map[string]*bank.Token
	colSym   string
	debtSym  string

	buffer   *bufferedEmitter
	subsMu   sync.RWMutex
	subs     []events.Emitter
	closed   bool
	logger   *slog.Logger
	observer OperationObserver
	tracer   trace.Tracer
	latency  metric.Float64Histogram
}

// NewNode wires the engines over db and performs the one-time bootstrap of
// the score pool and lending references.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	if opts.Admin == (common.Address{}) {
		return nil, fmt.Errorf("node: admin address required")
	}
	if err := opts.Score.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Lending.Validate(opts.Score.MaxLTVBoostBps); err != nil {
		return nil, err
	}
	colSym := strings.ToUpper(strings.TrimSpace(opts.Collateral.Symbol))
	debtSym := strings.ToUpper(strings.TrimSpace(opts.Debt.Symbol))
	if colSym == "" || debtSym == "" || colSym == debtSym {
		return nil, fmt.Errorf("node: distinct collateral and debt symbols required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	n := &Node{
		db:       db,
		state:    state.NewManager(db),
		admin:    opts.Admin,
		tokens:   make(map[string]*bank.Token, 2),
		colSym:   colSym,
		debtSym:  debtSym,
		buffer:   &bufferedEmitter{},
		logger:   logger.With(slog.String("component", "node")),
		observer: opts.Observer,
		tracer:   otel.Tracer("occrlend/core"),
	}
	latency, err := otel.Meter("occrlend/core").Float64Histogram(
		"occr.node.operation.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Latency of node operations including commit."),
	)
	if err != nil {
		return nil, fmt.Errorf("node: latency histogram: %w", err)
	}
	n.latency = latency

	for _, spec := range []AssetSpec{opts.Collateral, opts.Debt} {
		token := bank.NewToken(spec.Symbol, spec.Name, spec.Decimals, opts.Admin)
		token.SetState(n.state)
		token.SetEmitter(n.buffer)
		n.tokens[token.Symbol()] = token
	}

	n.identity = identity.NewVerifier(opts.Admin)
	n.identity.SetState(n.state)
	n.identity.SetNowFunc(now)
	n.identity.SetEmitter(n.buffer)

	n.score = occr.NewEngine(opts.Admin, opts.Score)
	n.score.SetState(n.state)
	n.score.SetNowFunc(now)
	n.score.SetEmitter(n.buffer)

	n.lending = lending.NewEngine(n.PoolAddress(), opts.Admin, opts.Lending)
	n.lending.SetState(n.state)
	n.lending.SetAssets(n.tokens[colSym], n.tokens[debtSym])
	n.lending.SetPauses(opts.Pauses)
	n.lending.SetNowFunc(now)
	n.lending.SetEmitter(n.buffer)

	if err := n.bootstrap(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) bootstrap() error {
	pool, ok, err := n.score.Pool()
	if err != nil {
		return err
	}
	switch {
	case !ok:
		if err := n.score.SetPool(n.admin, n.PoolAddress()); err != nil {
			return fmt.Errorf("node: register score pool: %w", err)
		}
	case pool != n.PoolAddress():
		return fmt.Errorf("node: score engine bound to foreign pool %s", pool.Hex())
	}
	if err := n.lending.SetRefs(n.admin, n.score, n.identity); err != nil {
		return fmt.Errorf("node: wire lending references: %w", err)
	}
	return nil
}

// PoolAddress is the vault account holding collateral, liquidity and buffers.
func (n *Node) PoolAddress() common.Address { return crypto.ModuleAddress(PoolModule) }

func (n *Node) Admin() common.Address { return n.admin }

func (n *Node) CollateralSymbol() string { return n.colSym }

func (n *Node) DebtSymbol() string { return n.debtSym }

func (n *Node) LendingParams() lending.Params { return n.lending.Params() }

func (n *Node) ScoreParams() occr.Params { return n.score.Params() }

// Subscribe registers sink for committed events. Sinks run on the committing
// goroutine while the node lock is held; calls back into the node from a sink
// fail with ErrReentrant.
func (n *Node) Subscribe(sink events.Emitter) {
	if sink == nil {
		return
	}
	n.subsMu.Lock()
	n.subs = append(n.subs, sink)
	n.subsMu.Unlock()
}

// Close releases the database. Later operations fail. Close is a no-op when
// called from inside an in-flight operation.
func (n *Node) Close() {
	release, err := n.lock()
	if err != nil {
		return
	}
	defer release()
	if n.closed {
		return
	}
	n.closed = true
	n.db.Close()
}

type inFlightKey struct{}

// lock takes the node mutex for the calling goroutine. A goroutine that
// already holds it is calling back from a collaborator (a transfer hook or an
// event sink) and is rejected instead of blocking forever.
func (n *Node) lock() (func(), error) {
	gid := goroutineID()
	if gid != 0 && n.owner.Load() == gid {
		return nil, fmt.Errorf("%w: node called from inside an in-flight operation", nativecommon.ErrReentrant)
	}
	n.mu.Lock()
	n.owner.Store(gid)
	return func() {
		n.owner.Store(0)
		n.mu.Unlock()
	}, nil
}

// execute runs fn as one atomic operation. A context that already carries an
// in-flight operation marks a callback from a collaborator and is rejected.
func (n *Node) execute(ctx context.Context, op string, fn func(ctx context.Context) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if outer, ok := ctx.Value(inFlightKey{}).(string); ok {
		return fmt.Errorf("%w: %s called during %s", nativecommon.ErrReentrant, op, outer)
	}
	ctx, span := n.tracer.Start(ctx, "node."+op, trace.WithAttributes(attribute.String("occr.op", op)))
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		kind := nativecommon.Kind(err)
		n.latency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("outcome", outcomeLabel(kind)),
		))
		if n.observer != nil {
			n.observer.ObserveOperation(op, kind, elapsed)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
		}
		span.End()
	}()

	release, err := n.lock()
	if err != nil {
		return fmt.Errorf("%w (%s)", err, op)
	}
	defer release()
	if n.closed {
		return errClosed
	}
	if err := n.state.Begin(); err != nil {
		return err
	}
	n.buffer.reset()

	if err := fn(context.WithValue(ctx, inFlightKey{}, op)); err != nil {
		n.buffer.reset()
		if rbErr := n.state.Rollback(); rbErr != nil {
			n.logger.Error("rollback failed", slog.String("op", op), slog.Any("error", rbErr))
		}
		if nativecommon.Kind(err) == nativecommon.KindInternal {
			n.logger.Warn("operation failed", slog.String("op", op), slog.Any("error", err))
		}
		return err
	}
	if err := n.state.Commit(); err != nil {
		n.buffer.reset()
		n.logger.Error("commit failed", slog.String("op", op), slog.Any("error", err))
		return fmt.Errorf("node: commit %s: %w", op, err)
	}
	n.publish(n.buffer.drain())
	n.logger.Debug("operation committed", slog.String("op", op))
	return nil
}

// read runs fn under the node lock without opening a journal.
func (n *Node) read(fn func() error) error {
	release, err := n.lock()
	if err != nil {
		return err
	}
	defer release()
	if n.closed {
		return errClosed
	}
	return fn()
}

func (n *Node) publish(evts []events.Event) {
	if len(evts) == 0 {
		return
	}
	n.subsMu.RLock()
	subs := append([]events.Emitter(nil), n.subs...)
	n.subsMu.RUnlock()
	for _, evt := range evts {
		for _, sink := range subs {
			sink.Emit(evt)
		}
	}
}

func outcomeLabel(kind string) string {
	if kind == "" {
		return "ok"
	}
	return kind
}

// bufferedEmitter holds events produced inside a journal until commit.
type bufferedEmitter struct {
	pending []events.Event
}

func (b *bufferedEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

func (b *bufferedEmitter) reset() { b.pending = b.pending[:0] }

func (b *bufferedEmitter) drain() []events.Event {
	out := append([]events.Event(nil), b.pending...)
	b.pending = b.pending[:0]
	return out
}
