package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"nhooyr.io/websocket"

	"occrlend/core"
	"occrlend/core/events"
	"occrlend/crypto"
	nativecommon "occrlend/native/common"
	"occrlend/native/lending"
	"occrlend/native/occr"
	"occrlend/services/lending/history"
	"occrlend/services/lending/idempotency"
	"occrlend/storage"
)

const testSecret = "test-secret"

var (
	adminAddr = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	aliceAddr = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bobAddr   = common.HexToAddress("0x0000000000000000000000000000000000000002")
	fixedNow  = time.Unix(1_700_000_000, 0)
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type fakeMetrics struct {
	mu        sync.Mutex
	requests  map[string]int
	throttles map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{requests: map[string]int{}, throttles: map[string]int{}}
}

func (m *fakeMetrics) ObserveRequest(route string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[route]++
}

func (m *fakeMetrics) RecordThrottle(route string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttles[route]++
}

type harness struct {
	node    *core.Node
	server  *Server
	http    *httptest.Server
	metrics *fakeMetrics
	history *history.Store
}

func newHarness(t *testing.T, limits map[string]RateLimit) *harness {
	t.Helper()
	node, err := core.NewNode(storage.NewMemDB(), core.Options{
		Admin:      adminAddr,
		Collateral: core.AssetSpec{Symbol: "ETH", Name: "Ether", Decimals: 18},
		Debt:       core.AssetSpec{Symbol: "USD", Name: "Dollar", Decimals: 18},
		Lending:    lending.DefaultParams(),
		Score:      occr.DefaultParams(),
		Now:        func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	t.Cleanup(node.Close)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	hist, err := history.New(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hist.Close() })
	node.Subscribe(hist)

	idem, err := idempotency.Open(filepath.Join(t.TempDir(), "idem.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idem.Close() })

	metrics := newFakeMetrics()
	srv, err := New(Config{
		Node:        node,
		Auth:        AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "occr-test"},
		RateLimits:  limits,
		Idempotency: idem,
		History:     hist,
		Metrics:     metrics,
	})
	require.NoError(t, err)
	srv.auth.now = func() time.Time { return fixedNow }

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{node: node, server: srv, http: ts, metrics: metrics, history: hist}
}

func token(t *testing.T, subject common.Address, scopes ...string) string {
	t.Helper()
	tok, err := IssueToken(AuthConfig{HMACSecret: testSecret, Issuer: "occr-test"}, subject, scopes, time.Hour, fixedNow)
	require.NoError(t, err)
	return tok
}

type response struct {
	status int
	header http.Header
	body   map[string]interface{}
}

func (h *harness) do(t *testing.T, method, path, tok string, payload interface{}, headers map[string]string) response {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, h.http.URL+path, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := h.http.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	out := map[string]interface{}{}
	_ = json.NewDecoder(res.Body).Decode(&out)
	return response{status: res.StatusCode, header: res.Header, body: out}
}

func debtOf(t *testing.T, r response) string {
	t.Helper()
	account, ok := r.body["account"].(map[string]interface{})
	require.True(t, ok, "response carries no account: %v", r.body)
	position := account["position"].(map[string]interface{})
	return position["debt"].(string)
}

// setup funds alice with 1 ETH of collateral, seeds the pool and prices ETH
// at 2000 USD.
func (h *harness) setup(t *testing.T, verify bool) (adminTok, aliceTok string) {
	t.Helper()
	adminTok = token(t, adminAddr, ScopeAdmin)
	aliceTok = token(t, aliceAddr, ScopeLending)

	res := h.do(t, http.MethodPost, "/v1/admin/mint", adminTok, mintRequest{Asset: "ETH", To: aliceAddr.Hex(), Amount: ether(1).String()}, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	res = h.do(t, http.MethodPost, "/v1/admin/mint", adminTok, mintRequest{Asset: "USD", To: h.node.PoolAddress().Hex(), Amount: ether(1_000_000).String()}, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	res = h.do(t, http.MethodPost, "/v1/admin/price", adminTok, priceRequest{Price: ether(2000).String()}, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	require.Equal(t, ether(2000).String(), res.body["price"])

	for _, asset := range []string{"ETH", "USD"} {
		res = h.do(t, http.MethodPost, "/v1/tokens/"+asset+"/approve", aliceTok, tokenRequest{Amount: ether(1_000_000).String()}, nil)
		require.Equal(t, http.StatusOK, res.status, res.body)
	}
	if verify {
		res = h.do(t, http.MethodPost, "/v1/identity/verify", aliceTok, verifyRequest{Proof: "0xdeadbeef"}, nil)
		require.Equal(t, http.StatusOK, res.status, res.body)
		require.Equal(t, true, res.body["verified"])
	}
	res = h.do(t, http.MethodPost, "/v1/collateral/deposit", aliceTok, amountRequest{Amount: ether(1).String()}, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	return adminTok, aliceTok
}

func TestBorrowAndRepayOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	_, aliceTok := h.setup(t, true)

	res := h.do(t, http.MethodPost, "/v1/borrow", aliceTok, amountRequest{Amount: ether(1001).String()}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, res.status)
	require.Equal(t, nativecommon.KindExceedsLTV, res.body["error"])

	res = h.do(t, http.MethodPost, "/v1/borrow", aliceTok, amountRequest{Amount: ether(1000).String()}, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	require.Equal(t, ether(1000).String(), debtOf(t, res))

	res = h.do(t, http.MethodPost, "/v1/repay", aliceTok, amountRequest{Amount: ether(400).String()}, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	require.Equal(t, ether(400).String(), res.body["applied"])
	require.Equal(t, ether(600).String(), debtOf(t, res))

	res = h.do(t, http.MethodGet, "/v1/accounts/"+aliceAddr.Hex()+"/score", "", nil, nil)
	require.Equal(t, http.StatusOK, res.status)
	require.EqualValues(t, 1, res.body["borrows"])
	require.EqualValues(t, 1, res.body["repayments"])

	res = h.do(t, http.MethodGet, "/v1/market", "", nil, nil)
	require.Equal(t, http.StatusOK, res.status)
	require.Equal(t, ether(600).String(), res.body["totalDebt"])
	require.Equal(t, "ETH", res.body["collateralAsset"])
}

func TestBorrowRequiresIdentity(t *testing.T) {
	h := newHarness(t, nil)
	_, aliceTok := h.setup(t, false)

	res := h.do(t, http.MethodPost, "/v1/borrow", aliceTok, amountRequest{Amount: ether(10).String()}, nil)
	require.Equal(t, http.StatusForbidden, res.status)
	require.Equal(t, nativecommon.KindIdentityNotVerified, res.body["error"])
}

func TestAuthAndScopes(t *testing.T) {
	h := newHarness(t, nil)

	res := h.do(t, http.MethodPost, "/v1/borrow", "", amountRequest{Amount: "1"}, nil)
	require.Equal(t, http.StatusUnauthorized, res.status)

	res = h.do(t, http.MethodPost, "/v1/borrow", "garbage", amountRequest{Amount: "1"}, nil)
	require.Equal(t, http.StatusUnauthorized, res.status)

	aliceTok := token(t, aliceAddr, ScopeLending)
	res = h.do(t, http.MethodPost, "/v1/admin/price", aliceTok, priceRequest{Price: "1"}, nil)
	require.Equal(t, http.StatusForbidden, res.status)

	// Scope alone is not enough; the engine checks the admin address too.
	bobAdmin := token(t, bobAddr, ScopeAdmin)
	res = h.do(t, http.MethodPost, "/v1/admin/price", bobAdmin, priceRequest{Price: "1"}, nil)
	require.Equal(t, http.StatusForbidden, res.status)
	require.Equal(t, nativecommon.KindUnauthorized, res.body["error"])
}

func TestRejectsMalformedRequests(t *testing.T) {
	h := newHarness(t, nil)
	aliceTok := token(t, aliceAddr, ScopeLending)

	res := h.do(t, http.MethodPost, "/v1/borrow", aliceTok, map[string]string{"amount": "1", "extra": "x"}, nil)
	require.Equal(t, http.StatusBadRequest, res.status)

	res = h.do(t, http.MethodPost, "/v1/borrow", aliceTok, amountRequest{Amount: "-5"}, nil)
	require.Equal(t, http.StatusBadRequest, res.status)
	require.Equal(t, nativecommon.KindInvalidAmount, res.body["error"])

	res = h.do(t, http.MethodPost, "/v1/liquidate", aliceTok, borrowerRequest{Borrower: "nope", Amount: "1"}, nil)
	require.Equal(t, http.StatusBadRequest, res.status)

	res = h.do(t, http.MethodGet, "/v1/accounts/"+aliceAddr.Hex()+"/balances/DOGE", "", nil, nil)
	require.Equal(t, http.StatusNotFound, res.status)
}

func TestIdempotentBorrowReplays(t *testing.T) {
	h := newHarness(t, nil)
	_, aliceTok := h.setup(t, true)
	headers := map[string]string{idempotency.HeaderKey: "borrow-1"}

	first := h.do(t, http.MethodPost, "/v1/borrow", aliceTok, amountRequest{Amount: ether(100).String()}, headers)
	require.Equal(t, http.StatusOK, first.status, first.body)
	second := h.do(t, http.MethodPost, "/v1/borrow", aliceTok, amountRequest{Amount: ether(100).String()}, headers)
	require.Equal(t, http.StatusOK, second.status)
	require.Equal(t, "hit", second.header.Get(idempotency.HeaderCache))

	pos, err := h.node.Position(aliceAddr)
	require.NoError(t, err)
	require.Equal(t, ether(100), pos.Debt)

	conflict := h.do(t, http.MethodPost, "/v1/borrow", aliceTok, amountRequest{Amount: ether(5).String()}, headers)
	require.Equal(t, http.StatusConflict, conflict.status)
	require.Equal(t, "idempotency_conflict", conflict.body["error"])
	require.NotEmpty(t, conflict.body["message"])
}

func TestLiquidationOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	adminTok, aliceTok := h.setup(t, true)
	res := h.do(t, http.MethodPost, "/v1/borrow", aliceTok, amountRequest{Amount: ether(1000).String()}, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)

	res = h.do(t, http.MethodGet, "/v1/accounts?underwater=true", "", nil, nil)
	require.Equal(t, http.StatusOK, res.status)
	require.Empty(t, res.body["accounts"])

	res = h.do(t, http.MethodPost, "/v1/admin/price", adminTok, priceRequest{Price: ether(1000).String()}, nil)
	require.Equal(t, http.StatusOK, res.status)

	bobTok := token(t, bobAddr, ScopeLending)
	res = h.do(t, http.MethodPost, "/v1/admin/mint", adminTok, mintRequest{Asset: "USD", To: bobAddr.Hex(), Amount: ether(500).String()}, nil)
	require.Equal(t, http.StatusOK, res.status)
	res = h.do(t, http.MethodPost, "/v1/tokens/USD/approve", bobTok, tokenRequest{Amount: ether(500).String()}, nil)
	require.Equal(t, http.StatusOK, res.status)

	res = h.do(t, http.MethodPost, "/v1/liquidate", bobTok, borrowerRequest{Borrower: aliceAddr.Hex(), Amount: ether(100).String()}, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	require.Equal(t, ether(900).String(), debtOf(t, res))
	require.Equal(t, "105000000000000000", res.body["seized"])

	res = h.do(t, http.MethodGet, "/v1/accounts/"+bobAddr.Hex()+"/balances/eth", "", nil, nil)
	require.Equal(t, http.StatusOK, res.status)
	require.Equal(t, "105000000000000000", res.body["balance"])
}

func TestHistoryEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	_, aliceTok := h.setup(t, true)
	res := h.do(t, http.MethodPost, "/v1/borrow", aliceTok, amountRequest{Amount: ether(10).String()}, nil)
	require.Equal(t, http.StatusOK, res.status)

	res = h.do(t, http.MethodGet, "/v1/history?type="+events.TypeLendingBorrow+"&account="+aliceAddr.Hex(), "", nil, nil)
	require.Equal(t, http.StatusOK, res.status)
	list := res.body["events"].([]interface{})
	require.Len(t, list, 1)
	entry := list[0].(map[string]interface{})
	require.Equal(t, events.TypeLendingBorrow, entry["type"])
	require.Equal(t, ether(10).String(), entry["attributes"].(map[string]interface{})["amount"])

	res = h.do(t, http.MethodGet, "/v1/history?limit=x", "", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.status)
}

func TestRateLimitThrottlesReads(t *testing.T) {
	h := newHarness(t, map[string]RateLimit{LimitRead: {RequestsPerMinute: 1, Burst: 1}})

	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/price", "", nil, nil).status)
	res := h.do(t, http.MethodGet, "/v1/price", "", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, res.status)
	require.Equal(t, "1", res.header.Get("Retry-After"))

	h.metrics.mu.Lock()
	defer h.metrics.mu.Unlock()
	require.Equal(t, 1, h.metrics.throttles[LimitRead])
	require.Equal(t, 2, h.metrics.requests["/v1/price"])
}

func TestEventStreamDeliversCommittedEvents(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/v1/events/ws?account=" + crypto.Bech32(aliceAddr)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return h.server.Stream().Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.setup(t, true)

	seen := map[string]bool{}
	for !seen[events.TypeLendingDeposit] {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var evt struct {
			Type       string            `json:"type"`
			Attributes map[string]string `json:"attributes"`
		}
		require.NoError(t, json.Unmarshal(data, &evt))
		require.Equal(t, strings.ToLower(aliceAddr.Hex()), evt.Attributes["account"])
		seen[evt.Type] = true
	}
	require.True(t, seen[events.TypeTokenMinted])
}

func TestEventStreamRejectsMalformedAccount(t *testing.T) {
	h := newHarness(t, nil)
	res := h.do(t, http.MethodGet, "/v1/events/ws?account=occr1notanaddress", "", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.status)
	require.Equal(t, "bad_request", res.body["error"])
	require.NotEmpty(t, res.body["message"])
	require.Zero(t, h.server.Stream().Subscribers())
}

func TestPredicateEndpoints(t *testing.T) {
	h := newHarness(t, nil)

	res := h.do(t, http.MethodGet, "/v1/predicates/price?lte="+ether(2100).String(), "", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, res.status)
	require.Equal(t, nativecommon.KindStaleOrInvalidPrice, res.body["error"])

	h.setup(t, true)

	res = h.do(t, http.MethodGet, "/v1/predicates/price?lte="+ether(2100).String(), "", nil, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	require.Equal(t, true, res.body["holds"])
	require.Equal(t, ether(2000).String(), res.body["price"])

	res = h.do(t, http.MethodGet, "/v1/predicates/price?gte="+ether(2100).String(), "", nil, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	require.Equal(t, false, res.body["holds"])

	res = h.do(t, http.MethodGet, "/v1/predicates/price?lte=1&gte=1", "", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.status)

	res = h.do(t, http.MethodGet, "/v1/predicates/risk/"+aliceAddr.Hex(), "", nil, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	require.Equal(t, false, res.body["holds"])
	require.EqualValues(t, 1_000_000, res.body["riskMicro"])
	require.EqualValues(t, occr.DefaultMaxRiskMicro, res.body["maxRiskMicro"])

	res = h.do(t, http.MethodGet, "/v1/predicates/risk/"+crypto.Bech32(aliceAddr)+"?max=1000000", "", nil, nil)
	require.Equal(t, http.StatusOK, res.status, res.body)
	require.Equal(t, true, res.body["holds"])

	res = h.do(t, http.MethodGet, "/v1/predicates/risk/"+aliceAddr.Hex()+"?max=-1", "", nil, nil)
	require.Equal(t, http.StatusBadRequest, res.status)
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, nil)
	res := h.do(t, http.MethodGet, "/healthz", "", nil, nil)
	require.Equal(t, http.StatusOK, res.status)
	require.Equal(t, "ok", res.body["status"])
}

func TestStatusForKind(t *testing.T) {
	cases := map[string]int{
		nativecommon.KindUnauthorized:        http.StatusForbidden,
		nativecommon.KindExceedsLTV:          http.StatusUnprocessableEntity,
		nativecommon.KindInvalidAmount:       http.StatusBadRequest,
		nativecommon.KindStaleOrInvalidPrice: http.StatusServiceUnavailable,
		nativecommon.KindPaused:              http.StatusServiceUnavailable,
		nativecommon.KindReentrant:           http.StatusConflict,
		nativecommon.KindInternal:            http.StatusInternalServerError,
	}
	for kind, want := range cases {
		require.Equal(t, want, statusForKind(kind), kind)
	}
}
