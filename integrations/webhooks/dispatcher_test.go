package webhooks

import (
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"occrlend/core/events"
)

var borrower = common.HexToAddress("0x0000000000000000000000000000000000000001")

func liquidation() events.LendingLiquidation {
	return events.LendingLiquidation{
		Borrower:   borrower,
		Repaid:     big.NewInt(100),
		Seized:     big.NewInt(7),
		Debt:       big.NewInt(900),
		Collateral: big.NewInt(93),
	}
}

func TestDispatcherSignsForwardedEvents(t *testing.T) {
	secret := []byte("secret")
	var (
		mu       sync.Mutex
		received []Payload
		verified = true
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		var payload Payload
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		mu.Lock()
		received = append(received, payload)
		if !Verify(secret, body, r.Header.Get(HeaderSignature)) || r.Header.Get(HeaderEvent) != payload.Type {
			verified = false
		}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher, err := NewDispatcher(server.URL, secret)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	dispatcher.Emit(events.LendingBorrow{User: borrower, Amount: big.NewInt(1), Debt: big.NewInt(1)})
	dispatcher.Emit(liquidation())

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(received)
	}
	waitFor(func() bool { return count() >= 1 }, time.Second)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected only the liquidation to be forwarded, got %d deliveries", len(received))
	}
	if received[0].Type != events.TypeLendingLiquidation || received[0].Attributes["seized"] != "7" {
		t.Fatalf("unexpected payload %+v", received[0])
	}
	if received[0].DeliveryID == "" {
		t.Fatalf("expected a delivery id")
	}
	if !verified {
		t.Fatalf("signature or event header mismatch")
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"),
		WithRetryPolicy(5, 10*time.Millisecond, 20*time.Millisecond),
		WithEventTypes(events.TypeLendingBorrow),
	)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	dispatcher.Emit(events.LendingBorrow{User: borrower, Amount: big.NewInt(1), Debt: big.NewInt(1)})
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestNewDispatcherValidates(t *testing.T) {
	if _, err := NewDispatcher(" ", []byte("s")); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := NewDispatcher("http://localhost", nil); err == nil {
		t.Fatalf("expected secret error")
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	secret := []byte("k")
	sig := Sign(secret, []byte(`{"a":1}`))
	if !Verify(secret, []byte(`{"a":1}`), sig) {
		t.Fatalf("expected signature to verify")
	}
	if Verify(secret, []byte(`{"a":2}`), sig) {
		t.Fatalf("tampered body verified")
	}
}

func TestNextBackoffCaps(t *testing.T) {
	if got := nextBackoff(time.Second, 3*time.Second); got != 2*time.Second {
		t.Fatalf("unexpected backoff %v", got)
	}
	if got := nextBackoff(2*time.Second, 3*time.Second); got != 3*time.Second {
		t.Fatalf("backoff not capped: %v", got)
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}
