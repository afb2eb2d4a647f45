package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"occrlend/core/events"
)

func TestLendingMetricsRecordOperations(t *testing.T) {
	m := Lending()
	beforeOK := testutil.ToFloat64(m.operations.WithLabelValues("lending.borrow", "ok"))
	beforeLTV := testutil.ToFloat64(m.operations.WithLabelValues("lending.borrow", "exceeds_ltv"))

	m.ObserveOperation("lending.borrow", "", 3*time.Millisecond)
	m.ObserveOperation("lending.borrow", "exceeds_ltv", time.Millisecond)

	if got := testutil.ToFloat64(m.operations.WithLabelValues("lending.borrow", "ok")) - beforeOK; got != 1 {
		t.Fatalf("expected one ok borrow, got %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("lending.borrow", "exceeds_ltv")) - beforeLTV; got != 1 {
		t.Fatalf("expected one rejected borrow, got %v", got)
	}
}

func TestLendingMetricsCountEvents(t *testing.T) {
	m := Lending()
	before := testutil.ToFloat64(m.events.WithLabelValues(events.TypeLendingBorrow))
	m.Emit(events.LendingBorrow{Amount: big.NewInt(1), Debt: big.NewInt(1)})
	m.Emit(nil)
	if got := testutil.ToFloat64(m.events.WithLabelValues(events.TypeLendingBorrow)) - before; got != 1 {
		t.Fatalf("expected one borrow event, got %v", got)
	}
}

func TestLendingMetricsRegistered(t *testing.T) {
	m := Lending()
	m.ObserveOperation("lending.deposit", "", time.Millisecond)
	m.ObserveRequest("/v1/borrow", 200)
	m.RecordThrottle("/v1/borrow")

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	for _, name := range []string{
		"occr_node_operations_total",
		"occr_node_operation_duration_seconds",
		"occr_api_requests_total",
		"occr_api_throttles_total",
	} {
		if _, ok := byName[name]; !ok {
			t.Fatalf("metric %s not registered", name)
		}
	}
	if byName["occr_node_operation_duration_seconds"].GetType() != dto.MetricType_HISTOGRAM {
		t.Fatalf("latency metric is not a histogram")
	}
}
