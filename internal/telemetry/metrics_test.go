package telemetry

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveLoopIncrementsRequestCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveLoop("completed", 3, 2*time.Second)

	if count := testutil.CollectAndCount(m.LoopRequests); count != 1 {
		t.Fatalf("expected one label combination, got %d", count)
	}
	expected := `
		# HELP orchestrator_loop_requests_total Total HandleMessage invocations by outcome
		# TYPE orchestrator_loop_requests_total counter
		orchestrator_loop_requests_total{outcome="completed"} 1
	`
	if err := testutil.CollectAndCompare(m.LoopRequests, strings.NewReader(expected), "orchestrator_loop_requests_total"); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestObserveToolCallLabelsByStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveToolCall("web_search", "success", 100*time.Millisecond)
	m.ObserveToolCall("web_search", "error", 50*time.Millisecond)

	if count := testutil.CollectAndCount(m.ToolCallCounter); count != 2 {
		t.Fatalf("expected two label combinations, got %d", count)
	}
}

func TestSetPoolSizeIsAGaugeNotACounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetPoolSize("waiting_for_input", 5)
	m.SetPoolSize("waiting_for_input", 2)

	expected := `
		# HELP orchestrator_pool_size Current number of parked agent instances by status
		# TYPE orchestrator_pool_size gauge
		orchestrator_pool_size{status="waiting_for_input"} 2
	`
	if err := testutil.CollectAndCompare(m.PoolSize, strings.NewReader(expected), "orchestrator_pool_size"); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestRecordApprovalResolutionUpdatesLatencyAndOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordApprovalResolution("approve", 30*time.Second)

	if count := testutil.CollectAndCount(m.ApprovalOutcomes); count != 1 {
		t.Fatalf("expected one outcome label, got %d", count)
	}
	if count := testutil.CollectAndCount(m.ApprovalLatency); count != 1 {
		t.Fatalf("expected the latency histogram to be collected as one metric, got %d", count)
	}
}

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveLoop("completed", 1, time.Second)
	m.ObserveToolCall("x", "success", time.Second)
	m.ObserveLLMRequest("anthropic", "claude", "success", time.Second, 10, 20)
	m.SetPoolSize("waiting_for_input", 1)
	m.RecordEviction("ttl_expired")
	m.RecordApprovalResolution("approve", time.Second)
	m.RecordContextTrim("force_trim")
}
