package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ExecutionStarted()
	m.ExecutionFailed()
	m.IncompleteInput()
	m.ArbiterGrant()
	m.ArbiterTimeout()
	m.PendingCallsAdd(1)
	m.NotificationDropped()
	m.RPCRequest()
	m.RPCRateLimited()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("nil metrics handler should 404, got %d", rec.Code)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ExecutionStarted()
	m.RPCRequest()
	m.PendingCallsAdd(2)
	m.PendingCallsAdd(-1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("metrics endpoint failed: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"kernel_executions_started_total 1",
		"kernel_rpc_requests_total 1",
		"kernel_dispatch_pending_calls 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metric %q missing from exposition:\n%s", want, body)
		}
	}
}
