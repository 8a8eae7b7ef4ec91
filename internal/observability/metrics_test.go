package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	m := NewTestMetrics()

	m.ChatRequests.WithLabelValues("local", "success").Inc()
	m.ChatRequests.WithLabelValues("local", "success").Inc()
	m.ToolExecutions.WithLabelValues("query_timesheets", "").Inc()
	m.ToolExecutions.WithLabelValues("query_timesheets", "timeout").Inc()
	m.CacheLookups.WithLabelValues("hit").Inc()

	if got := testutil.ToFloat64(m.ChatRequests.WithLabelValues("local", "success")); got != 2 {
		t.Errorf("chat requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutions.WithLabelValues("query_timesheets", "timeout")); got != 1 {
		t.Errorf("timed-out tool executions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")); got != 0 {
		t.Errorf("cache misses = %v, want 0", got)
	}
}
