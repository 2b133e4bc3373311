package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherNames(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func TestOriginMetricsContract(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewOriginMetrics(reg)

	m.DBHits.Inc()
	m.FallbackOK.Inc()
	m.FallbackFail.WithLabelValues("timeout").Inc()
	m.RequestDuration.WithLabelValues("POST", "/translate").Observe(0.01)

	names := gatherNames(t, reg)
	// These names are part of the scrape contract.
	for _, want := range []string{"db_hit_total", "fallback_ok_total", "fallback_fail_total", "request_duration_seconds"} {
		if _, ok := names[want]; !ok {
			t.Errorf("metric %q not exported", want)
		}
	}
	if got := names["db_hit_total"].GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("db_hit_total = %v, want 1", got)
	}
}

func TestEdgeMetricsNamespaced(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewEdgeMetrics(reg)

	m.CacheHits.Inc()
	m.QuotaRejects.Inc()

	for name := range gatherNames(t, reg) {
		if !strings.HasPrefix(name, "edge_") {
			t.Errorf("edge metric %q missing namespace", name)
		}
	}
}
