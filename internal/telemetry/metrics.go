// Package telemetry provides observability primitives for the Bhasha services.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OriginMetrics holds the Prometheus collectors for the origin
// translator. The translation counters keep their bare names because
// they are part of the scrape contract.
type OriginMetrics struct {
	DBHits          prometheus.Counter
	FallbackOK      prometheus.Counter
	FallbackFail    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
}

// NewOriginMetrics creates and registers the origin collectors.
func NewOriginMetrics(reg prometheus.Registerer) *OriginMetrics {
	m := &OriginMetrics{
		DBHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "db_hit_total",
			Help: "Total translations resolved from the phrase store.",
		}),
		FallbackOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fallback_ok_total",
			Help: "Total successful LM fallback translations.",
		}),
		FallbackFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fallback_fail_total",
			Help: "Total failed LM fallback attempts.",
		}, []string{"reason"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backend_cache_hits_total",
			Help: "Total origin response cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backend_cache_misses_total",
			Help: "Total origin response cache misses.",
		}),
	}
	reg.MustRegister(
		m.DBHits,
		m.FallbackOK,
		m.FallbackFail,
		m.RequestDuration,
		m.RequestsTotal,
		m.CacheHits,
		m.CacheMisses,
	)
	return m
}

// EdgeMetrics holds the Prometheus collectors for the edge gateway.
type EdgeMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	CacheDegraded   prometheus.Counter
	QuotaRejects    prometheus.Counter
	UpstreamErrors  *prometheus.CounterVec
	KeysMinted      prometheus.Counter
}

// NewEdgeMetrics creates and registers the edge collectors.
func NewEdgeMetrics(reg prometheus.Registerer) *EdgeMetrics {
	m := &EdgeMetrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edge",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "edge",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edge",
			Name:      "cache_hits_total",
			Help:      "Total edge response cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edge",
			Name:      "cache_misses_total",
			Help:      "Total edge response cache misses.",
		}),
		CacheDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edge",
			Name:      "cache_degraded_total",
			Help:      "Total requests served with the cache store unreachable.",
		}),
		QuotaRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edge",
			Name:      "quota_rejects_total",
			Help:      "Total pro requests rejected over the daily quota.",
		}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "edge",
			Name:      "upstream_errors_total",
			Help:      "Total upstream origin errors.",
		}, []string{"status"}),
		KeysMinted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edge",
			Name:      "keys_minted_total",
			Help:      "Total API keys minted from verified webhooks.",
		}),
	}
	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.CacheHits,
		m.CacheMisses,
		m.CacheDegraded,
		m.QuotaRejects,
		m.UpstreamErrors,
		m.KeysMinted,
	)
	return m
}
