// Package metrics registers the prometheus collectors shared across the
// EAS engine, grounded on the rate-limiter metrics pattern in the
// teacher's internal/httputil/rate_limiting.go (namespace/subsystem
// counter vectors, registered once via sync.Once). Every collector below is
// registered; only RateLimitRejections is updated by code (the httputil
// rate limiter), and the others stay at zero.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var registerOnce sync.Once

var (
	// WBXMLDecodeErrors counts codec failures by ErrorKind.
	WBXMLDecodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "excore",
		Subsystem: "wbxml",
		Name:      "decode_errors_total",
		Help:      "Total WBXML decode failures by error kind.",
	}, []string{"kind"})

	// SyncBatches counts Sync command outcomes by collection status code.
	SyncBatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "excore",
		Subsystem: "sync",
		Name:      "batches_total",
		Help:      "Total Sync batches produced by collection status.",
	}, []string{"status"})

	// SyncResponseBytes observes the size of encoded Sync responses.
	SyncResponseBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "excore",
		Subsystem: "sync",
		Name:      "response_bytes",
		Help:      "Size in bytes of encoded Sync command responses.",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
	})

	// PingWaits counts Ping outcomes (changed, heartbeat, error, abandoned).
	PingWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "excore",
		Subsystem: "ping",
		Name:      "waits_total",
		Help:      "Total Ping long-poll completions by outcome.",
	}, []string{"outcome"})

	// ProvisioningHandshakes counts phase completions by phase and status.
	ProvisioningHandshakes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "excore",
		Subsystem: "provision",
		Name:      "handshakes_total",
		Help:      "Total Provisioning handshake phases by phase and status.",
	}, []string{"phase", "status"})

	// RateLimitRejections counts requests rejected by the HTTP rate limiter.
	RateLimitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "excore",
		Subsystem: "http",
		Name:      "rate_limit_rejections_total",
		Help:      "Total requests rejected by rate limiting.",
	}, []string{"endpoint"})
)

// Register installs every collector with the default registry. Safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			WBXMLDecodeErrors,
			SyncBatches,
			SyncResponseBytes,
			PingWaits,
			ProvisioningHandshakes,
			RateLimitRejections,
		)
	})
}
