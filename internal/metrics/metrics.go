// Package metrics exposes the orchestrator's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "beaconator",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beaconator",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "beaconator",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	txSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beaconator",
			Subsystem: "tx",
			Name:      "submissions_total",
			Help:      "Transaction submissions by final outcome.",
		},
		[]string{"outcome"},
	)

	txConfirmation = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "beaconator",
			Subsystem: "tx",
			Name:      "confirmation_duration_seconds",
			Help:      "Time from submission to confirmed receipt.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 500ms to ~4m
		},
	)

	nonceConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "beaconator",
			Subsystem: "tx",
			Name:      "nonce_conflicts_total",
			Help:      "Nonce conflicts observed during submission.",
		},
	)

	endpointFailovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "beaconator",
			Subsystem: "tx",
			Name:      "endpoint_failovers_total",
			Help:      "Submissions that advanced to a fallback RPC endpoint.",
		},
	)

	leaseAcquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "beaconator",
			Subsystem: "wallet",
			Name:      "lease_acquisitions_total",
			Help:      "Wallet lease acquisition attempts by result.",
		},
		[]string{"result"},
	)

	leaseWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "beaconator",
			Subsystem: "wallet",
			Name:      "lease_wait_seconds",
			Help:      "Time spent waiting for a wallet lease.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		txSubmissions,
		txConfirmation,
		nonceConflicts,
		endpointFailovers,
		leaseAcquisitions,
		leaseWait,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// HTTPInFlightInc marks a request as started.
func HTTPInFlightInc() { httpInFlight.Inc() }

// HTTPInFlightDec marks a request as finished.
func HTTPInFlightDec() { httpInFlight.Dec() }

// RecordHTTPRequest records one handled request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSubmission records a transaction submission's final outcome.
func RecordSubmission(outcome string) {
	txSubmissions.WithLabelValues(outcome).Inc()
}

// RecordConfirmation records the submission-to-receipt latency.
func RecordConfirmation(duration time.Duration) {
	txConfirmation.Observe(duration.Seconds())
}

// RecordNonceConflict counts a nonce conflict during submission.
func RecordNonceConflict() { nonceConflicts.Inc() }

// RecordEndpointFailover counts a fallback to an alternate RPC endpoint.
func RecordEndpointFailover() { endpointFailovers.Inc() }

// RecordLeaseAcquisition records one lease acquisition attempt.
func RecordLeaseAcquisition(result string, wait time.Duration) {
	leaseAcquisitions.WithLabelValues(result).Inc()
	leaseWait.Observe(wait.Seconds())
}
