// Package metrics exposes the Prometheus collectors for the securities
// service layer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "securities_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "securities_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "securities_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ledgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "securities_layer",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of ledger mutations by operation and outcome.",
		},
		[]string{"op", "status"},
	)

	orderActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "securities_layer",
			Subsystem: "orderbook",
			Name:      "actions_total",
			Help:      "Total number of order lifecycle actions by outcome.",
		},
		[]string{"action", "status"},
	)

	orderFillQuantity = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "securities_layer",
			Subsystem: "orderbook",
			Name:      "fill_quantity",
			Help:      "Share quantity moved per successful fill.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 12),
		},
	)

	dividendActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "securities_layer",
			Subsystem: "dividends",
			Name:      "actions_total",
			Help:      "Total number of dividend actions by outcome.",
		},
		[]string{"action", "status"},
	)

	dividendClaimAmount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "securities_layer",
			Subsystem: "dividends",
			Name:      "claim_amount",
			Help:      "Payout units transferred per successful claim.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 12),
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerOperations,
		orderActions,
		orderFillQuantity,
		dividendActions,
		dividendClaimAmount,
	)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// LedgerOperation records the outcome of a ledger mutation.
func LedgerOperation(op string, err error) {
	ledgerOperations.WithLabelValues(op, status(err)).Inc()
}

// OrderAction records the outcome of an order lifecycle action.
func OrderAction(action string, err error) {
	orderActions.WithLabelValues(action, status(err)).Inc()
}

// OrderFilled records the share quantity of a successful fill.
func OrderFilled(quantity uint64) {
	orderFillQuantity.Observe(float64(quantity))
}

// DividendAction records the outcome of a dividend action.
func DividendAction(action string, err error) {
	dividendActions.WithLabelValues(action, status(err)).Inc()
}

// DividendClaimed records the payout of a successful claim.
func DividendClaimed(amount uint64) {
	dividendClaimAmount.Observe(float64(amount))
}

// Handler returns the HTTP handler serving the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request metrics.
func InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlight.Inc()
		defer httpInFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
