package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"fuelerp/backend/internal/domain"
)

const namespace = "fuelerp"

var (
	intakeDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "decisions_total",
			Help:      "Count of intake decisions by decision and whether the delivery was committed.",
		},
		[]string{"decision", "committed"},
	)
	overflowCreatedLiters = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "overflow",
			Name:      "created_liters_total",
			Help:      "Liters moved into overflow storage by committed deliveries.",
		},
	)
	rttExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rtt",
			Name:      "executions_total",
			Help:      "Count of return-to-tank requests by result kind.",
		},
		[]string{"result"},
	)
	rttReturnedLiters = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rtt",
			Name:      "returned_liters_total",
			Help:      "Liters returned from overflow storage into tanks.",
		},
	)
	raceDetections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "race_detected_total",
			Help:      "Count of write requests rejected because tank state changed under the lock.",
		},
		[]string{"operation"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route", "status"},
	)
)

var registerMetrics sync.Once

// Register all metrics with the default registry.
func Register() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(intakeDecisions)
		prometheus.MustRegister(overflowCreatedLiters)
		prometheus.MustRegister(rttExecutions)
		prometheus.MustRegister(rttReturnedLiters)
		prometheus.MustRegister(raceDetections)
		prometheus.MustRegister(httpDuration)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordIntakeDecision counts a prevalidation (committed=false) or a submitted delivery.
func RecordIntakeDecision(decision domain.Decision, committed bool) {
	intakeDecisions.WithLabelValues(string(decision), strconv.FormatBool(committed)).Inc()
}

func RecordOverflowCreated(liters decimal.Decimal) {
	overflowCreatedLiters.Add(liters.InexactFloat64())
}

// RecordRTT counts one return-to-tank attempt. result is "ok" or an error kind.
func RecordRTT(result string, returned decimal.Decimal) {
	rttExecutions.WithLabelValues(result).Inc()
	if returned.IsPositive() {
		rttReturnedLiters.Add(returned.InexactFloat64())
	}
}

func RecordRaceDetected(operation string) {
	raceDetections.WithLabelValues(operation).Inc()
}

func ObserveHTTPRequest(method string, route string, status int, elapsed time.Duration) {
	httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
