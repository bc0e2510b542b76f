package core

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics is the injected side-effect sink spec.md §9 describes ("treat as
// a pure side effect over an injected sink; do not thread through return
// values"). Adapted from the teacher's HealthLogger
// (core/system_health_logging.go): a private Prometheus registry plus a
// JSON-formatted logrus logger, with the gauges/counters/histogram spec.md
// §4.5/§7 names instead of the teacher's chain-health snapshot.
type Metrics struct {
	log  *logrus.Logger
	file *os.File
	mu   sync.Mutex

	registry *prometheus.Registry

	storeSize        prometheus.Gauge
	retryQueueDropped prometheus.Counter
	maxRetriesTotal   prometheus.Counter
	duplicateTotal    prometheus.Counter

	receivedByLeader *prometheus.HistogramVec
	sendTimeout      *prometheus.CounterVec
	sendError        *prometheus.CounterVec
	confirmationTotal *prometheus.CounterVec
}

// NewMetrics configures a Metrics instance writing JSON logs to path.
func NewMetrics(path string) (*Metrics, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	lg := logrus.New()
	lg.SetFormatter(&logrus.JSONFormatter{})
	lg.SetOutput(f)
	reg := prometheus.NewRegistry()

	m := &Metrics{log: lg, file: f, registry: reg}

	m.storeSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "transactions_store_size",
		Help: "Current number of resident in-flight transactions.",
	})
	m.retryQueueDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transactions_retry_queue_dropped",
		Help: "Total number of records evicted by load-shed.",
	})
	m.maxRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transactions_max_retries_total",
		Help: "Total number of records evicted for reaching max_retries.",
	})
	m.duplicateTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transactions_duplicate_submission_total",
		Help: "Total number of submissions that matched an already-resident signature.",
	})
	m.receivedByLeader = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "transactions_received_by_leader_seconds",
		Help: "Latency of a successful send to a leader.",
	}, []string{"leader_index", "api_key", "retry"})
	m.sendTimeout = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transactions_send_timeout_total",
		Help: "Total number of per-attempt send timeouts.",
	}, []string{"api_key", "retry"})
	m.sendError = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transactions_send_error_total",
		Help: "Total number of per-attempt transport errors.",
	}, []string{"api_key", "retry", "last_attempt"})
	m.confirmationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transactions_confirmation_total",
		Help: "Total confirmation-watcher outcomes.",
	}, []string{"api_key", "outcome"})

	reg.MustRegister(
		m.storeSize,
		m.retryQueueDropped,
		m.maxRetriesTotal,
		m.duplicateTotal,
		m.receivedByLeader,
		m.sendTimeout,
		m.sendError,
		m.confirmationTotal,
	)

	return m, nil
}

// Close releases the underlying log file.
func (m *Metrics) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}

// LogEvent records an arbitrary message with the given log level.
func (m *Metrics) LogEvent(level logrus.Level, msg string, fields logrus.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.WithFields(fields).Log(level, msg)
}

// SetStoreSize updates the store-size gauge.
func (m *Metrics) SetStoreSize(n int) { m.storeSize.Set(float64(n)) }

// AddRetryQueueDropped increments the load-shed drop counter by n.
func (m *Metrics) AddRetryQueueDropped(n int) { m.retryQueueDropped.Add(float64(n)) }

// IncMaxRetries increments the max-retries eviction counter.
func (m *Metrics) IncMaxRetries() { m.maxRetriesTotal.Inc() }

// IncDuplicate increments the duplicate-submission counter.
func (m *Metrics) IncDuplicate() { m.duplicateTotal.Inc() }

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// ObserveReceivedByLeader records a successful send's latency.
func (m *Metrics) ObserveReceivedByLeader(leaderIndex, apiKey string, retry bool, seconds float64) {
	m.receivedByLeader.WithLabelValues(leaderIndex, apiKey, boolLabel(retry)).Observe(seconds)
}

// IncSendTimeout records a per-attempt send timeout.
func (m *Metrics) IncSendTimeout(apiKey string, retry bool) {
	m.sendTimeout.WithLabelValues(apiKey, boolLabel(retry)).Inc()
}

// IncSendError records a per-attempt transport error.
func (m *Metrics) IncSendError(apiKey string, retry, lastAttempt bool) {
	m.sendError.WithLabelValues(apiKey, boolLabel(retry), boolLabel(lastAttempt)).Inc()
}

// IncConfirmation records a confirmation-watcher outcome ("landed" or
// "not_landed").
func (m *Metrics) IncConfirmation(apiKey, outcome string) {
	m.confirmationTotal.WithLabelValues(apiKey, outcome).Inc()
}

// StartServer exposes the registry over /metrics on addr, returning the
// underlying http.Server so callers may manage its lifecycle.
func (m *Metrics) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.LogEvent(logrus.ErrorLevel, err.Error(), nil)
		}
	}()
	return srv
}

// ShutdownServer gracefully stops the metrics HTTP server.
func (m *Metrics) ShutdownServer(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
