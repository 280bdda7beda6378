package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

// Produce results used as the result label.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestBytes    *prometheus.CounterVec

	produceTotal      *prometheus.CounterVec
	produceDuration   prometheus.Histogram
	produceBytesTotal prometheus.Counter
	errorsTotal       *prometheus.CounterVec
	ekeyRegistrations *prometheus.CounterVec

	storeOperationsTotal   *prometheus.CounterVec
	storeOperationDuration *prometheus.HistogramVec
	storeOperationErrors   *prometheus.CounterVec
}

// NewMetrics creates metrics registered on the default Prometheus registry.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWithRegistry creates metrics registered on reg.
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		httpRequestBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_request_bytes_total",
				Help: "Total bytes transferred in HTTP responses",
			},
			[]string{"method", "path"},
		),
		produceTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nac_produce_total",
				Help: "Total number of produce operations",
			},
			[]string{"result"},
		),
		produceDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nac_produce_duration_seconds",
				Help:    "Produce operation duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		produceBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nac_produce_bytes_total",
				Help: "Total plaintext bytes encrypted by successful produce operations",
			},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nac_errors_total",
				Help: "Total number of failed operations by error kind",
			},
			[]string{"operation", "kind"},
		),
		ekeyRegistrations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nac_ekey_registrations_total",
				Help: "Total number of encryption key registrations",
			},
			[]string{"result"},
		),
		storeOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nac_store_operations_total",
				Help: "Total number of object store operations",
			},
			[]string{"operation", "backend"},
		),
		storeOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nac_store_operation_duration_seconds",
				Help:    "Object store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		storeOperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nac_store_operation_errors_total",
				Help: "Total number of object store operation errors",
			},
			[]string{"operation", "backend", "error_type"},
		),
	}
}

// getExemplar returns the trace id of the span in ctx as exemplar labels,
// or nil when ctx carries no valid span.
func getExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.TraceID().IsValid() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}

func addCounter(ctx context.Context, c prometheus.Counter, v float64) {
	if ex := getExemplar(ctx); ex != nil {
		if adder, ok := c.(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(v, ex)
			return
		}
	}
	c.Add(v)
}

func observe(ctx context.Context, o prometheus.Observer, v float64) {
	if ex := getExemplar(ctx); ex != nil {
		if eo, ok := o.(prometheus.ExemplarObserver); ok {
			eo.ObserveWithExemplar(v, ex)
			return
		}
	}
	o.Observe(v)
}

// sanitizePathLabel collapses object names out of request paths so the
// path label stays low cardinality.
func sanitizePathLabel(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "/"
	}
	segs := strings.Split(trimmed, "/")
	keep := 1
	if segs[0] == "v1" {
		keep = 2
	}
	if len(segs) <= keep {
		return "/" + strings.Join(segs, "/")
	}
	return "/" + strings.Join(segs[:keep], "/") + "/*"
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration, bytes int64) {
	if m == nil {
		return
	}
	path = sanitizePathLabel(path)
	statusText := http.StatusText(status)
	addCounter(ctx, m.httpRequestsTotal.WithLabelValues(method, path, statusText), 1)
	observe(ctx, m.httpRequestDuration.WithLabelValues(method, path, statusText), duration.Seconds())
	m.httpRequestBytes.WithLabelValues(method, path).Add(float64(bytes))
}

// RecordProduce records a completed produce operation. Plaintext bytes are
// only counted on success.
func (m *Metrics) RecordProduce(ctx context.Context, success bool, duration time.Duration, plaintextBytes int) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if !success {
		result = ResultFailure
	}
	addCounter(ctx, m.produceTotal.WithLabelValues(result), 1)
	observe(ctx, m.produceDuration, duration.Seconds())
	if success {
		m.produceBytesTotal.Add(float64(plaintextBytes))
	}
}

// RecordError records a failed operation by error kind.
func (m *Metrics) RecordError(operation, kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(operation, kind).Inc()
}

// RecordEKeyRegistration records an encryption key registration attempt.
func (m *Metrics) RecordEKeyRegistration(success bool) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if !success {
		result = ResultFailure
	}
	m.ekeyRegistrations.WithLabelValues(result).Inc()
}

// RecordStoreOperation records an object store operation metric.
func (m *Metrics) RecordStoreOperation(ctx context.Context, operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	addCounter(ctx, m.storeOperationsTotal.WithLabelValues(operation, backend), 1)
	observe(ctx, m.storeOperationDuration.WithLabelValues(operation, backend), duration.Seconds())
}

// RecordStoreError records an object store operation error.
func (m *Metrics) RecordStoreError(operation, backend, errorType string) {
	if m == nil {
		return
	}
	m.storeOperationErrors.WithLabelValues(operation, backend, errorType).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
