package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)
	require.NotNil(t, m)

	// A second set on the same registry must collide.
	assert.Panics(t, func() { NewMetricsWithRegistry(reg) })
}

func TestMetrics_RecordProduce(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())
	ctx := context.Background()

	m.RecordProduce(ctx, true, 2*time.Millisecond, 100)
	m.RecordProduce(ctx, true, time.Millisecond, 50)
	m.RecordProduce(ctx, false, time.Millisecond, 999)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.produceTotal.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.produceTotal.WithLabelValues(ResultFailure)))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.produceBytesTotal), "failed produces do not count bytes")
	assert.Equal(t, 1, testutil.CollectAndCount(m.produceDuration))
}

func TestMetrics_RecordErrorAndRegistration(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordError("produce", "contract_violation")
	m.RecordError("produce", "contract_violation")
	m.RecordError("parse_ekey", "encoding_failure")
	m.RecordEKeyRegistration(true)
	m.RecordEKeyRegistration(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues("produce", "contract_violation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues("parse_ekey", "encoding_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ekeyRegistrations.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ekeyRegistrations.WithLabelValues(ResultFailure)))
}

func TestMetrics_RecordStoreOperation(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordStoreOperation(context.Background(), "put", "redis", time.Millisecond)
	m.RecordStoreError("get", "redis", "not_found")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeOperationsTotal.WithLabelValues("put", "redis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeOperationErrors.WithLabelValues("get", "redis", "not_found")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordHTTPRequest(ctx, "GET", "/health", http.StatusOK, time.Millisecond, 10)
		m.RecordProduce(ctx, true, time.Millisecond, 10)
		m.RecordError("produce", "crypto_failure")
		m.RecordEKeyRegistration(true)
		m.RecordStoreOperation(ctx, "put", "memory", time.Millisecond)
		m.RecordStoreError("put", "memory", "internal")
		_ = m.Handler()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())
	m.RecordHTTPRequest(context.Background(), "PUT", "/v1/objects/alice/photo1", http.StatusCreated, 10*time.Millisecond, 64)
	m.RecordProduce(context.Background(), true, time.Millisecond, 11)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	for _, name := range []string{"http_requests_total", "nac_produce_total", "nac_produce_bytes_total", "nac_produce_duration_seconds"} {
		assert.Contains(t, body, name)
	}
}
