package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/nac-producer/internal/config"
)

// mockWriter is a thread-safe mock writer that can fail its first calls.
type mockWriter struct {
	mu       sync.Mutex
	events   []*AuditEvent
	failures int
	calls    int
}

func (w *mockWriter) WriteEvent(event *AuditEvent) error {
	return w.WriteBatch([]*AuditEvent{event})
}

func (w *mockWriter) WriteBatch(events []*AuditEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls <= w.failures {
		return errors.New("sink unavailable")
	}
	w.events = append(w.events, events...)
	return nil
}

func (w *mockWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

func TestBatchSink(t *testing.T) {
	mock := &mockWriter{}
	sink := NewBatchSink(mock, 5, 100*time.Millisecond, 0, 0)
	defer sink.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, sink.WriteEvent(&AuditEvent{Operation: fmt.Sprintf("op-%d", i)}))
	}
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, mock.count(), "partial batch waits for the flush interval")

	assert.Eventually(t, func() bool { return mock.count() == 3 }, time.Second, 10*time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, sink.WriteEvent(&AuditEvent{Operation: fmt.Sprintf("op-batch-%d", i)}))
	}
	assert.Eventually(t, func() bool { return mock.count() == 8 }, time.Second, 5*time.Millisecond)
}

func TestBatchSink_FlushOnClose(t *testing.T) {
	mock := &mockWriter{}
	sink := NewBatchSink(mock, 100, time.Hour, 0, 0)

	require.NoError(t, sink.WriteEvent(&AuditEvent{Operation: "pending"}))
	require.NoError(t, sink.Close())
	assert.Equal(t, 1, mock.count())
	require.NoError(t, sink.Close(), "close is idempotent")
}

func TestBatchSink_Retries(t *testing.T) {
	mock := &mockWriter{failures: 2}
	sink := NewBatchSink(mock, 100, time.Hour, 3, time.Millisecond)

	require.NoError(t, sink.WriteEvent(&AuditEvent{Operation: "retry"}))
	require.NoError(t, sink.Close())
	assert.Equal(t, 1, mock.count())
	assert.Equal(t, 3, mock.calls)
}

func TestHTTPSink(t *testing.T) {
	var mu sync.Mutex
	var captured []*AuditEvent
	var header string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		header = r.Header.Get("X-Test")

		var events []*AuditEvent
		if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		captured = append(captured, events...)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := NewHTTPSink(ts.URL, map[string]string{"X-Test": "true"})
	require.NoError(t, sink.WriteEvent(&AuditEvent{Operation: "produce", ContentName: "/alice/photo1"}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, captured, 1)
	assert.Equal(t, "/alice/photo1", captured[0].ContentName)
	assert.Equal(t, "true", header)
}

func TestHTTPSink_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	require.Error(t, NewHTTPSink(ts.URL, nil).WriteEvent(&AuditEvent{}))
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink := NewFileSink(path)

	require.NoError(t, sink.WriteEvent(&AuditEvent{Operation: "first"}))
	require.NoError(t, sink.WriteBatch([]*AuditEvent{{Operation: "second"}, {Operation: "third"}}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ops []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event AuditEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		ops = append(ops, event.Operation)
	}
	assert.Equal(t, []string{"first", "second", "third"}, ops)
}

func TestNewLoggerFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.AuditConfig
		wantErr bool
	}{
		{name: "stdout", cfg: config.AuditConfig{Enabled: true}},
		{name: "file", cfg: config.AuditConfig{Enabled: true, Sink: config.SinkConfig{Type: "file", FilePath: filepath.Join(t.TempDir(), "a.jsonl")}}},
		{name: "batched http", cfg: config.AuditConfig{Enabled: true, Sink: config.SinkConfig{Type: "http", Endpoint: "http://localhost:1234", BatchSize: 10}}},
		{name: "unknown", cfg: config.AuditConfig{Enabled: true, Sink: config.SinkConfig{Type: "syslog"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLoggerFromConfig(tt.cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			require.NoError(t, logger.Close())
		})
	}
}
