package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sink is an interface for audit event sinks that support closing.
type Sink interface {
	EventWriter
	Close() error
}

// BatchWriter is implemented by sinks that can write several events in one call.
type BatchWriter interface {
	WriteBatch(events []*AuditEvent) error
}

// BatchSink buffers events for a wrapped writer and flushes them when the
// buffer fills, on a timer, and on Close.
type BatchSink struct {
	wrapped       EventWriter
	buffer        []*AuditEvent
	bufferSize    int
	flushInterval time.Duration
	retryCount    int
	retryBackoff  time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closeChan chan struct{}
	wg        sync.WaitGroup
}

// NewBatchSink creates a new batched sink. Zero size or interval pick
// defaults of 100 events and 5 seconds.
func NewBatchSink(wrapped EventWriter, size int, interval time.Duration, retryCount int, retryBackoff time.Duration) *BatchSink {
	if size <= 0 {
		size = 100
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if retryBackoff <= 0 {
		retryBackoff = 100 * time.Millisecond
	}

	s := &BatchSink{
		wrapped:       wrapped,
		buffer:        make([]*AuditEvent, 0, size),
		bufferSize:    size,
		flushInterval: interval,
		retryCount:    retryCount,
		retryBackoff:  retryBackoff,
		closeChan:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// WriteEvent adds an event to the batch.
func (s *BatchSink) WriteEvent(event *AuditEvent) error {
	s.mu.Lock()
	s.buffer = append(s.buffer, event)
	var events []*AuditEvent
	if len(s.buffer) >= s.bufferSize {
		events = s.drainBufferLocked()
	}
	s.mu.Unlock()

	if events != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_ = s.writeWithRetry(events)
		}()
	}
	return nil
}

// Close stops the flush loop, flushes remaining events and waits for
// in-flight writes.
func (s *BatchSink) Close() error {
	s.closeOnce.Do(func() { close(s.closeChan) })
	s.wg.Wait()
	if closer, ok := s.wrapped.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (s *BatchSink) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.closeChan:
			s.flush()
			return
		}
	}
}

func (s *BatchSink) flush() {
	s.mu.Lock()
	events := s.drainBufferLocked()
	s.mu.Unlock()

	if len(events) > 0 {
		_ = s.writeWithRetry(events)
	}
}

// drainBufferLocked returns the current buffer contents and clears it.
// Caller must hold the lock.
func (s *BatchSink) drainBufferLocked() []*AuditEvent {
	if len(s.buffer) == 0 {
		return nil
	}

	events := make([]*AuditEvent, len(s.buffer))
	copy(events, s.buffer)
	s.buffer = s.buffer[:0]
	return events
}

func (s *BatchSink) writeOnce(events []*AuditEvent) error {
	if bw, ok := s.wrapped.(BatchWriter); ok {
		return bw.WriteBatch(events)
	}
	var err error
	for _, event := range events {
		if e := s.wrapped.WriteEvent(event); e != nil {
			err = e
		}
	}
	return err
}

func (s *BatchSink) writeWithRetry(events []*AuditEvent) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryBackoff
	policy.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		return s.writeOnce(events)
	}, backoff.WithMaxRetries(policy, uint64(max(s.retryCount, 0))))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to flush %d audit events after %d retries: %v\n", len(events), s.retryCount, err)
	}
	return err
}

// HTTPSink posts events as a JSON array to an HTTP endpoint.
type HTTPSink struct {
	endpoint string
	client   *http.Client
	headers  map[string]string
}

// NewHTTPSink creates a new HTTP sink.
func NewHTTPSink(endpoint string, headers map[string]string) *HTTPSink {
	return &HTTPSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		headers:  headers,
	}
}

// WriteEvent writes a single event.
func (s *HTTPSink) WriteEvent(event *AuditEvent) error {
	return s.WriteBatch([]*AuditEvent{event})
}

// WriteBatch writes a batch of events.
func (s *HTTPSink) WriteBatch(events []*AuditEvent) error {
	data, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to marshal audit batch: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, s.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("http sink returned status: %s", resp.Status)
	}
	return nil
}

// FileSink appends events to a file as JSON lines.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink creates a new file sink.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// WriteEvent writes a single event.
func (s *FileSink) WriteEvent(event *AuditEvent) error {
	return s.WriteBatch([]*AuditEvent{event})
}

// WriteBatch appends events in order.
func (s *FileSink) WriteBatch(events []*AuditEvent) error {
	var buf bytes.Buffer
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(buf.Bytes())
	return err
}
