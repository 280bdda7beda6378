package store

import (
	"context"
	"errors"
	"time"

	"github.com/kenneth/nac-producer/internal/metrics"
	"github.com/kenneth/nac-producer/internal/ndn"
)

// instrumentedStore records operation counts, latency and errors.
type instrumentedStore struct {
	Store
	metrics *metrics.Metrics
}

// WithMetrics wraps s so every operation is recorded in m.
func WithMetrics(s Store, m *metrics.Metrics) Store {
	if m == nil {
		return s
	}
	return &instrumentedStore{Store: s, metrics: m}
}

func (s *instrumentedStore) record(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.RecordStoreOperation(ctx, op, s.Backend(), time.Since(start))
	if err != nil {
		s.metrics.RecordStoreError(op, s.Backend(), errorType(err))
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCorrupt):
		return "corrupt"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "backend"
	}
}

func (s *instrumentedStore) Put(ctx context.Context, d *ndn.Data) error {
	start := time.Now()
	err := s.Store.Put(ctx, d)
	s.record(ctx, "put", start, err)
	return err
}

func (s *instrumentedStore) Get(ctx context.Context, name ndn.Name) (*ndn.Data, error) {
	start := time.Now()
	d, err := s.Store.Get(ctx, name)
	s.record(ctx, "get", start, err)
	return d, err
}

func (s *instrumentedStore) Delete(ctx context.Context, name ndn.Name) error {
	start := time.Now()
	err := s.Store.Delete(ctx, name)
	s.record(ctx, "delete", start, err)
	return err
}
