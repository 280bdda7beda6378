package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kenneth/nac-producer/internal/ndn"
)

// retryStore retries transient backend failures with exponential backoff.
type retryStore struct {
	Store
	maxRetries uint64
	initial    time.Duration
}

// WithRetry wraps s so Put and Get are retried up to maxRetries times.
// Missing or corrupt records are returned immediately.
func WithRetry(s Store, maxRetries int, initial time.Duration) Store {
	if maxRetries <= 0 {
		return s
	}
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	return &retryStore{Store: s, maxRetries: uint64(maxRetries), initial: initial}
}

func (r *retryStore) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, r.maxRetries), ctx)
}

func permanent(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}
	return err
}

func (r *retryStore) Put(ctx context.Context, d *ndn.Data) error {
	if _, err := encodeRecord(d); err != nil {
		return err
	}
	return backoff.Retry(func() error {
		return permanent(r.Store.Put(ctx, d))
	}, r.policy(ctx))
}

func (r *retryStore) Get(ctx context.Context, name ndn.Name) (*ndn.Data, error) {
	var out *ndn.Data
	err := backoff.Retry(func() error {
		d, err := r.Store.Get(ctx, name)
		if err != nil {
			return permanent(err)
		}
		out = d
		return nil
	}, r.policy(ctx))
	if err != nil {
		return nil, err
	}
	return out, nil
}
