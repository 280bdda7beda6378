package store

import (
	"context"
	"fmt"

	"github.com/kenneth/nac-producer/internal/config"
	"github.com/kenneth/nac-producer/internal/metrics"
)

// New builds the configured backend, wrapped with retries and metrics.
func New(ctx context.Context, cfg config.StoreConfig, m *metrics.Metrics) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Type {
	case "", "memory":
		s = NewMemoryStore()
	case "file":
		s, err = NewFileStore(cfg.File.Dir)
	case "s3":
		s, err = NewS3Store(ctx, cfg.S3)
	case "redis":
		s = NewRedisStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s store: %w", cfg.Type, err)
	}
	return WithMetrics(WithRetry(s, cfg.Retry.MaxRetries, cfg.Retry.InitialInterval), m), nil
}
