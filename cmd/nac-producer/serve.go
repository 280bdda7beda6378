package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kenneth/nac-producer/internal/api"
	"github.com/kenneth/nac-producer/internal/audit"
	"github.com/kenneth/nac-producer/internal/config"
	"github.com/kenneth/nac-producer/internal/crypto"
	"github.com/kenneth/nac-producer/internal/ekey"
	"github.com/kenneth/nac-producer/internal/logging"
	"github.com/kenneth/nac-producer/internal/metrics"
	"github.com/kenneth/nac-producer/internal/producer"
	"github.com/kenneth/nac-producer/internal/store"
	"github.com/kenneth/nac-producer/internal/tracing"
)

type serveOptions struct {
	*rootOptions
	listenAddr string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the producer HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.listenAddr, "listen-addr", "", "Address to listen on. Overrides server.listen_addr.")
	return cmd
}

func runServe(ctx context.Context, opts *serveOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.listenAddr != "" {
		cfg.Server.ListenAddr = opts.listenAddr
	}

	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	metrics.SetVersion(version)

	logger.WithFields(logrus.Fields{
		"version":     version,
		"listen_addr": cfg.Server.ListenAddr,
		"store":       cfg.Store.Type,
		"identity":    cfg.Identity.Mode,
		"hardware":    crypto.GetHardwareAccelerationInfo(),
	}).Info("Starting nac-producer")

	tp, shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}
	}()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.NewMetricsWithRegistry(reg)
	}

	var auditLog audit.Logger
	if cfg.Audit.Enabled {
		if auditLog, err = audit.NewLoggerFromConfig(cfg.Audit, logger); err != nil {
			return fmt.Errorf("failed to create audit logger: %w", err)
		}
		defer auditLog.Close()
	}

	st, err := store.New(ctx, cfg.Store, m)
	if err != nil {
		return err
	}
	defer st.Close()

	registryOpts := []ekey.Option{ekey.WithLogger(logger), ekey.WithMetrics(m)}
	if auditLog != nil {
		registryOpts = append(registryOpts, ekey.WithAudit(auditLog))
	}
	if cfg.EKeys.TrustAnchor != "" {
		anchor, err := ekey.LoadTrustAnchor(cfg.EKeys.TrustAnchor)
		if err != nil {
			return err
		}
		registryOpts = append(registryOpts, ekey.WithTrustAnchor(anchor))
	}
	registry := ekey.NewRegistry(cfg.EKeys.CacheTTL, registryOpts...)

	signer, err := buildSigner(cfg.Identity)
	if err != nil {
		return err
	}
	producerOpts := []producer.Option{
		producer.WithLogger(logger),
		producer.WithMetrics(m),
		producer.WithFreshnessPeriod(cfg.Producer.FreshnessPeriod),
		producer.WithTracerProvider(tp),
	}
	handlerOpts := []api.Option{
		api.WithPolicy(api.NewNamePolicy(cfg.Policy.AllowedNames)),
		api.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		api.WithTracerProvider(tp),
		api.WithMetricsPath(cfg.Metrics.Path),
	}
	if auditLog != nil {
		producerOpts = append(producerOpts, producer.WithAudit(auditLog))
		handlerOpts = append(handlerOpts, api.WithAudit(auditLog))
	}
	p, err := producer.New(signer, producerOpts...)
	if err != nil {
		return err
	}

	handler := api.NewHandler(p, registry, st, logger, m, handlerOpts...)
	srv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if opts.configPath != "" {
		go func() {
			err := config.Watch(ctx, opts.configPath, func(c *config.Config) {
				if err := logging.SetLevel(logger, c.Logging.Level); err != nil {
					logger.WithError(err).Warn("Ignoring invalid log level from reloaded config")
					return
				}
				logger.WithField("level", c.Logging.Level).Info("Reloaded log level")
			}, func(err error) {
				logger.WithError(err).Warn("Failed to reload config")
			})
			if err != nil {
				logger.WithError(err).Warn("Config watch stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", srv.Addr).Info("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
