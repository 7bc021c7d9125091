package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"modbus-formatter/internal/archive"
	"modbus-formatter/internal/config"
	"modbus-formatter/internal/db"
	"modbus-formatter/internal/formatter"
	"modbus-formatter/internal/monitor"
	"modbus-formatter/internal/realtime"
	"modbus-formatter/internal/service"
	"modbus-formatter/pkg/wsforward"

	"go.uber.org/zap"
)

const jwksRefreshInterval = time.Hour

// StartFormatterApp wires the consumer, publisher, sinks and monitor, then
// blocks until a shutdown signal arrives or the consumer exits.
func StartFormatterApp(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	layout, err := formatter.ParseLayout(cfg.RegisterLayout)
	if err != nil {
		return err
	}
	aggregator := formatter.NewAggregator(layout)
	logger.Infow("register layout selected", "layout", layout.String())

	stats := service.NewProcessStats()
	stats.StartReporter(ctx, cfg.StatsInterval, logger)

	var (
		sinks  []service.Sink
		checks []monitor.Check
		hub    *realtime.Hub
		auth   *realtime.Authenticator
	)

	// --- Postgres ---
	if cfg.PersistenceEnabled() {
		dbMgr, err := db.NewDBManager(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create DBManager: %w", err)
		}
		defer dbMgr.Shutdown()
		dbMgr.StartAutoReconnect(ctx)

		sinks = append(sinks, service.NewDBSink(dbMgr))
		checks = append(checks, monitor.Check{Name: "database", Check: dbMgr.Ping})
	}

	// --- Realtime sockets ---
	if cfg.RealtimeEnabled() {
		auth, err = StartRealtimeAuth(ctx, cfg, logger)
		if err != nil {
			return err
		}
		hub = realtime.NewHub(logger)
		sinks = append(sinks, service.NewHubSink(hub))
	}

	// --- Upstream forwarder ---
	if cfg.ForwardURL != "" {
		fwd := wsforward.New(cfg.ForwardURL, cfg.ForwardToken, logger.Desugar())
		fwd.Start(ctx)
		defer fwd.Close()

		sinks = append(sinks, service.NewForwardSink(fwd))
		checks = append(checks, monitor.Check{Name: "forwarder", Check: func(context.Context) error {
			if !fwd.IsConnected() {
				return errors.New("upstream websocket disconnected")
			}
			return nil
		}})
	}

	// --- S3 archive ---
	if cfg.ArchiveBucket != "" {
		archiver, err := archive.NewS3Archiver(ctx, cfg.ArchiveBucket, cfg.ArchivePrefix)
		if err != nil {
			return err
		}
		sinks = append(sinks, service.NewArchiveSink(archiver))
	}

	// --- Kafka ---
	publisher, err := service.NewKafkaPublisher(cfg)
	if err != nil {
		return fmt.Errorf("failed to create Kafka publisher: %w", err)
	}
	defer publisher.Close()

	kafkaReader, err := service.NewKafkaReader(cfg)
	if err != nil {
		return fmt.Errorf("failed to create Kafka reader: %w", err)
	}
	defer kafkaReader.Close()

	kafkaSvc := service.NewKafkaService(logger, aggregator, publisher, stats, cfg.ProcessWorkers, sinks...)
	checks = append(checks, monitor.Check{Name: "consumer", Check: func(context.Context) error {
		if !kafkaSvc.IsAlive() {
			return errors.New("consumer loop not running")
		}
		return nil
	}})

	// --- Health check ---
	monitor.StartHealthCheck(ctx, monitor.Options{
		Checks: checks,
		Stats:  stats,
		Hub:    hub,
		Auth:   auth,
	}, logger, cfg.HTTPAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		kafkaSvc.StartConsumer(ctx, kafkaReader)
	}()

	// --- Graceful shutdown ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Infow("signal received, shutting down Kafka consumer", "signal", sig)
		cancel()
	case <-ctx.Done():
		logger.Info("context canceled, shutting down Kafka consumer")
	case <-done:
		logger.Info("Kafka consumer finished, exiting")
	}

	// Wait for consumer goroutine to finish
	select {
	case <-done:
		logger.Info("Kafka consumer stopped gracefully")
	case <-time.After(30 * time.Second):
		logger.Warn("timeout waiting for Kafka consumer to stop")
	}

	logger.Infow("formatter shutdown completed", "stats", stats.Snapshot())
	return nil
}

// StartRealtimeAuth builds the token validator and, when a JWKS URL is
// configured, refreshes the key set in the background.
func StartRealtimeAuth(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*realtime.Authenticator, error) {
	auth := realtime.NewAuthenticator(cfg.JWTSecret, nil)
	if cfg.JWKSURL == "" {
		return auth, nil
	}

	jwks, err := realtime.FetchJWKS(ctx, cfg.JWKSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	auth.SetJWKS(jwks)
	logger.Infow("JWKS fetched successfully", "keys", len(jwks.Keys))

	go func() {
		ticker := time.NewTicker(jwksRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				jwks, err := realtime.FetchJWKS(ctx, cfg.JWKSURL)
				if err != nil {
					logger.Warnw("JWKS refresh failed", "error", err)
					continue
				}
				auth.SetJWKS(jwks)
			}
		}
	}()

	return auth, nil
}
