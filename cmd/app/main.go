package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wa-blast/internal/autoreply"
	"wa-blast/internal/cache"
	"wa-blast/internal/campaign"
	"wa-blast/internal/config"
	"wa-blast/internal/dispatch"
	"wa-blast/internal/httpserver"
	"wa-blast/internal/humanize"
	"wa-blast/internal/logging"
	"wa-blast/internal/metrics"
	"wa-blast/internal/repo"
	"wa-blast/internal/session"
	"wa-blast/internal/status"
	"wa-blast/internal/wa"
	"wa-blast/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting wa-blast", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := repo.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisUseTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}

	dialer, err := wa.NewDialer(wa.Config{
		StoreDir: cfg.SessionStoreDir,
		LogLevel: cfg.WhatsAppLogLevel,
	}, logger)
	if err != nil {
		return fmt.Errorf("init whatsapp dialer: %w", err)
	}

	manager := session.NewManager(session.DialerFunc(
		func(ctx context.Context, sessionID string) (session.Conn, error) {
			return dialer.Dial(ctx, sessionID)
		},
	), repository, metricRegistry, logger, cfg.QRTimeout)

	engine := dispatch.NewEngine(manager, repository, metricRegistry, logger)
	variator := humanize.New(nil, nil)
	scheduler := campaign.NewScheduler(manager, engine, repository, metricRegistry, logger, variator, nil)
	replier := autoreply.NewEngine(repository, redisClient, engine, metricRegistry, logger, nil)
	tracker := status.NewTracker(repository, metricRegistry, logger)

	manager.SetInboundHandler(replier.OnInbound)
	manager.SetAckHandler(tracker.OnAck)

	if err := manager.RestoreSessions(ctx); err != nil {
		logger.Warn("session restore failed", "error", err)
	}

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Dependencies{
		Sessions:  manager,
		Dispatch:  engine,
		Campaigns: scheduler,
		AutoReply: replier,
		Store:     repository,
	}, cfg.HTTPBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
