package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bnema/celluloid/config"
	HTTPAdapter "github.com/bnema/celluloid/internal/adapter/http"
	"github.com/bnema/celluloid/internal/adapter/http/ratelimit"
	"github.com/bnema/celluloid/internal/adapter/pipeline/command"
	"github.com/bnema/celluloid/internal/adapter/storage/jsonfile"
	pgstore "github.com/bnema/celluloid/internal/adapter/storage/postgres"
	redisstore "github.com/bnema/celluloid/internal/adapter/storage/redis"
	sqlitestore "github.com/bnema/celluloid/internal/adapter/storage/sqlite"
	"github.com/bnema/celluloid/internal/adapter/webhook"
	"github.com/bnema/celluloid/internal/infrastructure/logger"
	"github.com/bnema/celluloid/internal/port"
	"github.com/bnema/celluloid/internal/service"
	"github.com/bnema/celluloid/internal/validation"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		logger.Error.Printf("%v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(cfg.LogLevel)
	logger.Info.Printf("starting celluloid %s on port %d, store=%s", version, cfg.Port, cfg.StoreBackend)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	jobStore, closeStore, err := openJobStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	index, err := jsonfile.NewStore(cfg.OutputDir())
	if err != nil {
		return fmt.Errorf("open results index: %w", err)
	}

	keyHash := cfg.APIKeyHash
	if cfg.APIKey != "" {
		if keyHash, err = service.HashKey(cfg.APIKey); err != nil {
			return fmt.Errorf("hash API key: %w", err)
		}
	}
	authSvc, err := service.NewAuthService(keyHash, cfg.SessionSecret)
	if err != nil {
		return fmt.Errorf("create auth service: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := service.NewRegistry(jobStore)
	dispatcher := service.NewDispatcher(cfg.WaitEstimateSeed, cfg.WaitEstimateAlpha)
	results := service.NewResults(index, cfg.OutputDir())
	eventBus := service.NewEventBus()

	notifier := service.NewNotifier(webhook.NewClient(cfg.CallbackTimeout), service.NotifierConfig{
		MaxAttempts: cfg.CallbackMaxAttempts,
		BaseDelay:   cfg.CallbackBaseDelay,
		MaxDelay:    cfg.CallbackMaxDelay,
		Timeout:     cfg.CallbackTimeout,
		Workers:     cfg.CallbackWorkers,
	})
	// Deliveries outlive the signal so queued callbacks drain on shutdown.
	notifier.Start(context.WithoutCancel(ctx))

	pipeline := command.NewRunner(cfg.PipelineCommand, cfg.PipelineArgs, cfg.PipelineWorkDir)
	executor := service.NewExecutor(registry, dispatcher, pipeline, results, notifier, eventBus, service.ExecutorConfig{
		MaxJobDuration: cfg.MaxJobDuration,
		ProgressStep:   cfg.ProgressStep,
		StopGrace:      cfg.PipelineStopGrace,
	})
	jobs := service.NewJobService(registry, dispatcher, results, notifier, service.JobServiceConfig{
		DedupeActive:   cfg.DedupeActive,
		ValidateSource: validation.ValidateVideoSource,
	})

	if err := jobs.Recover(ctx); err != nil {
		return fmt.Errorf("recover queue: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx, executor.Execute)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runCleanup(ctx, jobs, cfg.CleanupInterval, cfg.JobRetention)
	}()

	limiter := ratelimit.NewLimiter(5, 15*time.Minute, 30*time.Minute)
	go limiter.Run(ctx, time.Minute)

	csrfSecret, err := newCSRFSecret()
	if err != nil {
		return err
	}

	authenticator := HTTPAdapter.NewAuthenticator(authSvc, limiter, ratelimit.NewBackoff(500*time.Millisecond, 10*time.Second, 2.0), cfg.BehindProxy)
	server := HTTPAdapter.NewServer(jobs, eventBus, authenticator, authSvc.Enabled(), HTTPAdapter.ServerConfig{
		Version:    version,
		CSRFSecret: csrfSecret,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: SSE streams stay open.
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info.Printf("server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			stop()
			wg.Wait()
			notifier.Close()
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info.Printf("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error.Printf("http shutdown error: %v", err)
	}

	// The in-flight job, if any, is interrupted and recorded as failed.
	wg.Wait()
	notifier.Close()

	logger.Info.Printf("shutdown complete")
	return nil
}

func openJobStore(cfg *config.Config) (port.JobStore, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		client, err := redisstore.NewClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		return redisstore.NewJobStore(client), func() { _ = client.Close() }, nil
	case config.StorePostgres:
		if err := pgstore.RunMigrations(cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
		connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pool, err := pgstore.Connect(connectCtx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, nil, err
		}
		return pgstore.NewJobStore(pool), pool.Close, nil
	default:
		store, err := sqlitestore.NewStore(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		return sqlitestore.NewJobStore(store), func() { _ = store.Close() }, nil
	}
}

// newCSRFSecret returns a fresh per-process key for dashboard form tokens.
// It is unrelated to the session signing secret.
func newCSRFSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate csrf secret: %w", err)
	}
	return secret, nil
}

func runCleanup(ctx context.Context, jobs *service.JobService, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := jobs.Cleanup(ctx, retention)
			if err != nil {
				logger.Error.Printf("cleanup failed: %v", err)
				continue
			}
			if n > 0 {
				logger.Info.Printf("cleanup removed %d expired jobs", n)
			}
		}
	}
}
