// Package main is the entry point for the dripline API server.
//
// It loads configuration, connects the database pool (optionally applying
// embedded migrations), wires the schedule handler with its recipient
// verifier and pass trigger, and serves HTTP with graceful shutdown on
// SIGINT/SIGTERM.
//
// When SQS_SCHEDULER_TRIGGER is set, POST /v1/scheduler/run publishes a
// trigger message for the worker. Without it, the API runs passes inline
// with its own dispatcher, which keeps single-binary deployments working.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dripline/internal/api/handlers"
	"dripline/internal/config"
	"dripline/internal/core"
	"dripline/internal/db"
	"dripline/internal/email"
	"dripline/internal/external"
	"dripline/internal/queue"
	"dripline/internal/scheduler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main can exit cleanly on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg)
	logger.Info("dripline API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
		"mail_enabled", cfg.Email.MailEnabled(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, pool, logger); err != nil {
			return err
		}
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = append(srv.HealthProbes, dbProbe{pool: pool})

	scheduleRepo := db.NewScheduleRepository(pool)

	verifier := buildVerifier(cfg, logger)
	trigger, runner, err := buildPassBackends(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}

	scheduleHandler := handlers.NewScheduleHandler(
		scheduleRepo,
		verifier,
		trigger,
		runner,
		srv.Validator,
		logger,
	)
	srv.V1Registrars = append(srv.V1Registrars, func(r chi.Router) {
		scheduleHandler.RegisterRoutes(r)
	})

	srv.MountRoutes()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return srv.Shutdown(shutdownCtx)
}

// buildVerifier assembles the recipient verifier from the email config.
// Format validation always runs; the denylist and MX checks are opt-in.
func buildVerifier(cfg *config.Config, logger *slog.Logger) external.RecipientVerifier {
	return external.NewVerifier(external.VerifierConfig{
		CheckDisposable: cfg.Email.VerifyDisposable,
		CheckMX:         cfg.Email.VerifyMX,
		Logger:          logger,
	})
}

// buildPassBackends decides how POST /v1/scheduler/run executes: publish to
// the SQS trigger queue when one is configured, otherwise run passes inline
// with a dispatcher owned by this process.
func buildPassBackends(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (handlers.PassTrigger, handlers.PassRunner, error) {
	if cfg.AWS.TriggerQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, nil, fmt.Errorf("loading AWS configuration: %w", err)
		}
		sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = &cfg.AWS.EndpointURL
			}
		})
		return queue.NewPassTrigger(sqsClient, cfg.AWS.TriggerQueueURL, logger), nil, nil
	}

	dispatcher, err := buildDispatcher(ctx, cfg, pool, "api-"+hostname(), logger)
	if err != nil {
		return nil, nil, err
	}
	return nil, dispatcher, nil
}

// buildDispatcher wires a Dispatcher against the shared pool. It is used by
// the API's inline runner and mirrors the worker's wiring.
func buildDispatcher(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, workerID string, logger *slog.Logger) (*scheduler.Dispatcher, error) {
	var provider external.EmailProvider
	mailEnabled := cfg.Email.MailEnabled()
	switch {
	case mailEnabled:
		provider = external.NewResendClient(external.ResendConfig{
			APIKey:  cfg.Email.ResendAPIKey,
			BaseURL: cfg.Email.ResendBaseURL,
			Timeout: cfg.Email.SendTimeout,
			Logger:  logger,
		})
	case cfg.Environment == "local":
		// Local development without a key still exercises the full send
		// path against a logging stub.
		provider = external.NewStubEmailProvider(logger)
		mailEnabled = true
	}

	var metrics scheduler.MetricsEmitter = scheduler.NoopEmitter{}
	if cfg.AWS.MetricNamespace != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, fmt.Errorf("loading AWS configuration: %w", err)
		}
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = &cfg.AWS.EndpointURL
			}
		})
		metrics = scheduler.NewCloudWatchEmitter(cwClient, cfg.AWS.MetricNamespace, cfg.Service, logger)
	}

	return scheduler.NewDispatcher(
		scheduler.DispatcherConfig{
			WorkerID:             workerID,
			Sender:               cfg.Email.Sender(),
			MailEnabled:          mailEnabled,
			MarkUnconfiguredSent: cfg.Email.MarkUnconfiguredSent,
			SendTimeout:          cfg.Email.SendTimeout,
			MaxSendAttempts:      cfg.Email.MaxSendAttempts,
			RetryBackoffBase:     cfg.Email.RetryBackoffBase,
			RetryBackoffMax:      cfg.Email.RetryBackoffMax,
			PassConcurrency:      cfg.Scheduler.PassConcurrency,
			LockTTL:              cfg.Scheduler.LockTTL,
		},
		db.NewScheduleRepository(pool),
		db.NewJobLockRepository(pool),
		db.NewJobHistoryRepository(pool),
		email.DefaultRegistry(),
		provider,
		metrics,
		logger,
	), nil
}

// dbProbe reports database health for GET /health.
type dbProbe struct {
	pool *pgxpool.Pool
}

func (p dbProbe) Name() string { return "database" }

func (p dbProbe) Check(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// newLogger builds the process-wide structured logger. Local runs get
// human-readable text; everything else emits JSON for log aggregation.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Environment == "local" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", cfg.Service)
	slog.SetDefault(logger)
	return logger
}
