// Package main is the entry point for the dripline email scheduler worker.
//
// The worker runs dispatch passes over the schedule store. It supports three
// execution modes, selected by environment:
//
//  1. Lambda mode (AWS_LAMBDA_FUNCTION_NAME set): the process registers an
//     SQS-triggered handler. Each trigger message requests one poll pass.
//     A pass already in progress is acknowledged, not retried; the advisory
//     lock makes duplicate triggers harmless.
//  2. Cron mode (CRON_SCHEDULE set): self-hosted deployments run passes on
//     an in-process cron loop until SIGINT/SIGTERM.
//  3. One-shot mode (neither set): run a single pass and exit. Useful for
//     local development and external schedulers like systemd timers.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"dripline/internal/config"
	"dripline/internal/db"
	"dripline/internal/email"
	"dripline/internal/external"
	"dripline/internal/scheduler"
	"dripline/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg)
	logger.Info("dripline email scheduler starting",
		"environment", cfg.Environment,
		"mail_enabled", cfg.Email.MailEnabled(),
		"pass_concurrency", cfg.Scheduler.PassConcurrency,
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

	dispatcher, err := buildDispatcher(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}

	switch {
	case os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "":
		h := &sqsHandler{dispatcher: dispatcher, logger: logger}
		lambda.StartWithOptions(h.Handle, lambda.WithContext(ctx))
		return nil
	case cfg.Scheduler.CronSchedule != "":
		return runCronLoop(ctx, cfg.Scheduler.CronSchedule, dispatcher, logger)
	default:
		return runOnce(ctx, dispatcher, logger)
	}
}

// sqsHandler consumes pass trigger messages from the scheduler queue.
type sqsHandler struct {
	dispatcher *scheduler.Dispatcher
	logger     *slog.Logger
}

// Handle processes an SQS batch. Every record requests one pass; since
// passes are mutually exclusive and each covers all due rows, one successful
// pass satisfies the whole batch. Failed passes report partial batch
// failures so SQS redelivers only those records.
func (h *sqsHandler) Handle(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	var response events.SQSEventResponse

	for _, record := range event.Records {
		var trigger types.PassTriggerMessage
		if err := json.Unmarshal([]byte(record.Body), &trigger); err != nil {
			// Malformed triggers are dropped; redelivery cannot fix them.
			h.logger.Error("dropping malformed pass trigger",
				"message_id", record.MessageId,
				"error", err,
			)
			continue
		}

		h.logger.Info("pass trigger received",
			"trigger_id", trigger.TriggerID,
			"source", trigger.Source,
		)

		_, err := h.dispatcher.RunPass(ctx)
		switch {
		case types.HasCode(err, types.ErrCodeConflictPassInProgress):
			// Another worker holds the lock; its pass covers this trigger.
			h.logger.Info("pass already in progress, acknowledging trigger",
				"trigger_id", trigger.TriggerID)
		case err != nil:
			h.logger.Error("pass failed",
				"trigger_id", trigger.TriggerID,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}

	return response, nil
}

// runCronLoop runs passes on the configured cron schedule until the context
// is cancelled. Overlapping fires are serialized by the advisory lock, so a
// slow pass simply makes the next fire a no-op.
func runCronLoop(ctx context.Context, schedule string, dispatcher *scheduler.Dispatcher, logger *slog.Logger) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := dispatcher.RunPass(ctx); err != nil {
			if types.HasCode(err, types.ErrCodeConflictPassInProgress) {
				logger.Info("pass already in progress, skipping cron fire")
				return
			}
			logger.Error("scheduled pass failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid CRON_SCHEDULE %q: %w", schedule, err)
	}

	logger.Info("cron loop starting", "schedule", schedule)
	c.Start()
	<-ctx.Done()

	logger.Info("shutdown signal received, waiting for running pass")
	<-c.Stop().Done()
	return nil
}

// runOnce executes a single pass and exits.
func runOnce(ctx context.Context, dispatcher *scheduler.Dispatcher, logger *slog.Logger) error {
	result, err := dispatcher.RunPass(ctx)
	if err != nil {
		if types.HasCode(err, types.ErrCodeConflictPassInProgress) {
			logger.Info("pass already in progress, nothing to do")
			return nil
		}
		return err
	}

	logger.Info("pass complete",
		"found", result.Found,
		"sent", result.Sent,
		"skipped", result.Skipped,
		"skipped_unconfigured", result.SkippedUnconfigured,
		"send_failures", result.SendFailures,
		"exhausted", result.Exhausted,
		"unknown_template", result.UnknownTemplate,
	)
	return nil
}

// buildDispatcher wires the dispatcher and its provider, metrics, and
// repositories against the shared pool.
func buildDispatcher(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*scheduler.Dispatcher, error) {
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
			WorkerID:             "scheduler-" + hostname(),
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

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// newLogger builds the process-wide structured logger; text locally, JSON
// everywhere else.
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

	logger := slog.New(handler).With("service", cfg.Service, "component", "email-scheduler")
	slog.SetDefault(logger)
	return logger
}
