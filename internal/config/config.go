// Package config defines the global configuration structure for the dripline
// service. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved from the OS environment, with an optional .env file for
// local development. Any missing required value or invalid format causes the
// application to fail immediately on startup (fail fast).
package config

import (
	"time"

	"dripline/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the dripline service.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"dripline"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// Domain Configurations
	Server    ServerConfig
	Database  DatabaseConfig
	Email     EmailConfig
	Scheduler SchedulerConfig
	AWS       AWSConfig
}

// ServerConfig holds HTTP server configuration for the API binary.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`

	// AutoMigrate applies embedded goose migrations at startup when true.
	AutoMigrate bool `envconfig:"DB_AUTO_MIGRATE" default:"false"`
}

// EmailConfig holds email delivery provider credentials and dispatch policy.
type EmailConfig struct {
	// ResendAPIKey authenticates against the Resend API. An empty value means
	// mail sending is disabled rather than a hard error; the dispatcher then
	// applies MarkUnconfiguredSent to due rows.
	ResendAPIKey SecretString `envconfig:"RESEND_API_KEY"`
	// ResendBaseURL overrides the Resend API endpoint; used in tests.
	ResendBaseURL string `envconfig:"RESEND_BASE_URL"`

	FromAddress string        `envconfig:"EMAIL_FROM_ADDRESS" default:"noreply@updates.dripline.dev" validate:"email"`
	FromName    string        `envconfig:"EMAIL_FROM_NAME" default:"dripline"`
	SendTimeout time.Duration `envconfig:"EMAIL_SEND_TIMEOUT" default:"10s"`

	// MarkUnconfiguredSent reproduces the legacy behavior of marking rows
	// "sent" when no API key is configured. Off by default: rows transition
	// to skipped_unconfigured instead, so lost notifications stay visible.
	MarkUnconfiguredSent bool `envconfig:"EMAIL_MARK_UNCONFIGURED_SENT" default:"false"`

	// MaxSendAttempts caps provider retries across passes. A row that fails
	// this many sends transitions to failed instead of retrying forever.
	MaxSendAttempts int `envconfig:"EMAIL_MAX_SEND_ATTEMPTS" default:"8" validate:"min=1"`
	// RetryBackoffBase is the first inter-pass retry delay; it doubles per
	// failed attempt up to RetryBackoffMax.
	RetryBackoffBase time.Duration `envconfig:"EMAIL_RETRY_BACKOFF_BASE" default:"1m"`
	RetryBackoffMax  time.Duration `envconfig:"EMAIL_RETRY_BACKOFF_MAX" default:"6h"`

	// Recipient verification applied at enqueue time.
	VerifyDisposable bool `envconfig:"EMAIL_VERIFY_DISPOSABLE" default:"true"`
	VerifyMX         bool `envconfig:"EMAIL_VERIFY_MX" default:"false"`
}

// SchedulerConfig holds poll-pass execution parameters for the worker.
type SchedulerConfig struct {
	// PassConcurrency bounds parallel row processing within one pass.
	// 1 preserves strictly sequential processing.
	PassConcurrency int `envconfig:"SCHEDULER_PASS_CONCURRENCY" default:"1" validate:"min=1"`
	// LockTTL is the advisory pass-lock lifetime. It must exceed the worst
	// expected pass duration so a crashed worker's lock expires on its own.
	LockTTL time.Duration `envconfig:"SCHEDULER_LOCK_TTL" default:"10m"`
	// CronSchedule, when set, makes the worker run passes on an in-process
	// cron loop instead of waiting for external triggers. Self-hosted mode.
	CronSchedule string `envconfig:"CRON_SCHEDULE"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
// All fields are optional; without a trigger queue the API runs passes
// inline, and without a metric namespace metrics are disabled.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
	// TriggerQueueURL is the SQS queue carrying run-pass trigger messages.
	TriggerQueueURL string `envconfig:"SQS_SCHEDULER_TRIGGER"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE"`
	// EndpointURL points AWS clients at LocalStack in local development.
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// MailEnabled reports whether a provider credential is configured.
func (c EmailConfig) MailEnabled() bool {
	return c.ResendAPIKey.Unmask() != ""
}

// Sender returns the fixed From identity for all outbound mail.
func (c EmailConfig) Sender() types.SenderIdentity {
	return types.SenderIdentity{
		Address: c.FromAddress,
		Name:    c.FromName,
	}
}
