package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dripline/internal/email"
	"dripline/internal/external"
	"dripline/internal/types"
)

// dispatchLockID is the advisory lock key serializing poll passes. A single
// key covers the whole table scan; there is no per-row locking because row
// finalization is already a guarded compare-and-swap.
const dispatchLockID = "email_dispatch"

// jobTypeDispatch labels job_history entries written by the dispatcher.
const jobTypeDispatch = "email_dispatch"

// ScheduleStore is the schedule persistence the dispatcher depends on.
// Implemented by db.ScheduleRepository.
type ScheduleStore interface {
	FindDuePending(ctx context.Context, now time.Time) ([]*types.EmailSchedule, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time, providerMsgID string) (bool, error)
	MarkSkipped(ctx context.Context, id string, status types.ScheduleStatus) (bool, error)
	RecordSendFailure(ctx context.Context, id string, reason string, nextAttemptAt time.Time, maxAttempts int) (bool, error)
}

// LockStore provides the advisory pass lock. Implemented by
// db.JobLockRepository.
type LockStore interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// HistoryStore records pass executions. Implemented by
// db.JobHistoryRepository.
type HistoryStore interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, jobErr error) error
}

// TemplateRenderer resolves component names to rendered emails.
// Implemented by email.Registry.
type TemplateRenderer interface {
	Render(component string, props types.Props) (*email.RenderedEmail, error)
}

// DispatcherConfig carries the dispatch policy knobs.
type DispatcherConfig struct {
	WorkerID string
	Sender   types.SenderIdentity
	// MailEnabled is false when no provider credential is configured.
	MailEnabled bool
	// MarkUnconfiguredSent reproduces the legacy behavior of finalizing rows
	// as sent when mail is unconfigured, instead of skipped_unconfigured.
	MarkUnconfiguredSent bool
	SendTimeout          time.Duration
	MaxSendAttempts      int
	RetryBackoffBase     time.Duration
	RetryBackoffMax      time.Duration
	// PassConcurrency bounds parallel row processing within a pass.
	PassConcurrency int
	LockTTL         time.Duration
}

// Dispatcher executes poll passes over the schedule store.
type Dispatcher struct {
	cfg      DispatcherConfig
	store    ScheduleStore
	locks    LockStore
	history  HistoryStore
	registry TemplateRenderer
	provider external.EmailProvider
	metrics  MetricsEmitter
	logger   *slog.Logger
	now      func() time.Time // injectable clock for tests
}

// NewDispatcher wires a Dispatcher from its dependencies. provider may be
// nil only when cfg.MailEnabled is false.
func NewDispatcher(
	cfg DispatcherConfig,
	store ScheduleStore,
	locks LockStore,
	history HistoryStore,
	registry TemplateRenderer,
	provider external.EmailProvider,
	metrics MetricsEmitter,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.PassConcurrency < 1 {
		cfg.PassConcurrency = 1
	}
	if cfg.MaxSendAttempts < 1 {
		cfg.MaxSendAttempts = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if metrics == nil {
		metrics = NoopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		cfg:      cfg,
		store:    store,
		locks:    locks,
		history:  history,
		registry: registry,
		provider: provider,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// PassResult summarizes one poll pass.
type PassResult struct {
	// Found is the number of due pending rows the pass picked up.
	Found int64 `json:"found"`
	// Sent rows were delivered (or legacy-marked sent while unconfigured).
	Sent int64 `json:"sent"`
	// Skipped rows had an unmet condition.
	Skipped int64 `json:"skipped"`
	// SkippedUnconfigured rows were due while no mail provider was set up.
	SkippedUnconfigured int64 `json:"skipped_unconfigured"`
	// SendFailures counts provider failures recorded this pass; those rows
	// stay pending with backoff unless exhausted.
	SendFailures int64 `json:"send_failures"`
	// Exhausted rows hit the attempt cap and were finalized as failed.
	Exhausted int64 `json:"exhausted"`
	// UnknownTemplate rows reference an unregistered component; they stay
	// pending without an attempt increment so a code deploy can rescue them.
	UnknownTemplate int64 `json:"unknown_template"`

	mu     sync.Mutex
	errors []error
}

// Errors returns the per-row errors collected during the pass.
func (r *PassResult) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errors...)
}

func (r *PassResult) addError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *PassResult) incr(counter *int64) {
	r.mu.Lock()
	*counter++
	r.mu.Unlock()
}

// RunPass executes one poll pass: acquire the advisory lock, scan for due
// pending rows, process each row, release the lock.
//
// When another worker holds the lock, RunPass returns a
// conflict_pass_in_progress AppError and touches nothing. A store failure on
// the initial scan aborts the pass; per-row store failures abort the
// remainder of the pass as well, since a store that fails mid-pass is
// unlikely to finalize any further rows. Provider failures and unknown
// templates are per-row outcomes and never abort the pass.
func (d *Dispatcher) RunPass(ctx context.Context) (*PassResult, error) {
	started := d.now()

	acquired, err := d.locks.Acquire(ctx, dispatchLockID, d.cfg.WorkerID, d.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, types.NewAppError(types.ErrCodeConflictPassInProgress,
			"another worker is running a dispatch pass", nil)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := d.locks.Release(releaseCtx, dispatchLockID, d.cfg.WorkerID); relErr != nil {
			d.logger.WarnContext(ctx, "failed to release dispatch lock", "error", relErr)
		}
	}()

	historyID, err := d.history.Start(ctx, jobTypeDispatch)
	if err != nil {
		return nil, err
	}

	result, passErr := d.runLocked(ctx)

	historyStatus := "success"
	if passErr != nil {
		historyStatus = "failed"
	}
	items := 0
	if result != nil {
		items = int(result.Found)
	}
	if finErr := d.history.Finish(ctx, historyID, historyStatus, items, passErr); finErr != nil {
		d.logger.WarnContext(ctx, "failed to finish job history entry", "error", finErr)
	}

	if result != nil {
		d.metrics.EmitPassMetrics(ctx, result, d.now().Sub(started))
	}
	return result, passErr
}

func (d *Dispatcher) runLocked(ctx context.Context) (*PassResult, error) {
	now := d.now().UTC()
	due, err := d.store.FindDuePending(ctx, now)
	if err != nil {
		return nil, err
	}

	result := &PassResult{Found: int64(len(due))}
	if len(due) == 0 {
		return result, nil
	}

	d.logger.InfoContext(ctx, "dispatch pass starting",
		"due", len(due),
		"concurrency", d.cfg.PassConcurrency,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.PassConcurrency)

	for _, row := range due {
		g.Go(func() error {
			err := d.processRow(gctx, row, result)
			// Store failures cancel the remaining rows; everything else is
			// already accounted for in the result.
			if types.HasCode(err, types.ErrCodeInternalDB) {
				return err
			}
			if err != nil {
				result.addError(err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	d.logger.InfoContext(ctx, "dispatch pass finished",
		"found", result.Found,
		"sent", result.Sent,
		"skipped", result.Skipped,
		"skipped_unconfigured", result.SkippedUnconfigured,
		"send_failures", result.SendFailures,
		"exhausted", result.Exhausted,
		"unknown_template", result.UnknownTemplate,
	)
	return result, nil
}

// processRow finalizes a single due schedule row. The returned error is a
// per-row outcome; only internal_database_error codes abort the pass.
func (d *Dispatcher) processRow(ctx context.Context, row *types.EmailSchedule, result *PassResult) error {
	logger := d.logger.With("schedule_id", row.ID, "component", row.Component)

	// Condition gate first: an unmet condition skips the row regardless of
	// provider configuration.
	if !IsConditionMet(row.Condition) {
		updated, err := d.store.MarkSkipped(ctx, row.ID, types.StatusSkipped)
		if err != nil {
			return err
		}
		if updated {
			result.incr(&result.Skipped)
			logger.InfoContext(ctx, "schedule skipped, condition unmet")
		}
		return nil
	}

	// Render before the unconfigured-mail branch: an unregistered component
	// must leave the row pending either way, never finalize it.
	rendered, err := d.registry.Render(row.Component, row.Props)
	if err != nil {
		if email.IsUnknownTemplate(err) {
			// Leave the row pending without touching attempt_count: the fix
			// is a deploy that registers the component, not a retry policy.
			result.incr(&result.UnknownTemplate)
			logger.ErrorContext(ctx, "unknown template, leaving schedule pending")
			return fmt.Errorf("schedule %s: %w", row.ID, err)
		}
		return err
	}

	if !d.cfg.MailEnabled {
		return d.finalizeUnconfigured(ctx, row, result, logger)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	providerMsgID, sendErr := d.provider.Send(sendCtx, types.SendInput{
		From:        d.cfg.Sender,
		To:          row.Recipient,
		Subject:     rendered.Subject,
		HTML:        rendered.HTML,
		ReferenceID: row.ID,
	})
	if sendErr != nil {
		return d.recordFailure(ctx, row, sendErr, result, logger)
	}

	updated, err := d.store.MarkSent(ctx, row.ID, d.now().UTC(), providerMsgID)
	if err != nil {
		return err
	}
	if updated {
		result.incr(&result.Sent)
		logger.InfoContext(ctx, "schedule sent", "provider_message_id", providerMsgID)
	} else {
		logger.WarnContext(ctx, "schedule already finalized by concurrent pass")
	}
	return nil
}

// finalizeUnconfigured handles a due row while no mail provider is set up.
// The default finalizes it as skipped_unconfigured so the lost notification
// stays visible; the legacy flag marks it sent without any delivery.
func (d *Dispatcher) finalizeUnconfigured(ctx context.Context, row *types.EmailSchedule, result *PassResult, logger *slog.Logger) error {
	if d.cfg.MarkUnconfiguredSent {
		updated, err := d.store.MarkSent(ctx, row.ID, d.now().UTC(), "")
		if err != nil {
			return err
		}
		if updated {
			result.incr(&result.Sent)
			logger.WarnContext(ctx, "mail unconfigured, marking sent without delivery (legacy mode)")
		}
		return nil
	}

	updated, err := d.store.MarkSkipped(ctx, row.ID, types.StatusSkippedUnconfigured)
	if err != nil {
		return err
	}
	if updated {
		result.incr(&result.SkippedUnconfigured)
		logger.WarnContext(ctx, "mail unconfigured, schedule skipped")
	}
	return nil
}

// recordFailure stores the provider failure with exponential backoff. Rows
// that hit the attempt cap are finalized as failed.
func (d *Dispatcher) recordFailure(ctx context.Context, row *types.EmailSchedule, sendErr error, result *PassResult, logger *slog.Logger) error {
	nextAttemptAt := d.now().UTC().Add(d.backoffFor(row.AttemptCount))

	exhausted, err := d.store.RecordSendFailure(ctx, row.ID, sendErr.Error(), nextAttemptAt, d.cfg.MaxSendAttempts)
	if err != nil {
		return err
	}

	result.mu.Lock()
	result.SendFailures++
	if exhausted {
		result.Exhausted++
	}
	result.mu.Unlock()

	if exhausted {
		logger.ErrorContext(ctx, "schedule exhausted send attempts",
			"attempts", row.AttemptCount+1,
			"error", sendErr,
		)
	} else {
		logger.WarnContext(ctx, "send failed, will retry",
			"attempt", row.AttemptCount+1,
			"next_attempt_at", nextAttemptAt,
			"error", sendErr,
		)
	}
	return fmt.Errorf("schedule %s: send failed: %w", row.ID, sendErr)
}

// backoffFor computes the retry delay after the given number of prior
// attempts: base doubled per attempt, clamped to the configured maximum.
func (d *Dispatcher) backoffFor(priorAttempts int) time.Duration {
	backoff := d.cfg.RetryBackoffBase
	if backoff <= 0 {
		backoff = time.Minute
	}
	for i := 0; i < priorAttempts; i++ {
		backoff *= 2
		if d.cfg.RetryBackoffMax > 0 && backoff >= d.cfg.RetryBackoffMax {
			return d.cfg.RetryBackoffMax
		}
	}
	if d.cfg.RetryBackoffMax > 0 && backoff > d.cfg.RetryBackoffMax {
		backoff = d.cfg.RetryBackoffMax
	}
	return backoff
}
