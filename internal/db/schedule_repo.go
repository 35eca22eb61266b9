package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"dripline/internal/types"
)

// scheduleIDPrefix namespaces schedule identifiers ("ems_<uuid>").
const scheduleIDPrefix = "ems_"

// scheduleColumns is the canonical column list scanned by scanSchedule.
const scheduleColumns = `id, recipient, component, props, send_at, condition,
	status, sent_at, attempt_count, next_attempt_at, failure_reason,
	provider_message_id, created_at, updated_at`

// ScheduleRepository provides data access for the email_schedules table.
//
// Status transitions are guarded compare-and-swap updates: every mark
// operation carries a WHERE status = 'pending' clause, so a row that was
// already finalized by a concurrent pass is left untouched and the caller
// is told via the returned boolean. Combined with the advisory pass lock
// this prevents the duplicate-dispatch race of an unguarded
// read-then-update sequence.
type ScheduleRepository struct {
	db DBTX
}

// NewScheduleRepository creates a new ScheduleRepository backed by the given
// database connection (pool or transaction).
func NewScheduleRepository(db DBTX) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Create inserts a new schedule row with status 'pending' and returns the
// persisted row including its assigned identifier. No uniqueness constraint
// applies to any field; duplicate schedules are permitted by design and
// deduplication is the caller's responsibility.
func (r *ScheduleRepository) Create(ctx context.Context, input types.ScheduleEmailInput) (*types.EmailSchedule, error) {
	row := &types.EmailSchedule{
		ID:        scheduleIDPrefix + uuid.New().String(),
		Recipient: input.To,
		Component: input.Component,
		Props:     input.Props,
		SendAt:    input.SendAt.UTC(),
		Condition: input.Condition,
		Status:    types.StatusPending,
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO email_schedules
		 (id, recipient, component, props, send_at, condition, status)
		 VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		 RETURNING created_at, updated_at`,
		row.ID,
		row.Recipient,
		row.Component,
		row.Props,
		row.SendAt,
		row.Condition,
	).Scan(&row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create email schedule", err)
	}

	return row, nil
}

// GetByID retrieves a single schedule row by identifier.
// Returns a not_found_schedule AppError when no row matches.
func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*types.EmailSchedule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+scheduleColumns+` FROM email_schedules WHERE id = $1`,
		id,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get email schedule", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "error reading email schedule", err)
		}
		return nil, types.NewAppError(types.ErrCodeNotFoundSchedule, fmt.Sprintf("schedule %s not found", id), nil)
	}

	s, err := scanSchedule(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan schedule row", err)
	}
	return s, nil
}

// List retrieves schedule rows ordered by creation time (newest first),
// optionally filtered by status. Used by the operator API only; the
// dispatcher never calls it.
func (r *ScheduleRepository) List(ctx context.Context, status types.ScheduleStatus, limit int) ([]*types.EmailSchedule, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var (
		rows pgx.Rows
		err  error
	)
	if status != "" {
		rows, err = r.db.Query(ctx,
			`SELECT `+scheduleColumns+`
			 FROM email_schedules
			 WHERE status = $1
			 ORDER BY created_at DESC
			 LIMIT $2`,
			string(status), limit,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+scheduleColumns+`
			 FROM email_schedules
			 ORDER BY created_at DESC
			 LIMIT $1`,
			limit,
		)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list email schedules", err)
	}
	defer rows.Close()

	return collectSchedules(rows)
}

// FindDuePending returns all rows eligible for dispatch at the given time:
// status 'pending', send_at elapsed, and no pending retry backoff. Order is
// unspecified. Each poll is an independent full scan of matching rows, not a
// cursor; a pass interrupted mid-way can simply be rerun.
func (r *ScheduleRepository) FindDuePending(ctx context.Context, now time.Time) ([]*types.EmailSchedule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+scheduleColumns+`
		 FROM email_schedules
		 WHERE status = 'pending'
		   AND send_at <= $1
		   AND (next_attempt_at IS NULL OR next_attempt_at <= $1)`,
		now.UTC(),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query due pending schedules", err)
	}
	defer rows.Close()

	return collectSchedules(rows)
}

// MarkSent finalizes a row as sent, recording sent_at and the provider's
// message ID. The update only proceeds if the row is still pending; the
// returned boolean is false when a concurrent pass won the race.
func (r *ScheduleRepository) MarkSent(ctx context.Context, id string, sentAt time.Time, providerMsgID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE email_schedules SET
			status = 'sent',
			sent_at = $2,
			provider_message_id = NULLIF($3, ''),
			failure_reason = NULL,
			updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id,
		sentAt.UTC(),
		providerMsgID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark schedule sent", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSkipped finalizes a row as skipped or skipped_unconfigured. sent_at is
// never set on this path. The update only proceeds if the row is still
// pending.
func (r *ScheduleRepository) MarkSkipped(ctx context.Context, id string, status types.ScheduleStatus) (bool, error) {
	if status != types.StatusSkipped && status != types.StatusSkippedUnconfigured {
		return false, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("MarkSkipped called with non-skip status %q", status), nil)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE email_schedules SET
			status = $2,
			updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		id,
		string(status),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark schedule skipped", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordSendFailure increments the row's attempt counter, stores the failure
// reason, and schedules the next attempt. Once the incremented counter
// reaches maxAttempts the row transitions to 'failed' instead of remaining
// retryable. Returns whether the row was finalized as failed.
func (r *ScheduleRepository) RecordSendFailure(ctx context.Context, id string, reason string, nextAttemptAt time.Time, maxAttempts int) (bool, error) {
	var status string
	err := r.db.QueryRow(ctx,
		`UPDATE email_schedules SET
			attempt_count = attempt_count + 1,
			failure_reason = $2,
			next_attempt_at = $3,
			status = CASE WHEN attempt_count + 1 >= $4 THEN 'failed' ELSE status END,
			updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'
		 RETURNING status`,
		id,
		reason,
		nextAttemptAt.UTC(),
		maxAttempts,
	).Scan(&status)
	switch {
	case err == pgx.ErrNoRows:
		// Row already finalized by a concurrent pass; nothing to record.
		return false, nil
	case err != nil:
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record send failure", err)
	}
	return status == string(types.StatusFailed), nil
}

// collectSchedules drains a result set into a slice of schedule rows.
func collectSchedules(rows pgx.Rows) ([]*types.EmailSchedule, error) {
	var results []*types.EmailSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan schedule row", err)
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating schedule rows", err)
	}
	return results, nil
}

// scanSchedule scans a single email_schedules row in scheduleColumns order.
// Nullable columns use pointer targets.
func scanSchedule(rows pgx.Rows) (*types.EmailSchedule, error) {
	var (
		s             types.EmailSchedule
		status        string
		failureReason *string
		providerMsgID *string
	)

	err := rows.Scan(
		&s.ID,
		&s.Recipient,
		&s.Component,
		&s.Props,
		&s.SendAt,
		&s.Condition,
		&status,
		&s.SentAt,
		&s.AttemptCount,
		&s.NextAttemptAt,
		&failureReason,
		&providerMsgID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Status = types.ScheduleStatus(status)
	if failureReason != nil {
		s.FailureReason = *failureReason
	}
	if providerMsgID != nil {
		s.ProviderMessageID = *providerMsgID
	}
	return &s, nil
}
