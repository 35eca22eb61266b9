package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dripline/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- Mock Rows for Query ---

// mockRows implements pgx.Rows for testing Query results. Each data row is
// laid out in scheduleColumns order where schedule scanning is exercised.
type mockRows struct {
	data    [][]any
	idx     int
	closed  bool
	scanErr error
	errVal  error
}

func newMockRows(data [][]any) *mockRows {
	return &mockRows{data: data, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *mockRows) Scan(dest ...any) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	row := r.data[r.idx]
	for i, d := range dest {
		if row[i] == nil {
			continue
		}
		switch v := d.(type) {
		case *string:
			*v = row[i].(string)
		case **string:
			s := row[i].(string)
			*v = &s
		case *time.Time:
			*v = row[i].(time.Time)
		case **time.Time:
			ts := row[i].(time.Time)
			*v = &ts
		case *int:
			*v = row[i].(int)
		case *types.Props:
			*v = row[i].(types.Props)
		}
	}
	return nil
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// scheduleRowData builds a scheduleColumns-ordered data row for mockRows.
func scheduleRowData(id string, status string, now time.Time) []any {
	return []any{
		id,                              // id
		"ada@example.com",               // recipient
		"welcome",                       // component
		types.Props{"firstName": "Ada"}, // props
		now.Add(-time.Hour),             // send_at
		nil,                             // condition
		status,                          // status
		nil,                             // sent_at
		0,                               // attempt_count
		nil,                             // next_attempt_at
		nil,                             // failure_reason
		nil,                             // provider_message_id
		now.Add(-2 * time.Hour),         // created_at
		now.Add(-2 * time.Hour),         // updated_at
	}
}

// --- ScheduleRepository Tests ---

func TestScheduleRepository_Create_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)

	now := time.Now().UTC()
	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*time.Time) = now
			*dest[1].(*time.Time) = now
			return nil
		},
	}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	created, err := repo.Create(context.Background(), types.ScheduleEmailInput{
		To:        "ada@example.com",
		Component: "welcome",
		SendAt:    now.Add(time.Hour),
	})
	require.NoError(t, err)

	assert.True(t, len(created.ID) > len(scheduleIDPrefix))
	assert.Equal(t, scheduleIDPrefix, created.ID[:len(scheduleIDPrefix)])
	assert.Equal(t, types.StatusPending, created.Status)
	assert.Equal(t, now, created.CreatedAt)
	db.AssertExpectations(t)
}

func TestScheduleRepository_Create_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)

	row := &mockRow{scanErr: errors.New("connection refused")}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := repo.Create(context.Background(), types.ScheduleEmailInput{To: "a@b.c", Component: "welcome"})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestScheduleRepository_GetByID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)

	now := time.Now().UTC()
	rows := newMockRows([][]any{scheduleRowData("ems_1", "pending", now)})
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	s, err := repo.GetByID(context.Background(), "ems_1")
	require.NoError(t, err)
	assert.Equal(t, "ems_1", s.ID)
	assert.Equal(t, types.StatusPending, s.Status)
	assert.Equal(t, "Ada", s.Props.String("firstName", ""))
	assert.Nil(t, s.SentAt)
}

func TestScheduleRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)

	rows := newMockRows(nil)
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(rows, nil)

	_, err := repo.GetByID(context.Background(), "ems_missing")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundSchedule, appErr.Code)
}

func TestScheduleRepository_FindDuePending(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)

	now := time.Now().UTC()
	rows := newMockRows([][]any{
		scheduleRowData("ems_1", "pending", now),
		scheduleRowData("ems_2", "pending", now),
	})
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		// The due scan binds the pass's notion of now, in UTC.
		ts, ok := args[0].(time.Time)
		return len(args) == 1 && ok && ts.Location() == time.UTC
	})).Return(rows, nil)

	due, err := repo.FindDuePending(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "ems_1", due[0].ID)
	assert.Equal(t, "ems_2", due[1].ID)
	db.AssertExpectations(t)
}

func TestScheduleRepository_FindDuePending_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := repo.FindDuePending(context.Background(), time.Now())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestScheduleRepository_MarkSent(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	updated, err := repo.MarkSent(context.Background(), "ems_1", time.Now(), "re_msg_1")
	require.NoError(t, err)
	assert.True(t, updated)
}

func TestScheduleRepository_MarkSent_AlreadyFinalized(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)

	// The CAS WHERE status = 'pending' matched nothing.
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	updated, err := repo.MarkSent(context.Background(), "ems_1", time.Now(), "re_msg_1")
	require.NoError(t, err)
	assert.False(t, updated, "a finalized row must not be re-marked")
}

func TestScheduleRepository_MarkSkipped_RejectsNonSkipStatus(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)

	for _, status := range []types.ScheduleStatus{types.StatusSent, types.StatusPending, types.StatusFailed} {
		_, err := repo.MarkSkipped(context.Background(), "ems_1", status)
		require.Error(t, err, "status %s must be rejected", status)
	}
	db.AssertNotCalled(t, "Exec")
}

func TestScheduleRepository_MarkSkipped(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return len(args) == 2 && args[1] == "skipped_unconfigured"
	})).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	updated, err := repo.MarkSkipped(context.Background(), "ems_1", types.StatusSkippedUnconfigured)
	require.NoError(t, err)
	assert.True(t, updated)
	db.AssertExpectations(t)
}

func TestScheduleRepository_RecordSendFailure_Retryable(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "pending"
			return nil
		},
	}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	exhausted, err := repo.RecordSendFailure(context.Background(), "ems_1", "timeout", time.Now().Add(time.Minute), 8)
	require.NoError(t, err)
	assert.False(t, exhausted)
}

func TestScheduleRepository_RecordSendFailure_Exhausted(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)

	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "failed"
			return nil
		},
	}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	exhausted, err := repo.RecordSendFailure(context.Background(), "ems_1", "timeout", time.Now().Add(time.Minute), 8)
	require.NoError(t, err)
	assert.True(t, exhausted)
}

func TestScheduleRepository_RecordSendFailure_RowAlreadyFinalized(t *testing.T) {
	db := new(mockDBTX)
	repo := NewScheduleRepository(db)

	row := &mockRow{scanErr: pgx.ErrNoRows}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	exhausted, err := repo.RecordSendFailure(context.Background(), "ems_1", "timeout", time.Now(), 8)
	require.NoError(t, err, "a concurrently finalized row is not an error")
	assert.False(t, exhausted)
}
