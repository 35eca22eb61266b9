package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dripline/internal/core"
	"dripline/internal/scheduler"
	"dripline/internal/types"
)

// --- Fakes ---

type fakeStore struct {
	created []types.ScheduleEmailInput
	rows    map[string]*types.EmailSchedule
	listed  []*types.EmailSchedule

	createErr error
	listErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]*types.EmailSchedule)}
}

func (f *fakeStore) Create(_ context.Context, input types.ScheduleEmailInput) (*types.EmailSchedule, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, input)
	row := &types.EmailSchedule{
		ID:        "ems_created",
		Recipient: input.To,
		Component: input.Component,
		Props:     input.Props,
		SendAt:    input.SendAt,
		Condition: input.Condition,
		Status:    types.StatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	f.rows[row.ID] = row
	return row, nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*types.EmailSchedule, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundSchedule, "schedule "+id+" not found", nil)
	}
	return row, nil
}

func (f *fakeStore) List(_ context.Context, status types.ScheduleStatus, limit int) ([]*types.EmailSchedule, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.listed, nil
}

type fakeVerifier struct {
	err   error
	calls []string
}

func (f *fakeVerifier) Verify(_ context.Context, address string) error {
	f.calls = append(f.calls, address)
	return f.err
}

type fakeTrigger struct {
	err   error
	calls int
}

func (f *fakeTrigger) Publish(_ context.Context, source string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "trg_test", nil
}

type fakeRunner struct {
	result *scheduler.PassResult
	err    error
}

func (f *fakeRunner) RunPass(_ context.Context) (*scheduler.PassResult, error) {
	return f.result, f.err
}

// --- Helpers ---

func newTestRouter(h *ScheduleHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	return r
}

func newHandler(store *fakeStore, verifier *fakeVerifier, trigger PassTrigger, runner PassRunner) *ScheduleHandler {
	return NewScheduleHandler(store, verifier, trigger, runner, core.NewValidator(), slog.New(slog.DiscardHandler))
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestCreateSchedule(t *testing.T) {
	store := newFakeStore()
	verifier := &fakeVerifier{}
	router := newTestRouter(newHandler(store, verifier, nil, nil))

	sendAt := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	body := `{
		"to": "ada@example.com",
		"component": "followUpNoApiKey",
		"props": {"firstName": "Ada"},
		"send_at": "` + sendAt + `",
		"condition": "true"
	}`

	rec := doRequest(t, router, http.MethodPost, "/v1/schedules", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Len(t, store.created, 1)
	assert.Equal(t, "ada@example.com", store.created[0].To)
	assert.Equal(t, "followUpNoApiKey", store.created[0].Component)
	require.NotNil(t, store.created[0].Condition)
	assert.Equal(t, "true", *store.created[0].Condition)

	assert.Equal(t, []string{"ada@example.com"}, verifier.calls)

	var resp struct {
		Data types.EmailSchedule `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ems_created", resp.Data.ID)
	assert.Equal(t, types.StatusPending, resp.Data.Status)
}

func TestCreateScheduleValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{
			name:     "missing recipient",
			body:     `{"component":"welcome","send_at":"2030-01-01T00:00:00Z"}`,
			wantCode: "validation_missing_required_field",
		},
		{
			name:     "invalid email",
			body:     `{"to":"nope","component":"welcome","send_at":"2030-01-01T00:00:00Z"}`,
			wantCode: "validation_invalid_email",
		},
		{
			name:     "missing component",
			body:     `{"to":"a@example.com","send_at":"2030-01-01T00:00:00Z"}`,
			wantCode: "validation_missing_required_field",
		},
		{
			name:     "malformed json",
			body:     `{"to":`,
			wantCode: "validation_invalid_json",
		},
		{
			name:     "unknown field",
			body:     `{"to":"a@example.com","component":"welcome","send_at":"2030-01-01T00:00:00Z","nope":1}`,
			wantCode: "validation_invalid_json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			router := newTestRouter(newHandler(store, &fakeVerifier{}, nil, nil))

			rec := doRequest(t, router, http.MethodPost, "/v1/schedules", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), tt.wantCode)
			assert.Empty(t, store.created)
		})
	}
}

func TestCreateScheduleRejectedRecipient(t *testing.T) {
	store := newFakeStore()
	verifier := &fakeVerifier{err: types.NewAppError(types.ErrCodeEmailDisposable, "disposable domain", nil)}
	router := newTestRouter(newHandler(store, verifier, nil, nil))

	body := `{"to":"x@mailinator.com","component":"welcome","send_at":"2030-01-01T00:00:00Z"}`
	rec := doRequest(t, router, http.MethodPost, "/v1/schedules", body)

	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "email_disposable")
	assert.Empty(t, store.created)
}

func TestGetSchedule(t *testing.T) {
	store := newFakeStore()
	store.rows["ems_1"] = &types.EmailSchedule{ID: "ems_1", Status: types.StatusSent}
	router := newTestRouter(newHandler(store, &fakeVerifier{}, nil, nil))

	rec := doRequest(t, router, http.MethodGet, "/v1/schedules/ems_1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"ems_1"`)

	rec = doRequest(t, router, http.MethodGet, "/v1/schedules/ems_missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found_schedule")
}

func TestListSchedules(t *testing.T) {
	store := newFakeStore()
	store.listed = []*types.EmailSchedule{
		{ID: "ems_2", Status: types.StatusPending},
		{ID: "ems_1", Status: types.StatusSent},
	}
	router := newTestRouter(newHandler(store, &fakeVerifier{}, nil, nil))

	rec := doRequest(t, router, http.MethodGet, "/v1/schedules?status=pending&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ems_2")

	rec = doRequest(t, router, http.MethodGet, "/v1/schedules?status=bogus", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation_invalid_field")

	rec = doRequest(t, router, http.MethodGet, "/v1/schedules?limit=zero", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSchedulesEmptyIsArray(t *testing.T) {
	store := newFakeStore()
	router := newTestRouter(newHandler(store, &fakeVerifier{}, nil, nil))

	rec := doRequest(t, router, http.MethodGet, "/v1/schedules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"schedules":[]`)
}

func TestRunPassQueued(t *testing.T) {
	trigger := &fakeTrigger{}
	router := newTestRouter(newHandler(newFakeStore(), &fakeVerifier{}, trigger, nil))

	rec := doRequest(t, router, http.MethodPost, "/v1/scheduler/run", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"trigger_id":"trg_test"`)
	assert.Contains(t, rec.Body.String(), `"queued":true`)
	assert.Equal(t, 1, trigger.calls)
}

func TestRunPassInline(t *testing.T) {
	runner := &fakeRunner{result: &scheduler.PassResult{Found: 2, Sent: 2}}
	router := newTestRouter(newHandler(newFakeStore(), &fakeVerifier{}, nil, runner))

	rec := doRequest(t, router, http.MethodPost, "/v1/scheduler/run", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"sent":2`)
}

func TestRunPassInlineConflict(t *testing.T) {
	runner := &fakeRunner{err: types.NewAppError(types.ErrCodeConflictPassInProgress, "busy", nil)}
	router := newTestRouter(newHandler(newFakeStore(), &fakeVerifier{}, nil, runner))

	rec := doRequest(t, router, http.MethodPost, "/v1/scheduler/run", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "conflict_pass_in_progress")
}

func TestRunPassNoBackend(t *testing.T) {
	router := newTestRouter(newHandler(newFakeStore(), &fakeVerifier{}, nil, nil))

	rec := doRequest(t, router, http.MethodPost, "/v1/scheduler/run", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
}
