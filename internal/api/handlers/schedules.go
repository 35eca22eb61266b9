// Package handlers contains the HTTP handler implementations for the
// dripline API: schedule enqueue and inspection, and the manual pass
// trigger.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"dripline/internal/core"
	"dripline/internal/external"
	"dripline/internal/scheduler"
	"dripline/internal/types"
)

// ScheduleStore is the persistence contract this handler needs. Mirrors the
// db.ScheduleRepository methods it uses.
type ScheduleStore interface {
	Create(ctx context.Context, input types.ScheduleEmailInput) (*types.EmailSchedule, error)
	GetByID(ctx context.Context, id string) (*types.EmailSchedule, error)
	List(ctx context.Context, status types.ScheduleStatus, limit int) ([]*types.EmailSchedule, error)
}

// PassTrigger publishes a run-pass request to the worker's trigger queue.
type PassTrigger interface {
	Publish(ctx context.Context, source string) (string, error)
}

// PassRunner executes a poll pass inline. Used when no trigger queue is
// configured (local and self-hosted deployments).
type PassRunner interface {
	RunPass(ctx context.Context) (*scheduler.PassResult, error)
}

// ScheduleHandler serves /v1/schedules and /v1/scheduler.
type ScheduleHandler struct {
	store     ScheduleStore
	verifier  external.RecipientVerifier
	trigger   PassTrigger // nil when no queue is configured
	runner    PassRunner  // nil when passes only run out-of-process
	validator *core.Validator
	logger    *slog.Logger
}

// NewScheduleHandler wires a ScheduleHandler. trigger and runner are each
// optional, but POST /v1/scheduler/run fails with 502 if both are nil.
func NewScheduleHandler(
	store ScheduleStore,
	verifier external.RecipientVerifier,
	trigger PassTrigger,
	runner PassRunner,
	validator *core.Validator,
	logger *slog.Logger,
) *ScheduleHandler {
	if verifier == nil {
		verifier = external.NoopVerifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScheduleHandler{
		store:     store,
		verifier:  verifier,
		trigger:   trigger,
		runner:    runner,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the handler's routes on the v1 router.
func (h *ScheduleHandler) RegisterRoutes(r chi.Router) {
	r.Post("/schedules", h.Create)
	r.Get("/schedules", h.List)
	r.Get("/schedules/{id}", h.Get)
	r.Post("/scheduler/run", h.RunPass)
}

// CreateScheduleRequest is the request body for POST /v1/schedules.
type CreateScheduleRequest struct {
	To        string      `json:"to" validate:"required,email"`
	Component string      `json:"component" validate:"required,max=100"`
	Props     types.Props `json:"props,omitempty"`
	SendAt    time.Time   `json:"send_at" validate:"required"`
	Condition *string     `json:"condition,omitempty"`
}

// Create enqueues a schedule row. The recipient is verified (format plus the
// configured denylist/MX checks); the component deliberately is not, so rows
// can be enqueued ahead of a template deploy. Duplicates are allowed.
func (h *ScheduleHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.verifier.Verify(r.Context(), req.To); err != nil {
		core.Error(w, r, err)
		return
	}

	row, err := h.store.Create(r.Context(), types.ScheduleEmailInput{
		To:        req.To,
		Component: req.Component,
		Props:     req.Props,
		SendAt:    req.SendAt,
		Condition: req.Condition,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "schedule created",
		"schedule_id", row.ID,
		"component", row.Component,
		"send_at", row.SendAt,
	)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: row})
}

// Get returns a single schedule row by ID.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	row, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: row})
}

// listSchedulesResponse wraps the List result.
type listSchedulesResponse struct {
	Schedules []*types.EmailSchedule `json:"schedules"`
}

// List returns schedule rows, newest first, optionally filtered by the
// status query parameter. limit defaults to 50 and caps at 200.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	status := types.ScheduleStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
			"invalid status filter", nil,
			map[string]any{"field": "status", "value": string(status)}))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
				"limit must be a positive integer", err,
				map[string]any{"field": "limit", "value": raw}))
			return
		}
		limit = parsed
	}

	rows, err := h.store.List(r.Context(), status, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if rows == nil {
		rows = []*types.EmailSchedule{}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: listSchedulesResponse{Schedules: rows}})
}

// runPassResponse is returned by the trigger endpoint's queued path.
type runPassResponse struct {
	TriggerID string `json:"trigger_id"`
	Queued    bool   `json:"queued"`
}

// RunPass requests a dispatch pass. With a trigger queue configured it
// publishes a trigger and answers 202; otherwise it runs the pass inline and
// answers 200 with the pass result. A pass already in progress surfaces as
// 409 conflict_pass_in_progress on the inline path.
func (h *ScheduleHandler) RunPass(w http.ResponseWriter, r *http.Request) {
	if h.trigger != nil {
		triggerID, err := h.trigger.Publish(r.Context(), "api")
		if err != nil {
			core.Error(w, r, err)
			return
		}
		core.JSON(w, r, http.StatusAccepted, core.APIResponse{
			Data: runPassResponse{TriggerID: triggerID, Queued: true},
		})
		return
	}

	if h.runner == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeUpstreamUnavailable,
			"no scheduler trigger queue or inline runner is configured", nil))
		return
	}

	result, err := h.runner.RunPass(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: result})
}
