package core

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dripline/internal/config"
	"dripline/internal/types"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.RequestTimeout = 0 // not used directly by these tests

	srv, err := NewServer(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func TestRequestIDMiddlewareGeneratesID(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = types.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("no request ID in context")
	}
	if got := rec.Header().Get("X-Request-Id"); got != seen {
		t.Errorf("response header = %q, context = %q", got, seen)
	}
}

func TestRequestIDMiddlewarePropagatesHeader(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = types.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "incoming-123")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "incoming-123" {
		t.Errorf("request ID = %q, want incoming-123", seen)
	}
}

func TestRecovererTurnsPanicInto500(t *testing.T) {
	srv := testServer(t)
	h := srv.Recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_unexpected_error") {
		t.Errorf("body = %s", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Errorf("panic value leaked to client: %s", rec.Body.String())
	}
}

func TestHandleHealthNoProbes(t *testing.T) {
	srv := testServer(t)

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"healthy"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestValidateStructErrorCodes(t *testing.T) {
	type input struct {
		To        string `validate:"required,email"`
		Component string `validate:"required"`
	}
	v := NewValidator()

	if err := v.ValidateStruct(input{To: "a@example.com", Component: "welcome"}); err != nil {
		t.Fatalf("valid struct rejected: %v", err)
	}

	err := v.ValidateStruct(input{To: "", Component: "welcome"})
	if !types.HasCode(err, types.ErrCodeValidationMissingField) {
		t.Errorf("missing field err = %v", err)
	}

	err = v.ValidateStruct(input{To: "not-an-email", Component: "welcome"})
	if !types.HasCode(err, types.ErrCodeValidationInvalidEmail) {
		t.Errorf("bad email err = %v", err)
	}
}
