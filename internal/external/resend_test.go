package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dripline/internal/types"
)

func testSendInput() types.SendInput {
	return types.SendInput{
		From:        types.SenderIdentity{Address: "noreply@updates.dripline.dev", Name: "dripline"},
		To:          "ada@example.com",
		Subject:     "need a hand getting started?",
		HTML:        "<p>hi</p>",
		ReferenceID: "ems_123",
	}
}

func newTestResend(t *testing.T, handler http.HandlerFunc) (*ResendClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewResendClient(ResendConfig{
		APIKey:  types.SecretString("re_test_key"),
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
	}, noSleep())
	return client, srv
}

func TestResendSendSuccess(t *testing.T) {
	var captured resendSendRequest
	client, _ := newTestResend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" {
			t.Errorf("path = %q, want /emails", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer re_test_key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decoding request: %v", err)
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"re_abc123"}`))
	})

	msgID, err := client.Send(context.Background(), testSendInput())
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if msgID != "re_abc123" {
		t.Errorf("message ID = %q, want re_abc123", msgID)
	}

	if captured.From != "dripline <noreply@updates.dripline.dev>" {
		t.Errorf("from = %q", captured.From)
	}
	if len(captured.To) != 1 || captured.To[0] != "ada@example.com" {
		t.Errorf("to = %v", captured.To)
	}
	if captured.Subject != "need a hand getting started?" {
		t.Errorf("subject = %q", captured.Subject)
	}
}

func TestResendSendRejected(t *testing.T) {
	client, _ := newTestResend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"name":"validation_error","message":"domain is not verified"}`))
	})

	_, err := client.Send(context.Background(), testSendInput())
	if !types.HasCode(err, types.ErrCodeUpstreamEmailProvider) {
		t.Fatalf("err = %v, want upstream_email_provider_unavailable", err)
	}
}

func TestResendSendUpstreamDown(t *testing.T) {
	client, _ := newTestResend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Send(context.Background(), testSendInput())
	if !types.HasCode(err, types.ErrCodeUpstreamEmailProvider) {
		t.Fatalf("err = %v, want upstream_email_provider_unavailable", err)
	}
	// The transport-level cause survives in the chain.
	if !types.HasCode(err, types.ErrCodeUpstreamUnavailable) {
		t.Errorf("err = %v, want wrapped upstream_unavailable", err)
	}
}

func TestResendSendGarbledResponse(t *testing.T) {
	client, _ := newTestResend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := client.Send(context.Background(), testSendInput())
	if !types.HasCode(err, types.ErrCodeUpstreamEmailProvider) {
		t.Fatalf("err = %v, want upstream_email_provider_unavailable", err)
	}
}
