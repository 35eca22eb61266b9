package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"dripline/internal/types"
)

const defaultResendBaseURL = "https://api.resend.com"

// ResendClient delivers transactional email through the Resend HTTP API.
// It builds on BaseClient for circuit breaking, retries, and error mapping.
type ResendClient struct {
	base    *BaseClient
	apiKey  types.SecretString
	baseURL string
	logger  *slog.Logger
}

var _ EmailProvider = (*ResendClient)(nil)

// ResendConfig configures a ResendClient.
type ResendConfig struct {
	APIKey types.SecretString
	// BaseURL overrides the Resend API endpoint; tests point it at a local
	// httptest server. Empty means the production endpoint.
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewResendClient creates a Resend-backed email provider.
func NewResendClient(cfg ResendConfig, opts ...BaseClientOption) *ResendClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultResendBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ResendClient{
		base:    NewBaseClient(&http.Client{Timeout: timeout}, "resend", DefaultRetryPolicy(), opts...),
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		logger:  logger,
	}
}

// resendSendRequest is the POST /emails payload.
type resendSendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// resendSendResponse is the success body; Resend returns the message ID only.
type resendSendResponse struct {
	ID string `json:"id"`
}

// resendErrorResponse is the error body shape documented by Resend.
type resendErrorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Send submits a single email and returns Resend's message ID.
func (c *ResendClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	payload := resendSendRequest{
		From:    input.From.Formatted(),
		To:      []string{input.To},
		Subject: input.Subject,
		HTML:    input.HTML,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal resend payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build resend request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey.Unmask())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		// BaseClient already mapped retryable failures; re-tag them so the
		// dispatcher can attribute the failure to the mail provider.
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "resend request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "failed to read resend response", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var apiErr resendErrorResponse
		msg := fmt.Sprintf("resend returned %d", resp.StatusCode)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			msg = fmt.Sprintf("resend returned %d: %s", resp.StatusCode, apiErr.Message)
		}
		c.logger.WarnContext(ctx, "resend rejected send",
			"status", resp.StatusCode,
			"reference_id", input.ReferenceID,
		)
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, msg, nil)
	}

	var ok resendSendResponse
	if err := json.Unmarshal(respBody, &ok); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, "failed to decode resend response", err)
	}

	c.logger.DebugContext(ctx, "resend accepted send",
		"provider_message_id", ok.ID,
		"reference_id", input.ReferenceID,
	)
	return ok.ID, nil
}
