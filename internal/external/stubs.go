package external

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"dripline/internal/types"
)

// StubEmailProvider logs sends instead of performing them. Used in local
// development when no Resend API key is configured, so the full dispatch
// path still runs.
type StubEmailProvider struct {
	logger *slog.Logger
	seq    atomic.Int64
}

var _ EmailProvider = (*StubEmailProvider)(nil)

// NewStubEmailProvider creates a logging-only email provider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEmailProvider{logger: logger}
}

// Send logs the email and returns a synthetic message ID.
func (p *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	id := fmt.Sprintf("stub_%d", p.seq.Add(1))
	p.logger.InfoContext(ctx, "stub email send",
		"to", input.To,
		"subject", input.Subject,
		"reference_id", input.ReferenceID,
		"provider_message_id", id,
	)
	return id, nil
}

// NoopVerifier accepts every address. Used when recipient verification is
// disabled by configuration.
type NoopVerifier struct{}

var _ RecipientVerifier = (*NoopVerifier)(nil)

// Verify always returns nil.
func (NoopVerifier) Verify(context.Context, string) error { return nil }
