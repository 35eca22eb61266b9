// Package external provides the anti-corruption layer between dripline
// domain logic and third-party APIs. All outbound HTTP calls are routed
// through the BaseClient, which enforces consistent resilience patterns:
// circuit breaking, retries with exponential backoff, and error mapping.
package external

import (
	"context"

	"dripline/internal/types"
)

// EmailProvider abstracts the transactional email delivery service (Resend).
// Implementations transmit pre-rendered content; no templating happens here.
type EmailProvider interface {
	// Send transmits an email with pre-rendered subject and HTML body.
	// Returns the provider's message ID for tracking and correlation.
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}

// RecipientVerifier checks whether an address is worth accepting at enqueue
// time: syntactically valid, not from a disposable-mail provider, and (when
// enabled) backed by a domain that can actually receive mail.
type RecipientVerifier interface {
	// Verify returns nil when the address passes all enabled checks, and an
	// AppError with an email_* code describing the first failed check
	// otherwise.
	Verify(ctx context.Context, address string) error
}
