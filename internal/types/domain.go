// Package types holds the domain entities, enums, and error taxonomy shared
// across the dripline service. It has no dependencies on other internal
// packages so that every layer (db, scheduler, api) can import it freely.
package types

import "time"

// EmailSchedule is a persisted unit of deferred email work. It mirrors the
// email_schedules table. Rows are created by the enqueue operation, mutated
// exclusively by the dispatcher during a poll pass, and never deleted by this
// service.
type EmailSchedule struct {
	ID        string `json:"id"`
	Recipient string `json:"recipient"`
	// Component is the template registry key used to render the email.
	// It is deliberately not validated at enqueue time; an unregistered key
	// surfaces as an unknown_template error at dispatch time.
	Component string `json:"component"`
	Props     Props  `json:"props"`
	// SendAt is the earliest eligible dispatch time (UTC).
	SendAt time.Time `json:"send_at"`
	// Condition gates dispatch. Absent or empty means "always send";
	// only a trimmed, case-insensitive "true" is otherwise satisfied.
	Condition *string        `json:"condition,omitempty"`
	Status    ScheduleStatus `json:"status"`
	// SentAt is set if and only if Status is sent.
	SentAt *time.Time `json:"sent_at,omitempty"`
	// AttemptCount counts provider send attempts; used for the retry cap.
	AttemptCount int `json:"attempt_count"`
	// NextAttemptAt gates retries after a send failure (exponential backoff).
	NextAttemptAt     *time.Time `json:"next_attempt_at,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ScheduleEmailInput is the enqueue payload. Duplicate schedules are permitted
// by design; deduplication is the caller's responsibility.
type ScheduleEmailInput struct {
	To        string    `json:"to"`
	Component string    `json:"component"`
	Props     Props     `json:"props"`
	SendAt    time.Time `json:"send_at"`
	Condition *string   `json:"condition,omitempty"`
}

// SenderIdentity is the fixed From identity used for all outbound mail.
type SenderIdentity struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Formatted returns the identity in "Name <address>" form, or the bare
// address when no display name is configured.
func (s SenderIdentity) Formatted() string {
	if s.Name == "" {
		return s.Address
	}
	return s.Name + " <" + s.Address + ">"
}

// SendInput carries a fully rendered email to the mail provider adapter.
type SendInput struct {
	From    SenderIdentity
	To      string
	Subject string
	HTML    string
	// ReferenceID correlates the provider submission with the schedule row.
	ReferenceID string
}

// PassTriggerMessage is the body of a run-pass trigger published to the
// scheduler trigger queue. The worker runs exactly one poll pass per message;
// the payload exists for tracing, not for parameterizing the pass.
type PassTriggerMessage struct {
	TriggerID   string    `json:"trigger_id"`
	RequestedAt time.Time `json:"requested_at"`
	// Source records what asked for the pass (e.g. "api", "eventbridge").
	Source string `json:"source"`
}
