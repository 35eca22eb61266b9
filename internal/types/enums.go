package types

// ScheduleStatus represents the lifecycle state of an email schedule row.
// Transitions are one-way: a row starts as pending and ends in exactly one
// terminal state. No row is ever reopened.
type ScheduleStatus string

const (
	// StatusPending marks a row that has not been dispatched yet.
	StatusPending ScheduleStatus = "pending"
	// StatusSent marks a row whose email was handed to the provider.
	StatusSent ScheduleStatus = "sent"
	// StatusSkipped marks a row whose condition evaluated to false.
	StatusSkipped ScheduleStatus = "skipped"
	// StatusSkippedUnconfigured marks a row that was due and satisfied its
	// condition but could not be dispatched because mail sending is disabled
	// (no provider API key). Distinct from StatusSent so that staging
	// environments do not silently report delivery that never happened.
	StatusSkippedUnconfigured ScheduleStatus = "skipped_unconfigured"
	// StatusFailed marks a row that exhausted its send attempts.
	StatusFailed ScheduleStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s ScheduleStatus) Terminal() bool {
	return s != StatusPending
}

// Valid reports whether the value is a known schedule status.
func (s ScheduleStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusSkipped, StatusSkippedUnconfigured, StatusFailed:
		return true
	}
	return false
}
