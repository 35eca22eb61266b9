// Package scheduler implements the poll-pass dispatcher: it polls the
// schedule store for due pending rows, evaluates their send conditions,
// renders templates, and hands rendered emails to the mail provider,
// finalizing each row's status with guarded transitions.
package scheduler

import "strings"

// IsConditionMet evaluates a schedule row's send condition.
//
// An absent or empty condition means "always send". A present, non-empty
// condition is satisfied only when it equals "true" after trimming
// surrounding whitespace, compared case-insensitively. Any other value
// ("false", "1", "yes", whitespace-only, arbitrary text) is unmet and the
// row is skipped. Conditions are snapshots captured at enqueue time; they
// are never re-derived from live state.
func IsConditionMet(condition *string) bool {
	if condition == nil || *condition == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(*condition), "true")
}
