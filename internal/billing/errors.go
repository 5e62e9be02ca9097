package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced client, project, rate or
	// invoice does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUpstreamUnavailable is returned when the worklog source or the
	// configuration store cannot be reached. Preview and reconciliation
	// fail closed instead of returning partial results.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrAlreadyExists is returned on unique-constraint conflicts: duplicate
	// client names and duplicate (instance, project key) mappings.
	ErrAlreadyExists = errors.New("already exists")
)

// ValidationError reports malformed caller input: an inverted period,
// negative taxes, or a group-by value outside the allowed set.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NoRateConfiguredError means no cascade level produced a rate for a worklog
// entry. The caller must surface it; pricing an entry at zero is never an
// acceptable fallback.
type NoRateConfiguredError struct {
	WorklogID string
	IssueKey  string
	ProjectID string
	Date      Date
}

func (e *NoRateConfiguredError) Error() string {
	return fmt.Sprintf("no rate configured for worklog %s (issue %s, project %s, date %s)",
		e.WorklogID, e.IssueKey, e.ProjectID, e.Date)
}

// IllegalTransitionError reports an invoice state change that is not
// permitted from the current status.
type IllegalTransitionError struct {
	From      Status
	Requested Transition
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: cannot %s invoice in status %s", e.Requested, e.From)
}

// ReferentialIntegrityError reports a delete that would orphan dependent
// records, such as removing a client that still has invoices attached.
type ReferentialIntegrityError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("cannot delete %s %s: %s", e.Entity, e.ID, e.Reason)
}
