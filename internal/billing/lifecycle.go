package billing

// Status is the invoice lifecycle state. The set is closed: transition
// decisions live in Next and nowhere else.
type Status string

const (
	StatusDraft  Status = "DRAFT"
	StatusIssued Status = "ISSUED"
	StatusPaid   Status = "PAID"
	StatusVoid   Status = "VOID"
)

// ParseStatus validates a status value; the empty string is accepted as "no
// filter".
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case "", StatusDraft, StatusIssued, StatusPaid, StatusVoid:
		return Status(s), nil
	}
	return "", validationf("unknown invoice status %q", s)
}

// Transition is a requested invoice state change.
type Transition string

const (
	TransitionIssue  Transition = "issue"
	TransitionPay    Transition = "pay"
	TransitionVoid   Transition = "void"
	TransitionDelete Transition = "delete"
)

// Next is the single transition function for the invoice lifecycle:
//
//	DRAFT  -> ISSUED, VOID, (deleted)
//	ISSUED -> PAID, VOID
//
// It is total: every (status, transition) pair yields either the successor
// status or an IllegalTransitionError. For TransitionDelete a nil error
// means the invoice may be physically removed; issued invoices are retained
// for audit and can only be voided.
func Next(cur Status, t Transition) (Status, *IllegalTransitionError) {
	switch t {
	case TransitionIssue:
		if cur == StatusDraft {
			return StatusIssued, nil
		}
	case TransitionPay:
		if cur == StatusIssued {
			return StatusPaid, nil
		}
	case TransitionVoid:
		if cur == StatusDraft || cur == StatusIssued {
			return StatusVoid, nil
		}
	case TransitionDelete:
		if cur == StatusDraft {
			return cur, nil
		}
	}
	return cur, &IllegalTransitionError{From: cur, Requested: t}
}
