package billing

import "testing"

// TestNextIsTotal checks every (status, transition) pair against the
// lifecycle table. Pairs absent from the allow list must produce an
// IllegalTransitionError carrying the rejected pair.
func TestNextIsTotal(t *testing.T) {
	statuses := []Status{StatusDraft, StatusIssued, StatusPaid, StatusVoid}
	transitions := []Transition{TransitionIssue, TransitionPay, TransitionVoid, TransitionDelete}

	allowed := map[Status]map[Transition]Status{
		StatusDraft: {
			TransitionIssue:  StatusIssued,
			TransitionVoid:   StatusVoid,
			TransitionDelete: StatusDraft, // nil error authorizes physical removal
		},
		StatusIssued: {
			TransitionPay:  StatusPaid,
			TransitionVoid: StatusVoid,
		},
	}

	for _, cur := range statuses {
		for _, tr := range transitions {
			next, err := Next(cur, tr)
			want, ok := allowed[cur][tr]
			if ok {
				if err != nil {
					t.Fatalf("Next(%s, %s): unexpected error %v", cur, tr, err)
				}
				if next != want {
					t.Fatalf("Next(%s, %s) = %s, want %s", cur, tr, next, want)
				}
				continue
			}
			if err == nil {
				t.Fatalf("Next(%s, %s) allowed, want IllegalTransitionError", cur, tr)
			}
			if err.From != cur || err.Requested != tr {
				t.Fatalf("Next(%s, %s) error reports (%s, %s)", cur, tr, err.From, err.Requested)
			}
		}
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus(""); err != nil || s != "" {
		t.Fatalf("ParseStatus(empty) = %q, %v", s, err)
	}
	if _, err := ParseStatus("SENT"); err == nil {
		t.Fatal("ParseStatus accepted unknown status")
	}
	// Statuses are stored uppercase and matched exactly.
	if _, err := ParseStatus("draft"); err == nil {
		t.Fatal("ParseStatus accepted lowercase status")
	}
}
