package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"timebill.org/internal/worklog"
)

// seedAcme builds a store with one client, one mapped project, one wildcard
// rate of 50.00/h and three 2h entries logged by the same author.
func seedAcme(t *testing.T) (*MemStore, Client, Project) {
	t.Helper()
	ctx := context.Background()
	st := NewMemStore()

	client, err := st.CreateClient(ctx, Client{Name: "Acme GmbH", Currency: "EUR"})
	if err != nil {
		t.Fatal(err)
	}
	project, err := st.CreateProject(ctx, Project{ClientID: client.ID, Name: "Website Relaunch"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.AddMapping(ctx, Mapping{ProjectID: project.ID, Instance: "jira-main", ProjectKey: "ACME"}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateRate(ctx, Rate{ProjectID: project.ID, HourlyRate: 5000}); err != nil {
		t.Fatal(err)
	}

	entries := make([]worklog.Entry, 0, 3)
	for i, key := range []string{"ACME-1", "ACME-2", "ACME-3"} {
		entries = append(entries, worklog.Entry{
			ID:           "wl-" + key,
			Instance:     "jira-main",
			IssueKey:     key,
			IssueSummary: "Task " + key,
			IssueType:    "Task",
			AuthorEmail:  "alice@acme.test",
			AuthorName:   "Alice",
			SecondsSpent: 7200,
			Started:      time.Date(2026, 3, 2+i, 10, 0, 0, 0, time.UTC),
		})
	}
	if _, _, err := st.UpsertWorklogs(ctx, entries); err != nil {
		t.Fatal(err)
	}
	return st, client, project
}

func marchRequest(clientID string) PreviewRequest {
	return PreviewRequest{
		ClientID:    clientID,
		PeriodStart: NewDate(2026, time.March, 1),
		PeriodEnd:   NewDate(2026, time.March, 31),
		GroupBy:     GroupByProject,
	}
}

func TestPreviewSingleRate(t *testing.T) {
	st, client, project := seedAcme(t)
	b := &PreviewBuilder{Config: st, Worklogs: st}

	got, err := b.Preview(context.Background(), marchRequest(client.ID))
	if err != nil {
		t.Fatal(err)
	}
	if got.Currency != "EUR" {
		t.Fatalf("currency = %q", got.Currency)
	}
	if len(got.LineItems) != 1 {
		t.Fatalf("got %d line items, want 1: %+v", len(got.LineItems), got.LineItems)
	}
	li := got.LineItems[0]
	if li.GroupKey != project.ID || li.Description != project.Name {
		t.Fatalf("line identifies %q/%q", li.GroupKey, li.Description)
	}
	if li.QuantityHours != 6 || li.HourlyRate != 5000 || li.Amount != 30000 {
		t.Fatalf("line = %.2fh x %s = %s, want 6.00h x 50.00 = 300.00",
			li.QuantityHours, li.HourlyRate, li.Amount)
	}
	if li.SortOrder != 0 {
		t.Fatalf("sort order = %d", li.SortOrder)
	}
	if got.Subtotal != 30000 {
		t.Fatalf("subtotal = %s, want 300.00", got.Subtotal)
	}
	if got.BillableHours != 6 || got.NonBillableHours != 0 {
		t.Fatalf("hours = %v billable / %v non-billable", got.BillableHours, got.NonBillableHours)
	}
}

// TestPreviewIdempotent: same stored data, byte-identical serialization.
func TestPreviewIdempotent(t *testing.T) {
	st, client, _ := seedAcme(t)
	b := &PreviewBuilder{Config: st, Worklogs: st}
	ctx := context.Background()

	first, err := b.Preview(ctx, marchRequest(client.ID))
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Preview(ctx, marchRequest(client.ID))
	if err != nil {
		t.Fatal(err)
	}
	a, _ := json.Marshal(first)
	bb, _ := json.Marshal(second)
	if !bytes.Equal(a, bb) {
		t.Fatalf("previews differ:\n%s\n%s", a, bb)
	}
}

// TestPreviewSplitsMixedRates: group-by-project must still emit one line per
// distinct rate inside the group, never an averaged rate.
func TestPreviewSplitsMixedRates(t *testing.T) {
	st, client, project := seedAcme(t)
	ctx := context.Background()

	if _, err := st.CreateRate(ctx, Rate{
		ProjectID:  project.ID,
		HourlyRate: 7500,
		UserEmail:  "bob@acme.test",
		CreatedAt:  time.Now().Add(time.Second),
	}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := st.UpsertWorklogs(ctx, []worklog.Entry{{
		ID:           "wl-bob",
		Instance:     "jira-main",
		IssueKey:     "ACME-9",
		AuthorEmail:  "bob@acme.test",
		AuthorName:   "Bob",
		SecondsSpent: 7200,
		Started:      time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC),
	}}); err != nil {
		t.Fatal(err)
	}

	b := &PreviewBuilder{Config: st, Worklogs: st}
	got, err := b.Preview(ctx, marchRequest(client.ID))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.LineItems) != 2 {
		t.Fatalf("got %d line items, want 2 (one per rate): %+v", len(got.LineItems), got.LineItems)
	}
	// Ordered by amount descending: 6h x 50.00 = 300.00 above 2h x 75.00 = 150.00.
	if got.LineItems[0].Amount != 30000 || got.LineItems[1].Amount != 15000 {
		t.Fatalf("amounts = %s, %s", got.LineItems[0].Amount, got.LineItems[1].Amount)
	}
	if got.LineItems[1].HourlyRate != 7500 {
		t.Fatalf("second line rate = %s, want 75.00", got.LineItems[1].HourlyRate)
	}
	if got.Subtotal != 45000 {
		t.Fatalf("subtotal = %s, want 450.00", got.Subtotal)
	}
}

func TestPreviewNonBillablePartition(t *testing.T) {
	st, client, _ := seedAcme(t)
	ctx := context.Background()

	if err := st.SetClassification(ctx, Classification{WorklogID: "wl-ACME-2", Billable: false, Note: "warranty"}); err != nil {
		t.Fatal(err)
	}

	b := &PreviewBuilder{Config: st, Worklogs: st}
	got, err := b.Preview(ctx, marchRequest(client.ID))
	if err != nil {
		t.Fatal(err)
	}
	if got.BillableHours != 4 || got.NonBillableHours != 2 {
		t.Fatalf("hours = %v billable / %v non-billable, want 4 / 2",
			got.BillableHours, got.NonBillableHours)
	}
	if got.Subtotal != 20000 {
		t.Fatalf("subtotal = %s, want 200.00", got.Subtotal)
	}
}

func TestPreviewIgnoresUnmappedEntries(t *testing.T) {
	st, client, _ := seedAcme(t)
	ctx := context.Background()

	// Same instance, unmapped tracker project: never billed, never an error.
	if _, _, err := st.UpsertWorklogs(ctx, []worklog.Entry{{
		ID:           "wl-other",
		Instance:     "jira-main",
		IssueKey:     "INTERNAL-1",
		AuthorEmail:  "alice@acme.test",
		SecondsSpent: 3600,
		Started:      time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC),
	}}); err != nil {
		t.Fatal(err)
	}

	b := &PreviewBuilder{Config: st, Worklogs: st}
	got, err := b.Preview(ctx, marchRequest(client.ID))
	if err != nil {
		t.Fatal(err)
	}
	if got.Subtotal != 30000 || got.BillableHours != 6 {
		t.Fatalf("subtotal = %s, hours = %v; unmapped entry leaked in", got.Subtotal, got.BillableHours)
	}
}

func TestPreviewFailsWithoutRate(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()
	client, _ := st.CreateClient(ctx, Client{Name: "Bare", Currency: "EUR"})
	project, _ := st.CreateProject(ctx, Project{ClientID: client.ID, Name: "Bare"})
	if _, err := st.AddMapping(ctx, Mapping{ProjectID: project.ID, Instance: "jira-main", ProjectKey: "BARE"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := st.UpsertWorklogs(ctx, []worklog.Entry{{
		ID: "wl-1", Instance: "jira-main", IssueKey: "BARE-1",
		AuthorEmail: "x@y.test", SecondsSpent: 3600,
		Started: time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
	}}); err != nil {
		t.Fatal(err)
	}

	b := &PreviewBuilder{Config: st, Worklogs: st}
	_, err := b.Preview(ctx, marchRequest(client.ID))
	var nre *NoRateConfiguredError
	if !errors.As(err, &nre) {
		t.Fatalf("got %v, want NoRateConfiguredError", err)
	}
	if nre.WorklogID != "wl-1" {
		t.Fatalf("error identifies worklog %q", nre.WorklogID)
	}
}

func TestPreviewRejectsForeignProject(t *testing.T) {
	st, client, _ := seedAcme(t)
	ctx := context.Background()

	other, _ := st.CreateClient(ctx, Client{Name: "Other Ltd", Currency: "USD"})
	foreign, _ := st.CreateProject(ctx, Project{ClientID: other.ID, Name: "Foreign"})

	req := marchRequest(client.ID)
	req.ProjectID = foreign.ID
	b := &PreviewBuilder{Config: st, Worklogs: st}
	if _, err := b.Preview(ctx, req); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound for another client's project", err)
	}
}

func TestPreviewValidation(t *testing.T) {
	st, client, _ := seedAcme(t)
	b := &PreviewBuilder{Config: st, Worklogs: st}
	ctx := context.Background()

	req := marchRequest(client.ID)
	req.PeriodStart, req.PeriodEnd = req.PeriodEnd, req.PeriodStart
	var verr *ValidationError
	if _, err := b.Preview(ctx, req); !errors.As(err, &verr) {
		t.Fatalf("inverted period: got %v, want ValidationError", err)
	}

	req = marchRequest(client.ID)
	req.GroupBy = GroupBy("week")
	if _, err := b.Preview(ctx, req); !errors.As(err, &verr) {
		t.Fatalf("bad group_by: got %v, want ValidationError", err)
	}
}

func TestPreviewGroupByUserAndIssue(t *testing.T) {
	st, client, _ := seedAcme(t)
	b := &PreviewBuilder{Config: st, Worklogs: st}
	ctx := context.Background()

	req := marchRequest(client.ID)
	req.GroupBy = GroupByUser
	byUser, err := b.Preview(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if len(byUser.LineItems) != 1 || byUser.LineItems[0].GroupKey != "alice@acme.test" {
		t.Fatalf("group by user: %+v", byUser.LineItems)
	}
	if byUser.LineItems[0].Description != "Alice" {
		t.Fatalf("user line description = %q", byUser.LineItems[0].Description)
	}

	req.GroupBy = GroupByIssue
	byIssue, err := b.Preview(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if len(byIssue.LineItems) != 3 {
		t.Fatalf("group by issue: got %d lines, want 3", len(byIssue.LineItems))
	}
	// Equal amounts fall back to group-key order.
	if byIssue.LineItems[0].GroupKey != "ACME-1" || byIssue.LineItems[2].GroupKey != "ACME-3" {
		t.Fatalf("issue lines out of order: %+v", byIssue.LineItems)
	}
	// Grouping never changes the money.
	if byIssue.Subtotal != byUser.Subtotal {
		t.Fatalf("subtotals diverge across groupings: %s vs %s", byIssue.Subtotal, byUser.Subtotal)
	}
}
