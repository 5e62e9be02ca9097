package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"timebill.org/internal/worklog"
)

func TestMemStoreClientUniqueness(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()

	if _, err := st.CreateClient(ctx, Client{Name: "Acme", Currency: "EUR"}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateClient(ctx, Client{Name: "acme", Currency: "EUR"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("got %v, want ErrAlreadyExists for duplicate name", err)
	}
	var verr *ValidationError
	if _, err := st.CreateClient(ctx, Client{Name: "NoCurrency", Currency: "EU"}); !errors.As(err, &verr) {
		t.Fatalf("got %v, want ValidationError for bad currency", err)
	}
}

func TestMemStoreMappingUniqueness(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()
	client, _ := st.CreateClient(ctx, Client{Name: "Acme", Currency: "EUR"})
	p1, _ := st.CreateProject(ctx, Project{ClientID: client.ID, Name: "One"})
	p2, _ := st.CreateProject(ctx, Project{ClientID: client.ID, Name: "Two"})

	m, err := st.AddMapping(ctx, Mapping{ProjectID: p1.ID, Instance: "jira-main", ProjectKey: "ACME"})
	if err != nil {
		t.Fatal(err)
	}
	// The (instance, key) pair is globally unique, not per project.
	if _, err := st.AddMapping(ctx, Mapping{ProjectID: p2.ID, Instance: "jira-main", ProjectKey: "ACME"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("got %v, want ErrAlreadyExists", err)
	}
	// A different instance with the same key is fine.
	if _, err := st.AddMapping(ctx, Mapping{ProjectID: p2.ID, Instance: "jira-eu", ProjectKey: "ACME"}); err != nil {
		t.Fatal(err)
	}

	// Deleting the mapping frees the pair for reuse.
	if err := st.DeleteMapping(ctx, m.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := st.AddMapping(ctx, Mapping{ProjectID: p2.ID, Instance: "jira-main", ProjectKey: "ACME"}); err != nil {
		t.Fatalf("pair still reserved after delete: %v", err)
	}
}

func TestMemStoreUpdateKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()
	created, _ := st.CreateClient(ctx, Client{Name: "Acme", Currency: "EUR"})

	created.Name = "Acme GmbH"
	updated, err := st.UpdateClient(ctx, created)
	if err != nil {
		t.Fatal(err)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatal("update rewrote created_at")
	}
	if updated.Name != "Acme GmbH" {
		t.Fatalf("name = %q", updated.Name)
	}
}

func TestMemStoreWorklogUpsertAndPrune(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()

	entry := func(id string, day int) worklog.Entry {
		return worklog.Entry{
			ID: id, Instance: "jira-main", IssueKey: "ACME-1",
			AuthorEmail: "a@b.test", SecondsSpent: 3600,
			Started: time.Date(2026, 3, day, 9, 0, 0, 0, time.UTC),
		}
	}

	ins, upd, err := st.UpsertWorklogs(ctx, []worklog.Entry{entry("w1", 2), entry("w2", 3)})
	if err != nil || ins != 2 || upd != 0 {
		t.Fatalf("first upsert: ins=%d upd=%d err=%v", ins, upd, err)
	}
	ins, upd, err = st.UpsertWorklogs(ctx, []worklog.Entry{entry("w2", 3), entry("w3", 4)})
	if err != nil || ins != 1 || upd != 1 {
		t.Fatalf("second upsert: ins=%d upd=%d err=%v", ins, upd, err)
	}

	// Prune drops window entries absent from the keep list, and nothing
	// outside the instance.
	if _, _, err := st.UpsertWorklogs(ctx, []worklog.Entry{{
		ID: "other", Instance: "jira-eu", IssueKey: "EU-1",
		SecondsSpent: 60, Started: time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
	}}); err != nil {
		t.Fatal(err)
	}
	deleted, err := st.PruneWorklogs(ctx, []string{"w1", "w3"}, "jira-main",
		NewDate(2026, time.March, 1), NewDate(2026, time.March, 31))
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	remaining, err := st.EntriesInRange(ctx,
		NewDate(2026, time.March, 1), NewDate(2026, time.March, 31), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 3 {
		t.Fatalf("remaining = %d entries, want w1, w3 and the jira-eu entry", len(remaining))
	}
	for _, e := range remaining {
		if e.ID == "w2" {
			t.Fatal("pruned entry still present")
		}
	}
}

func TestMemStoreProjectCascade(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore()
	client, _ := st.CreateClient(ctx, Client{Name: "Acme", Currency: "EUR"})
	p, _ := st.CreateProject(ctx, Project{ClientID: client.ID, Name: "One"})
	if _, err := st.AddMapping(ctx, Mapping{ProjectID: p.ID, Instance: "jira-main", ProjectKey: "ACME"}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateRate(ctx, Rate{ProjectID: p.ID, HourlyRate: 5000}); err != nil {
		t.Fatal(err)
	}

	if err := st.DeleteProject(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if rates, _ := st.RatesByProject(ctx, p.ID); len(rates) != 0 {
		t.Fatal("rates survived project deletion")
	}
	// The mapping pair is released.
	p2, _ := st.CreateProject(ctx, Project{ClientID: client.ID, Name: "Two"})
	if _, err := st.AddMapping(ctx, Mapping{ProjectID: p2.ID, Instance: "jira-main", ProjectKey: "ACME"}); err != nil {
		t.Fatalf("mapping pair still reserved: %v", err)
	}
}
