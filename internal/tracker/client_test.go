package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"timebill.org/internal/billing"
	"timebill.org/internal/worklog"
)

func testDates() (billing.Date, billing.Date) {
	return billing.NewDate(2026, time.March, 1), billing.NewDate(2026, time.March, 31)
}

func tempoItem(id int, key string) map[string]any {
	return map[string]any{
		"tempoWorklogId":   id,
		"issue":            map[string]any{"key": key},
		"timeSpentSeconds": 7200,
		"startDate":        "2026-03-10",
		"startTime":        "09:00:00",
		"author": map[string]any{
			"accountId":   "acc-1",
			"displayName": "Alice",
			"email":       "alice@acme.test",
		},
	}
}

func TestFetchWorklogsPaginates(t *testing.T) {
	// First page full (pageLimit results), second page short.
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tempo-token" {
			t.Errorf("authorization = %q", got)
		}
		if r.URL.Query().Get("from") != "2026-03-01" || r.URL.Query().Get("to") != "2026-03-31" {
			t.Errorf("window = %s..%s", r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		}
		var results []map[string]any
		if page == 0 {
			for i := 0; i < pageLimit; i++ {
				results = append(results, tempoItem(i, fmt.Sprintf("ACME-%d", i)))
			}
		} else {
			results = append(results, tempoItem(pageLimit, "ACME-last"))
		}
		page++
		json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	defer srv.Close()

	c := New([]Instance{{Name: "jira-main", TempoURL: srv.URL, TempoToken: "tempo-token"}})
	start, end := testDates()
	entries, err := c.FetchWorklogs(context.Background(), "jira-main", start, end)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != pageLimit+1 {
		t.Fatalf("got %d entries, want %d", len(entries), pageLimit+1)
	}
	e := entries[0]
	if e.ID != "jira-main-0" || e.Instance != "jira-main" || e.SecondsSpent != 7200 {
		t.Fatalf("entry = %+v", e)
	}
	if e.AuthorEmail != "alice@acme.test" || e.AuthorName != "Alice" {
		t.Fatalf("author = %q %q", e.AuthorEmail, e.AuthorName)
	}
	want := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if !e.Started.Equal(want) {
		t.Fatalf("started = %v, want %v", e.Started, want)
	}
}

func TestFetchWorklogsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "tempo down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New([]Instance{{Name: "jira-main", TempoURL: srv.URL}})
	start, end := testDates()
	_, err := c.FetchWorklogs(context.Background(), "jira-main", start, end)

	var serr *StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %v, want StatusError 503", err)
	}
	if !errors.Is(err, billing.ErrUpstreamUnavailable) {
		t.Fatal("5xx status does not map to ErrUpstreamUnavailable")
	}

	if _, err := c.FetchWorklogs(context.Background(), "nope", start, end); err == nil {
		t.Fatal("unknown instance accepted")
	}
}

func TestEnrichWorklogs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, _ := r.BasicAuth(); user != "bot@acme.test" || pass != "jira-token" {
			t.Errorf("basic auth = %q %q", user, pass)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"issues": []map[string]any{
				{
					"key": "ACME-1",
					"fields": map[string]any{
						"summary":   "Checkout flow",
						"issuetype": map[string]any{"name": "Story"},
						"parent": map[string]any{
							"key": "ACME-100",
							"fields": map[string]any{
								"summary":   "Relaunch",
								"issuetype": map[string]any{"name": "Epic"},
							},
						},
					},
				},
				{
					"key": "ACME-2",
					"fields": map[string]any{
						"summary":           "Hotfix",
						"issuetype":         map[string]any{"name": "Bug"},
						"customfield_10014": "ACME-200",
					},
				},
			},
		})
	}))
	defer srv.Close()

	c := New([]Instance{{
		Name: "jira-main", JiraURL: srv.URL,
		JiraEmail: "bot@acme.test", JiraToken: "jira-token",
	}})

	entries := []worklog.Entry{
		{ID: "w1", Instance: "jira-main", IssueKey: "ACME-1"},
		{ID: "w2", Instance: "jira-main", IssueKey: "ACME-2"},
		{ID: "w3", Instance: "jira-main", IssueKey: "ACME-GONE"},
	}
	out, err := c.EnrichWorklogs(context.Background(), "jira-main", entries)
	if err != nil {
		t.Fatal(err)
	}

	// Parent typed Epic fills both parent and epic.
	if out[0].IssueSummary != "Checkout flow" || out[0].IssueType != "Story" {
		t.Fatalf("entry 0 = %+v", out[0])
	}
	if out[0].ParentKey != "ACME-100" || out[0].EpicKey != "ACME-100" || out[0].EpicName != "Relaunch" {
		t.Fatalf("entry 0 rollup = %+v", out[0])
	}
	// Classic epic link sets the epic key only.
	if out[1].EpicKey != "ACME-200" || out[1].EpicName != "" || out[1].ParentKey != "" {
		t.Fatalf("entry 1 rollup = %+v", out[1])
	}
	// Issues Jira no longer returns stay untouched.
	if out[2].IssueSummary != "" {
		t.Fatalf("entry 2 = %+v", out[2])
	}
}
