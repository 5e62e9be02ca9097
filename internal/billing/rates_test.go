package billing

import (
	"errors"
	"testing"
	"time"

	"timebill.org/internal/worklog"
)

func amountPtr(a Amount) *Amount { return &a }

func datePtr(y int, m time.Month, d int) *Date {
	dt := NewDate(y, m, d)
	return &dt
}

type staticPackages struct {
	rate Amount
	keys map[string]bool
}

func (p staticPackages) PackageRateFor(e worklog.Entry) (Amount, bool) {
	if p.keys[e.IssueKey] {
		return p.rate, true
	}
	return 0, false
}

func testEntry() worklog.Entry {
	return worklog.Entry{
		ID:           "wl-1",
		Instance:     "jira-main",
		IssueKey:     "ACME-7",
		IssueType:    "Bug",
		AuthorEmail:  "dev@acme.test",
		AuthorName:   "Dev One",
		EpicKey:      "ACME-100",
		SecondsSpent: 3600,
		Started:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
}

// fullContext configures all six cascade levels with distinct prices so the
// winner identifies the level.
func fullContext() RateContext {
	project := &Project{ID: "p1", DefaultHourlyRate: amountPtr(4000)}
	client := &Client{ID: "c1", DefaultHourlyRate: amountPtr(3000)}
	return RateContext{
		Project: project,
		Client:  client,
		Rates: []Rate{
			{ID: "r-issue", ProjectID: "p1", HourlyRate: 6000, CreatedAt: time.Unix(100, 0)},
			{ID: "r-epic", ProjectID: "p1", HourlyRate: 5000, EpicKey: "ACME-100", CreatedAt: time.Unix(100, 0)},
		},
		Packages:       staticPackages{rate: 7000, keys: map[string]bool{"ACME-7": true}},
		CompanyDefault: amountPtr(2000),
	}
}

// TestResolveRateCascadeOrder peels the cascade one level at a time and
// checks each level wins exactly when every level above it is gone.
func TestResolveRateCascadeOrder(t *testing.T) {
	e := testEntry()
	rc := fullContext()

	steps := []struct {
		strip func(*RateContext)
		want  Amount
		level RateLevel
	}{
		{func(*RateContext) {}, 7000, LevelPackage},
		{func(rc *RateContext) { rc.Packages = nil }, 6000, LevelIssue},
		{func(rc *RateContext) { rc.Rates = rc.Rates[1:] }, 5000, LevelEpic},
		{func(rc *RateContext) { rc.Rates = nil }, 4000, LevelProject},
		{func(rc *RateContext) { rc.Project.DefaultHourlyRate = nil }, 3000, LevelClient},
		{func(rc *RateContext) { rc.Client.DefaultHourlyRate = nil }, 2000, LevelCompany},
	}
	for _, step := range steps {
		step.strip(&rc)
		got, level, err := ResolveRate(e, rc)
		if err != nil {
			t.Fatalf("ResolveRate at level %s: %v", step.level, err)
		}
		if got != step.want || level != step.level {
			t.Fatalf("ResolveRate = %v at %s, want %v at %s", got, level, step.want, step.level)
		}
	}

	rc.CompanyDefault = nil
	_, _, err := ResolveRate(e, rc)
	var nre *NoRateConfiguredError
	if !errors.As(err, &nre) {
		t.Fatalf("ResolveRate with empty cascade: got %v, want NoRateConfiguredError", err)
	}
	if nre.WorklogID != e.ID || nre.IssueKey != e.IssueKey {
		t.Fatalf("NoRateConfiguredError identifies %q/%q, want %q/%q",
			nre.WorklogID, nre.IssueKey, e.ID, e.IssueKey)
	}
}

func TestResolveRateSpecificity(t *testing.T) {
	e := testEntry()
	rc := RateContext{
		Project: &Project{ID: "p1"},
		Rates: []Rate{
			{ID: "r-any", ProjectID: "p1", HourlyRate: 1000, CreatedAt: time.Unix(400, 0)},
			{ID: "r-type", ProjectID: "p1", HourlyRate: 2000, IssueType: "Bug", CreatedAt: time.Unix(300, 0)},
			{ID: "r-user", ProjectID: "p1", HourlyRate: 3000, UserEmail: "dev@acme.test", CreatedAt: time.Unix(200, 0)},
			{ID: "r-both", ProjectID: "p1", HourlyRate: 4000, UserEmail: "DEV@acme.test", IssueType: "bug", CreatedAt: time.Unix(100, 0)},
		},
	}

	// user+type (3) > user (2) > type (1) > wildcard (0); creation time is
	// irrelevant across different specificities, and matching is
	// case-insensitive.
	want := []Amount{4000, 3000, 2000, 1000}
	for i, w := range want {
		got, _, err := ResolveRate(e, rc)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != w {
			t.Fatalf("step %d: ResolveRate = %v, want %v", i, got, w)
		}
		rc.Rates = rc.Rates[:len(rc.Rates)-1]
	}
}

func TestResolveRateTieBreaksByCreation(t *testing.T) {
	e := testEntry()
	older := Rate{ID: "r-old", ProjectID: "p1", HourlyRate: 1000, CreatedAt: time.Unix(100, 0)}
	newer := Rate{ID: "r-new", ProjectID: "p1", HourlyRate: 9000, CreatedAt: time.Unix(200, 0)}

	for _, rates := range [][]Rate{{older, newer}, {newer, older}} {
		got, _, err := ResolveRate(e, RateContext{Project: &Project{ID: "p1"}, Rates: rates})
		if err != nil {
			t.Fatal(err)
		}
		if got != 9000 {
			t.Fatalf("ResolveRate = %v, want newest override regardless of slice order", got)
		}
	}
}

func TestResolveRateValidityWindow(t *testing.T) {
	e := testEntry() // started 2026-03-10

	cases := []struct {
		name    string
		from    *Date
		to      *Date
		matches bool
	}{
		{"inside", datePtr(2026, 3, 1), datePtr(2026, 3, 31), true},
		{"on lower bound", datePtr(2026, 3, 10), nil, true},
		{"on upper bound", nil, datePtr(2026, 3, 10), true},
		{"before window", datePtr(2026, 3, 11), nil, false},
		{"after window", nil, datePtr(2026, 3, 9), false},
		{"unbounded", nil, nil, true},
	}
	for _, tc := range cases {
		rc := RateContext{
			Project: &Project{ID: "p1"},
			Rates: []Rate{
				{ID: "r1", ProjectID: "p1", HourlyRate: 5000, ValidFrom: tc.from, ValidTo: tc.to},
			},
		}
		_, level, err := ResolveRate(e, rc)
		if tc.matches {
			if err != nil || level != LevelIssue {
				t.Fatalf("%s: got level %s err %v, want issue-level match", tc.name, level, err)
			}
			continue
		}
		var nre *NoRateConfiguredError
		if !errors.As(err, &nre) {
			t.Fatalf("%s: got %v, want NoRateConfiguredError", tc.name, err)
		}
	}
}

// TestResolveRateEpicBeforeProject: an epic override outranks the project
// default but never outranks a plain project-scoped override, which sits at
// the issue level.
func TestResolveRateEpicBeforeProject(t *testing.T) {
	e := testEntry()
	e.EpicKey = "ACME-100"
	rc := RateContext{
		Project: &Project{ID: "p1", DefaultHourlyRate: amountPtr(4000)},
		Rates: []Rate{
			{ID: "r-epic", ProjectID: "p1", HourlyRate: 5500, EpicKey: "ACME-100"},
		},
	}
	got, level, err := ResolveRate(e, rc)
	if err != nil {
		t.Fatal(err)
	}
	if got != 5500 || level != LevelEpic {
		t.Fatalf("got %v at %s, want 5500 at epic", got, level)
	}

	// Entry on a different epic falls through to the project default.
	e.EpicKey = "ACME-999"
	got, level, err = ResolveRate(e, rc)
	if err != nil {
		t.Fatal(err)
	}
	if got != 4000 || level != LevelProject {
		t.Fatalf("got %v at %s, want 4000 at project", got, level)
	}
}
