package billing

import (
	"sort"
	"strings"

	"timebill.org/internal/worklog"
)

// RateLevel names the cascade level that produced a resolved rate. It is
// diagnostic metadata; callers never branch on it to change a price.
type RateLevel string

const (
	LevelPackage RateLevel = "package"
	LevelIssue   RateLevel = "issue"
	LevelEpic    RateLevel = "epic"
	LevelProject RateLevel = "project"
	LevelClient  RateLevel = "client"
	LevelCompany RateLevel = "company"
)

// PackageRateSource answers whether a pre-purchased hour package covers an
// entry. Package configuration is out-of-band; the resolver treats it as an
// opaque highest-priority input.
type PackageRateSource interface {
	PackageRateFor(e worklog.Entry) (Amount, bool)
}

// RateContext carries everything the cascade needs for one entry: the
// project the entry mapped to, its client, the project's rate overrides, and
// the optional package and company-wide fallbacks.
type RateContext struct {
	Project        *Project
	Client         *Client
	Rates          []Rate
	Packages       PackageRateSource
	CompanyDefault *Amount
}

type rateLevel struct {
	name  RateLevel
	apply func(worklog.Entry, RateContext) (Amount, bool)
}

// cascade is the ordered strategy list: first level that yields a rate wins,
// no blending across levels.
var cascade = []rateLevel{
	{LevelPackage, packageRate},
	{LevelIssue, issueRate},
	{LevelEpic, epicRate},
	{LevelProject, projectRate},
	{LevelClient, clientRate},
	{LevelCompany, companyRate},
}

// ResolveRate resolves the hourly rate applicable to a worklog entry.
// If no level matches it returns a NoRateConfiguredError; it never defaults
// to zero.
func ResolveRate(e worklog.Entry, rc RateContext) (Amount, RateLevel, error) {
	for _, level := range cascade {
		if rate, ok := level.apply(e, rc); ok {
			return rate, level.name, nil
		}
	}
	projectID := ""
	if rc.Project != nil {
		projectID = rc.Project.ID
	}
	return 0, "", &NoRateConfiguredError{
		WorklogID: e.ID,
		IssueKey:  e.IssueKey,
		ProjectID: projectID,
		Date:      DateOf(e.Started),
	}
}

func packageRate(e worklog.Entry, rc RateContext) (Amount, bool) {
	if rc.Packages == nil {
		return 0, false
	}
	return rc.Packages.PackageRateFor(e)
}

// issueRate picks the best project-scoped override without an epic binding.
func issueRate(e worklog.Entry, rc RateContext) (Amount, bool) {
	return bestRate(e, rc, func(r Rate) bool { return r.EpicKey == "" })
}

// epicRate picks overrides bound to the entry's epic.
func epicRate(e worklog.Entry, rc RateContext) (Amount, bool) {
	if e.EpicKey == "" {
		return 0, false
	}
	return bestRate(e, rc, func(r Rate) bool {
		return r.EpicKey != "" && strings.EqualFold(r.EpicKey, e.EpicKey)
	})
}

func projectRate(_ worklog.Entry, rc RateContext) (Amount, bool) {
	if rc.Project == nil || rc.Project.DefaultHourlyRate == nil {
		return 0, false
	}
	return *rc.Project.DefaultHourlyRate, true
}

func clientRate(_ worklog.Entry, rc RateContext) (Amount, bool) {
	if rc.Client == nil || rc.Client.DefaultHourlyRate == nil {
		return 0, false
	}
	return *rc.Client.DefaultHourlyRate, true
}

func companyRate(_ worklog.Entry, rc RateContext) (Amount, bool) {
	if rc.CompanyDefault == nil {
		return 0, false
	}
	return *rc.CompanyDefault, true
}

// bestRate selects among candidate overrides: highest specificity wins
// (user match outranks issue-type match), ties break toward the most
// recently created record.
func bestRate(e worklog.Entry, rc RateContext, accept func(Rate) bool) (Amount, bool) {
	date := DateOf(e.Started)
	type scored struct {
		rate        Rate
		specificity int
	}
	var candidates []scored
	for _, r := range rc.Rates {
		if rc.Project != nil && r.ProjectID != rc.Project.ID {
			continue
		}
		if !accept(r) {
			continue
		}
		spec, ok := matchRate(r, e, date)
		if !ok {
			continue
		}
		candidates = append(candidates, scored{rate: r, specificity: spec})
	}
	if len(candidates) == 0 {
		return 0, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.specificity != b.specificity {
			return a.specificity > b.specificity
		}
		if !a.rate.CreatedAt.Equal(b.rate.CreatedAt) {
			return a.rate.CreatedAt.After(b.rate.CreatedAt)
		}
		return a.rate.ID > b.rate.ID
	})
	return candidates[0].rate.HourlyRate, true
}

// matchRate applies the matching rule: empty narrowing fields are wildcards,
// set fields must match, the entry date must fall inside the validity window
// (nil bounds unbounded). Specificity: user match 2, issue-type match 1.
func matchRate(r Rate, e worklog.Entry, date Date) (int, bool) {
	if !date.In(r.ValidFrom, r.ValidTo) {
		return 0, false
	}
	spec := 0
	if r.UserEmail != "" {
		if !strings.EqualFold(r.UserEmail, e.AuthorEmail) {
			return 0, false
		}
		spec += 2
	}
	if r.IssueType != "" {
		if e.IssueType == "" || !strings.EqualFold(r.IssueType, e.IssueType) {
			return 0, false
		}
		spec++
	}
	return spec, true
}
