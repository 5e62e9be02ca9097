package billing

import (
	"context"
	"math"
	"sort"
	"strings"

	"timebill.org/internal/worklog"
)

// ConfigSource is the read side of the rate/client/project configuration
// store. The preview builder only ever reads configuration.
type ConfigSource interface {
	GetClient(ctx context.Context, id string) (Client, error)
	GetProject(ctx context.Context, id string) (Project, error)
	ProjectsByClient(ctx context.Context, clientID string) ([]Project, error)
	RatesByProject(ctx context.Context, projectID string) ([]Rate, error)
	ClassificationsFor(ctx context.Context, worklogIDs []string) (map[string]Classification, error)
}

// WorklogSource is the read-only feed of logged work. A nil instances slice
// means all instances.
type WorklogSource interface {
	EntriesInRange(ctx context.Context, start, end Date, instances []string) ([]worklog.Entry, error)
}

// PreviewRequest identifies a billing scope: one client, optionally narrowed
// to one of its projects, over an inclusive calendar period.
type PreviewRequest struct {
	ClientID    string
	ProjectID   string
	PeriodStart Date
	PeriodEnd   Date
	GroupBy     GroupBy
}

// Validate checks the request shape before any data is touched.
func (r PreviewRequest) Validate() error {
	if r.ClientID == "" {
		return validationf("client_id is required")
	}
	if r.PeriodStart.IsZero() || r.PeriodEnd.IsZero() {
		return validationf("period_start and period_end are required")
	}
	if r.PeriodEnd.Before(r.PeriodStart) {
		return validationf("period_end %s is before period_start %s", r.PeriodEnd, r.PeriodStart)
	}
	if _, err := ParseGroupBy(string(r.GroupBy)); err != nil {
		return err
	}
	return nil
}

// PreviewBuilder aggregates worklogs for a billing scope into priced line
// items. It holds no state between calls: the result is a pure function of
// the stored worklogs and configuration at call time.
type PreviewBuilder struct {
	Config         ConfigSource
	Worklogs       WorklogSource
	Packages       PackageRateSource
	CompanyDefault *Amount
}

type mappingKey struct {
	instance   string
	projectKey string
}

// lineKey identifies one output line: grouping never hides rate
// heterogeneity, so a group that mixes rates yields one line per rate.
type lineKey struct {
	groupKey string
	rate     Amount
}

type lineAgg struct {
	description string
	seconds     int
}

// Preview computes a non-persisted billing preview. Entries whose rate
// cannot be resolved fail the whole call; they are never dropped or priced
// at zero.
func (b *PreviewBuilder) Preview(ctx context.Context, req PreviewRequest) (Preview, error) {
	if req.GroupBy == "" {
		req.GroupBy = GroupByProject
	}
	if err := req.Validate(); err != nil {
		return Preview{}, err
	}

	client, err := b.Config.GetClient(ctx, req.ClientID)
	if err != nil {
		return Preview{}, err
	}

	var projects []Project
	projectName := ""
	if req.ProjectID != "" {
		p, err := b.Config.GetProject(ctx, req.ProjectID)
		if err != nil {
			return Preview{}, err
		}
		if p.ClientID != client.ID {
			return Preview{}, ErrNotFound
		}
		projects = []Project{p}
		projectName = p.Name
	} else {
		projects, err = b.Config.ProjectsByClient(ctx, client.ID)
		if err != nil {
			return Preview{}, err
		}
	}

	out := Preview{
		ClientID:    client.ID,
		ClientName:  client.Name,
		ProjectID:   req.ProjectID,
		ProjectName: projectName,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
		Currency:    client.Currency,
		GroupBy:     req.GroupBy,
		LineItems:   []LineItem{},
	}
	if len(projects) == 0 {
		return out, nil
	}

	byMapping := make(map[mappingKey]*Project)
	instanceSet := make(map[string]struct{})
	for i := range projects {
		for _, m := range projects[i].Mappings {
			byMapping[mappingKey{m.Instance, m.ProjectKey}] = &projects[i]
			instanceSet[m.Instance] = struct{}{}
		}
	}
	instances := make([]string, 0, len(instanceSet))
	for inst := range instanceSet {
		instances = append(instances, inst)
	}
	sort.Strings(instances)

	rates := make(map[string][]Rate, len(projects))
	for _, p := range projects {
		rs, err := b.Config.RatesByProject(ctx, p.ID)
		if err != nil {
			return Preview{}, err
		}
		rates[p.ID] = rs
	}

	entries, err := b.Worklogs.EntriesInRange(ctx, req.PeriodStart, req.PeriodEnd, instances)
	if err != nil {
		return Preview{}, err
	}

	matched := entries[:0]
	entryProject := make(map[string]*Project)
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		p, ok := byMapping[mappingKey{e.Instance, e.ProjectKey()}]
		if !ok {
			continue
		}
		matched = append(matched, e)
		entryProject[e.ID] = p
		ids = append(ids, e.ID)
	}

	classifications, err := b.Config.ClassificationsFor(ctx, ids)
	if err != nil {
		return Preview{}, err
	}

	var billableSeconds, nonBillableSeconds int
	groups := make(map[lineKey]*lineAgg)

	for _, e := range matched {
		proj := entryProject[e.ID]
		if cl, ok := classifications[e.ID]; ok && !cl.Billable {
			nonBillableSeconds += e.SecondsSpent
			continue
		}
		billableSeconds += e.SecondsSpent

		rate, _, err := ResolveRate(e, RateContext{
			Project:        proj,
			Client:         &client,
			Rates:          rates[proj.ID],
			Packages:       b.Packages,
			CompanyDefault: b.CompanyDefault,
		})
		if err != nil {
			return Preview{}, err
		}

		key := lineKey{rate: rate}
		description := ""
		switch req.GroupBy {
		case GroupByUser:
			key.groupKey = strings.ToLower(e.AuthorEmail)
			description = e.AuthorName
			if description == "" {
				description = e.AuthorEmail
			}
		case GroupByIssue:
			key.groupKey = e.IssueKey
			description = e.IssueKey
			if e.IssueSummary != "" {
				description = e.IssueKey + " - " + e.IssueSummary
			}
		default:
			key.groupKey = proj.ID
			description = proj.Name
		}

		agg, ok := groups[key]
		if !ok {
			agg = &lineAgg{description: description}
			groups[key] = agg
		}
		agg.seconds += e.SecondsSpent
	}

	for key, agg := range groups {
		hours := float64(agg.seconds) / 3600
		out.LineItems = append(out.LineItems, LineItem{
			Description:   agg.description,
			GroupKey:      key.groupKey,
			QuantityHours: round2(hours),
			HourlyRate:    key.rate,
			Amount:        key.rate.MulHours(hours),
		})
	}

	// Deterministic ordering so identical inputs serialize identically.
	sort.Slice(out.LineItems, func(i, j int) bool {
		a, b := out.LineItems[i], out.LineItems[j]
		if a.Amount != b.Amount {
			return a.Amount > b.Amount
		}
		if a.GroupKey != b.GroupKey {
			return a.GroupKey < b.GroupKey
		}
		return a.HourlyRate > b.HourlyRate
	})
	for i := range out.LineItems {
		out.LineItems[i].SortOrder = i
	}

	// Subtotal sums the already-rounded line amounts, so re-adding the
	// printed lines reproduces it exactly.
	for _, li := range out.LineItems {
		out.Subtotal += li.Amount
	}
	out.BillableHours = round2(float64(billableSeconds) / 3600)
	out.NonBillableHours = round2(float64(nonBillableSeconds) / 3600)
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
