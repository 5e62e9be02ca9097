// Package reconcile compares hours logged across complementary tracker
// instances, such as an internal Jira and a client-hosted mirror, and flags
// initiatives whose totals drift apart.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"timebill.org/internal/billing"
	"timebill.org/internal/worklog"
)

// Thresholds for flagging and grading a discrepancy. An initiative is only
// flagged when both the absolute and the relative threshold are exceeded:
// small initiatives drown in noise on a relative test alone, large ones on
// an absolute test alone.
const (
	minDeltaHours = 1.0
	minDeltaRatio = 0.20

	highSeverityHours   = 8.0
	mediumSeverityHours = 2.0
)

// Severity grades how far apart the two sides are.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func severityFor(deltaHours float64) Severity {
	switch {
	case deltaHours > highSeverityHours:
		return SeverityHigh
	case deltaHours > mediumSeverityHours:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Group names a pair of instance sets whose hours are expected to match.
type Group struct {
	Name      string   `json:"name"`
	Primary   []string `json:"primary"`
	Secondary []string `json:"secondary"`
}

// Discrepancy is one flagged initiative.
type Discrepancy struct {
	InitiativeKey  string   `json:"initiative_key"`
	InitiativeName string   `json:"initiative_name,omitempty"`
	PrimaryHours   float64  `json:"primary_hours"`
	SecondaryHours float64  `json:"secondary_hours"`
	DeltaHours     float64  `json:"delta_hours"`
	DeltaPercent   float64  `json:"delta_percent"`
	Severity       Severity `json:"severity"`
}

// Report is the result of one reconciliation run. The hour totals cover
// every initiative, flagged, quiet, or excluded, so the report's bottom
// line does not move when thresholds or exclusion lists do.
type Report struct {
	Group               string           `json:"group"`
	PeriodStart         billing.Date     `json:"period_start"`
	PeriodEnd           billing.Date     `json:"period_end"`
	Discrepancies       []Discrepancy    `json:"discrepancies"`
	TotalPrimaryHours   float64          `json:"total_primary_hours"`
	TotalSecondaryHours float64          `json:"total_secondary_hours"`
	TotalDeltaHours     float64          `json:"total_delta_hours"`
	InitiativeCount     int              `json:"initiative_count"`
	ExcludedKeys        []string         `json:"excluded_keys,omitempty"`
	SeverityCounts      map[Severity]int `json:"severity_counts"`
}

// Engine runs reconciliations against stored worklogs.
type Engine struct {
	Source billing.WorklogSource
	Groups []Group

	// Exclusions are initiative-key patterns for expected discrepancies,
	// exact keys or trailing-asterisk prefixes ("ASS-*"). Excluded
	// initiatives are never flagged but their hours stay in the totals.
	Exclusions []string
}

// GroupByName looks up a configured group.
func (e *Engine) GroupByName(name string) (Group, bool) {
	for _, g := range e.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

type sideHours struct {
	name      string
	primary   float64
	secondary float64
	excluded  bool
}

// Run reconciles one group over an inclusive period.
func (e *Engine) Run(ctx context.Context, group Group, start, end billing.Date) (Report, error) {
	if start.IsZero() || end.IsZero() {
		return Report{}, &billing.ValidationError{Reason: "period_start and period_end are required"}
	}
	if end.Before(start) {
		return Report{}, &billing.ValidationError{
			Reason: fmt.Sprintf("period_end %s is before period_start %s", end, start),
		}
	}

	instances := append(append([]string{}, group.Primary...), group.Secondary...)
	entries, err := e.Source.EntriesInRange(ctx, start, end, instances)
	if err != nil {
		return Report{}, err
	}

	primarySet := make(map[string]struct{}, len(group.Primary))
	for _, inst := range group.Primary {
		primarySet[inst] = struct{}{}
	}

	report := Report{
		Group:          group.Name,
		PeriodStart:    start,
		PeriodEnd:      end,
		Discrepancies:  []Discrepancy{},
		SeverityCounts: map[Severity]int{},
	}

	byInitiative := make(map[string]*sideHours)
	for _, entry := range entries {
		key, name := initiativeOf(entry)
		agg, ok := byInitiative[key]
		if !ok {
			agg = &sideHours{name: name, excluded: e.excludedKey(key)}
			byInitiative[key] = agg
		}
		if _, isPrimary := primarySet[entry.Instance]; isPrimary {
			agg.primary += entry.Hours()
		} else {
			agg.secondary += entry.Hours()
		}
	}

	for key, agg := range byInitiative {
		report.TotalPrimaryHours += agg.primary
		report.TotalSecondaryHours += agg.secondary

		// Excluded initiatives are expected to drift; they stay in the
		// totals but are never flagged.
		if agg.excluded {
			report.ExcludedKeys = append(report.ExcludedKeys, key)
			continue
		}

		delta := agg.primary - agg.secondary
		if delta < 0 {
			delta = -delta
		}
		max := agg.primary
		if agg.secondary > max {
			max = agg.secondary
		}
		if delta <= minDeltaHours || max == 0 || delta/max <= minDeltaRatio {
			continue
		}
		sev := severityFor(delta)
		report.SeverityCounts[sev]++
		report.Discrepancies = append(report.Discrepancies, Discrepancy{
			InitiativeKey:  key,
			InitiativeName: agg.name,
			PrimaryHours:   round2(agg.primary),
			SecondaryHours: round2(agg.secondary),
			DeltaHours:     round2(delta),
			DeltaPercent:   round2(delta / max * 100),
			Severity:       sev,
		})
	}

	report.InitiativeCount = len(byInitiative)
	report.TotalPrimaryHours = round2(report.TotalPrimaryHours)
	report.TotalSecondaryHours = round2(report.TotalSecondaryHours)
	report.TotalDeltaHours = round2(report.TotalPrimaryHours - report.TotalSecondaryHours)

	sort.Slice(report.Discrepancies, func(i, j int) bool {
		a, b := report.Discrepancies[i], report.Discrepancies[j]
		if a.DeltaHours != b.DeltaHours {
			return a.DeltaHours > b.DeltaHours
		}
		return a.InitiativeKey < b.InitiativeKey
	})

	sort.Strings(report.ExcludedKeys)
	return report, nil
}

// initiativeOf rolls an entry up to the unit the two sides are compared on:
// the epic when set, else the parent issue, else the issue itself.
func initiativeOf(e worklog.Entry) (key, name string) {
	switch {
	case e.EpicKey != "":
		return e.EpicKey, e.EpicName
	case e.ParentKey != "":
		return e.ParentKey, e.ParentName
	default:
		return e.IssueKey, e.IssueSummary
	}
}

func (e *Engine) excludedKey(key string) bool {
	for _, pattern := range e.Exclusions {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			if strings.HasPrefix(key, prefix) {
				return true
			}
			continue
		}
		if key == pattern {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	if v < 0 {
		return -round2(-v)
	}
	return float64(int64(v*100+0.5)) / 100
}
