package billing

import (
	"strings"
	"time"
)

// Client is a billable customer. Currency is fixed per client and copied
// onto invoices at creation time.
type Client struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Currency          string    `json:"currency"`
	DefaultHourlyRate *Amount   `json:"default_hourly_rate,omitempty"`
	Instance          string    `json:"instance,omitempty"` // optional link to one tracker instance
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Project belongs to exactly one client. Its mappings bind it to tracker
// projects; each (instance, project key) pair maps to at most one project.
type Project struct {
	ID                string    `json:"id"`
	ClientID          string    `json:"client_id"`
	Name              string    `json:"name"`
	DefaultHourlyRate *Amount   `json:"default_hourly_rate,omitempty"`
	Mappings          []Mapping `json:"mappings,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Mapping binds a project to one (tracker instance, tracker project key)
// pair.
type Mapping struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Instance   string `json:"instance"`
	ProjectKey string `json:"project_key"`
}

// Rate is an hourly-rate override scoped to a project. Empty UserEmail,
// IssueType and EpicKey act as wildcards; nil validity bounds are open.
// Overlaps are allowed: the resolver decides precedence.
type Rate struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	HourlyRate Amount    `json:"hourly_rate"`
	UserEmail  string    `json:"user_email,omitempty"`
	IssueType  string    `json:"issue_type,omitempty"`
	EpicKey    string    `json:"epic_key,omitempty"`
	ValidFrom  *Date     `json:"valid_from,omitempty"`
	ValidTo    *Date     `json:"valid_to,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Classification is the externally supplied billable/non-billable flag for
// a worklog entry. Unclassified entries default to billable.
type Classification struct {
	WorklogID string `json:"worklog_id"`
	Billable  bool   `json:"billable"`
	Note      string `json:"note,omitempty"`
}

// GroupBy selects the preview aggregation key.
type GroupBy string

const (
	GroupByProject GroupBy = "project"
	GroupByUser    GroupBy = "user"
	GroupByIssue   GroupBy = "issue"
)

// ParseGroupBy validates a group-by value; the empty string defaults to
// project grouping.
func ParseGroupBy(s string) (GroupBy, error) {
	switch GroupBy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return GroupByProject, nil
	case GroupByProject:
		return GroupByProject, nil
	case GroupByUser:
		return GroupByUser, nil
	case GroupByIssue:
		return GroupByIssue, nil
	}
	return "", validationf("group_by must be one of project, user, issue (got %q)", s)
}

// LineItem is one priced row of an invoice or preview. Amount is always
// QuantityHours x HourlyRate rounded at this level, never before.
type LineItem struct {
	Description   string  `json:"description"`
	GroupKey      string  `json:"group_key"`
	QuantityHours float64 `json:"quantity_hours"`
	HourlyRate    Amount  `json:"hourly_rate"`
	Amount        Amount  `json:"amount"`
	SortOrder     int     `json:"sort_order"`
}

// Preview is the non-persisted result of aggregating a billing period. It is
// discarded unless an invoice is created from it.
type Preview struct {
	ClientID         string     `json:"client_id"`
	ClientName       string     `json:"client_name"`
	ProjectID        string     `json:"project_id,omitempty"`
	ProjectName      string     `json:"project_name,omitempty"`
	PeriodStart      Date       `json:"period_start"`
	PeriodEnd        Date       `json:"period_end"`
	Currency         string     `json:"currency"`
	GroupBy          GroupBy    `json:"group_by"`
	LineItems        []LineItem `json:"line_items"`
	Subtotal         Amount     `json:"subtotal_amount"`
	BillableHours    float64    `json:"billable_hours"`
	NonBillableHours float64    `json:"non_billable_hours"`
}

// Invoice is a frozen snapshot of a preview. Amounts are fixed at creation
// and never re-derived from live worklogs.
type Invoice struct {
	ID          string     `json:"id"`
	ClientID    string     `json:"client_id"`
	ProjectID   string     `json:"project_id,omitempty"`
	PeriodStart Date       `json:"period_start"`
	PeriodEnd   Date       `json:"period_end"`
	GroupBy     GroupBy    `json:"group_by"`
	Currency    string     `json:"currency"`
	Status      Status     `json:"status"`
	LineItems   []LineItem `json:"line_items"`
	Subtotal    Amount     `json:"subtotal_amount"`
	Taxes       Amount     `json:"taxes_amount"`
	Total       Amount     `json:"total_amount"`
	Notes       string     `json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	IssuedAt    *time.Time `json:"issued_at,omitempty"`
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	ClientID string
	Status   Status
}
