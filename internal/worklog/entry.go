package worklog

import "time"

// Entry is a single unit of logged work fetched from an upstream tracker
// instance. Entries are immutable historical facts: the billing core reads
// them, it never edits them.
type Entry struct {
	ID           string    `json:"id"`
	Instance     string    `json:"instance"`
	IssueKey     string    `json:"issue_key"`
	IssueSummary string    `json:"issue_summary"`
	IssueType    string    `json:"issue_type,omitempty"`
	AuthorEmail  string    `json:"author_email"`
	AuthorName   string    `json:"author_name,omitempty"`
	SecondsSpent int       `json:"seconds_spent"`
	Started      time.Time `json:"started"`

	// Direct parent of the issue (epic, story, or project fallback).
	ParentKey  string `json:"parent_key,omitempty"`
	ParentName string `json:"parent_name,omitempty"`

	// Epic, when one is found in the hierarchy.
	EpicKey  string `json:"epic_key,omitempty"`
	EpicName string `json:"epic_name,omitempty"`
}

// Hours converts the logged seconds to fractional hours.
func (e Entry) Hours() float64 {
	return float64(e.SecondsSpent) / 3600
}

// ProjectKey derives the tracker project key from the issue key
// ("WEB-123" -> "WEB"). Issue keys without a dash are returned as-is.
func (e Entry) ProjectKey() string {
	for i := 0; i < len(e.IssueKey); i++ {
		if e.IssueKey[i] == '-' {
			return e.IssueKey[:i]
		}
	}
	return e.IssueKey
}
