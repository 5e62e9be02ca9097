// Package tracker talks to the time-tracking upstreams: the Tempo worklog
// API for raw entries and the Jira issue API for the metadata worklogs do
// not carry (summary, type, parent, epic).
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"timebill.org/internal/billing"
	"timebill.org/internal/worklog"
)

// epicLinkField is the classic-project epic link custom field.
const epicLinkField = "customfield_10014"

const pageLimit = 1000

// Instance is the connection configuration for one tracker instance.
type Instance struct {
	Name       string `yaml:"name"`
	TempoURL   string `yaml:"tempo_url"`
	TempoToken string `yaml:"tempo_token"`
	JiraURL    string `yaml:"jira_url"`
	JiraEmail  string `yaml:"jira_email"`
	JiraToken  string `yaml:"jira_token"`
}

// Client implements the syncer's Tracker against Tempo and Jira.
type Client struct {
	instances map[string]Instance
	http      *http.Client
}

// New builds a client for the configured instances.
func New(instances []Instance) *Client {
	byName := make(map[string]Instance, len(instances))
	for _, inst := range instances {
		byName[inst.Name] = inst
	}
	return &Client{
		instances: byName,
		http:      &http.Client{Timeout: 60 * time.Second},
	}
}

// StatusError is returned when an upstream responds with a non-2xx status.
type StatusError struct {
	Upstream string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Upstream, e.Code, e.Body)
}

// Is maps server-side upstream failures onto the shared sentinel.
func (e *StatusError) Is(target error) bool {
	return target == billing.ErrUpstreamUnavailable && e.Code >= 500
}

// makeReq performs one authenticated GET and returns the response body.
func (c *Client) makeReq(ctx context.Context, upstream, rawURL string, auth func(*http.Request)) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", upstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", upstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, &StatusError{Upstream: upstream, Code: resp.StatusCode, Body: msg}
	}
	return body, nil
}

type tempoWorklog struct {
	TempoWorklogID int64 `json:"tempoWorklogId"`
	Issue          struct {
		Key string `json:"key"`
	} `json:"issue"`
	TimeSpentSeconds int    `json:"timeSpentSeconds"`
	StartDate        string `json:"startDate"`
	StartTime        string `json:"startTime"`
	Author           struct {
		AccountID   string `json:"accountId"`
		DisplayName string `json:"displayName"`
		Email       string `json:"email"`
	} `json:"author"`
}

type tempoPage struct {
	Results  []tempoWorklog `json:"results"`
	Metadata struct {
		Count  int `json:"count"`
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	} `json:"metadata"`
}

// FetchWorklogs pages through the Tempo worklog feed for the window.
func (c *Client) FetchWorklogs(ctx context.Context, instance string, start, end billing.Date) ([]worklog.Entry, error) {
	inst, ok := c.instances[instance]
	if !ok {
		return nil, fmt.Errorf("unknown tracker instance %q", instance)
	}

	var entries []worklog.Entry
	offset := 0
	for {
		q := url.Values{}
		q.Set("from", start.String())
		q.Set("to", end.String())
		q.Set("limit", fmt.Sprint(pageLimit))
		q.Set("offset", fmt.Sprint(offset))

		body, err := c.makeReq(ctx, "tempo",
			strings.TrimRight(inst.TempoURL, "/")+"/worklogs?"+q.Encode(),
			func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+inst.TempoToken) })
		if err != nil {
			return nil, err
		}

		var page tempoPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decoding tempo worklogs: %w", err)
		}

		for _, wl := range page.Results {
			started, err := parseTempoStart(wl.StartDate, wl.StartTime)
			if err != nil {
				return nil, fmt.Errorf("tempo worklog %d: %w", wl.TempoWorklogID, err)
			}
			entries = append(entries, worklog.Entry{
				ID:           fmt.Sprintf("%s-%d", instance, wl.TempoWorklogID),
				Instance:     instance,
				IssueKey:     wl.Issue.Key,
				AuthorEmail:  wl.Author.Email,
				AuthorName:   wl.Author.DisplayName,
				SecondsSpent: wl.TimeSpentSeconds,
				Started:      started,
			})
		}

		if len(page.Results) < pageLimit {
			return entries, nil
		}
		offset += len(page.Results)
	}
}

func parseTempoStart(day, clock string) (time.Time, error) {
	if clock == "" {
		clock = "00:00:00"
	}
	t, err := time.Parse("2006-01-02 15:04:05", day+" "+clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start %q %q", day, clock)
	}
	return t.UTC(), nil
}

type issueMeta struct {
	summary    string
	issueType  string
	parentKey  string
	parentName string
	epicKey    string
	epicName   string
}

// EnrichWorklogs resolves issue metadata from Jira and copies it onto the
// entries. Issues Jira no longer knows stay as fetched.
func (c *Client) EnrichWorklogs(ctx context.Context, instance string, entries []worklog.Entry) ([]worklog.Entry, error) {
	inst, ok := c.instances[instance]
	if !ok {
		return nil, fmt.Errorf("unknown tracker instance %q", instance)
	}
	if len(entries) == 0 {
		return entries, nil
	}

	keySet := make(map[string]struct{})
	for _, e := range entries {
		if e.IssueKey != "" {
			keySet[e.IssueKey] = struct{}{}
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}

	meta := make(map[string]issueMeta, len(keys))
	for chunkStart := 0; chunkStart < len(keys); chunkStart += 50 {
		chunkEnd := chunkStart + 50
		if chunkEnd > len(keys) {
			chunkEnd = len(keys)
		}
		if err := c.fetchIssueChunk(ctx, inst, keys[chunkStart:chunkEnd], meta); err != nil {
			return nil, err
		}
	}

	out := make([]worklog.Entry, len(entries))
	for i, e := range entries {
		if m, ok := meta[e.IssueKey]; ok {
			e.IssueSummary = m.summary
			e.IssueType = m.issueType
			e.ParentKey = m.parentKey
			e.ParentName = m.parentName
			e.EpicKey = m.epicKey
			e.EpicName = m.epicName
		}
		out[i] = e
	}
	return out, nil
}

type jiraSearchPage struct {
	Issues []struct {
		Key    string `json:"key"`
		Fields struct {
			Summary   string `json:"summary"`
			IssueType struct {
				Name string `json:"name"`
			} `json:"issuetype"`
			Parent struct {
				Key    string `json:"key"`
				Fields struct {
					Summary   string `json:"summary"`
					IssueType struct {
						Name string `json:"name"`
					} `json:"issuetype"`
				} `json:"fields"`
			} `json:"parent"`
			EpicLink string `json:"customfield_10014"`
		} `json:"fields"`
	} `json:"issues"`
}

func (c *Client) fetchIssueChunk(ctx context.Context, inst Instance, keys []string, meta map[string]issueMeta) error {
	q := url.Values{}
	q.Set("jql", "key in ("+strings.Join(keys, ",")+")")
	q.Set("fields", "summary,issuetype,parent,"+epicLinkField)
	q.Set("maxResults", fmt.Sprint(len(keys)))
	q.Set("validateQuery", "none") // deleted issues must not fail the batch

	body, err := c.makeReq(ctx, "jira",
		strings.TrimRight(inst.JiraURL, "/")+"/rest/api/2/search?"+q.Encode(),
		func(r *http.Request) { r.SetBasicAuth(inst.JiraEmail, inst.JiraToken) })
	if err != nil {
		return err
	}

	var page jiraSearchPage
	if err := json.Unmarshal(body, &page); err != nil {
		return fmt.Errorf("decoding jira issues: %w", err)
	}

	for _, issue := range page.Issues {
		m := issueMeta{
			summary:   issue.Fields.Summary,
			issueType: issue.Fields.IssueType.Name,
		}
		if issue.Fields.Parent.Key != "" {
			m.parentKey = issue.Fields.Parent.Key
			m.parentName = issue.Fields.Parent.Fields.Summary
			if issue.Fields.Parent.Fields.IssueType.Name == "Epic" {
				m.epicKey = m.parentKey
				m.epicName = m.parentName
			}
		}
		// Classic projects carry the epic on the link field instead.
		if m.epicKey == "" && issue.Fields.EpicLink != "" {
			m.epicKey = issue.Fields.EpicLink
		}
		meta[issue.Key] = m
	}
	return nil
}
