package syncer

import (
	"context"
	"sort"
	"sync"
	"time"

	"timebill.org/internal/billing"
	"timebill.org/internal/ids"
)

// RunStatus is the lifecycle of one recorded sync run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunError     RunStatus = "error"
)

// Run is one sync execution as stored in the history.
type Run struct {
	ID         string       `json:"id"`
	Instances  []string     `json:"instances"`
	Start      billing.Date `json:"start"`
	End        billing.Date `json:"end"`
	Status     RunStatus    `json:"status"`
	Error      string       `json:"error,omitempty"`
	Fetched    int          `json:"fetched"`
	Inserted   int          `json:"inserted"`
	Updated    int          `json:"updated"`
	Deleted    int          `json:"deleted"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// History records sync runs for the audit trail and the sync status page.
type History interface {
	BeginRun(ctx context.Context, run Run) (Run, error)
	CompleteRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// MemHistory keeps runs in memory, for tests and DSN-less runs.
type MemHistory struct {
	mu   sync.Mutex
	runs map[string]Run
}

// NewMemHistory creates an empty history.
func NewMemHistory() *MemHistory {
	return &MemHistory{runs: make(map[string]Run)}
}

var _ History = (*MemHistory)(nil)

func (h *MemHistory) BeginRun(ctx context.Context, run Run) (Run, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if run.ID == "" {
		run.ID = ids.New()
	}
	h.runs[run.ID] = run
	return run, nil
}

func (h *MemHistory) CompleteRun(ctx context.Context, run Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.runs[run.ID]; !ok {
		return billing.ErrNotFound
	}
	h.runs[run.ID] = run
	return nil
}

func (h *MemHistory) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Run, 0, len(h.runs))
	for _, run := range h.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
