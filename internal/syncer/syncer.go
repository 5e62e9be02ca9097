// Package syncer pulls worklogs from configured tracker instances into the
// local store, streaming progress events while it runs.
package syncer

import (
	"context"
	"fmt"
	"time"

	"timebill.org/internal/billing"
	"timebill.org/internal/worklog"
)

// EventType identifies one step of the sync progress protocol.
type EventType string

const (
	EventStarted          EventType = "started"
	EventInstanceStart    EventType = "instance_start"
	EventFetchingWorklogs EventType = "fetching_worklogs"
	EventWorklogsFetched  EventType = "worklogs_fetched"
	EventEnriching        EventType = "enriching"
	EventSaving           EventType = "saving"
	EventInstanceComplete EventType = "instance_complete"
	EventComplete         EventType = "complete"
	EventError            EventType = "error"
)

// Event is one progress update. Percent never decreases over the lifetime
// of a run; the stream always ends with exactly one complete or error event.
type Event struct {
	Type     EventType `json:"type"`
	Instance string    `json:"instance,omitempty"`
	Message  string    `json:"message,omitempty"`
	Percent  int       `json:"percent"`
	Fetched  int       `json:"fetched,omitempty"`
	Inserted int       `json:"inserted,omitempty"`
	Updated  int       `json:"updated,omitempty"`
	Deleted  int       `json:"deleted,omitempty"`
	At       time.Time `json:"at"`
}

// Request scopes one sync run.
type Request struct {
	Instances []string     `json:"instances"`
	Start     billing.Date `json:"start"`
	End       billing.Date `json:"end"`

	// Prune deletes local entries inside the window that the tracker no
	// longer reports, so deletions upstream propagate.
	Prune bool `json:"prune"`
}

// Tracker is the upstream worklog source. Fetch returns raw entries;
// Enrich fills in issue metadata (summary, type, parent, epic) the worklog
// feed itself does not carry.
type Tracker interface {
	FetchWorklogs(ctx context.Context, instance string, start, end billing.Date) ([]worklog.Entry, error)
	EnrichWorklogs(ctx context.Context, instance string, entries []worklog.Entry) ([]worklog.Entry, error)
}

// Sink persists fetched entries. billing.MemStore and the Postgres store
// both satisfy it.
type Sink interface {
	UpsertWorklogs(ctx context.Context, entries []worklog.Entry) (inserted, updated int, err error)
	PruneWorklogs(ctx context.Context, keepIDs []string, instance string, start, end billing.Date) (int, error)
}

// Runner executes sync runs. History is optional; without it runs are not
// recorded.
type Runner struct {
	Tracker Tracker
	Sink    Sink
	History History

	now func() time.Time
}

// NewRunner wires a runner.
func NewRunner(tracker Tracker, sink Sink, history History) *Runner {
	return &Runner{
		Tracker: tracker,
		Sink:    sink,
		History: history,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run starts a sync and returns its event stream. The channel is closed
// after the terminal event; abandoning the consumer is handled by canceling
// ctx.
func (r *Runner) Run(ctx context.Context, req Request) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		r.run(ctx, req, ch)
	}()
	return ch
}

// Stage fractions inside one instance's progress slice. Fetching dominates
// wall time against a remote tracker.
const (
	fracFetching = 0.1
	fracFetched  = 0.4
	fracEnrich   = 0.5
	fracSaving   = 0.7
)

func (r *Runner) run(ctx context.Context, req Request, ch chan<- Event) {
	emit := func(ev Event) bool {
		ev.At = r.now()
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	run := Run{
		Instances: req.Instances,
		Start:     req.Start,
		End:       req.End,
		Status:    RunRunning,
		StartedAt: r.now(),
	}
	if r.History != nil {
		recorded, err := r.History.BeginRun(ctx, run)
		if err != nil {
			emit(Event{Type: EventError, Message: fmt.Sprintf("recording sync run: %v", err)})
			return
		}
		run = recorded
	}

	fail := func(instance, msg string, percent int) {
		emit(Event{Type: EventError, Instance: instance, Message: msg, Percent: percent})
		run.Status = RunError
		run.Error = msg
		r.finishRun(run)
	}

	total := len(req.Instances)
	if total == 0 {
		fail("", "no instances to sync", 0)
		return
	}
	if req.End.Before(req.Start) {
		fail("", fmt.Sprintf("sync window %s..%s is inverted", req.Start, req.End), 0)
		return
	}

	if !emit(Event{Type: EventStarted, Percent: 0, Message: fmt.Sprintf("syncing %d instance(s)", total)}) {
		r.abandon(run)
		return
	}

	// percent maps (instance index, stage fraction) onto 0..100 so progress
	// is monotonic across instances.
	percent := func(idx int, frac float64) int {
		return int((float64(idx) + frac) * 100 / float64(total))
	}

	for idx, instance := range req.Instances {
		if ctx.Err() != nil {
			r.abandon(run)
			return
		}
		base := percent(idx, 0)
		if !emit(Event{Type: EventInstanceStart, Instance: instance, Percent: base}) {
			r.abandon(run)
			return
		}
		emit(Event{Type: EventFetchingWorklogs, Instance: instance, Percent: percent(idx, fracFetching)})

		entries, err := r.Tracker.FetchWorklogs(ctx, instance, req.Start, req.End)
		if err != nil {
			fail(instance, fmt.Sprintf("fetching worklogs from %s: %v", instance, err), percent(idx, fracFetching))
			return
		}
		run.Fetched += len(entries)
		emit(Event{
			Type: EventWorklogsFetched, Instance: instance,
			Percent: percent(idx, fracFetched), Fetched: len(entries),
		})

		emit(Event{Type: EventEnriching, Instance: instance, Percent: percent(idx, fracEnrich)})
		entries, err = r.Tracker.EnrichWorklogs(ctx, instance, entries)
		if err != nil {
			fail(instance, fmt.Sprintf("enriching worklogs from %s: %v", instance, err), percent(idx, fracEnrich))
			return
		}

		emit(Event{Type: EventSaving, Instance: instance, Percent: percent(idx, fracSaving)})
		inserted, updated, err := r.Sink.UpsertWorklogs(ctx, entries)
		if err != nil {
			fail(instance, fmt.Sprintf("saving worklogs for %s: %v", instance, err), percent(idx, fracSaving))
			return
		}
		run.Inserted += inserted
		run.Updated += updated

		deleted := 0
		if req.Prune {
			keep := make([]string, 0, len(entries))
			for _, e := range entries {
				keep = append(keep, e.ID)
			}
			deleted, err = r.Sink.PruneWorklogs(ctx, keep, instance, req.Start, req.End)
			if err != nil {
				fail(instance, fmt.Sprintf("pruning worklogs for %s: %v", instance, err), percent(idx, fracSaving))
				return
			}
			run.Deleted += deleted
		}

		if !emit(Event{
			Type: EventInstanceComplete, Instance: instance,
			Percent: percent(idx+1, 0),
			Fetched: len(entries), Inserted: inserted, Updated: updated, Deleted: deleted,
		}) {
			r.abandon(run)
			return
		}
	}

	run.Status = RunCompleted
	r.finishRun(run)
	emit(Event{
		Type: EventComplete, Percent: 100,
		Message:  "sync complete",
		Fetched:  run.Fetched,
		Inserted: run.Inserted,
		Updated:  run.Updated,
		Deleted:  run.Deleted,
	})
}

// abandon records a canceled run. The history write uses a fresh context:
// the request context is already dead.
func (r *Runner) abandon(run Run) {
	run.Status = RunError
	run.Error = "canceled"
	r.finishRun(run)
}

func (r *Runner) finishRun(run Run) {
	if r.History == nil {
		return
	}
	finished := r.now()
	run.FinishedAt = &finished
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Best effort: a failed history write must not mask the run outcome.
	_ = r.History.CompleteRun(ctx, run)
}
