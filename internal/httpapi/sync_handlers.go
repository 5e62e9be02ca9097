package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"timebill.org/internal/obs"
	"timebill.org/internal/syncer"
)

// handleSync starts a sync run and streams progress events as NDJSON, one
// JSON object per line, flushed as they arrive.
func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.runner == nil {
		writeError(w, r, http.StatusNotImplemented, "sync is not configured")
		return
	}

	var req syncer.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	a.audit(r.Context(), "sync.start", map[string]any{
		"instances": strings.Join(req.Instances, ","),
		"period":    req.Start.String() + ".." + req.End.String(),
		"prune":     req.Prune,
	})

	w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	status := "error"
	for event := range a.runner.Run(r.Context(), req) {
		if err := enc.Encode(event); err != nil {
			// Client went away; the runner notices via ctx.
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if event.Type == syncer.EventComplete {
			status = "completed"
		}
	}
	obs.ObserveSyncRun(status)
}

func (a *API) handleSyncRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}, "as_of": time.Now().UTC()})
		return
	}

	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 1000 {
			writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = v
	}

	runs, err := a.history.ListRuns(r.Context(), limit)
	if err != nil {
		handleBillingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": runs,
		"as_of": time.Now().UTC(),
	})
}
