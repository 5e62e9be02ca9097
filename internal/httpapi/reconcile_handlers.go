package httpapi

import (
	"net/http"
	"strings"

	"timebill.org/internal/billing"
	"timebill.org/internal/obs"
)

type reconciliationRequest struct {
	Group       string       `json:"group"`
	PeriodStart billing.Date `json:"period_start"`
	PeriodEnd   billing.Date `json:"period_end"`
}

func (a *API) handleReconciliationGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.recon == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": a.recon.Groups})
}

func (a *API) handleReconciliationRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.recon == nil {
		writeError(w, r, http.StatusNotImplemented, "reconciliation is not configured")
		return
	}

	var req reconciliationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Group)
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "group is required")
		return
	}
	if req.PeriodStart.IsZero() || req.PeriodEnd.IsZero() {
		writeError(w, r, http.StatusBadRequest, "period_start and period_end are required")
		return
	}
	group, ok := a.recon.GroupByName(name)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown reconciliation group "+name)
		return
	}

	report, err := a.recon.Run(r.Context(), group, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		handleBillingError(w, r, err)
		return
	}

	for severity, n := range report.SeverityCounts {
		for i := 0; i < n; i++ {
			obs.ObserveDiscrepancy(string(severity))
		}
	}
	a.audit(r.Context(), "reconciliation.run", map[string]any{
		"group":         group.Name,
		"period":        req.PeriodStart.String() + ".." + req.PeriodEnd.String(),
		"discrepancies": len(report.Discrepancies),
	})
	writeJSON(w, http.StatusOK, report)
}
