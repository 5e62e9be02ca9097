package httpapi

import (
	"net/http"
	"strings"

	"timebill.org/internal/billing"
)

type clientRequest struct {
	Name              string          `json:"name"`
	Currency          string          `json:"currency"`
	DefaultHourlyRate *billing.Amount `json:"default_hourly_rate"`
	Instance          string          `json:"instance"`
}

type projectRequest struct {
	ClientID          string          `json:"client_id"`
	Name              string          `json:"name"`
	DefaultHourlyRate *billing.Amount `json:"default_hourly_rate"`
}

type mappingRequest struct {
	ProjectID  string `json:"project_id"`
	Instance   string `json:"instance"`
	ProjectKey string `json:"project_key"`
}

type rateRequest struct {
	ProjectID  string         `json:"project_id"`
	HourlyRate billing.Amount `json:"hourly_rate"`
	UserEmail  string         `json:"user_email"`
	IssueType  string         `json:"issue_type"`
	EpicKey    string         `json:"epic_key"`
	ValidFrom  *billing.Date  `json:"valid_from"`
	ValidTo    *billing.Date  `json:"valid_to"`
}

type classificationRequest struct {
	WorklogID string `json:"worklog_id"`
	Billable  bool   `json:"billable"`
	Note      string `json:"note"`
}

// resourceID splits "/v1/<collection>/<id>" paths; any deeper path is a miss.
func resourceID(r *http.Request, prefix string) (string, bool) {
	id := strings.TrimPrefix(r.URL.Path, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// --- clients ---

func (a *API) handleClientsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := a.admin.ListClients(r.Context())
		if err != nil {
			handleBillingError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req clientRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		client, err := a.admin.CreateClient(r.Context(), billing.Client{
			Name:              strings.TrimSpace(req.Name),
			Currency:          strings.ToUpper(strings.TrimSpace(req.Currency)),
			DefaultHourlyRate: req.DefaultHourlyRate,
			Instance:          strings.TrimSpace(req.Instance),
		})
		if err != nil {
			handleBillingError(w, r, err)
			return
		}
		a.audit(r.Context(), "config.client.create", map[string]any{
			"client_id": client.ID,
			"name":      client.Name,
		})
		w.Header().Set("Location", "/v1/clients/"+client.ID)
		writeJSON(w, http.StatusCreated, client)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleClientResource(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(r, "/v1/clients/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "client not found")
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req clientRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		client, err := a.admin.UpdateClient(r.Context(), billing.Client{
			ID:                id,
			Name:              strings.TrimSpace(req.Name),
			Currency:          strings.ToUpper(strings.TrimSpace(req.Currency)),
			DefaultHourlyRate: req.DefaultHourlyRate,
			Instance:          strings.TrimSpace(req.Instance),
		})
		if err != nil {
			handleBillingError(w, r, err)
			return
		}
		a.audit(r.Context(), "config.client.update", map[string]any{"client_id": id})
		writeJSON(w, http.StatusOK, client)
	case http.MethodDelete:
		if err := a.admin.DeleteClient(r.Context(), id); err != nil {
			handleBillingError(w, r, err)
			return
		}
		a.audit(r.Context(), "config.client.delete", map[string]any{"client_id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

// --- projects ---

func (a *API) handleProjectsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
		items, err := a.admin.ListProjects(r.Context(), clientID)
		if err != nil {
			handleBillingError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req projectRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		project, err := a.admin.CreateProject(r.Context(), billing.Project{
			ClientID:          strings.TrimSpace(req.ClientID),
			Name:              strings.TrimSpace(req.Name),
			DefaultHourlyRate: req.DefaultHourlyRate,
		})
		if err != nil {
			handleBillingError(w, r, err)
			return
		}
		a.audit(r.Context(), "config.project.create", map[string]any{
			"project_id": project.ID,
			"client_id":  project.ClientID,
		})
		w.Header().Set("Location", "/v1/projects/"+project.ID)
		writeJSON(w, http.StatusCreated, project)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleProjectResource(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(r, "/v1/projects/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "project not found")
		return
	}

	switch r.Method {
	case http.MethodPut:
		var req projectRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		project, err := a.admin.UpdateProject(r.Context(), billing.Project{
			ID:                id,
			ClientID:          strings.TrimSpace(req.ClientID),
			Name:              strings.TrimSpace(req.Name),
			DefaultHourlyRate: req.DefaultHourlyRate,
		})
		if err != nil {
			handleBillingError(w, r, err)
			return
		}
		a.audit(r.Context(), "config.project.update", map[string]any{"project_id": id})
		writeJSON(w, http.StatusOK, project)
	case http.MethodDelete:
		if err := a.admin.DeleteProject(r.Context(), id); err != nil {
			handleBillingError(w, r, err)
			return
		}
		a.audit(r.Context(), "config.project.delete", map[string]any{"project_id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

// --- mappings ---

func (a *API) handleMappingsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req mappingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	mapping, err := a.admin.AddMapping(r.Context(), billing.Mapping{
		ProjectID:  strings.TrimSpace(req.ProjectID),
		Instance:   strings.TrimSpace(req.Instance),
		ProjectKey: strings.TrimSpace(req.ProjectKey),
	})
	if err != nil {
		handleBillingError(w, r, err)
		return
	}
	a.audit(r.Context(), "config.mapping.create", map[string]any{
		"mapping_id":  mapping.ID,
		"project_id":  mapping.ProjectID,
		"instance":    mapping.Instance,
		"project_key": mapping.ProjectKey,
	})
	writeJSON(w, http.StatusCreated, mapping)
}

func (a *API) handleMappingResource(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(r, "/v1/mappings/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "mapping not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.admin.DeleteMapping(r.Context(), id); err != nil {
		handleBillingError(w, r, err)
		return
	}
	a.audit(r.Context(), "config.mapping.delete", map[string]any{"mapping_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// --- rates ---

func (a *API) handleRatesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projectID := strings.TrimSpace(r.URL.Query().Get("project_id"))
		if projectID == "" {
			writeError(w, r, http.StatusBadRequest, "project_id query parameter is required")
			return
		}
		items, err := a.admin.ListRates(r.Context(), projectID)
		if err != nil {
			handleBillingError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req rateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		rate, err := a.admin.CreateRate(r.Context(), billing.Rate{
			ProjectID:  strings.TrimSpace(req.ProjectID),
			HourlyRate: req.HourlyRate,
			UserEmail:  strings.TrimSpace(req.UserEmail),
			IssueType:  strings.TrimSpace(req.IssueType),
			EpicKey:    strings.TrimSpace(req.EpicKey),
			ValidFrom:  req.ValidFrom,
			ValidTo:    req.ValidTo,
		})
		if err != nil {
			handleBillingError(w, r, err)
			return
		}
		a.audit(r.Context(), "config.rate.create", map[string]any{
			"rate_id":     rate.ID,
			"project_id":  rate.ProjectID,
			"hourly_rate": rate.HourlyRate.String(),
		})
		writeJSON(w, http.StatusCreated, rate)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRateResource(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(r, "/v1/rates/")
	if !ok {
		writeError(w, r, http.StatusNotFound, "rate not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.admin.DeleteRate(r.Context(), id); err != nil {
		handleBillingError(w, r, err)
		return
	}
	a.audit(r.Context(), "config.rate.delete", map[string]any{"rate_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// --- classifications ---

func (a *API) handleClassifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var req classificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.WorklogID) == "" {
		writeError(w, r, http.StatusBadRequest, "worklog_id is required")
		return
	}
	cls := billing.Classification{
		WorklogID: strings.TrimSpace(req.WorklogID),
		Billable:  req.Billable,
		Note:      strings.TrimSpace(req.Note),
	}
	if err := a.admin.SetClassification(r.Context(), cls); err != nil {
		handleBillingError(w, r, err)
		return
	}
	a.audit(r.Context(), "config.classification.set", map[string]any{
		"worklog_id": cls.WorklogID,
		"billable":   cls.Billable,
	})
	writeJSON(w, http.StatusOK, cls)
}
