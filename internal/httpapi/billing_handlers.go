package httpapi

import (
	"net/http"
	"strings"

	"timebill.org/internal/billing"
	"timebill.org/internal/obs"
)

type previewRequest struct {
	ClientID    string       `json:"client_id"`
	ProjectID   string       `json:"project_id"`
	PeriodStart billing.Date `json:"period_start"`
	PeriodEnd   billing.Date `json:"period_end"`
	GroupBy     string       `json:"group_by"`
}

func (req previewRequest) toDomain() (billing.PreviewRequest, error) {
	groupBy, err := billing.ParseGroupBy(req.GroupBy)
	if err != nil {
		return billing.PreviewRequest{}, err
	}
	return billing.PreviewRequest{
		ClientID:    strings.TrimSpace(req.ClientID),
		ProjectID:   strings.TrimSpace(req.ProjectID),
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
		GroupBy:     groupBy,
	}, nil
}

type createInvoiceRequest struct {
	previewRequest
	Taxes billing.Amount `json:"taxes_amount"`
	Notes string         `json:"notes"`
}

func (a *API) handlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req previewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	domain, err := req.toDomain()
	if err != nil {
		handleBillingError(w, r, err)
		return
	}

	preview, err := a.billing.Preview(r.Context(), domain)
	if err != nil {
		handleBillingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (a *API) handleInvoicesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createInvoice(w, r)
	case http.MethodGet:
		a.listInvoices(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	domain, err := req.toDomain()
	if err != nil {
		handleBillingError(w, r, err)
		return
	}

	inv, err := a.billing.CreateInvoice(r.Context(), billing.CreateInvoiceRequest{
		PreviewRequest: domain,
		Taxes:          req.Taxes,
		Notes:          strings.TrimSpace(req.Notes),
	})
	if err != nil {
		handleBillingError(w, r, err)
		return
	}

	a.audit(r.Context(), "invoice.create", map[string]any{
		"invoice_id": inv.ID,
		"client_id":  inv.ClientID,
		"period":     inv.PeriodStart.String() + ".." + inv.PeriodEnd.String(),
		"total":      inv.Total.String(),
	})

	w.Header().Set("Location", "/v1/billing/invoices/"+inv.ID)
	writeJSON(w, http.StatusCreated, inv)
}

func (a *API) listInvoices(w http.ResponseWriter, r *http.Request) {
	status, err := billing.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		handleBillingError(w, r, err)
		return
	}
	filter := billing.InvoiceFilter{
		ClientID: strings.TrimSpace(r.URL.Query().Get("client_id")),
		Status:   status,
	}

	items, err := a.billing.ListInvoices(r.Context(), filter)
	if err != nil {
		handleBillingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleInvoiceResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/billing/invoices/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "invoice not found")
		return
	}

	id, action, hasAction := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "invoice not found")
		return
	}

	if hasAction {
		switch action {
		case "issue", "pay", "void":
			if r.Method != http.MethodPost {
				methodNotAllowed(w, r, http.MethodPost)
				return
			}
			a.transitionInvoice(w, r, id, action)
		case "export.pdf":
			if r.Method != http.MethodGet {
				methodNotAllowed(w, r, http.MethodGet)
				return
			}
			a.exportInvoicePDF(w, r, id)
		default:
			writeError(w, r, http.StatusNotFound, "resource not found")
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		inv, err := a.billing.GetInvoice(r.Context(), id)
		if err != nil {
			handleBillingError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	case http.MethodDelete:
		if err := a.billing.DeleteInvoice(r.Context(), id); err != nil {
			handleBillingError(w, r, err)
			return
		}
		a.audit(r.Context(), "invoice.delete", map[string]any{"invoice_id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) transitionInvoice(w http.ResponseWriter, r *http.Request, id, action string) {
	var (
		inv billing.Invoice
		err error
	)
	switch action {
	case "issue":
		inv, err = a.billing.IssueInvoice(r.Context(), id)
	case "pay":
		inv, err = a.billing.PayInvoice(r.Context(), id)
	case "void":
		inv, err = a.billing.VoidInvoice(r.Context(), id)
	}
	obs.ObserveInvoiceTransition(action, err == nil)
	if err != nil {
		handleBillingError(w, r, err)
		return
	}

	a.audit(r.Context(), "invoice."+action, map[string]any{
		"invoice_id": id,
		"status":     string(inv.Status),
	})
	writeJSON(w, http.StatusOK, inv)
}

func (a *API) exportInvoicePDF(w http.ResponseWriter, r *http.Request, id string) {
	if a.renderer == nil || a.getClient == nil {
		writeError(w, r, http.StatusNotImplemented, "pdf export is not configured")
		return
	}
	inv, err := a.billing.GetInvoice(r.Context(), id)
	if err != nil {
		handleBillingError(w, r, err)
		return
	}
	client, err := a.getClient(r.Context(), inv.ClientID)
	if err != nil {
		handleBillingError(w, r, err)
		return
	}
	data, err := a.renderer.Render(inv, client)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "pdf rendering failed")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="invoice-`+inv.ID+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
