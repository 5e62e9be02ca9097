package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"timebill.org/internal/audit"
	"timebill.org/internal/billing"
	"timebill.org/internal/obs"
	"timebill.org/internal/pdf"
	"timebill.org/internal/reconcile"
	"timebill.org/internal/syncer"
)

// ReadyProbe reports whether the service can take traffic (DB ping when a
// database is configured, always ready otherwise).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	billing   billing.Service
	admin     billing.ConfigAdmin
	recon     *reconcile.Engine
	runner    *syncer.Runner
	history   syncer.History
	renderer  *pdf.Renderer
	authDeps  authConfig
	getClient func(ctx context.Context, id string) (billing.Client, error)

	// Per-IP rate limit knobs, overridable before Handler is called.
	rateBurst  int
	ratePerSec int
}

// Deps carries everything the handlers call into.
type Deps struct {
	Billing    billing.Service
	Admin      billing.ConfigAdmin
	Reconciler *reconcile.Engine
	Runner     *syncer.Runner
	History    syncer.History
	Renderer   *pdf.Renderer

	// GetClient resolves a client for PDF export headers.
	GetClient func(ctx context.Context, id string) (billing.Client, error)

	// AuthSecret enables bearer-token authentication when non-empty.
	AuthSecret string
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		billing:    deps.Billing,
		admin:      deps.Admin,
		recon:      deps.Reconciler,
		runner:     deps.Runner,
		history:    deps.History,
		renderer:   deps.Renderer,
		authDeps:   authConfig{secret: deps.AuthSecret},
		getClient:  deps.GetClient,
		rateBurst:  100,
		ratePerSec: 50,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// billing
	a.mux.HandleFunc("/v1/billing/preview", a.handlePreview)
	a.mux.HandleFunc("/v1/billing/invoices", a.handleInvoicesCollection)
	a.mux.HandleFunc("/v1/billing/invoices/", a.handleInvoiceResource)

	// configuration
	a.mux.HandleFunc("/v1/clients", a.handleClientsCollection)
	a.mux.HandleFunc("/v1/clients/", a.handleClientResource)
	a.mux.HandleFunc("/v1/projects", a.handleProjectsCollection)
	a.mux.HandleFunc("/v1/projects/", a.handleProjectResource)
	a.mux.HandleFunc("/v1/mappings", a.handleMappingsCollection)
	a.mux.HandleFunc("/v1/mappings/", a.handleMappingResource)
	a.mux.HandleFunc("/v1/rates", a.handleRatesCollection)
	a.mux.HandleFunc("/v1/rates/", a.handleRateResource)
	a.mux.HandleFunc("/v1/classifications", a.handleClassifications)

	// reconciliation
	a.mux.HandleFunc("/v1/reconciliation/run", a.handleReconciliationRun)
	a.mux.HandleFunc("/v1/reconciliation/groups", a.handleReconciliationGroups)

	// sync
	a.mux.HandleFunc("/v1/sync", a.handleSync)
	a.mux.HandleFunc("/v1/sync/runs", a.handleSyncRuns)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "timebill-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "timebill-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleBillingError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vErr  *billing.ValidationError
		rErr  *billing.NoRateConfiguredError
		tErr  *billing.IllegalTransitionError
		riErr *billing.ReferentialIntegrityError
	)
	switch {
	case errors.As(err, &vErr):
		writeError(w, r, http.StatusBadRequest, vErr.Reason)
	case errors.As(err, &rErr):
		writeError(w, r, http.StatusUnprocessableEntity, rErr.Error())
	case errors.Is(err, billing.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.As(err, &tErr), errors.As(err, &riErr), errors.Is(err, billing.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, billing.ErrUpstreamUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
