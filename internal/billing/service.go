package billing

import (
	"context"
	"time"

	"timebill.org/internal/ids"
)

// Service defines the billing core operations exposed to the transport
// layer.
type Service interface {
	Preview(ctx context.Context, req PreviewRequest) (Preview, error)
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
	GetInvoice(ctx context.Context, id string) (Invoice, error)
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error)
	IssueInvoice(ctx context.Context, id string) (Invoice, error)
	PayInvoice(ctx context.Context, id string) (Invoice, error)
	VoidInvoice(ctx context.Context, id string) (Invoice, error)
	DeleteInvoice(ctx context.Context, id string) error
}

// Store is the persistence boundary the core runs on. Implementations must
// make InsertInvoice atomic (invoice and line items together or not at all)
// and serialize ApplyTransition/RemoveInvoice per invoice, so a losing
// concurrent caller observes the post-transition status.
type Store interface {
	ConfigSource
	WorklogSource

	InsertInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id string) (Invoice, error)
	ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error)

	// ApplyTransition loads the invoice under a per-invoice lock, calls
	// Next, and persists the successor status (setting issued_at on
	// DRAFT->ISSUED).
	ApplyTransition(ctx context.Context, id string, tr Transition, now time.Time) (Invoice, error)

	// RemoveInvoice physically deletes a DRAFT invoice; any other status
	// yields an IllegalTransitionError.
	RemoveInvoice(ctx context.Context, id string) error
}

// ConfigAdmin is the write side of the configuration store, exposed over
// HTTP for administrators. The billing core itself never writes through it.
type ConfigAdmin interface {
	ListClients(ctx context.Context) ([]Client, error)
	CreateClient(ctx context.Context, c Client) (Client, error)
	UpdateClient(ctx context.Context, c Client) (Client, error)
	DeleteClient(ctx context.Context, id string) error

	ListProjects(ctx context.Context, clientID string) ([]Project, error)
	CreateProject(ctx context.Context, p Project) (Project, error)
	UpdateProject(ctx context.Context, p Project) (Project, error)
	DeleteProject(ctx context.Context, id string) error

	AddMapping(ctx context.Context, m Mapping) (Mapping, error)
	DeleteMapping(ctx context.Context, id string) error

	ListRates(ctx context.Context, projectID string) ([]Rate, error)
	CreateRate(ctx context.Context, r Rate) (Rate, error)
	DeleteRate(ctx context.Context, id string) error

	SetClassification(ctx context.Context, c Classification) error
}

// CreateInvoiceRequest creates a DRAFT invoice by snapshotting the preview
// for the same scope.
type CreateInvoiceRequest struct {
	PreviewRequest
	Taxes Amount
	Notes string
}

// Core implements Service on top of a Store. Preview computation is
// request-scoped and cache-free: rates and worklogs may change between
// calls, and stale prices are silent corruption.
type Core struct {
	store          Store
	packages       PackageRateSource
	companyDefault *Amount
	now            func() time.Time
}

// CoreOption configures optional cascade inputs.
type CoreOption func(*Core)

// WithPackageRates plugs in the pre-purchased hour package source
// (cascade level 1).
func WithPackageRates(src PackageRateSource) CoreOption {
	return func(c *Core) { c.packages = src }
}

// WithCompanyDefaultRate sets the system-wide fallback rate (cascade
// level 6). Without it, entries no other level covers fail resolution.
func WithCompanyDefaultRate(rate Amount) CoreOption {
	return func(c *Core) { c.companyDefault = &rate }
}

// NewCore builds the billing service.
func NewCore(store Store, opts ...CoreOption) *Core {
	c := &Core{store: store, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Service = (*Core)(nil)

func (c *Core) builder() *PreviewBuilder {
	return &PreviewBuilder{
		Config:         c.store,
		Worklogs:       c.store,
		Packages:       c.packages,
		CompanyDefault: c.companyDefault,
	}
}

func (c *Core) Preview(ctx context.Context, req PreviewRequest) (Preview, error) {
	return c.builder().Preview(ctx, req)
}

func (c *Core) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (Invoice, error) {
	if req.Taxes < 0 {
		return Invoice{}, validationf("taxes_amount must be >= 0")
	}
	preview, err := c.builder().Preview(ctx, req.PreviewRequest)
	if err != nil {
		return Invoice{}, err
	}

	inv := Invoice{
		ID:          ids.New(),
		ClientID:    preview.ClientID,
		ProjectID:   preview.ProjectID,
		PeriodStart: preview.PeriodStart,
		PeriodEnd:   preview.PeriodEnd,
		GroupBy:     preview.GroupBy,
		Currency:    preview.Currency,
		Status:      StatusDraft,
		LineItems:   preview.LineItems,
		Subtotal:    preview.Subtotal,
		Taxes:       req.Taxes,
		Total:       preview.Subtotal + req.Taxes,
		Notes:       req.Notes,
		CreatedAt:   c.now(),
	}
	if err := c.store.InsertInvoice(ctx, inv); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func (c *Core) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	return c.store.GetInvoice(ctx, id)
}

func (c *Core) ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error) {
	return c.store.ListInvoices(ctx, f)
}

func (c *Core) IssueInvoice(ctx context.Context, id string) (Invoice, error) {
	return c.store.ApplyTransition(ctx, id, TransitionIssue, c.now())
}

func (c *Core) PayInvoice(ctx context.Context, id string) (Invoice, error) {
	return c.store.ApplyTransition(ctx, id, TransitionPay, c.now())
}

func (c *Core) VoidInvoice(ctx context.Context, id string) (Invoice, error) {
	return c.store.ApplyTransition(ctx, id, TransitionVoid, c.now())
}

func (c *Core) DeleteInvoice(ctx context.Context, id string) error {
	return c.store.RemoveInvoice(ctx, id)
}
