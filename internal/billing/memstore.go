package billing

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"timebill.org/internal/ids"
	"timebill.org/internal/worklog"
)

// MemStore implements Store and ConfigAdmin with in-process concurrency
// safety. It backs tests and DSN-less local runs; production uses the
// Postgres store.
type MemStore struct {
	mu              sync.RWMutex
	clients         map[string]Client
	projects        map[string]Project
	mappingIndex    map[mappingKey]string // (instance, project key) -> mapping id
	rates           map[string]Rate
	classifications map[string]Classification
	entries         map[string]worklog.Entry
	invoices        map[string]Invoice
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		clients:         make(map[string]Client),
		projects:        make(map[string]Project),
		mappingIndex:    make(map[mappingKey]string),
		rates:           make(map[string]Rate),
		classifications: make(map[string]Classification),
		entries:         make(map[string]worklog.Entry),
		invoices:        make(map[string]Invoice),
	}
}

var (
	_ Store       = (*MemStore)(nil)
	_ ConfigAdmin = (*MemStore)(nil)
)

// --- clients ---

func (s *MemStore) ListClients(ctx context.Context) ([]Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemStore) GetClient(ctx context.Context, id string) (Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return Client{}, ErrNotFound
	}
	return c, nil
}

func (s *MemStore) CreateClient(ctx context.Context, c Client) (Client, error) {
	if err := validateClient(c); err != nil {
		return Client{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.clients {
		if strings.EqualFold(existing.Name, c.Name) {
			return Client{}, ErrAlreadyExists
		}
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.clients[c.ID] = c
	return c, nil
}

func (s *MemStore) UpdateClient(ctx context.Context, c Client) (Client, error) {
	if err := validateClient(c); err != nil {
		return Client{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.clients[c.ID]
	if !ok {
		return Client{}, ErrNotFound
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	s.clients[c.ID] = c
	return c, nil
}

// DeleteClient removes a client and cascades to its projects, mappings and
// rates. It is rejected while any non-VOID invoice references the client.
func (s *MemStore) DeleteClient(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[id]; !ok {
		return ErrNotFound
	}
	for _, inv := range s.invoices {
		if inv.ClientID == id && inv.Status != StatusVoid {
			return &ReferentialIntegrityError{
				Entity: "client",
				ID:     id,
				Reason: "invoice " + inv.ID + " in status " + string(inv.Status) + " still references it",
			}
		}
	}
	for pid, p := range s.projects {
		if p.ClientID != id {
			continue
		}
		s.dropProjectLocked(pid)
	}
	delete(s.clients, id)
	return nil
}

func validateClient(c Client) error {
	if strings.TrimSpace(c.Name) == "" {
		return validationf("client name is required")
	}
	if len(c.Currency) != 3 {
		return validationf("currency must be a 3-letter ISO code (got %q)", c.Currency)
	}
	return nil
}

// --- projects & mappings ---

func (s *MemStore) ListProjects(ctx context.Context, clientID string) ([]Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Project
	for _, p := range s.projects {
		if clientID == "" || p.ClientID == clientID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemStore) ProjectsByClient(ctx context.Context, clientID string) ([]Project, error) {
	return s.ListProjects(ctx, clientID)
}

func (s *MemStore) GetProject(ctx context.Context, id string) (Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return p, nil
}

func (s *MemStore) CreateProject(ctx context.Context, p Project) (Project, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Project{}, validationf("project name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[p.ClientID]; !ok {
		return Project{}, ErrNotFound
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Mappings = nil
	s.projects[p.ID] = p
	return p, nil
}

func (s *MemStore) UpdateProject(ctx context.Context, p Project) (Project, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Project{}, validationf("project name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.projects[p.ID]
	if !ok {
		return Project{}, ErrNotFound
	}
	existing.Name = p.Name
	existing.DefaultHourlyRate = p.DefaultHourlyRate
	existing.UpdatedAt = time.Now().UTC()
	s.projects[p.ID] = existing
	return existing, nil
}

func (s *MemStore) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return ErrNotFound
	}
	s.dropProjectLocked(id)
	return nil
}

func (s *MemStore) dropProjectLocked(id string) {
	p := s.projects[id]
	for _, m := range p.Mappings {
		delete(s.mappingIndex, mappingKey{m.Instance, m.ProjectKey})
	}
	for rid, r := range s.rates {
		if r.ProjectID == id {
			delete(s.rates, rid)
		}
	}
	delete(s.projects, id)
}

func (s *MemStore) AddMapping(ctx context.Context, m Mapping) (Mapping, error) {
	if m.Instance == "" || m.ProjectKey == "" {
		return Mapping{}, validationf("mapping instance and project_key are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[m.ProjectID]
	if !ok {
		return Mapping{}, ErrNotFound
	}
	key := mappingKey{m.Instance, m.ProjectKey}
	if _, taken := s.mappingIndex[key]; taken {
		return Mapping{}, ErrAlreadyExists
	}
	if m.ID == "" {
		m.ID = ids.New()
	}
	p.Mappings = append(p.Mappings, m)
	s.projects[m.ProjectID] = p
	s.mappingIndex[key] = m.ID
	return m, nil
}

func (s *MemStore) DeleteMapping(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pid, p := range s.projects {
		for i, m := range p.Mappings {
			if m.ID != id {
				continue
			}
			delete(s.mappingIndex, mappingKey{m.Instance, m.ProjectKey})
			p.Mappings = append(p.Mappings[:i], p.Mappings[i+1:]...)
			s.projects[pid] = p
			return nil
		}
	}
	return ErrNotFound
}

// --- rates ---

func (s *MemStore) ListRates(ctx context.Context, projectID string) ([]Rate, error) {
	return s.RatesByProject(ctx, projectID)
}

func (s *MemStore) RatesByProject(ctx context.Context, projectID string) ([]Rate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Rate
	for _, r := range s.rates {
		if r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemStore) CreateRate(ctx context.Context, r Rate) (Rate, error) {
	if r.HourlyRate <= 0 {
		return Rate{}, validationf("hourly_rate must be > 0")
	}
	if r.ValidFrom != nil && r.ValidTo != nil && r.ValidTo.Before(*r.ValidFrom) {
		return Rate{}, validationf("valid_to %s is before valid_from %s", r.ValidTo, r.ValidFrom)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[r.ProjectID]; !ok {
		return Rate{}, ErrNotFound
	}
	if r.ID == "" {
		r.ID = ids.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.rates[r.ID] = r
	return r, nil
}

func (s *MemStore) DeleteRate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rates[id]; !ok {
		return ErrNotFound
	}
	delete(s.rates, id)
	return nil
}

// --- classifications ---

func (s *MemStore) SetClassification(ctx context.Context, c Classification) error {
	if c.WorklogID == "" {
		return validationf("worklog_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classifications[c.WorklogID] = c
	return nil
}

func (s *MemStore) ClassificationsFor(ctx context.Context, worklogIDs []string) (map[string]Classification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Classification)
	for _, id := range worklogIDs {
		if c, ok := s.classifications[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

// --- worklogs ---

func (s *MemStore) EntriesInRange(ctx context.Context, start, end Date, instances []string) ([]worklog.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	allowed := map[string]struct{}{}
	for _, inst := range instances {
		allowed[inst] = struct{}{}
	}
	var out []worklog.Entry
	for _, e := range s.entries {
		if len(instances) > 0 {
			if _, ok := allowed[e.Instance]; !ok {
				continue
			}
		}
		if d := DateOf(e.Started); !d.In(&start, &end) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Started.Equal(out[j].Started) {
			return out[i].Started.Before(out[j].Started)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpsertWorklogs inserts or replaces fetched entries by ID.
func (s *MemStore) UpsertWorklogs(ctx context.Context, entries []worklog.Entry) (inserted, updated int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if _, ok := s.entries[e.ID]; ok {
			updated++
		} else {
			inserted++
		}
		s.entries[e.ID] = e
	}
	return inserted, updated, nil
}

// PruneWorklogs deletes entries for one instance within the synced window
// that are no longer present upstream.
func (s *MemStore) PruneWorklogs(ctx context.Context, keepIDs []string, instance string, start, end Date) (int, error) {
	keep := make(map[string]struct{}, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, e := range s.entries {
		if e.Instance != instance {
			continue
		}
		if d := DateOf(e.Started); !d.In(&start, &end) {
			continue
		}
		if _, ok := keep[id]; ok {
			continue
		}
		delete(s.entries, id)
		deleted++
	}
	return deleted, nil
}

// --- invoices ---

func (s *MemStore) InsertInvoice(ctx context.Context, inv Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invoices[inv.ID]; ok {
		return ErrAlreadyExists
	}
	inv.LineItems = append([]LineItem(nil), inv.LineItems...)
	s.invoices[inv.ID] = inv
	return nil
}

func (s *MemStore) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	inv.LineItems = append([]LineItem(nil), inv.LineItems...)
	return inv, nil
}

func (s *MemStore) ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Invoice
	for _, inv := range s.invoices {
		if f.ClientID != "" && inv.ClientID != f.ClientID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		inv.LineItems = append([]LineItem(nil), inv.LineItems...)
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *MemStore) ApplyTransition(ctx context.Context, id string, tr Transition, now time.Time) (Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	next, terr := Next(inv.Status, tr)
	if terr != nil {
		return Invoice{}, terr
	}
	inv.Status = next
	if tr == TransitionIssue {
		issued := now
		inv.IssuedAt = &issued
	}
	s.invoices[id] = inv
	inv.LineItems = append([]LineItem(nil), inv.LineItems...)
	return inv, nil
}

func (s *MemStore) RemoveInvoice(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return ErrNotFound
	}
	if _, terr := Next(inv.Status, TransitionDelete); terr != nil {
		return terr
	}
	delete(s.invoices, id)
	return nil
}
