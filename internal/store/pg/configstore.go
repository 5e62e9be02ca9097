package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"timebill.org/internal/billing"
	"timebill.org/internal/ids"
)

// --- clients ---

const clientColumns = `id, name, currency, default_hourly_rate, coalesce(instance,''), created_at, updated_at`

func scanClient(row interface{ Scan(...any) error }) (billing.Client, error) {
	var c billing.Client
	var rate sql.NullInt64
	err := row.Scan(&c.ID, &c.Name, &c.Currency, &rate, &c.Instance, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return billing.Client{}, mapErr(err)
	}
	c.DefaultHourlyRate = amountPtr(rate)
	return c, nil
}

func (s *Store) ListClients(ctx context.Context) ([]billing.Client, error) {
	rows, err := s.db.QueryContext(ctx, `select `+clientColumns+` from clients order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetClient(ctx context.Context, id string) (billing.Client, error) {
	return scanClient(s.db.QueryRowContext(ctx,
		`select `+clientColumns+` from clients where id=$1`, id))
}

func (s *Store) CreateClient(ctx context.Context, c billing.Client) (billing.Client, error) {
	if err := validateClient(c); err != nil {
		return billing.Client{}, err
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		insert into clients(id, name, currency, default_hourly_rate, instance, created_at, updated_at)
		values ($1,$2,$3,$4,nullif($5,''),$6,$6)
	`, c.ID, c.Name, c.Currency, nullAmount(c.DefaultHourlyRate), c.Instance, now)
	if err != nil {
		return billing.Client{}, mapErr(err)
	}
	return c, nil
}

func (s *Store) UpdateClient(ctx context.Context, c billing.Client) (billing.Client, error) {
	if err := validateClient(c); err != nil {
		return billing.Client{}, err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		update clients
		set name=$2, currency=$3, default_hourly_rate=$4, instance=nullif($5,''), updated_at=$6
		where id=$1
	`, c.ID, c.Name, c.Currency, nullAmount(c.DefaultHourlyRate), c.Instance, now)
	if err != nil {
		return billing.Client{}, mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.Client{}, billing.ErrNotFound
	}
	return s.GetClient(ctx, c.ID)
}

// DeleteClient removes a client and everything scoped to it. It is rejected
// while any non-VOID invoice references the client.
func (s *Store) DeleteClient(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var dummy int
	err = tx.QueryRowContext(ctx, `select 1 from clients where id=$1 for update`, id).Scan(&dummy)
	if err != nil {
		return mapErr(err)
	}

	var invoiceID, status string
	err = tx.QueryRowContext(ctx, `
		select id, status from invoices where client_id=$1 and status <> $2 limit 1
	`, id, string(billing.StatusVoid)).Scan(&invoiceID, &status)
	switch {
	case err == nil:
		return &billing.ReferentialIntegrityError{
			Entity: "client",
			ID:     id,
			Reason: "invoice " + invoiceID + " in status " + status + " still references it",
		}
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	// Mappings and rates cascade from projects via foreign keys.
	if _, err := tx.ExecContext(ctx, `delete from projects where client_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from clients where id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func validateClient(c billing.Client) error {
	if strings.TrimSpace(c.Name) == "" {
		return &billing.ValidationError{Reason: "client name is required"}
	}
	if len(c.Currency) != 3 {
		return &billing.ValidationError{Reason: "currency must be a 3-letter ISO code"}
	}
	return nil
}

// --- projects ---

func (s *Store) ListProjects(ctx context.Context, clientID string) ([]billing.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, client_id, name, default_hourly_rate, created_at, updated_at
		from projects
		where $1 = '' or client_id = $1
		order by name
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Project
	for rows.Next() {
		var p billing.Project
		var rate sql.NullInt64
		if err := rows.Scan(&p.ID, &p.ClientID, &p.Name, &rate, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.DefaultHourlyRate = amountPtr(rate)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachMappings(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ProjectsByClient(ctx context.Context, clientID string) ([]billing.Project, error) {
	return s.ListProjects(ctx, clientID)
}

func (s *Store) GetProject(ctx context.Context, id string) (billing.Project, error) {
	var p billing.Project
	var rate sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		select id, client_id, name, default_hourly_rate, created_at, updated_at
		from projects where id=$1
	`, id).Scan(&p.ID, &p.ClientID, &p.Name, &rate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return billing.Project{}, mapErr(err)
	}
	p.DefaultHourlyRate = amountPtr(rate)

	projects := []billing.Project{p}
	if err := s.attachMappings(ctx, projects); err != nil {
		return billing.Project{}, err
	}
	return projects[0], nil
}

func (s *Store) attachMappings(ctx context.Context, projects []billing.Project) error {
	if len(projects) == 0 {
		return nil
	}
	index := make(map[string]*billing.Project, len(projects))
	idList := make([]string, 0, len(projects))
	for i := range projects {
		index[projects[i].ID] = &projects[i]
		idList = append(idList, projects[i].ID)
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, project_id, instance, project_key
		from project_mappings
		where project_id = any($1)
		order by instance, project_key
	`, idList)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var m billing.Mapping
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Instance, &m.ProjectKey); err != nil {
			return err
		}
		if p, ok := index[m.ProjectID]; ok {
			p.Mappings = append(p.Mappings, m)
		}
	}
	return rows.Err()
}

func (s *Store) CreateProject(ctx context.Context, p billing.Project) (billing.Project, error) {
	if strings.TrimSpace(p.Name) == "" {
		return billing.Project{}, &billing.ValidationError{Reason: "project name is required"}
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Mappings = nil
	_, err := s.db.ExecContext(ctx, `
		insert into projects(id, client_id, name, default_hourly_rate, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$5)
	`, p.ID, p.ClientID, p.Name, nullAmount(p.DefaultHourlyRate), now)
	if err != nil {
		if isForeignKey(err) {
			return billing.Project{}, billing.ErrNotFound
		}
		return billing.Project{}, mapErr(err)
	}
	return p, nil
}

func (s *Store) UpdateProject(ctx context.Context, p billing.Project) (billing.Project, error) {
	if strings.TrimSpace(p.Name) == "" {
		return billing.Project{}, &billing.ValidationError{Reason: "project name is required"}
	}
	res, err := s.db.ExecContext(ctx, `
		update projects set name=$2, default_hourly_rate=$3, updated_at=$4 where id=$1
	`, p.ID, p.Name, nullAmount(p.DefaultHourlyRate), time.Now().UTC())
	if err != nil {
		return billing.Project{}, mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.Project{}, billing.ErrNotFound
	}
	return s.GetProject(ctx, p.ID)
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from projects where id=$1`, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.ErrNotFound
	}
	return nil
}

// --- mappings ---

func (s *Store) AddMapping(ctx context.Context, m billing.Mapping) (billing.Mapping, error) {
	if m.Instance == "" || m.ProjectKey == "" {
		return billing.Mapping{}, &billing.ValidationError{Reason: "mapping instance and project_key are required"}
	}
	if m.ID == "" {
		m.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into project_mappings(id, project_id, instance, project_key)
		values ($1,$2,$3,$4)
	`, m.ID, m.ProjectID, m.Instance, m.ProjectKey)
	if err != nil {
		if isForeignKey(err) {
			return billing.Mapping{}, billing.ErrNotFound
		}
		return billing.Mapping{}, mapErr(err)
	}
	return m, nil
}

func (s *Store) DeleteMapping(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from project_mappings where id=$1`, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.ErrNotFound
	}
	return nil
}

// --- rates ---

func (s *Store) ListRates(ctx context.Context, projectID string) ([]billing.Rate, error) {
	return s.RatesByProject(ctx, projectID)
}

func (s *Store) RatesByProject(ctx context.Context, projectID string) ([]billing.Rate, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, project_id, hourly_rate, coalesce(user_email,''), coalesce(issue_type,''),
		       coalesce(epic_key,''), valid_from, valid_to, created_at
		from rates
		where project_id=$1
		order by created_at, id
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Rate
	for rows.Next() {
		var r billing.Rate
		var from, to sql.NullTime
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.HourlyRate, &r.UserEmail, &r.IssueType,
			&r.EpicKey, &from, &to, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ValidFrom = datePtr(from)
		r.ValidTo = datePtr(to)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreateRate(ctx context.Context, r billing.Rate) (billing.Rate, error) {
	if r.HourlyRate <= 0 {
		return billing.Rate{}, &billing.ValidationError{Reason: "hourly_rate must be > 0"}
	}
	if r.ValidFrom != nil && r.ValidTo != nil && r.ValidTo.Before(*r.ValidFrom) {
		return billing.Rate{}, &billing.ValidationError{Reason: "valid_to is before valid_from"}
	}
	if r.ID == "" {
		r.ID = ids.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into rates(id, project_id, hourly_rate, user_email, issue_type, epic_key, valid_from, valid_to, created_at)
		values ($1,$2,$3,nullif($4,''),nullif($5,''),nullif($6,''),$7,$8,$9)
	`, r.ID, r.ProjectID, int64(r.HourlyRate), r.UserEmail, r.IssueType, r.EpicKey,
		nullDate(r.ValidFrom), nullDate(r.ValidTo), r.CreatedAt)
	if err != nil {
		if isForeignKey(err) {
			return billing.Rate{}, billing.ErrNotFound
		}
		return billing.Rate{}, mapErr(err)
	}
	return r, nil
}

func (s *Store) DeleteRate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from rates where id=$1`, id)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.ErrNotFound
	}
	return nil
}

// --- classifications ---

func (s *Store) SetClassification(ctx context.Context, c billing.Classification) error {
	if c.WorklogID == "" {
		return &billing.ValidationError{Reason: "worklog_id is required"}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into classifications(worklog_id, billable, note)
		values ($1,$2,nullif($3,''))
		on conflict (worklog_id) do update set billable=excluded.billable, note=excluded.note
	`, c.WorklogID, c.Billable, c.Note)
	return mapErr(err)
}

func (s *Store) ClassificationsFor(ctx context.Context, worklogIDs []string) (map[string]billing.Classification, error) {
	out := make(map[string]billing.Classification)
	if len(worklogIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select worklog_id, billable, coalesce(note,'')
		from classifications
		where worklog_id = any($1)
	`, worklogIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c billing.Classification
		if err := rows.Scan(&c.WorklogID, &c.Billable, &c.Note); err != nil {
			return nil, err
		}
		out[c.WorklogID] = c
	}
	return out, rows.Err()
}
