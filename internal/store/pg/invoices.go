package pg

import (
	"context"
	"database/sql"
	"time"

	"timebill.org/internal/billing"
)

const invoiceColumns = `id, client_id, coalesce(project_id,''), period_start, period_end,
	group_by, currency, status, subtotal, taxes, total, coalesce(notes,''), created_at, issued_at`

func scanInvoice(row interface{ Scan(...any) error }) (billing.Invoice, error) {
	var inv billing.Invoice
	var periodStart, periodEnd time.Time
	var issuedAt sql.NullTime
	var groupBy, status string
	err := row.Scan(&inv.ID, &inv.ClientID, &inv.ProjectID, &periodStart, &periodEnd,
		&groupBy, &inv.Currency, &status, &inv.Subtotal, &inv.Taxes, &inv.Total,
		&inv.Notes, &inv.CreatedAt, &issuedAt)
	if err != nil {
		return billing.Invoice{}, mapErr(err)
	}
	inv.PeriodStart = billing.DateOf(periodStart)
	inv.PeriodEnd = billing.DateOf(periodEnd)
	inv.GroupBy = billing.GroupBy(groupBy)
	inv.Status = billing.Status(status)
	if issuedAt.Valid {
		t := issuedAt.Time.UTC()
		inv.IssuedAt = &t
	}
	return inv, nil
}

// InsertInvoice writes the invoice and its line items in one transaction.
func (s *Store) InsertInvoice(ctx context.Context, inv billing.Invoice) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into invoices(id, client_id, project_id, period_start, period_end,
			group_by, currency, status, subtotal, taxes, total, notes, created_at)
		values ($1,$2,nullif($3,''),$4,$5,$6,$7,$8,$9,$10,$11,nullif($12,''),$13)
	`, inv.ID, inv.ClientID, inv.ProjectID, inv.PeriodStart.Time(), inv.PeriodEnd.Time(),
		string(inv.GroupBy), inv.Currency, string(inv.Status),
		int64(inv.Subtotal), int64(inv.Taxes), int64(inv.Total), inv.Notes, inv.CreatedAt); err != nil {
		return mapErr(err)
	}

	for _, li := range inv.LineItems {
		if _, err := tx.ExecContext(ctx, `
			insert into invoice_line_items(invoice_id, sort_order, description, group_key, quantity_hours, hourly_rate, amount)
			values ($1,$2,$3,$4,$5,$6,$7)
		`, inv.ID, li.SortOrder, li.Description, li.GroupKey,
			li.QuantityHours, int64(li.HourlyRate), int64(li.Amount)); err != nil {
			return mapErr(err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetInvoice(ctx context.Context, id string) (billing.Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRowContext(ctx,
		`select `+invoiceColumns+` from invoices where id=$1`, id))
	if err != nil {
		return billing.Invoice{}, err
	}
	items, err := s.lineItems(ctx, id)
	if err != nil {
		return billing.Invoice{}, err
	}
	inv.LineItems = items
	return inv, nil
}

func (s *Store) lineItems(ctx context.Context, invoiceID string) ([]billing.LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		select sort_order, description, group_key, quantity_hours, hourly_rate, amount
		from invoice_line_items
		where invoice_id=$1
		order by sort_order
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []billing.LineItem{}
	for rows.Next() {
		var li billing.LineItem
		if err := rows.Scan(&li.SortOrder, &li.Description, &li.GroupKey,
			&li.QuantityHours, &li.HourlyRate, &li.Amount); err != nil {
			return nil, err
		}
		items = append(items, li)
	}
	return items, rows.Err()
}

func (s *Store) ListInvoices(ctx context.Context, f billing.InvoiceFilter) ([]billing.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+invoiceColumns+`
		from invoices
		where ($1 = '' or client_id = $1)
		  and ($2 = '' or status = $2)
		order by created_at desc, id desc
	`, f.ClientID, string(f.Status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		items, err := s.lineItems(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].LineItems = items
	}
	return out, nil
}

// ApplyTransition locks the invoice row, computes the successor status and
// persists it. A concurrent loser sees the post-transition status.
func (s *Store) ApplyTransition(ctx context.Context, id string, tr billing.Transition, now time.Time) (billing.Invoice, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return billing.Invoice{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `select status from invoices where id=$1 for update`, id).Scan(&status)
	if err != nil {
		return billing.Invoice{}, mapErr(err)
	}

	next, terr := billing.Next(billing.Status(status), tr)
	if terr != nil {
		return billing.Invoice{}, terr
	}

	if tr == billing.TransitionIssue {
		_, err = tx.ExecContext(ctx, `update invoices set status=$2, issued_at=$3 where id=$1`,
			id, string(next), now)
	} else {
		_, err = tx.ExecContext(ctx, `update invoices set status=$2 where id=$1`, id, string(next))
	}
	if err != nil {
		return billing.Invoice{}, err
	}
	if err := tx.Commit(); err != nil {
		return billing.Invoice{}, err
	}
	return s.GetInvoice(ctx, id)
}

// RemoveInvoice physically deletes a DRAFT invoice.
func (s *Store) RemoveInvoice(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `select status from invoices where id=$1 for update`, id).Scan(&status)
	if err != nil {
		return mapErr(err)
	}
	if _, terr := billing.Next(billing.Status(status), billing.TransitionDelete); terr != nil {
		return terr
	}
	// Line items cascade via foreign key.
	if _, err := tx.ExecContext(ctx, `delete from invoices where id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}
