// Package pg implements the billing store on PostgreSQL.
package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"timebill.org/internal/billing"
	"timebill.org/internal/syncer"
)

type Store struct {
	db *sql.DB
}

var (
	_ billing.Store       = (*Store)(nil)
	_ billing.ConfigAdmin = (*Store)(nil)
	_ syncer.Sink         = (*Store)(nil)
	_ syncer.History      = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing connection, used by tests.
func NewFromDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// --- helpers ---

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// isForeignKey reports a foreign-key violation, which the store surfaces as
// a missing parent record.
func isForeignKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

// mapErr translates driver errors into the domain sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return billing.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return billing.ErrAlreadyExists
	}
	return err
}

func nullAmount(a *billing.Amount) sql.NullInt64 {
	if a == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*a), Valid: true}
}

func amountPtr(v sql.NullInt64) *billing.Amount {
	if !v.Valid {
		return nil
	}
	a := billing.Amount(v.Int64)
	return &a
}

func nullDate(d *billing.Date) sql.NullTime {
	if d == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: d.Time(), Valid: true}
}

func datePtr(v sql.NullTime) *billing.Date {
	if !v.Valid {
		return nil
	}
	d := billing.DateOf(v.Time)
	return &d
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
