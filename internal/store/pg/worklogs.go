package pg

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"timebill.org/internal/billing"
	"timebill.org/internal/ids"
	"timebill.org/internal/syncer"
	"timebill.org/internal/worklog"
)

func (s *Store) EntriesInRange(ctx context.Context, start, end billing.Date, instances []string) ([]worklog.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, instance, issue_key, coalesce(issue_summary,''), coalesce(issue_type,''),
		       coalesce(author_email,''), coalesce(author_name,''), seconds_spent, started,
		       coalesce(parent_key,''), coalesce(parent_name,''), coalesce(epic_key,''), coalesce(epic_name,'')
		from worklogs
		where started >= $1 and started < $2
		  and ($3::text[] is null or cardinality($3::text[]) = 0 or instance = any($3))
		order by started, id
	`, start.Time(), end.Time().AddDate(0, 0, 1), instances)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []worklog.Entry
	for rows.Next() {
		var e worklog.Entry
		if err := rows.Scan(&e.ID, &e.Instance, &e.IssueKey, &e.IssueSummary, &e.IssueType,
			&e.AuthorEmail, &e.AuthorName, &e.SecondsSpent, &e.Started,
			&e.ParentKey, &e.ParentName, &e.EpicKey, &e.EpicName); err != nil {
			return nil, err
		}
		e.Started = e.Started.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertWorklogs replaces fetched entries by ID and reports how many were
// new versus refreshed.
func (s *Store) UpsertWorklogs(ctx context.Context, entries []worklog.Entry) (inserted, updated int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range entries {
		var wasInsert bool
		err := tx.QueryRowContext(ctx, `
			insert into worklogs(id, instance, issue_key, issue_summary, issue_type,
				author_email, author_name, seconds_spent, started,
				parent_key, parent_name, epic_key, epic_name)
			values ($1,$2,$3,nullif($4,''),nullif($5,''),nullif($6,''),nullif($7,''),$8,$9,
				nullif($10,''),nullif($11,''),nullif($12,''),nullif($13,''))
			on conflict (id) do update set
				instance=excluded.instance, issue_key=excluded.issue_key,
				issue_summary=excluded.issue_summary, issue_type=excluded.issue_type,
				author_email=excluded.author_email, author_name=excluded.author_name,
				seconds_spent=excluded.seconds_spent, started=excluded.started,
				parent_key=excluded.parent_key, parent_name=excluded.parent_name,
				epic_key=excluded.epic_key, epic_name=excluded.epic_name
			returning (xmax = 0)
		`, e.ID, e.Instance, e.IssueKey, e.IssueSummary, e.IssueType,
			e.AuthorEmail, e.AuthorName, e.SecondsSpent, e.Started,
			e.ParentKey, e.ParentName, e.EpicKey, e.EpicName).Scan(&wasInsert)
		if err != nil {
			return 0, 0, err
		}
		if wasInsert {
			inserted++
		} else {
			updated++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return inserted, updated, nil
}

// PruneWorklogs deletes entries for one instance inside the synced window
// that the tracker no longer reports.
func (s *Store) PruneWorklogs(ctx context.Context, keepIDs []string, instance string, start, end billing.Date) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from worklogs
		where instance = $1
		  and started >= $2 and started < $3
		  and not (id = any($4))
	`, instance, start.Time(), end.Time().AddDate(0, 0, 1), keepIDs)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- sync run history ---

func (s *Store) BeginRun(ctx context.Context, run syncer.Run) (syncer.Run, error) {
	if run.ID == "" {
		run.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sync_runs(id, instances, period_start, period_end, status, started_at)
		values ($1,$2,$3,$4,$5,$6)
	`, run.ID, strings.Join(run.Instances, ","), run.Start.Time(), run.End.Time(), string(run.Status), run.StartedAt)
	if err != nil {
		return syncer.Run{}, mapErr(err)
	}
	return run, nil
}

func (s *Store) CompleteRun(ctx context.Context, run syncer.Run) error {
	res, err := s.db.ExecContext(ctx, `
		update sync_runs
		set status=$2, error=nullif($3,''), fetched=$4, inserted=$5, updated=$6, deleted=$7, finished_at=$8
		where id=$1
	`, run.ID, string(run.Status), run.Error,
		run.Fetched, run.Inserted, run.Updated, run.Deleted, run.FinishedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.ErrNotFound
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]syncer.Run, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, instances, period_start, period_end, status, coalesce(error,''),
		       fetched, inserted, updated, deleted, started_at, finished_at
		from sync_runs
		order by started_at desc, id desc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []syncer.Run
	for rows.Next() {
		var run syncer.Run
		var instances string
		var start, end time.Time
		var status string
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &instances, &start, &end, &status, &run.Error,
			&run.Fetched, &run.Inserted, &run.Updated, &run.Deleted, &run.StartedAt, &finished); err != nil {
			return nil, err
		}
		if instances != "" {
			run.Instances = strings.Split(instances, ",")
		}
		run.Start = billing.DateOf(start)
		run.End = billing.DateOf(end)
		run.Status = syncer.RunStatus(status)
		if finished.Valid {
			t := finished.Time.UTC()
			run.FinishedAt = &t
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
