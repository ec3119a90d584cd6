package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/eci-tracker/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'queued',
	stats      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS case_records (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	case_id    TEXT NOT NULL,
	source     TEXT NOT NULL,
	status     TEXT NOT NULL,
	record     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, case_id, source)
);

CREATE TABLE IF NOT EXISTS merged_records (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	case_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	warnings   INTEGER NOT NULL DEFAULT 0,
	record     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, case_id)
);

CREATE TABLE IF NOT EXISTS case_failures (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	case_id    TEXT NOT NULL,
	source     TEXT NOT NULL,
	error      TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_merged_records_case_id ON merged_records(case_id, created_at);
CREATE INDEX IF NOT EXISTS idx_case_failures_run_id ON case_failures(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, kind model.RunKind, source string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, source, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(kind), source, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Kind:      kind,
		Source:    source,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, stats *model.RunStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET stats = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(statsJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, source, status, stats, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, kind, source, status, stats, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY created_at DESC`

	query += ` LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveCaseRecords(ctx context.Context, runID string, records []model.CaseRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save case records")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for i := range records {
		rec := &records[i]
		data, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal case record %s", rec.CaseID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO case_records (run_id, case_id, source, status, record, created_at) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (run_id, case_id, source) DO UPDATE SET status = excluded.status, record = excluded.record`,
			runID, rec.CaseID, string(rec.Source), string(rec.Status), string(data), now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert case record %s", rec.CaseID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit case records")
}

func (s *SQLiteStore) ListCaseRecords(ctx context.Context, runID string) ([]model.CaseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM case_records WHERE run_id = ? ORDER BY case_id, source`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list case records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CaseRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan case record")
		}
		var rec model.CaseRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal case record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list case records iterate")
}

func (s *SQLiteStore) SaveMergedRecords(ctx context.Context, runID string, records []model.MergedRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save merged records")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	for i := range records {
		rec := &records[i]
		data, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal merged record %s", rec.CaseID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO merged_records (run_id, case_id, status, warnings, record, created_at) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (run_id, case_id) DO UPDATE SET status = excluded.status, warnings = excluded.warnings,
			 record = excluded.record, created_at = excluded.created_at`,
			runID, rec.CaseID, string(rec.Status), len(rec.Warnings), string(data), now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert merged record %s", rec.CaseID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit merged records")
}

func (s *SQLiteStore) ListMergedRecords(ctx context.Context, runID string) ([]model.MergedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM merged_records WHERE run_id = ? ORDER BY case_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list merged records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MergedRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan merged record")
		}
		var rec model.MergedRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal merged record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list merged records iterate")
}

func (s *SQLiteStore) GetMergedRecord(ctx context.Context, caseID string) (*model.MergedRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM merged_records WHERE case_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		caseID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get merged record %s", caseID)
	}
	var rec model.MergedRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal merged record")
	}
	return &rec, nil
}

func (s *SQLiteStore) RecordFailure(ctx context.Context, f model.CaseFailure) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO case_failures (id, run_id, case_id, source, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), f.RunID, f.CaseID, string(f.Source), f.Error, f.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: record failure %s", f.CaseID)
}

func (s *SQLiteStore) ListFailures(ctx context.Context, runID string) ([]model.CaseFailure, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, case_id, source, error, created_at FROM case_failures WHERE run_id = ? ORDER BY case_id, source`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list failures")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CaseFailure
	for rows.Next() {
		var f model.CaseFailure
		if err := rows.Scan(&f.RunID, &f.CaseID, &f.Source, &f.Error, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list failures iterate")
}

// helpers

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var statsJSON sql.NullString

	err := row.Scan(&r.ID, &r.Kind, &r.Source, &r.Status, &statsJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if statsJSON.Valid && statsJSON.String != "" && statsJSON.String != "null" {
		r.Stats = &model.RunStats{}
		if err := json.Unmarshal([]byte(statsJSON.String), r.Stats); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal stats")
		}
	}
	return &r, nil
}
