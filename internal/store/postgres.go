package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/eci-tracker/internal/db"
	"github.com/sells-group/eci-tracker/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_run":          `INSERT INTO runs (id, kind, source, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"update_run_status":   `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"complete_run":        `UPDATE runs SET stats = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":             `SELECT id, kind, source, status, stats, created_at, updated_at FROM runs WHERE id = $1`,
	"get_merged_record":   `SELECT record FROM merged_records WHERE case_id = $1 ORDER BY created_at DESC LIMIT 1`,
	"insert_case_failure": `INSERT INTO case_failures (id, run_id, case_id, source, error, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind       TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'queued',
	stats      JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS case_records (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	case_id    TEXT NOT NULL,
	source     TEXT NOT NULL,
	status     TEXT NOT NULL,
	record     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, case_id, source)
);

CREATE TABLE IF NOT EXISTS merged_records (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	case_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	warnings   INTEGER NOT NULL DEFAULT 0,
	record     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, case_id)
);

CREATE TABLE IF NOT EXISTS case_failures (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	case_id    TEXT NOT NULL,
	source     TEXT NOT NULL,
	error      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_merged_records_case_id ON merged_records(case_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_case_failures_run_id ON case_failures(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, kind model.RunKind, source string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, kind, source, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, string(kind), source, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, stats *model.RunStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stats")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET stats = $1, status = $2, updated_at = $3 WHERE id = $4`,
		statsJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPostgresRun(s.pool.QueryRow(ctx,
		`SELECT id, kind, source, status, stats, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, kind, source, status, stats, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var kind, status string
	var statsJSON []byte

	if err := row.Scan(&r.ID, &kind, &r.Source, &status, &statsJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Kind = model.RunKind(kind)
	r.Status = model.RunStatus(status)
	if len(statsJSON) > 0 && string(statsJSON) != "null" {
		r.Stats = &model.RunStats{}
		if err := json.Unmarshal(statsJSON, r.Stats); err != nil {
			return nil, eris.Wrap(err, "unmarshal stats")
		}
	}
	return &r, nil
}

var caseRecordColumns = []string{"run_id", "case_id", "source", "status", "record", "created_at"}

// SaveCaseRecords streams per-source records with COPY. Records are written
// once per run, so a repeated save for the same run fails on the primary key.
func (s *PostgresStore) SaveCaseRecords(ctx context.Context, runID string, records []model.CaseRecord) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(records))
	for i := range records {
		rec := &records[i]
		data, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal case record %s", rec.CaseID)
		}
		rows = append(rows, []any{runID, rec.CaseID, string(rec.Source), string(rec.Status), data, now})
	}
	_, err := db.CopyFrom(ctx, s.pool, "case_records", caseRecordColumns, rows)
	return eris.Wrap(err, "postgres: save case records")
}

func (s *PostgresStore) ListCaseRecords(ctx context.Context, runID string) ([]model.CaseRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM case_records WHERE run_id = $1 ORDER BY case_id, source`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list case records")
	}
	defer rows.Close()

	var out []model.CaseRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan case record")
		}
		var rec model.CaseRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal case record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list case records iterate")
}

// mergedRecordRows saves one merged record per case and run. Saving a case
// again within the run replaces it; created_at records the first save.
var mergedRecordRows = db.RunRows{
	Table:   "merged_records",
	Keys:    []string{"case_id"},
	Values:  []string{"status", "warnings", "record"},
	Keep:    []string{"created_at"},
	Changed: "record",
}

func (s *PostgresStore) SaveMergedRecords(ctx context.Context, runID string, records []model.MergedRecord) error {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(records))
	for i := range records {
		rec := &records[i]
		data, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal merged record %s", rec.CaseID)
		}
		rows = append(rows, []any{rec.CaseID, string(rec.Status), len(rec.Warnings), data, now})
	}
	_, err := db.ReplaceRunRows(ctx, s.pool, mergedRecordRows, runID, rows)
	return eris.Wrap(err, "postgres: save merged records")
}

func (s *PostgresStore) ListMergedRecords(ctx context.Context, runID string) ([]model.MergedRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM merged_records WHERE run_id = $1 ORDER BY case_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list merged records")
	}
	defer rows.Close()

	var out []model.MergedRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan merged record")
		}
		var rec model.MergedRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal merged record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list merged records iterate")
}

func (s *PostgresStore) GetMergedRecord(ctx context.Context, caseID string) (*model.MergedRecord, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT record FROM merged_records WHERE case_id = $1 ORDER BY created_at DESC LIMIT 1`,
		caseID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get merged record %s", caseID)
	}
	var rec model.MergedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal merged record")
	}
	return &rec, nil
}

func (s *PostgresStore) RecordFailure(ctx context.Context, f model.CaseFailure) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO case_failures (id, run_id, case_id, source, error, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), f.RunID, f.CaseID, string(f.Source), f.Error, f.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: record failure %s", f.CaseID)
}

func (s *PostgresStore) ListFailures(ctx context.Context, runID string) ([]model.CaseFailure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, case_id, source, error, created_at FROM case_failures WHERE run_id = $1 ORDER BY case_id, source`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list failures")
	}
	defer rows.Close()

	var out []model.CaseFailure
	for rows.Next() {
		var f model.CaseFailure
		var source string
		if err := rows.Scan(&f.RunID, &f.CaseID, &source, &f.Error, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failure")
		}
		f.Source = model.SourceKind(source)
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list failures iterate")
}
