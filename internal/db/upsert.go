package db

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// RunRows describes a table whose rows belong to a run and are keyed within
// it, such as merged_records keyed by (run_id, case_id).
type RunRows struct {
	Table string
	// RunColumn defaults to "run_id".
	RunColumn string
	// Keys identify a row within its run.
	Keys []string
	// Values are rewritten when a key is saved again in the same run.
	Values []string
	// Keep are set on first insert only.
	Keep []string
	// Changed, if set, names the Values column compared before rewriting.
	// Rows whose column is unchanged are left as they are.
	Changed string
}

func (r RunRows) runColumn() string {
	if r.RunColumn == "" {
		return "run_id"
	}
	return r.RunColumn
}

// Columns lists the written columns: the run column, then Keys, Values and
// Keep.
func (r RunRows) Columns() []string {
	cols := make([]string, 0, 1+len(r.Keys)+len(r.Values)+len(r.Keep))
	cols = append(cols, r.runColumn())
	cols = append(cols, r.Keys...)
	cols = append(cols, r.Values...)
	return append(cols, r.Keep...)
}

func (r RunRows) validate() error {
	switch {
	case r.Table == "":
		return eris.New("db: run rows: no table")
	case len(r.Keys) == 0:
		return eris.Errorf("db: run rows %s: no key columns", r.Table)
	case len(r.Values) == 0:
		return eris.Errorf("db: run rows %s: no value columns", r.Table)
	}
	if r.Changed != "" && !slices.Contains(r.Values, r.Changed) {
		return eris.Errorf("db: run rows %s: changed column %q is not a value column", r.Table, r.Changed)
	}
	return nil
}

// ReplaceRunRows writes rows for runID. Each row holds the Keys, Values and
// Keep columns in that order; the run id is added here. A key already saved
// for the run has its Values replaced. When a key repeats within rows the
// last occurrence is written.
func ReplaceRunRows(ctx context.Context, pool Pool, spec RunRows, runID string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if err := spec.validate(); err != nil {
		return 0, err
	}
	if runID == "" {
		return 0, eris.Errorf("db: run rows %s: empty run id", spec.Table)
	}

	width := len(spec.Keys) + len(spec.Values) + len(spec.Keep)
	scoped := make([][]any, 0, len(rows))
	for i, row := range lastPerKey(rows, len(spec.Keys)) {
		if len(row) != width {
			return 0, eris.Errorf("db: run rows %s: row %d has %d values, want %d", spec.Table, i, len(row), width)
		}
		scoped = append(scoped, append([]any{runID}, row...))
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: run rows %s: begin", spec.Table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	staging := pgx.Identifier{"_stage_" + strings.ReplaceAll(spec.Table, ".", "_")}
	stage := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		staging.Sanitize(), qualified(spec.Table))
	if _, err := tx.Exec(ctx, stage); err != nil {
		return 0, eris.Wrapf(err, "db: run rows %s: create staging table", spec.Table)
	}

	cols := spec.Columns()
	if _, err := tx.CopyFrom(ctx, staging, cols, pgx.CopyFromRows(scoped)); err != nil {
		return 0, eris.Wrapf(err, "db: run rows %s: copy", spec.Table)
	}

	tag, err := tx.Exec(ctx, replaceSQL(spec, staging))
	if err != nil {
		return 0, eris.Wrapf(err, "db: run rows %s: replace", spec.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: run rows %s: commit", spec.Table)
	}
	return tag.RowsAffected(), nil
}

// replaceSQL moves the staged rows into the table.
func replaceSQL(spec RunRows, staging pgx.Identifier) string {
	cols := identList(spec.Columns())
	conflict := identList(append([]string{spec.runColumn()}, spec.Keys...))

	sets := make([]string, len(spec.Values))
	for i, c := range spec.Values {
		id := pgx.Identifier{c}.Sanitize()
		sets[i] = id + " = EXCLUDED." + id
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s AS target (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		qualified(spec.Table), cols, cols, staging.Sanitize(), conflict, strings.Join(sets, ", "))
	if spec.Changed != "" {
		id := pgx.Identifier{spec.Changed}.Sanitize()
		fmt.Fprintf(&b, " WHERE target.%s IS DISTINCT FROM EXCLUDED.%s", id, id)
	}
	return b.String()
}

// lastPerKey drops earlier rows whose leading nkeys values repeat later.
// ON CONFLICT cannot touch the same row twice in one statement.
func lastPerKey(rows [][]any, nkeys int) [][]any {
	last := make(map[string]int, len(rows))
	for i, row := range rows {
		last[rowKey(row, nkeys)] = i
	}
	if len(last) == len(rows) {
		return rows
	}
	out := make([][]any, 0, len(last))
	for i, row := range rows {
		if last[rowKey(row, nkeys)] == i {
			out = append(out, row)
		}
	}
	return out
}

func rowKey(row []any, nkeys int) string {
	n := min(nkeys, len(row))
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprint(row[i])
	}
	return strings.Join(parts, "\x00")
}

// qualified quotes a table name that may carry a schema, e.g. "eci.merged_records".
func qualified(table string) string {
	if schema, name, ok := strings.Cut(table, "."); ok {
		return pgx.Identifier{schema, name}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

func identList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
