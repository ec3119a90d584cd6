package store

import (
	"context"

	"github.com/sells-group/eci-tracker/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Kind   model.RunKind   `json:"kind,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for tracking runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, kind model.RunKind, source string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, stats *model.RunStats) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Per-source records, append-only per run.
	SaveCaseRecords(ctx context.Context, runID string, records []model.CaseRecord) error
	ListCaseRecords(ctx context.Context, runID string) ([]model.CaseRecord, error)

	// Merged records, replaced wholesale per (run, case).
	SaveMergedRecords(ctx context.Context, runID string, records []model.MergedRecord) error
	ListMergedRecords(ctx context.Context, runID string) ([]model.MergedRecord, error)
	// GetMergedRecord returns the most recently saved merged record for a
	// case across all runs, or nil when there is none.
	GetMergedRecord(ctx context.Context, caseID string) (*model.MergedRecord, error)

	// Failures
	RecordFailure(ctx context.Context, f model.CaseFailure) error
	ListFailures(ctx context.Context, runID string) ([]model.CaseFailure, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
