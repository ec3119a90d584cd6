package model

import "time"

// RunStatus represents the current state of a tracking run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunKind says what a run did.
type RunKind string

const (
	RunKindBatch     RunKind = "batch"
	RunKindReconcile RunKind = "reconcile"
)

// Run is one extraction/reconciliation run over a set of cases.
type Run struct {
	ID        string    `json:"id"`
	Kind      RunKind   `json:"kind"`
	Source    string    `json:"source"`
	Status    RunStatus `json:"status"`
	Stats     *RunStats `json:"stats,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunStats summarizes a finished run.
type RunStats struct {
	Cases          int    `json:"cases"`
	Succeeded      int    `json:"succeeded"`
	Failed         int    `json:"failed"`
	Warnings       int    `json:"warnings"`
	DurationMs     int64  `json:"duration_ms"`
	RulesetVersion string `json:"ruleset_version,omitempty"`
}

// CaseFailure records why one side of a case could not be extracted.
type CaseFailure struct {
	RunID     string     `json:"run_id"`
	CaseID    string     `json:"case_id"`
	Source    SourceKind `json:"source"`
	Error     string     `json:"error"`
	CreatedAt time.Time  `json:"created_at"`
}
