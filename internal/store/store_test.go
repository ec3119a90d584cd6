package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/eci-tracker/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleRecord(caseID string, source model.SourceKind, status model.TechnicalStatus) model.CaseRecord {
	d := model.NewDate(2026, 12, 31)
	return model.CaseRecord{
		CaseID:      caseID,
		Source:      source,
		Title:       "End the Cage Age",
		Status:      status,
		StatusLabel: status.Label(),
		Deadlines:   model.Deadlines{d: "The Commission will table a proposal by end of 2026."},
		LegislativeActions: []model.Action{{
			Type:        "Regulation",
			Description: "Regulation on the welfare of farmed animals",
			Status:      model.ActionProposed,
			Date:        model.DatePtr(model.NewDate(2023, 12, 7)),
		}},
		MostFutureDate: &d,
		Issues:         []model.FieldIssue{{Field: "hearing_date", Error: "not found"}},
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.RunKindBatch, "data/2024-01")
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.RunStatusQueued, run.Status)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, model.RunKindBatch, got.Kind)
		assert.Equal(t, "data/2024-01", got.Source)
		assert.Equal(t, model.RunStatusQueued, got.Status)
		assert.Nil(t, got.Stats)
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetRun(context.Background(), "nonexistent-id")
		require.Error(t, err)
	})

	t.Run("UpdateRunStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.RunKindBatch, "")
		require.NoError(t, err)
		require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusRunning, got.Status)
	})

	t.Run("UpdateRunStatusNotFound", func(t *testing.T) {
		s := newStore(t)
		err := s.UpdateRunStatus(context.Background(), "nonexistent-id", model.RunStatusFailed)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("CompleteRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.RunKindReconcile, "")
		require.NoError(t, err)

		stats := &model.RunStats{Cases: 12, Succeeded: 11, Failed: 1, Warnings: 3, DurationMs: 420, RulesetVersion: "3"}
		require.NoError(t, s.CompleteRun(ctx, run.ID, stats))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusComplete, got.Status)
		require.NotNil(t, got.Stats)
		assert.Equal(t, *stats, *got.Stats)
	})

	t.Run("CompleteRunNotFound", func(t *testing.T) {
		s := newStore(t)
		err := s.CompleteRun(context.Background(), "nonexistent-id", &model.RunStats{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("ListRuns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		batch, err := s.CreateRun(ctx, model.RunKindBatch, "a")
		require.NoError(t, err)
		_, err = s.CreateRun(ctx, model.RunKindReconcile, "b")
		require.NoError(t, err)
		_, err = s.CreateRun(ctx, model.RunKindBatch, "c")
		require.NoError(t, err)
		require.NoError(t, s.UpdateRunStatus(ctx, batch.ID, model.RunStatusFailed))

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		batches, err := s.ListRuns(ctx, RunFilter{Kind: model.RunKindBatch})
		require.NoError(t, err)
		assert.Len(t, batches, 2)

		failed, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, batch.ID, failed[0].ID)

		page, err := s.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Len(t, page, 1)
	})

	t.Run("SaveAndListCaseRecords", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.RunKindBatch, "")
		require.NoError(t, err)

		records := []model.CaseRecord{
			sampleRecord("2018/000004", model.SourceFollowup, model.StatusCommitted),
			sampleRecord("2018/000004", model.SourceResponse, model.StatusCommitted),
			sampleRecord("2012/000003", model.SourceResponse, model.StatusApplicable),
		}
		require.NoError(t, s.SaveCaseRecords(ctx, run.ID, records))
		require.NoError(t, s.SaveCaseRecords(ctx, run.ID, nil))

		got, err := s.ListCaseRecords(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "2012/000003", got[0].CaseID)
		assert.Equal(t, model.SourceFollowup, got[1].Source)
		assert.Equal(t, model.SourceResponse, got[2].Source)
		assert.Equal(t, records[1].Deadlines, got[2].Deadlines)
		assert.Equal(t, records[1].LegislativeActions, got[2].LegislativeActions)
		assert.Equal(t, records[1].Issues, got[2].Issues)

		other, err := s.ListCaseRecords(ctx, "other-run")
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("SaveAndListMergedRecords", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.RunKindReconcile, "")
		require.NoError(t, err)

		merged := []model.MergedRecord{{
			CaseRecord: sampleRecord("2018/000004", "", model.StatusAdopted),
			Warnings: []model.Warning{{
				Field: "technical_status", Code: model.WarningStatusRegressed, Message: "status moved backwards",
			}},
			Sources: []model.SourceKind{model.SourceResponse, model.SourceFollowup},
		}}
		require.NoError(t, s.SaveMergedRecords(ctx, run.ID, merged))

		// A second save for the same run replaces the record.
		merged[0].Status = model.StatusApplicable
		merged[0].Warnings = nil
		require.NoError(t, s.SaveMergedRecords(ctx, run.ID, merged))

		got, err := s.ListMergedRecords(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, model.StatusApplicable, got[0].Status)
		assert.Empty(t, got[0].Warnings)
		assert.Equal(t, merged[0].Sources, got[0].Sources)
	})

	t.Run("GetMergedRecordLatestAcrossRuns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.CreateRun(ctx, model.RunKindReconcile, "")
		require.NoError(t, err)
		second, err := s.CreateRun(ctx, model.RunKindReconcile, "")
		require.NoError(t, err)

		older := model.MergedRecord{CaseRecord: sampleRecord("2018/000004", "", model.StatusCommitted)}
		newer := model.MergedRecord{CaseRecord: sampleRecord("2018/000004", "", model.StatusAdopted)}
		require.NoError(t, s.SaveMergedRecords(ctx, first.ID, []model.MergedRecord{older}))
		require.NoError(t, s.SaveMergedRecords(ctx, second.ID, []model.MergedRecord{newer}))

		got, err := s.GetMergedRecord(ctx, "2018/000004")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, model.StatusAdopted, got.Status)

		missing, err := s.GetMergedRecord(ctx, "2099/000001")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("RecordAndListFailures", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, model.RunKindBatch, "")
		require.NoError(t, err)

		require.NoError(t, s.RecordFailure(ctx, model.CaseFailure{
			RunID: run.ID, CaseID: "2019/000007", Source: model.SourceFollowup, Error: "section not found: updates",
		}))
		require.NoError(t, s.RecordFailure(ctx, model.CaseFailure{
			RunID: run.ID, CaseID: "2019/000007", Source: model.SourceResponse, Error: "no status matched",
		}))

		got, err := s.ListFailures(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, model.SourceFollowup, got[0].Source)
		assert.Equal(t, "section not found: updates", got[0].Error)
		assert.False(t, got[0].CreatedAt.IsZero())
		assert.Equal(t, model.SourceResponse, got[1].Source)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestLimitOrDefault(t *testing.T) {
	assert.Equal(t, 100, limitOrDefault(0))
	assert.Equal(t, 100, limitOrDefault(-5))
	assert.Equal(t, 7, limitOrDefault(7))
}
