package pipeline

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/eci-tracker/internal/model"
)

// BatchResult is the outcome of RunBatch.
type BatchResult struct {
	RunID   string         `json:"run_id,omitempty"`
	Results []CaseResult   `json:"results"`
	Stats   model.RunStats `json:"stats"`
}

// Merged returns the merged records of the successful cases in case order.
func (b *BatchResult) Merged() []model.MergedRecord {
	out := make([]model.MergedRecord, 0, len(b.Results))
	for _, r := range b.Results {
		if r.Merged != nil {
			out = append(out, *r.Merged)
		}
	}
	return out
}

// Failures returns every per-side failure in case order.
func (b *BatchResult) Failures() []model.CaseFailure {
	var out []model.CaseFailure
	for _, r := range b.Results {
		out = append(out, r.Failures...)
	}
	return out
}

// RunBatch processes inputs concurrently. One case failing never aborts the
// others; only cancellation of ctx does. Results are ordered by case id.
func (p *Pipeline) RunBatch(ctx context.Context, source string, inputs []CaseInput, concurrency int) (*BatchResult, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	start := time.Now()
	log := zap.L().With(zap.String("component", "batch"))

	out := &BatchResult{}
	if p.store != nil {
		run, err := p.store.CreateRun(ctx, model.RunKindBatch, source)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		out.RunID = run.ID
		log = log.With(zap.String("run_id", run.ID))
		p.setStatus(ctx, out.RunID, model.RunStatusRunning)
	}

	log.Info("pipeline: processing batch",
		zap.Int("cases", len(inputs)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var mu sync.Mutex
	for _, in := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.ProcessCase(gctx, in)
			if res == nil {
				res = &CaseResult{CaseID: in.CaseID}
			}
			if err != nil {
				log.Error("pipeline: case failed", zap.String("case_id", in.CaseID), zap.Error(err))
				if len(res.Failures) == 0 {
					res.Failures = append(res.Failures, model.CaseFailure{CaseID: in.CaseID, Error: err.Error()})
				}
			}

			mu.Lock()
			out.Results = append(out.Results, *res)
			mu.Unlock()
			return nil // don't abort batch on individual failure
		})
	}

	if err := g.Wait(); err != nil {
		if out.RunID != "" {
			// ctx is already done; bookkeeping needs its own.
			p.setStatus(context.WithoutCancel(ctx), out.RunID, model.RunStatusFailed)
		}
		return nil, eris.Wrap(err, "pipeline: batch processing")
	}

	slices.SortFunc(out.Results, func(a, b CaseResult) int {
		return cmp.Compare(a.CaseID, b.CaseID)
	})

	out.Stats = model.RunStats{Cases: len(inputs)}
	for i := range out.Results {
		r := &out.Results[i]
		if r.Failed() {
			out.Stats.Failed++
			continue
		}
		out.Stats.Succeeded++
		out.Stats.Warnings += len(r.Merged.Warnings)
		logWarnings(r.Merged)
	}
	out.Stats.DurationMs = time.Since(start).Milliseconds()
	out.Stats.RulesetVersion = p.extractor.Classifier().Ruleset().Version

	if p.store != nil {
		if err := p.persist(ctx, out); err != nil {
			p.setStatus(ctx, out.RunID, model.RunStatusFailed)
			return nil, err
		}
	}

	log.Info("pipeline: batch complete",
		zap.Int("succeeded", out.Stats.Succeeded),
		zap.Int("failed", out.Stats.Failed),
		zap.Int("warnings", out.Stats.Warnings),
		zap.Int64("duration_ms", out.Stats.DurationMs),
	)
	return out, nil
}

func (p *Pipeline) persist(ctx context.Context, b *BatchResult) error {
	var records []model.CaseRecord
	for _, r := range b.Results {
		if r.Response != nil {
			records = append(records, *r.Response)
		}
		if r.Followup != nil {
			records = append(records, *r.Followup)
		}
	}
	if err := p.store.SaveCaseRecords(ctx, b.RunID, records); err != nil {
		return eris.Wrap(err, "pipeline: save case records")
	}
	if err := p.store.SaveMergedRecords(ctx, b.RunID, b.Merged()); err != nil {
		return eris.Wrap(err, "pipeline: save merged records")
	}
	for _, f := range b.Failures() {
		f.RunID = b.RunID
		if err := p.store.RecordFailure(ctx, f); err != nil {
			return eris.Wrap(err, "pipeline: record failure")
		}
	}
	return eris.Wrap(p.store.CompleteRun(ctx, b.RunID, &b.Stats), "pipeline: complete run")
}

func (p *Pipeline) setStatus(ctx context.Context, runID string, status model.RunStatus) {
	if err := p.store.UpdateRunStatus(ctx, runID, status); err != nil {
		zap.L().Warn("pipeline: failed to update run status",
			zap.String("run_id", runID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}
