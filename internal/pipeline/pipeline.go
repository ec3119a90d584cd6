// Package pipeline runs cases end to end: parse both source documents,
// extract a record from each, reconcile them, and keep run bookkeeping in the
// store.
package pipeline

import (
	"context"
	"errors"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/eci-tracker/internal/extract"
	"github.com/sells-group/eci-tracker/internal/model"
	"github.com/sells-group/eci-tracker/internal/reconcile"
	"github.com/sells-group/eci-tracker/internal/store"
)

// CaseInput locates the source documents of one case. An empty path means
// the document is not available.
type CaseInput struct {
	CaseID       string `json:"case_id"`
	ResponsePath string `json:"response_path,omitempty"`
	FollowupPath string `json:"followup_path,omitempty"`
}

// CaseResult is the outcome of processing one case.
type CaseResult struct {
	CaseID   string              `json:"case_id"`
	Response *model.CaseRecord   `json:"response,omitempty"`
	Followup *model.CaseRecord   `json:"followup,omitempty"`
	Merged   *model.MergedRecord `json:"merged,omitempty"`
	Failures []model.CaseFailure `json:"failures,omitempty"`
}

// Failed reports whether no source could be extracted.
func (r *CaseResult) Failed() bool {
	return r.Merged == nil
}

// Pipeline wires the extractor to the store.
type Pipeline struct {
	extractor *extract.Extractor
	store     store.Store
}

// New creates a Pipeline. A nil store disables run bookkeeping.
func New(ex *extract.Extractor, st store.Store) *Pipeline {
	return &Pipeline{extractor: ex, store: st}
}

// ProcessCase extracts and reconciles one case. A side that fails is
// recorded in Failures and the other side is merged alone. An error is
// returned only when neither side produced a record.
func (p *Pipeline) ProcessCase(ctx context.Context, in CaseInput) (*CaseResult, error) {
	if in.CaseID == "" {
		return nil, eris.New("pipeline: case id is required")
	}
	if in.ResponsePath == "" && in.FollowupPath == "" {
		return nil, eris.Errorf("pipeline: case %s has no source documents", in.CaseID)
	}

	res := &CaseResult{CaseID: in.CaseID}
	var errs []error

	side := func(kind model.SourceKind, path string) *model.CaseRecord {
		if path == "" {
			return nil
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			return nil
		}
		rec, err := p.extractFile(path, in.CaseID, kind)
		if err != nil {
			errs = append(errs, err)
			res.Failures = append(res.Failures, model.CaseFailure{
				CaseID: in.CaseID,
				Source: kind,
				Error:  err.Error(),
			})
			return nil
		}
		return rec
	}
	res.Response = side(model.SourceResponse, in.ResponsePath)
	res.Followup = side(model.SourceFollowup, in.FollowupPath)

	if res.Response == nil && res.Followup == nil {
		return res, eris.Wrapf(errors.Join(errs...), "pipeline: case %s", in.CaseID)
	}

	merged, err := reconcile.Reconcile(res.Response, res.Followup)
	if err != nil {
		return res, eris.Wrapf(err, "pipeline: case %s", in.CaseID)
	}
	res.Merged = merged
	return res, nil
}

func (p *Pipeline) extractFile(path, caseID string, kind model.SourceKind) (*model.CaseRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open %s document", kind)
	}
	defer f.Close() //nolint:errcheck

	return p.extractor.ExtractHTML(f, caseID, kind)
}

// logWarnings surfaces reconciliation anomalies for manual review.
func logWarnings(m *model.MergedRecord) {
	for _, w := range m.Warnings {
		zap.L().Warn("pipeline: reconciliation warning",
			zap.String("case_id", m.CaseID),
			zap.String("field", w.Field),
			zap.String("code", string(w.Code)),
			zap.String("message", w.Message),
		)
	}
}
