// Package extract builds a CaseRecord from a parsed source document. Status
// classification is critical and fails the case; every other field is
// extracted independently and a missing section only records a FieldIssue.
package extract

import (
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/eci-tracker/internal/classify"
	"github.com/sells-group/eci-tracker/internal/document"
	"github.com/sells-group/eci-tracker/internal/model"
	"github.com/sells-group/eci-tracker/internal/rules"
	"github.com/sells-group/eci-tracker/internal/textnorm"
)

// recordSections are copied into CaseRecord.Sections when present.
var recordSections = []string{
	model.SectionSubmission,
	model.SectionResponse,
	model.SectionFollowup,
	model.SectionUpdates,
}

// Extractor turns documents into case records. It is stateless and safe
// for concurrent use.
type Extractor struct {
	rs         *rules.Ruleset
	classifier *classify.Classifier
	splitter   *textnorm.Splitter
}

// New creates an Extractor. A nil classifier is built from rs.
func New(rs *rules.Ruleset, classifier *classify.Classifier) *Extractor {
	if classifier == nil {
		classifier = classify.New(rs)
	}
	return &Extractor{rs: rs, classifier: classifier, splitter: rs.Splitter()}
}

// Classifier returns the status classifier in use.
func (e *Extractor) Classifier() *classify.Classifier {
	return e.classifier
}

// ExtractHTML parses r and extracts a record from it.
func (e *Extractor) ExtractHTML(r io.Reader, caseID string, kind model.SourceKind) (*model.CaseRecord, error) {
	doc, err := document.Parse(r)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: parse %s document for case %s", kind, caseID)
	}
	return e.Extract(doc, caseID, kind)
}

// Extract builds the record for one case from one source document. A
// missing status section returns a *model.SectionNotFoundError and an
// unclassifiable status a *model.ClassificationError, both wrapped.
func (e *Extractor) Extract(doc *document.Document, caseID string, kind model.SourceKind) (*model.CaseRecord, error) {
	if caseID == "" {
		return nil, eris.New("extract: case id is required")
	}
	if !kind.Valid() {
		return nil, eris.Errorf("extract: unknown source kind %q", kind)
	}
	log := zap.L().With(zap.String("case_id", caseID), zap.String("source", string(kind)))

	rec := &model.CaseRecord{
		CaseID:    caseID,
		Source:    kind,
		Title:     doc.Title(),
		Sections:  map[string]string{},
		Deadlines: model.Deadlines{},
	}

	secs := e.locate(doc)
	for _, name := range recordSections {
		if s := secs[name]; s != nil {
			rec.Sections[name] = s.NormalizedText()
		}
	}

	statusSec, err := doc.FirstSection(e.specs(e.rs.StatusSections[kind])...)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: status section for case %s", caseID)
	}
	statusText := textnorm.FoldText(statusSec.Text())
	res, err := e.classifier.ClassifyFolded(statusText)
	if err != nil {
		if ce, ok := err.(*model.ClassificationError); ok {
			ce.CaseID = caseID
		}
		return nil, eris.Wrapf(err, "extract: classify %s section", statusSec.Name)
	}
	rec.Status = res.Status
	rec.StatusLabel = res.Label
	rec.StatusEvidence = res.Evidence

	sig := e.classifier.SignalsFolded(statusText)
	rec.PromisedNewLaw = sig.Committed()
	rec.Rejection.IsRejected = res.Status.IsRejection() || sig.Rejected
	if rec.Rejection.IsRejected {
		rec.Rejection.Reasoning = e.rejectionReasoning(statusText, sig)
	}
	rec.Commitments = e.commitments(statusText)

	soft(rec, "deadlines", func() error {
		dl, err := e.deadlines(e.present(secs, e.rs.Deadlines.Sections))
		rec.Deadlines = dl
		return err
	})
	soft(rec, "legislative_actions", func() error {
		var err error
		rec.LegislativeActions, err = e.actions(e.present(secs, e.rs.Actions.Sections), e.rs.Actions.Legislative)
		return err
	})
	soft(rec, "non_legislative_actions", func() error {
		var err error
		rec.NonLegislativeActions, err = e.actions(e.present(secs, e.rs.Actions.Sections), e.rs.Actions.NonLegislative)
		return err
	})
	e.proceduralDates(rec, secs)

	soft(rec, "submission_text", func() error {
		s := secs[model.SectionSubmission]
		if s == nil {
			return e.notFound(model.SectionSubmission)
		}
		rec.SubmissionText = s.Text()
		return nil
	})
	soft(rec, "response_conclusion", func() error {
		var err error
		rec.ResponseConclusion, err = e.conclusion(secs)
		return err
	})
	soft(rec, "followup_events", func() error {
		var err error
		rec.FollowupEvents, err = e.events(e.present(secs, e.rs.Events.Sections))
		return err
	})
	soft(rec, "latest_update_date", func() error {
		s := secs[model.SectionUpdates]
		if s == nil {
			return e.notFound(model.SectionUpdates)
		}
		rec.LatestUpdateDate = latestDate(s.NormalizedText())
		return nil
	})
	rec.MostFutureDate = rec.Deadlines.Latest()

	whole := textnorm.FoldText(documentText(doc))
	rec.Links = e.links(doc.Links())
	rec.ReferencedLegislation = references(whole, e.rs.References.Legislation)
	rec.CourtCases = references(whole, e.rs.References.CourtCases)
	rec.HasRoadmap = e.rs.Flags.Roadmap.Any(whole.Lower)
	rec.HasWorkshop = e.rs.Flags.Workshop.Any(whole.Lower)
	rec.HasPartnershipPrograms = e.rs.Flags.Partnership.Any(whole.Lower)

	log.Debug("extract: record built",
		zap.String("status", string(rec.Status)),
		zap.String("rule", res.Rule),
		zap.Int("deadlines", len(rec.Deadlines)),
		zap.Int("legislative_actions", len(rec.LegislativeActions)),
		zap.Int("non_legislative_actions", len(rec.NonLegislativeActions)),
		zap.Int("issues", len(rec.Issues)),
	)
	return rec, nil
}

// soft runs one non-critical extractor and downgrades its error to an issue.
func soft(rec *model.CaseRecord, field string, fn func() error) {
	if err := fn(); err != nil {
		zap.L().Debug("extract: field skipped",
			zap.String("case_id", rec.CaseID),
			zap.String("field", field),
			zap.Error(err),
		)
		rec.AddIssue(field, err)
	}
}

// locate finds every declared section present in doc.
func (e *Extractor) locate(doc *document.Document) map[string]*document.Section {
	out := make(map[string]*document.Section, len(e.rs.Sections))
	for name, spec := range e.rs.Sections {
		if s, err := doc.Section(spec); err == nil {
			out[name] = s
		}
	}
	return out
}

// present returns the named sections that exist, in the given order. It
// fails only when none of them exist.
func (e *Extractor) present(secs map[string]*document.Section, names []string) presentSections {
	var out []*document.Section
	for _, n := range names {
		if s := secs[n]; s != nil {
			out = append(out, s)
		}
	}
	return presentSections{sections: out, names: names}
}

type presentSections struct {
	sections []*document.Section
	names    []string
}

func (p presentSections) err() error {
	if len(p.sections) > 0 {
		return nil
	}
	return model.NewSectionNotFoundError(joinNames(p.names))
}

func (e *Extractor) specs(names []string) []rules.SectionSpec {
	out := make([]rules.SectionSpec, 0, len(names))
	for _, n := range names {
		if spec, ok := e.rs.Section(n); ok {
			out = append(out, spec)
		}
	}
	return out
}

func (e *Extractor) notFound(name string) error {
	spec, _ := e.rs.Section(name)
	return model.NewSectionNotFoundError(name, spec.Headings...)
}

func documentText(doc *document.Document) string {
	blocks := doc.Blocks()
	texts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		texts = append(texts, b.Text)
	}
	return joinParagraphs(texts)
}
