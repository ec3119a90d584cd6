// Package reconcile merges the response and follow-up records of a case into
// one MergedRecord. Every field is derived by a declared policy that reads the
// two source records only, so fields can be computed in any order.
package reconcile

import (
	"maps"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/eci-tracker/internal/model"
)

var fields = []Field{
	{"case_id", KeepPrimary, keepPrimary(func(r *model.CaseRecord) *string { return &r.CaseID })},
	{"title", KeepPrimary, keepPrimary(func(r *model.CaseRecord) *string { return &r.Title })},
	{"initiative_url", KeepPrimary, keepPrimary(func(r *model.CaseRecord) *string { return &r.Links.Initiative })},
	{"response_url", KeepPrimary, keepPrimary(func(r *model.CaseRecord) *string { return &r.Links.Response })},
	{"communication_url", KeepPrimary, keepPrimary(func(r *model.CaseRecord) *string { return &r.Links.Communication })},
	{"factsheet_url", KeepPrimary, keepPrimary(func(r *model.CaseRecord) *string { return &r.Links.Factsheet })},
	{"followup_website_url", PreferSecondary, preferSecondary[string](func(r *model.CaseRecord) *string { return &r.Links.FollowupWebsite }, nil)},
	{"hearing_video_urls", UnionCollection, union(func(r *model.CaseRecord) *[]string { return &r.Links.HearingVideos }, foldKey)},
	{"debate_video_urls", UnionCollection, union(func(r *model.CaseRecord) *[]string { return &r.Links.DebateVideos }, foldKey)},

	{"submission_date", KeepPrimary, keepPrimary(func(r *model.CaseRecord) **model.Date { return &r.Dates.Submission })},
	{"meeting_date", KeepPrimary, keepPrimary(func(r *model.CaseRecord) **model.Date { return &r.Dates.Meeting })},
	{"hearing_date", KeepPrimary, keepPrimary(func(r *model.CaseRecord) **model.Date { return &r.Dates.Hearing })},
	{"debate_date", KeepPrimary, keepPrimary(func(r *model.CaseRecord) **model.Date { return &r.Dates.Debate })},
	{"communication_date", KeepPrimary, keepPrimary(func(r *model.CaseRecord) **model.Date { return &r.Dates.CommunicationAdoption })},
	{"applicability_date", MaxDate, maxDate(func(r *model.CaseRecord) **model.Date { return &r.Dates.Applicability })},
	{"submission_text", KeepPrimary, keepPrimary(func(r *model.CaseRecord) *string { return &r.SubmissionText })},
	{"response_conclusion", KeepPrimary, keepPrimary(func(r *model.CaseRecord) *string { return &r.ResponseConclusion })},

	{"technical_status", PreferSecondary, preferSecondary(func(r *model.CaseRecord) *model.TechnicalStatus { return &r.Status }, statusRegression)},
	{"status_label", PreferSecondary, preferSecondary[string](func(r *model.CaseRecord) *string { return &r.StatusLabel }, nil)},
	{"status_evidence", PreferSecondary, preferSecondary[[]string](func(r *model.CaseRecord) *[]string { return &r.StatusEvidence }, nil)},
	{"promised_new_law", LogicalOr, logicalOr(func(r *model.CaseRecord) *bool { return &r.PromisedNewLaw })},
	{"rejected_initiative", LogicalOr, logicalOr(func(r *model.CaseRecord) *bool { return &r.Rejection.IsRejected })},
	{"rejection_reasoning", LabeledConcat, labeledConcat("Rejection Reasoning", func(r *model.CaseRecord) *string { return &r.Rejection.Reasoning })},
	{"commitments", LabeledConcat, labeledConcat("Commitments", func(r *model.CaseRecord) *string { return &r.Commitments })},
	{"deadlines", LabeledConcat, mergeDeadlines},
	{"legislative_actions", UnionCollection, union(func(r *model.CaseRecord) *[]model.Action { return &r.LegislativeActions }, actionKey)},
	{"non_legislative_actions", UnionCollection, union(func(r *model.CaseRecord) *[]model.Action { return &r.NonLegislativeActions }, actionKey)},

	{"has_roadmap", LogicalOr, logicalOr(func(r *model.CaseRecord) *bool { return &r.HasRoadmap })},
	{"has_workshop", LogicalOr, logicalOr(func(r *model.CaseRecord) *bool { return &r.HasWorkshop })},
	{"has_partnership_programs", LogicalOr, logicalOr(func(r *model.CaseRecord) *bool { return &r.HasPartnershipPrograms })},
	{"court_cases", UnionCollection, union(func(r *model.CaseRecord) *[]string { return &r.CourtCases }, foldKey)},
	{"referenced_legislation", UnionCollection, union(func(r *model.CaseRecord) *[]string { return &r.ReferencedLegislation }, foldKey)},
	{"followup_events", LabeledConcat, labeledConcat("Events", func(r *model.CaseRecord) *string { return &r.FollowupEvents })},
	{"latest_update_date", MaxDate, maxDate(func(r *model.CaseRecord) **model.Date { return &r.LatestUpdateDate })},
	{"most_future_date", MaxDate, maxDate(func(r *model.CaseRecord) **model.Date { return &r.MostFutureDate })},
	{"source_text_sections", UnionCollection, unionSections},
}

// Policies returns the merge table in field order.
func Policies() []Field {
	return slices.Clone(fields)
}

// Reconcile merges the response record p and the follow-up record s of one
// case. Either may be nil; a missing side contributes nothing and produces
// no warnings. Anomalies are returned as warnings on the record, never as
// errors.
func Reconcile(p, s *model.CaseRecord) (*model.MergedRecord, error) {
	return merge(p, s, fields)
}

func merge(p, s *model.CaseRecord, table []Field) (*model.MergedRecord, error) {
	if p == nil && s == nil {
		return nil, eris.New("reconcile: no source record")
	}
	if p != nil && s != nil && p.CaseID != s.CaseID {
		return nil, eris.Errorf("reconcile: case id mismatch: response %q, follow-up %q", p.CaseID, s.CaseID)
	}

	m := &model.MergedRecord{}
	for _, f := range table {
		m.Warnings = append(m.Warnings, f.merge(f.Name, &m.CaseRecord, p, s)...)
	}
	if p != nil {
		m.Sources = append(m.Sources, model.SourceResponse)
		m.Issues = append(m.Issues, prefixIssues(model.SourceResponse, p.Issues)...)
	}
	if s != nil {
		m.Sources = append(m.Sources, model.SourceFollowup)
		m.Issues = append(m.Issues, prefixIssues(model.SourceFollowup, s.Issues)...)
	}

	zap.L().Debug("reconcile: merged",
		zap.String("case_id", m.CaseID),
		zap.Int("sources", len(m.Sources)),
		zap.Int("warnings", len(m.Warnings)),
	)
	return m, nil
}

// prefixIssues qualifies per-source issues with their source kind. Issues of
// a previously merged record already carry their origin and keep it.
func prefixIssues(kind model.SourceKind, issues []model.FieldIssue) []model.FieldIssue {
	out := make([]model.FieldIssue, 0, len(issues))
	for _, is := range issues {
		if !hasSourcePrefix(is.Field) {
			is.Field = string(kind) + "." + is.Field
		}
		out = append(out, is)
	}
	return out
}

func hasSourcePrefix(field string) bool {
	kind, _, ok := strings.Cut(field, ".")
	return ok && model.SourceKind(kind).Valid()
}

// ReconcileAll pairs records by case id and merges each pair. Unmatched
// records pass through alone. When a case id repeats within one side the
// first record is used. The result is ordered by case id.
func ReconcileAll(responses, followups []model.CaseRecord) []model.MergedRecord {
	type pair struct{ p, s *model.CaseRecord }
	pairs := map[string]*pair{}
	at := func(id string) *pair {
		if pairs[id] == nil {
			pairs[id] = &pair{}
		}
		return pairs[id]
	}
	for i := range responses {
		pr := at(responses[i].CaseID)
		if pr.p == nil {
			pr.p = &responses[i]
		}
	}
	for i := range followups {
		pr := at(followups[i].CaseID)
		if pr.s == nil {
			pr.s = &followups[i]
		}
	}

	out := make([]model.MergedRecord, 0, len(pairs))
	for _, id := range slices.Sorted(maps.Keys(pairs)) {
		m, err := Reconcile(pairs[id].p, pairs[id].s)
		if err != nil {
			// Pairing by id rules out both failure modes.
			zap.L().Error("reconcile: unexpected merge failure", zap.String("case_id", id), zap.Error(err))
			continue
		}
		out = append(out, *m)
	}
	return out
}
