package rules

import (
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/eci-tracker/internal/model"
	"github.com/sells-group/eci-tracker/internal/textnorm"
)

// Section names every extractor may refer to.
var knownSections = []string{
	model.SectionSubmission,
	model.SectionResponse,
	model.SectionFollowup,
	model.SectionUpdates,
	"conclusion",
}

// Procedural date fields the extractor fills.
var knownDates = []string{"submission", "meeting", "hearing", "debate", "communication", "applicability"}

// Link fields the extractor fills.
var knownLinks = []string{"initiative", "response", "communication", "factsheet", "followup_website", "hearing_videos", "debate_videos"}

// Validate checks the table for structural mistakes. Keywords are folded in
// place so they match normalized text.
func (rs *Ruleset) Validate() error {
	if rs.Version == "" {
		return eris.New("rules: version is required")
	}
	for name, spec := range rs.Sections {
		if !slices.Contains(knownSections, name) {
			return eris.Errorf("rules: unknown section %q", name)
		}
		if len(spec.IDs) == 0 && len(spec.Headings) == 0 {
			return eris.Errorf("rules: section %q has neither ids nor headings", name)
		}
	}
	for kind, names := range rs.StatusSections {
		if !kind.Valid() {
			return eris.Errorf("rules: status_sections: unknown source kind %q", kind)
		}
		if err := rs.checkSections("status_sections."+string(kind), names); err != nil {
			return err
		}
	}
	if err := rs.validateStatus(); err != nil {
		return err
	}
	if len(rs.Rejection.Primary) == 0 {
		return eris.New("rules: rejection.primary is empty")
	}
	if err := rs.validateActions(); err != nil {
		return err
	}
	if err := rs.checkSections("deadlines", rs.Deadlines.Sections); err != nil {
		return err
	}
	for i, p := range rs.Deadlines.Patterns {
		if p.Regexp().SubexpIndex("date") < 0 {
			return eris.Errorf("rules: deadlines pattern %d (%q) has no (?P<date>...) group", i, p.Source)
		}
	}
	for field, dr := range rs.Dates {
		if !slices.Contains(knownDates, field) {
			return eris.Errorf("rules: unknown date field %q", field)
		}
		if err := rs.checkSections("dates."+field, dr.Sections); err != nil {
			return err
		}
		foldKeywords(dr.Keywords)
	}
	for _, lr := range rs.Links {
		if !slices.Contains(knownLinks, lr.Field) {
			return eris.Errorf("rules: unknown link field %q", lr.Field)
		}
		if len(lr.URL) == 0 && len(lr.Text) == 0 {
			return eris.Errorf("rules: link %q has neither url nor text patterns", lr.Field)
		}
	}
	if rs.RejectionReasoning.Fallback == "" {
		return eris.New("rules: rejection_reasoning.fallback is required")
	}
	rs.RejectionReasoning.MixedAnchor = textnorm.NormalizeLine(rs.RejectionReasoning.MixedAnchor)
	if err := rs.checkSections("events", rs.Events.Sections); err != nil {
		return err
	}
	for _, name := range []string{rs.Conclusion.Section, rs.Conclusion.Fallback} {
		if name != "" {
			if err := rs.checkSections("conclusion", []string{name}); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateStatus requires every hierarchy member outside the rejection
// family exactly once, one rejection slot, and declaration order matching
// hierarchy rank.
func (rs *Ruleset) validateStatus() error {
	seen := map[string]bool{}
	prevRank := -1
	for i, sr := range rs.Status {
		if seen[sr.Status] {
			return eris.Errorf("rules: status %q declared twice", sr.Status)
		}
		seen[sr.Status] = true

		var rank int
		switch {
		case sr.Status == RejectionSlot:
			rank = model.StatusRejected.Rank()
		case model.TechnicalStatus(sr.Status).IsRejection():
			return eris.Errorf("rules: status %q is produced by the rejection slot, not a rule", sr.Status)
		case model.TechnicalStatus(sr.Status).Valid():
			rank = model.TechnicalStatus(sr.Status).Rank()
			if len(sr.Detectors) == 0 {
				return eris.Errorf("rules: status %q has no detectors", sr.Status)
			}
		default:
			return eris.Errorf("rules: status rule %d: unknown status %q", i, sr.Status)
		}
		if rank <= prevRank {
			return eris.Errorf("rules: status %q is out of hierarchy order", sr.Status)
		}
		prevRank = rank

		for _, d := range sr.Detectors {
			if len(d.Any) == 0 && len(d.Patterns) == 0 {
				return eris.Errorf("rules: status %q detector %q has no trigger", sr.Status, d.Name)
			}
		}
	}
	for _, st := range model.Hierarchy {
		if !st.IsRejection() && !seen[string(st)] {
			return eris.Errorf("rules: status %q has no rule", st)
		}
	}
	if !seen[RejectionSlot] {
		return eris.New("rules: rejection slot missing from status list")
	}
	for _, sr := range rs.Status {
		for _, s := range sr.SuppressedBy {
			if !seen[s] {
				return eris.Errorf("rules: status %q suppressed by unknown %q", sr.Status, s)
			}
		}
	}
	return nil
}

func (rs *Ruleset) validateActions() error {
	a := &rs.Actions
	if err := rs.checkSections("actions", a.Sections); err != nil {
		return err
	}
	for kind, list := range map[string][]ActionRule{"legislative": a.Legislative, "non_legislative": a.NonLegislative} {
		if len(list) == 0 {
			return eris.Errorf("rules: actions.%s is empty", kind)
		}
		for _, r := range list {
			if r.Type == "" {
				return eris.Errorf("rules: actions.%s: rule without type", kind)
			}
			if r.Priority <= 0 {
				return eris.Errorf("rules: actions.%s %q: priority must be positive", kind, r.Type)
			}
			if !r.Status.Valid() {
				return eris.Errorf("rules: actions.%s %q: unknown status %q", kind, r.Type, r.Status)
			}
			if len(r.Patterns) == 0 {
				return eris.Errorf("rules: actions.%s %q: no patterns", kind, r.Type)
			}
		}
	}
	for _, lr := range a.Lifecycle {
		if !lr.Status.Valid() {
			return eris.Errorf("rules: actions.lifecycle: unknown status %q", lr.Status)
		}
	}
	for _, k := range a.DateKeywords {
		if k.Priority <= 0 {
			return eris.Errorf("rules: actions.date_keywords %q: priority must be positive", k.Keyword)
		}
	}
	foldKeywords(a.DateKeywords)
	return nil
}

func (rs *Ruleset) checkSections(where string, names []string) error {
	for _, n := range names {
		if _, ok := rs.Sections[n]; !ok {
			return eris.Errorf("rules: %s: section %q is not declared", where, n)
		}
	}
	return nil
}

func foldKeywords(ks []KeywordRule) {
	for i := range ks {
		ks[i].Keyword = textnorm.NormalizeLine(ks[i].Keyword)
	}
}
