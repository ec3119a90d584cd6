// Package classify maps response text onto the outcome hierarchy. Detectors
// run in hierarchy order and the first one that fires, and is not
// suppressed, decides the status.
package classify

import (
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/eci-tracker/internal/model"
	"github.com/sells-group/eci-tracker/internal/rules"
	"github.com/sells-group/eci-tracker/internal/textnorm"
)

// Result is the outcome of one classification.
type Result struct {
	Status   model.TechnicalStatus `json:"technical_status"`
	Label    string                `json:"status_label"`
	Evidence []string              `json:"status_evidence"`
	// Rule names the status and detector that decided, e.g.
	// "applicable/became_applicable" or "rejection/primary".
	Rule string `json:"rule"`
}

// Signals are the raw detector outcomes before hierarchy resolution.
type Signals struct {
	// Fired maps each status whose detectors fired to the triggering phrases.
	Fired map[model.TechnicalStatus][]string
	// Rejected is set when the rejection trigger fired.
	Rejected       bool
	RejectionHits  []string
	AlreadyCovered []string
	Engagement     []string

	detectors map[model.TechnicalStatus]string
}

// Has reports whether the detectors for st fired.
func (s Signals) Has(st model.TechnicalStatus) bool {
	_, ok := s.Fired[st]
	return ok
}

// Committed reports a promise to propose legislation, suppressed or not.
func (s Signals) Committed() bool {
	return s.Has(model.StatusCommitted)
}

// Mixed reports a response that both commits and rejects.
func (s Signals) Mixed() bool {
	return s.Committed() && s.Rejected
}

// Classifier applies a rule table. It holds no mutable state and is safe for
// concurrent use.
type Classifier struct {
	rs       *rules.Ruleset
	splitter *textnorm.Splitter
}

// New creates a Classifier over rs.
func New(rs *rules.Ruleset) *Classifier {
	return &Classifier{rs: rs, splitter: rs.Splitter()}
}

// Ruleset returns the table the classifier was built with.
func (c *Classifier) Ruleset() *rules.Ruleset {
	return c.rs
}

// Classify returns the single highest-ranked status supported by text, or a
// *model.ClassificationError when no rule matches.
func (c *Classifier) Classify(text string) (Result, error) {
	return c.ClassifyFolded(textnorm.FoldText(text))
}

// ClassifyCase is Classify with the case id recorded on failure.
func (c *Classifier) ClassifyCase(caseID, text string) (Result, error) {
	res, err := c.Classify(text)
	if ce, ok := err.(*model.ClassificationError); ok {
		ce.CaseID = caseID
	}
	return res, err
}

// ClassifyFolded classifies already folded text.
func (c *Classifier) ClassifyFolded(f textnorm.Folded) (Result, error) {
	sig := c.signals(f.Lower)

	for _, sr := range c.rs.Status {
		if sr.Status == rules.RejectionSlot {
			if !sig.Rejected {
				continue
			}
			status, rule, phrases := c.refineRejection(sig)
			return c.result(f, status, rule, phrases), nil
		}

		st := model.TechnicalStatus(sr.Status)
		if !sig.Has(st) {
			continue
		}
		if by, ok := suppressedBy(sr, sig); ok {
			zap.L().Debug("classify: status suppressed",
				zap.String("status", sr.Status),
				zap.String("suppressed_by", by),
			)
			continue
		}
		return c.result(f, st, sr.Status+"/"+sig.detectors[st], familyPhrases(sr, f.Lower)), nil
	}

	if strings.TrimSpace(f.Lower) == "" {
		return Result{}, &model.ClassificationError{Reason: "empty text"}
	}
	return Result{}, &model.ClassificationError{Reason: "no status rule matched"}
}

// Signals returns the raw detector outcomes for text.
func (c *Classifier) Signals(text string) Signals {
	return c.signals(textnorm.FoldText(text).Lower)
}

// SignalsFolded is Signals over already folded text.
func (c *Classifier) SignalsFolded(f textnorm.Folded) Signals {
	return c.signals(f.Lower)
}

func (c *Classifier) signals(lower string) Signals {
	sig := Signals{
		Fired:     map[model.TechnicalStatus][]string{},
		detectors: map[model.TechnicalStatus]string{},
	}
	for _, sr := range c.rs.Status {
		if sr.Status == rules.RejectionSlot {
			continue
		}
		st := model.TechnicalStatus(sr.Status)
		for _, d := range sr.Detectors {
			hits, ok := d.Match(lower)
			if !ok {
				continue
			}
			if _, seen := sig.detectors[st]; !seen {
				sig.detectors[st] = d.Name
			}
			sig.Fired[st] = appendUnique(sig.Fired[st], hits...)
		}
	}

	rej := c.rs.Rejection
	if hits, ok := rej.Trigger(lower); ok {
		sig.Rejected = true
		sig.RejectionHits = hits
		sig.AlreadyCovered = rej.AlreadyCovered.All(lower)
		sig.Engagement = rej.Engagement.All(lower)
	}
	return sig
}

// refineRejection picks the rejection variant: already covered beats
// continued engagement, which beats a plain rejection.
func (c *Classifier) refineRejection(sig Signals) (model.TechnicalStatus, string, []string) {
	phrases := slices.Clone(sig.RejectionHits)
	switch {
	case len(sig.AlreadyCovered) > 0:
		return model.StatusRejectedAlreadyCovered, "rejection/already_covered", append(phrases, sig.AlreadyCovered...)
	case len(sig.Engagement) > 0:
		return model.StatusRejectedWithActions, "rejection/with_actions", append(phrases, sig.Engagement...)
	default:
		return model.StatusRejected, "rejection/primary", phrases
	}
}

func suppressedBy(sr rules.StatusRule, sig Signals) (string, bool) {
	for _, name := range sr.SuppressedBy {
		if name == rules.RejectionSlot {
			if sig.Rejected {
				return name, true
			}
			continue
		}
		if sig.Has(model.TechnicalStatus(name)) {
			return name, true
		}
	}
	return "", false
}

// familyPhrases lists every trigger of the status's detectors present in
// lower, whether or not that particular detector fired.
func familyPhrases(sr rules.StatusRule, lower string) []string {
	var out []string
	for _, d := range sr.Detectors {
		out = appendUnique(out, d.Any.All(lower)...)
		for _, p := range d.Patterns {
			for _, loc := range p.Regexp().FindAllStringIndex(lower, -1) {
				out = appendUnique(out, lower[loc[0]:loc[1]])
			}
		}
	}
	return out
}

func (c *Classifier) result(f textnorm.Folded, st model.TechnicalStatus, rule string, phrases []string) Result {
	return Result{
		Status:   st,
		Label:    st.Label(),
		Evidence: c.evidence(f, phrases),
		Rule:     rule,
	}
}

// evidence returns the distinct sentences containing any phrase, in
// document order.
func (c *Classifier) evidence(f textnorm.Folded, phrases []string) []string {
	offsets := rules.Phrases(phrases).Offsets(f.Lower)
	slices.Sort(offsets)

	var out []string
	seen := map[string]bool{}
	for _, pos := range offsets {
		s := c.splitter.SentenceIn(f, pos)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func appendUnique(dst []string, vals ...string) []string {
	for _, v := range vals {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
