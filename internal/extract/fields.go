package extract

import (
	"strings"

	"github.com/sells-group/eci-tracker/internal/classify"
	"github.com/sells-group/eci-tracker/internal/dateparse"
	"github.com/sells-group/eci-tracker/internal/document"
	"github.com/sells-group/eci-tracker/internal/model"
	"github.com/sells-group/eci-tracker/internal/rules"
	"github.com/sells-group/eci-tracker/internal/textnorm"
)

// deadlines runs the deadline battery over every present section. Each match
// contributes its full sentence to the bucket of its date.
func (e *Extractor) deadlines(p presentSections) (model.Deadlines, error) {
	var buckets model.DeadlineBuckets
	if err := p.err(); err != nil {
		return model.Deadlines{}, err
	}
	for _, s := range p.sections {
		f := textnorm.FoldText(s.Text())
		for _, pat := range e.rs.Deadlines.Patterns {
			re := pat.Regexp()
			gi := re.SubexpIndex("date")
			for _, m := range re.FindAllStringSubmatchIndex(f.Lower, -1) {
				if m[2*gi] < 0 {
					continue
				}
				found := dateparse.FindAllDeadlines(f.Lower[m[2*gi]:m[2*gi+1]])
				if len(found) == 0 || found[0].Start > e.rs.Deadlines.MaxLead {
					continue
				}
				buckets.Add(found[0].Date, e.splitter.SentenceIn(f, m[0]))
			}
		}
	}
	return buckets.Deadlines(), nil
}

// proceduralDates fills the named scalar dates. Each date is independent.
func (e *Extractor) proceduralDates(rec *model.CaseRecord, secs map[string]*document.Section) {
	targets := map[string]**model.Date{
		"submission":    &rec.Dates.Submission,
		"meeting":       &rec.Dates.Meeting,
		"hearing":       &rec.Dates.Hearing,
		"debate":        &rec.Dates.Debate,
		"communication": &rec.Dates.CommunicationAdoption,
		"applicability": &rec.Dates.Applicability,
	}
	for _, field := range []string{"submission", "meeting", "hearing", "debate", "communication", "applicability"} {
		rule, ok := e.rs.Dates[field]
		if !ok {
			continue
		}
		soft(rec, field+"_date", func() error {
			d, err := e.procedural(secs, rule)
			*targets[field] = d
			return err
		})
	}
}

// procedural searches the rule's sections in order; the first section that
// yields a date wins.
func (e *Extractor) procedural(secs map[string]*document.Section, rule rules.DateRule) (*model.Date, error) {
	p := e.present(secs, rule.Sections)
	if err := p.err(); err != nil {
		return nil, err
	}
	for _, s := range p.sections {
		if d, ok := e.keywordDate(s.NormalizedText(), rule.Keywords); ok {
			return &d, nil
		}
	}
	return nil, nil
}

// conclusion returns the conclusion section, or the last block of the
// fallback section.
func (e *Extractor) conclusion(secs map[string]*document.Section) (string, error) {
	if s := secs[e.rs.Conclusion.Section]; s != nil {
		return s.Text(), nil
	}
	s := secs[e.rs.Conclusion.Fallback]
	if s == nil {
		return "", e.notFound(e.rs.Conclusion.Fallback)
	}
	if len(s.Blocks) == 0 {
		return "", nil
	}
	return s.Blocks[len(s.Blocks)-1].Text, nil
}

// events collects dated sentences mentioning an event keyword.
func (e *Extractor) events(p presentSections) (string, error) {
	if err := p.err(); err != nil {
		return "", err
	}
	var out []string
	for _, s := range p.sections {
		for _, sent := range e.splitter.Sentences(s.Text()) {
			lower := textnorm.NormalizeLine(sent)
			if !e.rs.Events.Keywords.Any(lower) {
				continue
			}
			if _, ok := dateparse.Parse(lower); !ok {
				continue
			}
			out = appendUnique(out, sent)
		}
	}
	return strings.Join(out, "\n"), nil
}

// latestDate is the latest exact date mentioned in text; period expressions
// count only when no exact date exists.
func latestDate(lower string) *model.Date {
	var exact, fuzzy *model.Date
	for _, m := range dateparse.FindAll(lower) {
		d := m.Date
		if m.Fuzzy {
			fuzzy = model.MaxDate(fuzzy, &d)
		} else {
			exact = model.MaxDate(exact, &d)
		}
	}
	if exact != nil {
		return exact
	}
	return fuzzy
}

// rejectionReasoning picks the sentences explaining a rejection. A mixed
// response keeps the sentences about the legislative proposal; a pure
// rejection keeps those with a rejection keyword.
func (e *Extractor) rejectionReasoning(f textnorm.Folded, sig classify.Signals) string {
	rr := e.rs.RejectionReasoning
	var picked []string
	for _, sent := range e.splitter.Sentences(f.Display) {
		lower := strings.ToLower(sent)
		if sig.Mixed() {
			if rr.MixedAnchor != "" && strings.Contains(lower, rr.MixedAnchor) {
				picked = appendUnique(picked, sent)
			}
			continue
		}
		if rr.Keywords.Any(lower) {
			picked = appendUnique(picked, sent)
		}
	}
	if len(picked) == 0 {
		return rr.Fallback
	}
	return strings.Join(picked, " ")
}

// commitments joins the sentences carrying a commitment phrase.
func (e *Extractor) commitments(f textnorm.Folded) string {
	var picked []string
	for _, sent := range e.splitter.Sentences(f.Display) {
		if e.rs.Commitments.Any(strings.ToLower(sent)) {
			picked = appendUnique(picked, sent)
		}
	}
	return strings.Join(picked, " ")
}

// links maps document anchors onto link fields. Scalar fields keep the first
// match; multi fields collect every distinct URL.
func (e *Extractor) links(all []document.Link) model.DocumentLinks {
	var dl model.DocumentLinks
	for _, lr := range e.rs.Links {
		for _, l := range all {
			if !linkMatches(lr, l) {
				continue
			}
			switch lr.Field {
			case "initiative":
				setOnce(&dl.Initiative, l.URL)
			case "response":
				setOnce(&dl.Response, l.URL)
			case "communication":
				setOnce(&dl.Communication, l.URL)
			case "factsheet":
				setOnce(&dl.Factsheet, l.URL)
			case "followup_website":
				setOnce(&dl.FollowupWebsite, l.URL)
			case "hearing_videos":
				dl.HearingVideos = appendUnique(dl.HearingVideos, l.URL)
			case "debate_videos":
				dl.DebateVideos = appendUnique(dl.DebateVideos, l.URL)
			}
		}
	}
	return dl
}

func linkMatches(lr rules.LinkRule, l document.Link) bool {
	if len(lr.URL) > 0 {
		ok := false
		for _, p := range lr.URL {
			if p.MatchString(l.URL) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(lr.Text) > 0 && !lr.Text.Any(textnorm.NormalizeLine(l.Text)) {
		return false
	}
	return true
}

// references returns the distinct citations matched by patterns, in display
// case and first-seen order.
func references(f textnorm.Folded, patterns []rules.Pattern) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range patterns {
		for _, loc := range p.Regexp().FindAllStringIndex(f.Lower, -1) {
			key := f.Lower[loc[0]:loc[1]]
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, textnorm.CollapseSpace(f.Span(loc[0], loc[1])))
		}
	}
	return out
}

func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func appendUnique(dst []string, v string) []string {
	for _, x := range dst {
		if x == v {
			return dst
		}
	}
	return append(dst, v)
}

func joinNames(names []string) string {
	return strings.Join(names, "|")
}

func joinParagraphs(texts []string) string {
	return strings.Join(texts, textnorm.ParagraphBreak)
}
