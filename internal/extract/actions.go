package extract

import (
	"net/url"
	"slices"
	"strings"

	"github.com/sells-group/eci-tracker/internal/dateparse"
	"github.com/sells-group/eci-tracker/internal/document"
	"github.com/sells-group/eci-tracker/internal/model"
	"github.com/sells-group/eci-tracker/internal/rules"
	"github.com/sells-group/eci-tracker/internal/textnorm"
)

// actions scans the blocks of each present section (in priority order) for
// the given action types and deduplicates the result.
func (e *Extractor) actions(p presentSections, list []rules.ActionRule) ([]model.Action, error) {
	if err := p.err(); err != nil {
		return nil, err
	}
	var out []model.Action
	for _, s := range p.sections {
		for _, b := range s.Blocks {
			if a, ok := e.actionFromBlock(b, list); ok {
				out = append(out, a)
			}
		}
	}
	return Dedupe(out), nil
}

// Dedupe collapses actions sharing (type, description, date), keeping the
// first discovered.
func Dedupe(actions []model.Action) []model.Action {
	return model.DedupeActions(actions)
}

func (e *Extractor) actionFromBlock(b document.Block, list []rules.ActionRule) (model.Action, bool) {
	f := textnorm.FoldText(b.Text)
	if e.boilerplate(f) {
		return model.Action{}, false
	}
	rule, ok := SelectRule(list, f.Lower)
	if !ok {
		return model.Action{}, false
	}
	a := model.Action{
		Type:        rule.Type,
		Description: textnorm.CollapseSpace(f.Display),
		Status:      e.lifecycle(f.Lower, rule.Status),
		DocumentURL: e.documentURL(b.Links),
	}
	if d, ok := e.actionDate(f); ok {
		a.Date = &d
	}
	return a, true
}

// boilerplate rejects header-looking fragments, short lines and navigation
// text.
func (e *Extractor) boilerplate(f textnorm.Folded) bool {
	text := strings.TrimSpace(f.Display)
	if text == "" || strings.HasSuffix(text, ":") {
		return true
	}
	if len(text) < e.rs.Actions.MinLength {
		return true
	}
	for _, p := range e.rs.Actions.Boilerplate {
		if p.MatchString(f.Lower) {
			return true
		}
	}
	return false
}

// SelectRule returns the matching rule with the lowest priority number.
// Among equal priorities the first declared wins.
func SelectRule(list []rules.ActionRule, lower string) (rules.ActionRule, bool) {
	best := -1
	for i := range list {
		if _, ok := list[i].Match(lower); !ok {
			continue
		}
		if best < 0 || rules.ByPriority(list[i], list[best]) < 0 {
			best = i
		}
	}
	if best < 0 {
		return rules.ActionRule{}, false
	}
	return list[best], true
}

func (e *Extractor) lifecycle(lower string, fallback model.ActionStatus) model.ActionStatus {
	for _, lr := range e.rs.Actions.Lifecycle {
		if lr.Keywords.Any(lower) {
			return lr.Status
		}
	}
	return fallback
}

// documentURL prefers a link on a preferred host, else the first link.
func (e *Extractor) documentURL(links []document.Link) string {
	for _, l := range links {
		u, err := url.Parse(l.URL)
		if err != nil {
			continue
		}
		host := strings.ToLower(u.Hostname())
		if slices.ContainsFunc(e.rs.Actions.PreferredHosts, func(h string) bool {
			return host == h || strings.HasSuffix(host, "."+h)
		}) {
			return l.URL
		}
	}
	if len(links) > 0 {
		return links[0].URL
	}
	return ""
}

// dateCandidate is a date found next to a keyword.
type dateCandidate struct {
	priority int
	pos      int
	date     model.Date
}

// betterCandidate reports whether a should replace b: a lower keyword
// priority wins, then the earlier keyword position.
func betterCandidate(a, b dateCandidate) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.pos < b.pos
}

// actionDate anchors on the date keywords and falls back to the first date
// anywhere in the paragraph.
func (e *Extractor) actionDate(f textnorm.Folded) (model.Date, bool) {
	if d, ok := e.keywordDate(f.Lower, e.rs.Actions.DateKeywords); ok {
		return d, true
	}
	return dateparse.Parse(f.Lower)
}

// keywordDate returns the date nearest to the best keyword occurrence. Only
// the clause containing the keyword is searched.
func (e *Extractor) keywordDate(lower string, keywords []rules.KeywordRule) (model.Date, bool) {
	var best *dateCandidate
	for _, kw := range keywords {
		phrase := rules.Phrases{kw.Keyword}
		for _, pos := range phrase.Offsets(lower) {
			start, end := e.clause(lower, pos)
			d, ok := nearestDate(lower[start:end], pos-start+len(kw.Keyword))
			if !ok {
				continue
			}
			c := dateCandidate{priority: kw.Priority, pos: pos, date: d}
			if best == nil || betterCandidate(c, *best) {
				best = &c
			}
		}
	}
	if best == nil {
		return model.Date{}, false
	}
	return best.date, true
}

// clause narrows the sentence around pos to the semicolon-delimited part
// containing it.
func (e *Extractor) clause(lower string, pos int) (int, int) {
	start, end := e.splitter.Bounds(lower, pos)
	if i := strings.LastIndexByte(lower[start:pos], ';'); i >= 0 {
		start += i + 1
	}
	if i := strings.IndexByte(lower[pos:end], ';'); i >= 0 {
		end = pos + i
	}
	return start, end
}

// nearestDate prefers the first date at or after anchor, else the closest
// one before it.
func nearestDate(fragment string, anchor int) (model.Date, bool) {
	found := dateparse.FindAll(fragment)
	if len(found) == 0 {
		return model.Date{}, false
	}
	for _, m := range found {
		if m.Start >= anchor {
			return m.Date, true
		}
	}
	return found[len(found)-1].Date, true
}
