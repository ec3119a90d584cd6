// Package dateparse converts heterogeneous date spellings into calendar dates.
//
// Exact forms ("24 January 2023", "17/02/2014", "2023-01-24") resolve to
// themselves. Period forms resolve to a fixed boundary day:
//
//	end of 2024, by 2024, late 2024, 2nd half of 2024, bare 2024  -> 2024-12-31
//	Q2 2025, end of Q2 2025, second quarter of 2025               -> 2025-06-30
//	first half of 2025, mid-2025, middle of 2025                  -> 2025-06-30
//	early 2025, beginning of 2025, start of 2025                  -> 2025-03-31
//	spring 2025 / summer 2025 / autumn|fall 2025                  -> 05-31 / 08-31 / 11-30
//	end of March 2025                                             -> 2025-03-31
//	March 2025                                                    -> 2025-03-01 (Parse)
//	                                                                 2025-03-31 (ParseDeadline)
//
// Numeric forms are read day-first. Impossible days (31/02/2020) are rejected,
// never rolled over. Unparseable input yields ok == false; nothing here fails.
package dateparse

import (
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/eci-tracker/internal/model"
)

// Match is one date expression found in a text.
type Match struct {
	Text  string
	Start int
	End   int
	Date  model.Date
	// Fuzzy is set when the expression named a period rather than a day.
	Fuzzy bool
}

const monthAlt = `january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec`

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var ordinals = map[string]int{
	"first": 1, "1st": 1, "second": 2, "2nd": 2,
	"third": 3, "3rd": 3, "fourth": 4, "4th": 4, "last": 4,
}

// layout is one recognized spelling. Layouts are listed in precedence order:
// when two matches overlap, the earlier layout wins.
type layout struct {
	name    string
	re      *regexp.Regexp
	resolve func(m []string, deadline bool) (model.Date, bool)
	fuzzy   bool
}

var layouts = []layout{
	{
		name: "day_month_year",
		re:   regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?(?:\s+of)?\s+(` + monthAlt + `)\.?,?\s+(\d{4})\b`),
		resolve: func(m []string, _ bool) (model.Date, bool) {
			return exact(m[3], months[strings.ToLower(m[2])], m[1])
		},
	},
	{
		name: "month_day_year",
		re:   regexp.MustCompile(`(?i)\b(` + monthAlt + `)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`),
		resolve: func(m []string, _ bool) (model.Date, bool) {
			return exact(m[3], months[strings.ToLower(m[1])], m[2])
		},
	},
	{
		name: "numeric_dmy",
		re:   regexp.MustCompile(`\b(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4})\b`),
		resolve: func(m []string, _ bool) (model.Date, bool) {
			mon, _ := strconv.Atoi(m[2])
			return exact(m[3], time.Month(mon), m[1])
		},
	},
	{
		name: "iso",
		re:   regexp.MustCompile(`\b(\d{4})[\-/.](\d{1,2})[\-/.](\d{1,2})\b`),
		resolve: func(m []string, _ bool) (model.Date, bool) {
			mon, _ := strconv.Atoi(m[2])
			return exact(m[1], time.Month(mon), m[3])
		},
	},
	{
		name:  "end_of_month",
		re:    regexp.MustCompile(`(?i)\b(?:end|close) of (` + monthAlt + `)\.?,?\s+(\d{4})\b`),
		fuzzy: true,
		resolve: func(m []string, _ bool) (model.Date, bool) {
			y, ok := year(m[2])
			if !ok {
				return model.Date{}, false
			}
			return model.LastDayOfMonth(y, months[strings.ToLower(m[1])]), true
		},
	},
	{
		name:  "quarter",
		re:    regexp.MustCompile(`(?i)\b(?:(?:end|close) of (?:the )?)?(?:q([1-4])|(first|second|third|fourth|last|1st|2nd|3rd|4th) quarter(?: of)?)\s+(?:of )?(\d{4})\b`),
		fuzzy: true,
		resolve: func(m []string, _ bool) (model.Date, bool) {
			y, ok := year(m[3])
			if !ok {
				return model.Date{}, false
			}
			q, _ := strconv.Atoi(m[1])
			if q == 0 {
				q = ordinals[strings.ToLower(m[2])]
			}
			if q < 1 || q > 4 {
				return model.Date{}, false
			}
			return model.LastDayOfMonth(y, time.Month(q*3)), true
		},
	},
	{
		name:  "half",
		re:    regexp.MustCompile(`(?i)\b(first|second|1st|2nd) half (?:of )?(?:the year )?(\d{4})\b`),
		fuzzy: true,
		resolve: func(m []string, _ bool) (model.Date, bool) {
			y, ok := year(m[2])
			if !ok {
				return model.Date{}, false
			}
			if ordinals[strings.ToLower(m[1])] == 1 {
				return model.NewDate(y, time.June, 30), true
			}
			return model.NewDate(y, time.December, 31), true
		},
	},
	{
		name:  "mid_year",
		re:    regexp.MustCompile(`(?i)\b(?:mid[\- ]?|middle of )(\d{4})\b`),
		fuzzy: true,
		resolve: func(m []string, _ bool) (model.Date, bool) {
			return boundary(m[1], time.June, 30)
		},
	},
	{
		name:  "early_year",
		re:    regexp.MustCompile(`(?i)\b(?:early|beginning of|start of) (?:the year )?(\d{4})\b`),
		fuzzy: true,
		resolve: func(m []string, _ bool) (model.Date, bool) {
			return boundary(m[1], time.March, 31)
		},
	},
	{
		name:  "season",
		re:    regexp.MustCompile(`(?i)\b(spring|summer|autumn|fall) (?:of )?(\d{4})\b`),
		fuzzy: true,
		resolve: func(m []string, _ bool) (model.Date, bool) {
			switch strings.ToLower(m[1]) {
			case "spring":
				return boundary(m[2], time.May, 31)
			case "summer":
				return boundary(m[2], time.August, 31)
			default:
				return boundary(m[2], time.November, 30)
			}
		},
	},
	{
		name:  "end_of_year",
		re:    regexp.MustCompile(`(?i)\b(?:(?:the )?(?:end|close) of (?:the year )?|late |by )(\d{4})\b`),
		fuzzy: true,
		resolve: func(m []string, _ bool) (model.Date, bool) {
			return boundary(m[1], time.December, 31)
		},
	},
	{
		name:  "month_year",
		re:    regexp.MustCompile(`(?i)\b(` + monthAlt + `)\.?,?\s+(\d{4})\b`),
		fuzzy: true,
		resolve: func(m []string, deadline bool) (model.Date, bool) {
			y, ok := year(m[2])
			if !ok {
				return model.Date{}, false
			}
			mon := months[strings.ToLower(m[1])]
			if deadline {
				return model.LastDayOfMonth(y, mon), true
			}
			return model.NewDate(y, mon, 1), true
		},
	},
	{
		name:  "bare_year",
		re:    regexp.MustCompile(`\b((?:19|20)\d{2})\b`),
		fuzzy: true,
		resolve: func(m []string, _ bool) (model.Date, bool) {
			return boundary(m[1], time.December, 31)
		},
	},
}

// Parse returns the first date expression in text.
func Parse(text string) (model.Date, bool) {
	return first(text, false)
}

// ParseDeadline is Parse with every period resolved to its last day.
func ParseDeadline(text string) (model.Date, bool) {
	return first(text, true)
}

// FindAll returns the non-overlapping date expressions in text ordered by
// position. Offsets index into text unchanged.
func FindAll(text string) []Match {
	return find(text, false)
}

// FindAllDeadlines is FindAll using deadline resolution.
func FindAllDeadlines(text string) []Match {
	return find(text, true)
}

func first(text string, deadline bool) (model.Date, bool) {
	found := find(text, deadline)
	if len(found) == 0 {
		return model.Date{}, false
	}
	return found[0].Date, true
}

func find(text string, deadline bool) []Match {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	type candidate struct {
		Match
		precedence int
		// invalid candidates claim their span without producing a date, so
		// "30 February 2021" does not degrade to "February 2021".
		invalid bool
	}
	var cands []candidate
	for prec, l := range layouts {
		for _, idx := range l.re.FindAllStringSubmatchIndex(text, -1) {
			if l.name == "bare_year" && embeddedYear(text, idx[0], idx[1]) {
				continue
			}
			groups := make([]string, len(idx)/2)
			for g := range groups {
				if idx[2*g] >= 0 {
					groups[g] = text[idx[2*g]:idx[2*g+1]]
				}
			}
			d, ok := l.resolve(groups, deadline)
			cands = append(cands, candidate{
				Match:      Match{Text: groups[0], Start: idx[0], End: idx[1], Date: d, Fuzzy: l.fuzzy},
				precedence: prec,
				invalid:    !ok,
			})
		}
	}

	// Higher-precedence layouts claim their span first; longer spans break ties.
	slices.SortStableFunc(cands, func(a, b candidate) int {
		if a.precedence != b.precedence {
			return a.precedence - b.precedence
		}
		return (b.End - b.Start) - (a.End - a.Start)
	})
	var claimed []candidate
	for _, c := range cands {
		overlaps := false
		for _, a := range claimed {
			if c.Start < a.End && a.Start < c.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			claimed = append(claimed, c)
		}
	}
	var out []Match
	for _, c := range claimed {
		if !c.invalid {
			out = append(out, c.Match)
		}
	}
	slices.SortFunc(out, func(a, b Match) int { return a.Start - b.Start })
	return out
}

// embeddedYear reports whether a four-digit run is part of a document number
// such as "2019/1021", "2009/128/EC" or "COM(2020) 381".
func embeddedYear(text string, start, end int) bool {
	if start > 0 && strings.ContainsRune("/(-.", rune(text[start-1])) {
		return true
	}
	if end < len(text) && strings.ContainsRune("/)", rune(text[end])) {
		return true
	}
	return false
}

func exact(yearStr string, month time.Month, dayStr string) (model.Date, bool) {
	y, ok := year(yearStr)
	if !ok {
		return model.Date{}, false
	}
	day, err := strconv.Atoi(dayStr)
	if err != nil || !model.ValidDate(y, month, day) {
		return model.Date{}, false
	}
	return model.NewDate(y, month, day), true
}

func boundary(yearStr string, month time.Month, day int) (model.Date, bool) {
	y, ok := year(yearStr)
	if !ok {
		return model.Date{}, false
	}
	return model.NewDate(y, month, day), true
}

func year(s string) (int, bool) {
	y, err := strconv.Atoi(s)
	if err != nil || y < 1900 || y > 2199 {
		return 0, false
	}
	return y, true
}
