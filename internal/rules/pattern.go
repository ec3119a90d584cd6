package rules

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/eci-tracker/internal/textnorm"
)

// Pattern is a case-insensitive regular expression compiled at load time.
type Pattern struct {
	Source string
	re     *regexp.Regexp
}

// NewPattern compiles expr as a case-insensitive Pattern.
func NewPattern(expr string) (Pattern, error) {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return Pattern{}, eris.Wrapf(err, "rules: compile %q", expr)
	}
	return Pattern{Source: expr, re: re}, nil
}

// UnmarshalYAML compiles the scalar node; the error names the source line.
func (p *Pattern) UnmarshalYAML(node *yaml.Node) error {
	var expr string
	if err := node.Decode(&expr); err != nil {
		return eris.Wrapf(err, "rules: line %d: pattern must be a string", node.Line)
	}
	compiled, err := NewPattern(expr)
	if err != nil {
		return eris.Wrapf(err, "rules: line %d", node.Line)
	}
	*p = compiled
	return nil
}

// MarshalYAML writes the source expression back.
func (p Pattern) MarshalYAML() (any, error) {
	return p.Source, nil
}

// Regexp returns the compiled expression.
func (p Pattern) Regexp() *regexp.Regexp { return p.re }

// FindIndex returns the location of the leftmost match in text.
func (p Pattern) FindIndex(text string) []int {
	if p.re == nil {
		return nil
	}
	return p.re.FindStringIndex(text)
}

// MatchString reports whether text contains a match.
func (p Pattern) MatchString(text string) bool {
	return p.re != nil && p.re.MatchString(text)
}

// Phrases is a list of literal phrases folded and lower-cased at load time so
// they match text produced by textnorm.Normalize.
type Phrases []string

// UnmarshalYAML folds each phrase.
func (ps *Phrases) UnmarshalYAML(node *yaml.Node) error {
	var raw []string
	if err := node.Decode(&raw); err != nil {
		return eris.Wrapf(err, "rules: line %d: phrases must be a list of strings", node.Line)
	}
	out := make(Phrases, 0, len(raw))
	for _, r := range raw {
		if p := textnorm.NormalizeLine(r); p != "" {
			out = append(out, p)
		}
	}
	*ps = out
	return nil
}

// First returns the first phrase (in list order) contained in lower.
func (ps Phrases) First(lower string) (string, bool) {
	return textnorm.ContainsAny(lower, ps)
}

// All returns every phrase contained in lower.
func (ps Phrases) All(lower string) []string {
	return textnorm.FindAll(lower, ps)
}

// Any reports whether any phrase is contained in lower.
func (ps Phrases) Any(lower string) bool {
	_, ok := ps.First(lower)
	return ok
}

// Offsets returns the start offset of every occurrence of every phrase.
func (ps Phrases) Offsets(lower string) []int {
	var out []int
	for _, p := range ps {
		for from := 0; from < len(lower); {
			i := strings.Index(lower[from:], p)
			if i < 0 {
				break
			}
			out = append(out, from+i)
			from += i + len(p)
		}
	}
	return out
}
