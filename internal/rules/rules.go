// Package rules loads the versioned, externally editable rule tables that
// drive status classification and field extraction. A compiled Ruleset is
// immutable and safe to share across goroutines.
package rules

import (
	"cmp"
	_ "embed"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/eci-tracker/internal/model"
	"github.com/sells-group/eci-tracker/internal/textnorm"
)

//go:embed default.yaml
var defaultYAML []byte

// RejectionSlot marks the position of the rejection sub-classifier inside
// the ordered status list.
const RejectionSlot = "rejection"

// Ruleset is the full rule table.
type Ruleset struct {
	Version       string                 `yaml:"version"`
	Abbreviations []string               `yaml:"abbreviations"`
	Sections      map[string]SectionSpec `yaml:"sections"`

	// StatusSections lists, per source kind, the sections tried in order
	// for status classification.
	StatusSections map[model.SourceKind][]string `yaml:"status_sections"`

	Status             []StatusRule        `yaml:"status"`
	Rejection          RejectionRule       `yaml:"rejection"`
	Actions            ActionRules         `yaml:"actions"`
	Deadlines          DeadlineRules       `yaml:"deadlines"`
	Dates              map[string]DateRule `yaml:"dates"`
	Links              []LinkRule          `yaml:"links"`
	References         ReferenceRules      `yaml:"references"`
	RejectionReasoning ReasoningRule       `yaml:"rejection_reasoning"`
	Commitments        Phrases             `yaml:"commitments"`
	Flags              FlagRules           `yaml:"flags"`
	Events             EventRule           `yaml:"events"`
	Conclusion         ConclusionRule      `yaml:"conclusion"`

	splitter *textnorm.Splitter
}

// SectionSpec identifies a document section by heading id or heading text.
type SectionSpec struct {
	Name     string   `yaml:"-"`
	IDs      []string `yaml:"ids"`
	Headings Phrases  `yaml:"headings"`
}

// Detector is one boolean test over normalized text. It fires when any of
// Any or Patterns matches, at least one With phrase is present (if any are
// listed) and no Without phrase is present.
type Detector struct {
	Name     string    `yaml:"name"`
	Any      Phrases   `yaml:"any"`
	Patterns []Pattern `yaml:"patterns"`
	With     Phrases   `yaml:"with"`
	Without  Phrases   `yaml:"without"`
}

// Match returns the trigger phrases and pattern matches found in lower.
func (d Detector) Match(lower string) ([]string, bool) {
	hits := d.Any.All(lower)
	for _, p := range d.Patterns {
		if loc := p.FindIndex(lower); loc != nil {
			hits = append(hits, lower[loc[0]:loc[1]])
		}
	}
	if len(hits) == 0 {
		return nil, false
	}
	if len(d.With) > 0 {
		with := d.With.All(lower)
		if len(with) == 0 {
			return nil, false
		}
		hits = append(hits, with...)
	}
	if d.Without.Any(lower) {
		return nil, false
	}
	return hits, true
}

// StatusRule binds a hierarchy member (or RejectionSlot) to its detectors.
// SuppressedBy names statuses, or RejectionSlot, whose raw detection
// prevents this rule from winning.
type StatusRule struct {
	Status       string     `yaml:"status"`
	Detectors    []Detector `yaml:"detectors"`
	SuppressedBy []string   `yaml:"suppressed_by"`
}

// RejectionRule drives the rejection sub-classifier.
type RejectionRule struct {
	Primary Phrases `yaml:"primary"`
	// Conjunction fires when every group has at least one phrase present.
	Conjunction    []Phrases `yaml:"conjunction"`
	AlreadyCovered Phrases   `yaml:"already_covered"`
	Engagement     Phrases   `yaml:"engagement"`
}

// Trigger returns the phrases that establish a rejection.
func (r RejectionRule) Trigger(lower string) ([]string, bool) {
	if hits := r.Primary.All(lower); len(hits) > 0 {
		return hits, true
	}
	if len(r.Conjunction) == 0 {
		return nil, false
	}
	var hits []string
	for _, group := range r.Conjunction {
		found := group.All(lower)
		if len(found) == 0 {
			return nil, false
		}
		hits = append(hits, found...)
	}
	return hits, true
}

// Prioritized is implemented by rules ordered by a declared priority number.
type Prioritized interface {
	RulePriority() int
}

// ByPriority orders rules by ascending priority number: a lower number is
// more specific and wins. Equal priorities compare equal so stable sorts
// keep declaration order.
func ByPriority[T Prioritized](a, b T) int {
	return cmp.Compare(a.RulePriority(), b.RulePriority())
}

// ActionRule classifies a paragraph as one action type.
type ActionRule struct {
	Type     string             `yaml:"type"`
	Priority int                `yaml:"priority"`
	Status   model.ActionStatus `yaml:"status"`
	Patterns []Pattern          `yaml:"patterns"`
}

// RulePriority implements Prioritized.
func (r ActionRule) RulePriority() int { return r.Priority }

// Match returns the location of the first pattern that matches lower.
func (r ActionRule) Match(lower string) ([]int, bool) {
	for _, p := range r.Patterns {
		if loc := p.FindIndex(lower); loc != nil {
			return loc, true
		}
	}
	return nil, false
}

// KeywordRule is a keyword with a priority; lower numbers win.
type KeywordRule struct {
	Keyword  string `yaml:"keyword"`
	Priority int    `yaml:"priority"`
}

// RulePriority implements Prioritized.
func (r KeywordRule) RulePriority() int { return r.Priority }

// LifecycleRule maps keywords to an action lifecycle status.
type LifecycleRule struct {
	Status   model.ActionStatus `yaml:"status"`
	Keywords Phrases            `yaml:"keywords"`
}

// ActionRules configures both action extractors.
type ActionRules struct {
	Sections       []string        `yaml:"sections"`
	MinLength      int             `yaml:"min_length"`
	Boilerplate    []Pattern       `yaml:"boilerplate"`
	Legislative    []ActionRule    `yaml:"legislative"`
	NonLegislative []ActionRule    `yaml:"non_legislative"`
	Lifecycle      []LifecycleRule `yaml:"lifecycle"`
	DateKeywords   []KeywordRule   `yaml:"date_keywords"`
	PreferredHosts []string        `yaml:"preferred_hosts"`
}

// DeadlineRules configures the deadline extractor. Every pattern carries a
// named group "date" holding the date expression.
type DeadlineRules struct {
	Sections []string  `yaml:"sections"`
	Patterns []Pattern `yaml:"patterns"`
	// MaxLead is how far into the date group the date expression may start.
	MaxLead int `yaml:"max_lead"`
}

// DateRule locates one procedural date: the first section present is
// searched for the keywords.
type DateRule struct {
	Sections []string      `yaml:"sections"`
	Keywords []KeywordRule `yaml:"keywords"`
}

// LinkRule maps document links to a record field.
type LinkRule struct {
	Field string    `yaml:"field"`
	URL   []Pattern `yaml:"url"`
	Text  Phrases   `yaml:"text"`
	Multi bool      `yaml:"multi"`
}

// ReferenceRules extract cited legislation and court cases.
type ReferenceRules struct {
	Legislation []Pattern `yaml:"legislation"`
	CourtCases  []Pattern `yaml:"court_cases"`
}

// ReasoningRule configures rejection reasoning extraction.
type ReasoningRule struct {
	MixedAnchor string  `yaml:"mixed_anchor"`
	Keywords    Phrases `yaml:"keywords"`
	Fallback    string  `yaml:"fallback"`
}

// FlagRules hold the monotonic presence flags.
type FlagRules struct {
	Roadmap     Phrases `yaml:"roadmap"`
	Workshop    Phrases `yaml:"workshop"`
	Partnership Phrases `yaml:"partnership"`
}

// EventRule selects follow-up event sentences.
type EventRule struct {
	Sections []string `yaml:"sections"`
	Keywords Phrases  `yaml:"keywords"`
}

// ConclusionRule locates the response conclusion.
type ConclusionRule struct {
	Section string `yaml:"section"`
	// Fallback is the section whose last block is used when Section is absent.
	Fallback string `yaml:"fallback"`
}

var (
	defaultOnce sync.Once
	defaultRS   *Ruleset
	defaultErr  error
)

// Default returns the embedded rule table. It is parsed once.
func Default() (*Ruleset, error) {
	defaultOnce.Do(func() {
		defaultRS, defaultErr = Parse(defaultYAML)
	})
	return defaultRS, defaultErr
}

// DefaultYAML returns the embedded rule table source.
func DefaultYAML() []byte {
	return defaultYAML
}

// Load reads and compiles a rule table from path. An empty path returns the
// embedded default.
func Load(path string) (*Ruleset, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read %s", path)
	}
	rs, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: load %s", path)
	}
	return rs, nil
}

// Parse decodes, validates and compiles a rule table.
func Parse(data []byte) (*Ruleset, error) {
	var rs Ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, eris.Wrap(err, "rules: parse")
	}
	for name, spec := range rs.Sections {
		spec.Name = name
		rs.Sections[name] = spec
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	rs.splitter = textnorm.NewSplitter(rs.Abbreviations)
	return &rs, nil
}

// Splitter returns the sentence splitter configured with the table's
// abbreviations.
func (rs *Ruleset) Splitter() *textnorm.Splitter {
	if rs.splitter == nil {
		return textnorm.NewSplitter(rs.Abbreviations)
	}
	return rs.splitter
}

// Section returns the spec for a named section.
func (rs *Ruleset) Section(name string) (SectionSpec, bool) {
	spec, ok := rs.Sections[name]
	return spec, ok
}
