package rules

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/eci-tracker/internal/model"
)

func TestDefault_Parses(t *testing.T) {
	rs, err := Default()
	require.NoError(t, err)
	assert.NotEmpty(t, rs.Version)

	again, err := Default()
	require.NoError(t, err)
	assert.Same(t, rs, again)

	for _, name := range []string{model.SectionSubmission, model.SectionResponse, model.SectionFollowup, model.SectionUpdates} {
		spec, ok := rs.Section(name)
		require.True(t, ok, name)
		assert.Equal(t, name, spec.Name)
	}
	assert.Equal(t, []string{"updates", "followup", "response"}, rs.StatusSections[model.SourceFollowup])
}

func TestDefault_ActionRulesHavePositivePriority(t *testing.T) {
	rs, err := Default()
	require.NoError(t, err)
	for _, r := range append(slices.Clone(rs.Actions.Legislative), rs.Actions.NonLegislative...) {
		assert.Positive(t, r.Priority, r.Type)
		assert.True(t, r.Status.Valid(), r.Type)
		for _, p := range r.Patterns {
			assert.NotNil(t, p.Regexp(), p.Source)
		}
	}
}

func TestDefault_StatusOrderFollowsHierarchy(t *testing.T) {
	rs, err := Default()
	require.NoError(t, err)
	var names []string
	for _, sr := range rs.Status {
		names = append(names, sr.Status)
	}
	assert.Equal(t, []string{
		"applicable", "adopted", "committed", "assessment_pending",
		"roadmap_development", RejectionSlot, "non_legislative_action",
		"proposal_pending_adoption",
	}, names)
}

func TestPhrases_FoldedAtLoad(t *testing.T) {
	rs, err := Parse(replaceInDefault(t, "already covered", "Already  COVERED"))
	require.NoError(t, err)
	assert.Contains(t, rs.Rejection.AlreadyCovered, "already covered")
}

func TestByPriority(t *testing.T) {
	list := []ActionRule{
		{Type: "generic", Priority: 5},
		{Type: "specific", Priority: 1},
		{Type: "also-specific", Priority: 1},
	}
	slices.SortStableFunc(list, ByPriority[ActionRule])
	assert.Equal(t, "specific", list[0].Type)
	assert.Equal(t, "also-specific", list[1].Type)
	assert.Equal(t, "generic", list[2].Type)

	kw := []KeywordRule{{Keyword: "adopted", Priority: 2}, {Keyword: "entered into force", Priority: 1}}
	assert.Negative(t, ByPriority(kw[1], kw[0]))
	assert.Zero(t, ByPriority(kw[0], kw[0]))
}

func TestDetector_Match(t *testing.T) {
	d := Detector{
		Any:     Phrases{"entered into force"},
		With:    Phrases{"adopted"},
		Without: Phrases{"will not"},
	}
	hits, ok := d.Match("the regulation was adopted and entered into force")
	require.True(t, ok)
	assert.Equal(t, []string{"entered into force", "adopted"}, hits)

	_, ok = d.Match("the regulation entered into force")
	assert.False(t, ok, "co-occurrence required")

	_, ok = d.Match("adopted, entered into force, but will not apply")
	assert.False(t, ok, "suppressed by without")
}

func TestRejectionRule_Conjunction(t *testing.T) {
	r := RejectionRule{
		Primary:     Phrases{"will not make a legislative proposal"},
		Conjunction: []Phrases{{"no repeal"}, {"was proposed"}},
	}
	_, ok := r.Trigger("no repeal was proposed")
	assert.True(t, ok)
	_, ok = r.Trigger("no repeal is foreseen")
	assert.False(t, ok)
	hits, ok := r.Trigger("the commission will not make a legislative proposal")
	require.True(t, ok)
	assert.Equal(t, []string{"will not make a legislative proposal"}, hits)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr string
	}{
		{"bad yaml", []byte("version: [unclosed"), "rules: parse"},
		{"bad regex", replaceInDefault(t, `'\bfunding\b'`, `'(unclosed'`), "rules: line"},
		{"missing version", replaceInDefault(t, `version: "2025.06.1"`, `version: ""`), "version is required"},
		{"out of order", replaceInDefault(t, "  - status: applicable\n", "  - status: proposal_pending_adoption\n    detectors: [{name: x, any: [x]}]\n  - status: applicable\n"), "out of hierarchy order"},
		{"zero priority", replaceInDefault(t, "type: Impact Assessment\n      priority: 1", "type: Impact Assessment\n      priority: 0"), "priority must be positive"},
		{"deadline without group", replaceInDefault(t, "(?P<date>(?:the )", "((?:the )"), "has no (?P<date>"},
		{"unknown section ref", replaceInDefault(t, "sections: [updates, followup, response]\n  min_length", "sections: [annex]\n  min_length"), `section "annex" is not declared`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, replaceInDefault(t, `version: "2025.06.1"`, `version: "local-1"`), 0o644))

	rs, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "local-1", rs.Version)

	def, err := Load("")
	require.NoError(t, err)
	assert.NotEqual(t, "local-1", def.Version)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestSplitter_UsesAbbreviations(t *testing.T) {
	rs, err := Default()
	require.NoError(t, err)
	text := "See COM. 2020 for the text. Next."
	assert.Equal(t, "See COM. 2020 for the text.", rs.Splitter().SentenceAt(text, 12))
}

func replaceInDefault(t *testing.T, old, repl string) []byte {
	t.Helper()
	src := string(DefaultYAML())
	require.Contains(t, src, old)
	return []byte(strings.Replace(src, old, repl, 1))
}
