package textnorm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lower and collapse", "  The  Commission\tWILL\nact ", "the commission will act"},
		{"typographic quotes", "Commission’s “answer”", `commission's "answer"`},
		{"dashes", "2021–2027", "2021-2027"},
		{"nbsp", "entered\u00a0into force", "entered into force"},
		{"accents", "Communicaci\u00f3n", "communicacion"},
		{"paragraphs kept", "First para.\n\n  Second\npara.", "first para.\n\nsecond para."},
		{"blank paragraphs dropped", "a\n\n\n\n\nb", "a\n\nb"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeLine(t *testing.T) {
	assert.Equal(t, "a b", NormalizeLine("A\n\nB"))
}

func TestCollapseSpace_PreservesCase(t *testing.T) {
	assert.Equal(t, "Proposal for a Regulation", CollapseSpace("  Proposal \n for a   Regulation "))
}

func TestContainsAny(t *testing.T) {
	p, ok := ContainsAny("the commission will monitor progress", []string{"committed", "monitor", "will"})
	require.True(t, ok)
	assert.Equal(t, "monitor", p)

	_, ok = ContainsAny("nothing here", []string{"", "absent"})
	assert.False(t, ok)

	assert.Equal(t, []string{"monitor", "will"}, FindAll("the commission will monitor", []string{"committed", "monitor", "will"}))
}

func TestSentenceAt(t *testing.T) {
	text := "The initiative was registered. The Commission, e.g. in art. 5, committed to act by 2024. Nothing else."
	pos := strings.Index(text, "committed")
	assert.Equal(t, "The Commission, e.g. in art. 5, committed to act by 2024.", SentenceAt(text, pos))

	assert.Equal(t, "The initiative was registered.", SentenceAt(text, 0))
	assert.Equal(t, "Nothing else.", SentenceAt(text, len(text)-2))
}

func TestSentenceAt_ParagraphBreak(t *testing.T) {
	text := "heading without stop\n\nthe regulation entered into force on 12 march 2021"
	pos := strings.Index(text, "entered")
	assert.Equal(t, "the regulation entered into force on 12 march 2021", SentenceAt(text, pos))
	assert.Equal(t, "heading without stop", SentenceAt(text, 3))
}

func TestSentenceAt_DecimalsAndURLs(t *testing.T) {
	text := "Funding of EUR 3.5 million is available via ec.europa.eu/food for projects. Next."
	pos := strings.Index(text, "projects")
	assert.Equal(t, "Funding of EUR 3.5 million is available via ec.europa.eu/food for projects.", SentenceAt(text, pos))
}

func TestSentences(t *testing.T) {
	text := "One. Two? Three!\n\nFour without stop\n\nFive e.g. six."
	assert.Equal(t, []string{"One.", "Two?", "Three!", "Four without stop", "Five e.g. six."}, Sentences(text))
	assert.Empty(t, Sentences(""))
}

func TestNewSplitter_CustomAbbreviations(t *testing.T) {
	s := NewSplitter([]string{"Reg."})
	text := "See Reg. 2019/1021 for details. Done."
	assert.Equal(t, "See Reg. 2019/1021 for details.", s.SentenceAt(text, 10))

	plain := NewSplitter([]string{})
	assert.Equal(t, "2019/1021 for details.", plain.SentenceAt(text, 10))
}

func TestFoldText_SpansKeepCase(t *testing.T) {
	f := FoldText("The Regulation  ENTERED into force.\n\nNext  paragraph.")
	require.True(t, f.Aligned())
	assert.Equal(t, "the regulation entered into force.\n\nnext paragraph.", f.Lower)

	pos := strings.Index(f.Lower, "entered")
	assert.Equal(t, "The Regulation ENTERED into force.", defaultSplitter.SentenceIn(f, pos))
	assert.Equal(t, "Next paragraph.", defaultSplitter.SentenceIn(f, strings.Index(f.Lower, "next")))
}

func TestClean_PreservesCase(t *testing.T) {
	assert.Equal(t, "Answer of the\n\nCommission", Clean("  Answer   of the\n \nCommission "))
}
