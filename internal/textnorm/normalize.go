// Package textnorm lower-cases, folds and whitespace-collapses document text
// and locates sentence boundaries inside it.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ParagraphBreak separates paragraphs in normalized text.
const ParagraphBreak = "\n\n"

var (
	spaceRe     = regexp.MustCompile(`\s+`)
	paragraphRe = regexp.MustCompile(`\n[ \t\r\f\v]*\n\s*`)
)

// typography maps typographic punctuation to the ASCII form the rule tables use.
var typography = strings.NewReplacer(
	"\u2018", "'", "\u2019", "'", "\u201a", "'", "\u2032", "'",
	"\u201c", `"`, "\u201d", `"`, "\u201e", `"`, "\u00ab", `"`, "\u00bb", `"`,
	"\u2010", "-", "\u2011", "-", "\u2012", "-", "\u2013", "-", "\u2014", "-", "\u2212", "-",
	"\u2026", "...",
	"\u00ad", "",
	"\u200b", "",
)

// Fold applies Unicode compatibility normalization, strips combining marks
// and maps typographic punctuation to ASCII. Case is preserved.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFKC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = norm.NFKC.String(s)
	}
	return typography.Replace(folded)
}

// CollapseSpace replaces every whitespace run with one space and trims.
func CollapseSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// Clean folds and whitespace-collapses s, keeping case. Paragraph breaks (a
// blank line) survive as ParagraphBreak; every other whitespace run becomes a
// single space.
func Clean(s string) string {
	parts := paragraphRe.Split(Fold(s), -1)
	out := parts[:0]
	for _, p := range parts {
		if p = CollapseSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ParagraphBreak)
}

// Normalize is Clean followed by lower-casing.
func Normalize(s string) string {
	return strings.ToLower(Clean(s))
}

// Folded pairs cleaned text with its lower-cased form. Rules match against
// Lower; spans are reported from Display.
type Folded struct {
	Display string
	Lower   string
}

// FoldText builds the Folded form of s.
func FoldText(s string) Folded {
	d := Clean(s)
	return Folded{Display: d, Lower: strings.ToLower(d)}
}

// Aligned reports whether byte offsets in Lower index Display. Lower-casing
// a few scripts changes byte length; ASCII-folded text is always aligned.
func (f Folded) Aligned() bool {
	return len(f.Display) == len(f.Lower)
}

// Span returns the [start, end) range of the display text, or of the lower
// form when the two are not aligned.
func (f Folded) Span(start, end int) string {
	if f.Aligned() {
		return f.Display[start:end]
	}
	return f.Lower[start:end]
}

// NormalizeLine is Normalize without paragraph preservation.
func NormalizeLine(s string) string {
	return CollapseSpace(strings.ToLower(Fold(s)))
}

// ContainsAny returns the first phrase (in list order) contained in text.
func ContainsAny(text string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if p != "" && strings.Contains(text, p) {
			return p, true
		}
	}
	return "", false
}

// FindAll returns every phrase (in list order) contained in text.
func FindAll(text string, phrases []string) []string {
	var found []string
	for _, p := range phrases {
		if p != "" && strings.Contains(text, p) {
			found = append(found, p)
		}
	}
	return found
}
