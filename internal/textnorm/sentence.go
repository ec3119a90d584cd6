package textnorm

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultAbbreviations are tokens whose trailing period never ends a sentence.
var DefaultAbbreviations = []string{
	"e.g", "i.e", "etc", "art", "arts", "no", "nos", "para", "paras", "cf",
	"vs", "mr", "mrs", "ms", "dr", "prof", "approx", "ca", "fig", "p", "pp",
	"vol", "nr", "ref", "doc", "sec", "ch", "ann", "op", "cit", "ibid", "jan",
	"feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
}

// Splitter finds sentence boundaries, skipping periods that belong to
// abbreviations or decimal numbers.
type Splitter struct {
	abbrevs map[string]bool
}

// NewSplitter builds a Splitter. A nil list uses DefaultAbbreviations.
func NewSplitter(abbreviations []string) *Splitter {
	if abbreviations == nil {
		abbreviations = DefaultAbbreviations
	}
	s := &Splitter{abbrevs: make(map[string]bool, len(abbreviations))}
	for _, a := range abbreviations {
		a = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(a), "."))
		if a != "" {
			s.abbrevs[a] = true
		}
	}
	return s
}

var defaultSplitter = NewSplitter(nil)

// SentenceAt returns the sentence of text containing byte offset pos using
// DefaultAbbreviations.
func SentenceAt(text string, pos int) string {
	return defaultSplitter.SentenceAt(text, pos)
}

// Sentences splits text using DefaultAbbreviations.
func Sentences(text string) []string {
	return defaultSplitter.Sentences(text)
}

// SentenceAt returns the trimmed sentence containing byte offset pos. The
// sentence is bounded by a terminator (. ! ?) or a paragraph break.
func (s *Splitter) SentenceAt(text string, pos int) string {
	start, end := s.Bounds(text, pos)
	return strings.TrimSpace(text[start:end])
}

// SentenceIn returns the sentence around pos (an offset into f.Lower) in
// display case.
func (s *Splitter) SentenceIn(f Folded, pos int) string {
	start, end := s.Bounds(f.Lower, pos)
	return strings.TrimSpace(f.Span(start, end))
}

// Bounds returns the [start, end) byte range of the sentence around pos.
func (s *Splitter) Bounds(text string, pos int) (int, int) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(text) {
		pos = len(text)
	}

	start := 0
	for i := pos - 1; i >= 0; i-- {
		if strings.HasPrefix(text[i:], ParagraphBreak) {
			start = i + len(ParagraphBreak)
			break
		}
		if s.isTerminator(text, i) {
			start = i + 1
			break
		}
	}

	end := len(text)
	for j := pos; j < len(text); j++ {
		if strings.HasPrefix(text[j:], ParagraphBreak) {
			end = j
			break
		}
		if s.isTerminator(text, j) {
			end = j + 1
			break
		}
	}
	if start > end {
		start = end
	}
	return start, end
}

// Sentences splits text into trimmed, non-empty sentences.
func (s *Splitter) Sentences(text string) []string {
	var out []string
	start := 0
	emit := func(end int) {
		if sent := strings.TrimSpace(text[start:end]); sent != "" {
			out = append(out, sent)
		}
	}
	for i := 0; i < len(text); i++ {
		if strings.HasPrefix(text[i:], ParagraphBreak) {
			emit(i)
			start = i + len(ParagraphBreak)
			i = start - 1
			continue
		}
		if s.isTerminator(text, i) {
			emit(i + 1)
			start = i + 1
		}
	}
	if start < len(text) {
		emit(len(text))
	}
	return out
}

// isTerminator reports whether the byte at i ends a sentence.
func (s *Splitter) isTerminator(text string, i int) bool {
	c := text[i]
	if c != '.' && c != '!' && c != '?' {
		return false
	}
	// A terminator is followed by end of text, whitespace or closing punctuation.
	if i+1 < len(text) {
		next, _ := utf8.DecodeRuneInString(text[i+1:])
		if !unicode.IsSpace(next) && !strings.ContainsRune(`"')]`, next) {
			return false
		}
	}
	if c != '.' {
		return true
	}
	// Decimal numbers such as "3.5" are excluded by the lookahead above; a
	// trailing ordinal like "2." before a space still ends the sentence.
	word := wordBefore(text, i)
	if word == "" {
		return true
	}
	return !s.abbrevs[strings.ToLower(word)]
}

// wordBefore returns the token (letters and inner periods) ending at i.
func wordBefore(text string, i int) string {
	j := i
	for j > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:j])
		if !unicode.IsLetter(r) && r != '.' {
			break
		}
		j -= size
	}
	return strings.Trim(text[j:i], ".")
}
