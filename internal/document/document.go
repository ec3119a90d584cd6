// Package document parses source HTML into a flat sequence of headings and
// text blocks and locates named sections inside it.
package document

import (
	"io"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/sells-group/eci-tracker/internal/model"
	"github.com/sells-group/eci-tracker/internal/rules"
	"github.com/sells-group/eci-tracker/internal/textnorm"
)

// Link is an anchor found in the document.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Block is one sentence-bearing element.
type Block struct {
	Tag   string `json:"tag"`
	Text  string `json:"text"`
	Links []Link `json:"links,omitempty"`
}

// Heading is an h1-h6 element.
type Heading struct {
	Level int
	ID    string
	Text  string
}

// item is either a heading or a block, in document order.
type item struct {
	heading *Heading
	block   *Block
}

// Document is a parsed source document.
type Document struct {
	title string
	items []item
	links []Link
}

// Section is the run of blocks following a heading up to the next heading of
// equal or higher rank.
type Section struct {
	Name    string
	Heading string
	Level   int
	Blocks  []Block
}

var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Li: true, atom.Blockquote: true,
	atom.Td: true, atom.Dd: true, atom.Pre: true,
}

var headingLevels = map[atom.Atom]int{
	atom.H1: 1, atom.H2: 2, atom.H3: 3, atom.H4: 4, atom.H5: 5, atom.H6: 6,
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, eris.Wrap(err, "document: parse html")
	}
	d := &Document{}
	d.walk(root)
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

func (d *Document) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		switch {
		case n.DataAtom == atom.Script || n.DataAtom == atom.Style || n.DataAtom == atom.Noscript:
			return
		case n.DataAtom == atom.Title:
			if d.title == "" {
				d.title = textnorm.CollapseSpace(nodeText(n))
			}
			return
		case headingLevels[n.DataAtom] > 0:
			h := &Heading{
				Level: headingLevels[n.DataAtom],
				ID:    attr(n, "id"),
				Text:  textnorm.CollapseSpace(nodeText(n)),
			}
			d.items = append(d.items, item{heading: h})
			d.collectLinks(n, nil)
			return
		case blockTags[n.DataAtom]:
			b := &Block{Tag: n.Data, Text: textnorm.CollapseSpace(nodeText(n))}
			d.collectLinks(n, b)
			if b.Text != "" || len(b.Links) > 0 {
				d.items = append(d.items, item{block: b})
			}
			return
		case n.DataAtom == atom.A:
			d.collectLinks(n, nil)
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.walk(c)
	}
}

// collectLinks records every anchor under n on the document and, when b is
// set, on the block.
func (d *Document) collectLinks(n *html.Node, b *Block) {
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			href := strings.TrimSpace(attr(n, "href"))
			if href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
				l := Link{URL: href, Text: textnorm.CollapseSpace(nodeText(n))}
				d.links = append(d.links, l)
				if b != nil {
					b.Links = append(b.Links, l)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
}

// nodeText concatenates the text under n. Line breaks and nested block
// boundaries become whitespace.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
				return
			}
			if n.DataAtom == atom.Br {
				sb.WriteByte('\n')
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
		if n.Type == html.ElementNode && (blockTags[n.DataAtom] || n.DataAtom == atom.Div || n.DataAtom == atom.Ul || n.DataAtom == atom.Ol) {
			sb.WriteByte(' ')
		}
	}
	visit(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// Title returns the first h1, falling back to the <title> element.
func (d *Document) Title() string {
	for _, it := range d.items {
		if it.heading != nil && it.heading.Level == 1 && it.heading.Text != "" {
			return it.heading.Text
		}
	}
	return d.title
}

// Links returns every anchor in document order.
func (d *Document) Links() []Link {
	return d.links
}

// Blocks returns every block in document order.
func (d *Document) Blocks() []Block {
	var out []Block
	for _, it := range d.items {
		if it.block != nil {
			out = append(out, *it.block)
		}
	}
	return out
}

// Headings returns every heading in document order.
func (d *Document) Headings() []Heading {
	var out []Heading
	for _, it := range d.items {
		if it.heading != nil {
			out = append(out, *it.heading)
		}
	}
	return out
}

// Section locates the first heading matching spec and returns the blocks up
// to the next heading of equal or higher rank. Lower-rank sub-headings are
// part of the section. A missing heading is a *model.SectionNotFoundError.
func (d *Document) Section(spec rules.SectionSpec) (*Section, error) {
	start := -1
	for i, it := range d.items {
		if it.heading != nil && matches(it.heading, spec) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, model.NewSectionNotFoundError(spec.Name, spec.Headings...)
	}

	h := d.items[start].heading
	s := &Section{Name: spec.Name, Heading: h.Text, Level: h.Level}
	for _, it := range d.items[start+1:] {
		if it.heading != nil && it.heading.Level <= h.Level {
			break
		}
		if it.block != nil {
			s.Blocks = append(s.Blocks, *it.block)
		}
	}
	return s, nil
}

// FirstSection returns the first of specs present in the document.
func (d *Document) FirstSection(specs ...rules.SectionSpec) (*Section, error) {
	var names []string
	for _, spec := range specs {
		s, err := d.Section(spec)
		if err == nil {
			return s, nil
		}
		names = append(names, spec.Name)
	}
	return nil, model.NewSectionNotFoundError(strings.Join(names, "|"))
}

func matches(h *Heading, spec rules.SectionSpec) bool {
	if h.ID != "" && slices.ContainsFunc(spec.IDs, func(id string) bool { return strings.EqualFold(id, h.ID) }) {
		return true
	}
	if len(spec.Headings) == 0 {
		return false
	}
	_, ok := spec.Headings.First(textnorm.NormalizeLine(h.Text))
	return ok
}

// Text joins the section blocks with paragraph breaks.
func (s *Section) Text() string {
	texts := make([]string, 0, len(s.Blocks))
	for _, b := range s.Blocks {
		if b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	return strings.Join(texts, textnorm.ParagraphBreak)
}

// NormalizedText is the section text passed through textnorm.Normalize.
func (s *Section) NormalizedText() string {
	return textnorm.Normalize(s.Text())
}

// Links returns the anchors of every block in the section.
func (s *Section) Links() []Link {
	var out []Link
	for _, b := range s.Blocks {
		out = append(out, b.Links...)
	}
	return out
}
