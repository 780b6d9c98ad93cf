package scanner

import (
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is the page content the scanner reads. Implementations return
// an empty string for any source they cannot produce.
type Document interface {
	// VisibleText returns the rendered text of the page body.
	VisibleText() string
	// Markup returns the raw page markup, including inline script text.
	Markup() string
}

// StaticDocument carries text and markup captured by the page relay.
type StaticDocument struct {
	Text string
	HTML string
}

func (d StaticDocument) VisibleText() string { return d.Text }
func (d StaticDocument) Markup() string      { return d.HTML }

// HTMLDocument derives visible text from raw markup.
type HTMLDocument struct {
	markup string

	once sync.Once
	text string
}

// NewHTMLDocument wraps raw markup.
func NewHTMLDocument(markup string) *HTMLDocument {
	return &HTMLDocument{markup: markup}
}

// Markup returns the markup as given.
func (d *HTMLDocument) Markup() string { return d.markup }

// VisibleText returns the text content of <body>, skipping elements that
// never render. Markup that fails to parse or has no body yields "".
func (d *HTMLDocument) VisibleText() string {
	d.once.Do(func() {
		d.text = extractVisibleText(d.markup)
	})
	return d.text
}

func extractVisibleText(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return ""
	}
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	body := findBody(root)
	if body == nil {
		return ""
	}

	var sb strings.Builder
	writeText(&sb, body)
	return strings.TrimSpace(sb.String())
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

var hiddenElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Head:     true,
}

var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Br: true, atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Fieldset: true, atom.Figcaption: true, atom.Figure: true, atom.Footer: true,
	atom.Form: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Header: true, atom.Hr: true, atom.Li: true,
	atom.Main: true, atom.Nav: true, atom.Ol: true, atom.P: true, atom.Pre: true,
	atom.Section: true, atom.Table: true, atom.Tr: true, atom.Ul: true,
}

func writeText(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		if hiddenElements[n.DataAtom] {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(sb, c)
	}
	if n.Type == html.ElementNode && blockElements[n.DataAtom] {
		sb.WriteByte('\n')
	}
}
