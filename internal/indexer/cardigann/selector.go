package cardigann

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/slipstream/searchd/internal/indexer/types"
)

// Document is a parsed search or login response that selectors run against.
type Document interface {
	// Rows returns the result rows described by sel.
	Rows(sel RowSelector) ([]Row, error)
	// Find returns the first node matching selector anywhere in the document.
	Find(selector string) (Node, bool)
}

// Row is one result row.
type Row interface {
	// Select returns the node for a field selector; "" selects the row itself.
	Select(selector string) (Node, bool)
	// DateHeader returns the text of the closest preceding date header row.
	DateHeader(h *DateHeaders) string
}

// Node is a selected value inside a document.
type Node interface {
	// Text returns the node's text, or the named attribute when attribute
	// is set. remove strips matching children first.
	Text(attribute, remove string) (string, bool)
	// Matches reports whether a case key applies to this node.
	Matches(key, value string) bool
}

// ParseDocument parses body according to the response type of a search path.
func ParseDocument(responseType string, body string) (Document, error) {
	switch strings.ToLower(responseType) {
	case "", "html", "xml":
		return NewHTMLDocument(body)
	case "json":
		return NewJSONDocument([]byte(body))
	case "regex":
		return &regexDocument{body: body}, nil
	default:
		return nil, types.NewConfigError("unsupported response type %q", responseType)
	}
}

// htmlDocument selects with CSS selectors over goquery.
type htmlDocument struct {
	doc *goquery.Document
}

// NewHTMLDocument parses an HTML page.
func NewHTMLDocument(body string) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, types.NewParseError("failed to parse HTML", err)
	}
	return &htmlDocument{doc: doc}, nil
}

func newHTMLDocumentFromBytes(body []byte) (*htmlDocument, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, types.NewParseError("failed to parse HTML", err)
	}
	return &htmlDocument{doc: doc}, nil
}

// Rows implements Document. With After set, each row absorbs the next
// After sibling rows matched by the selector.
func (d *htmlDocument) Rows(sel RowSelector) ([]Row, error) {
	if sel.Selector == "" {
		return nil, types.NewConfigError("rows selector is empty")
	}
	all := d.doc.Find(sel.Selector)
	if sel.Remove != "" {
		all.Find(sel.Remove).Remove()
	}

	var rows []Row
	step := 1 + max(sel.After, 0)
	for i := 0; i < all.Length(); i += step {
		row := all.Eq(i)
		if sel.After > 0 {
			end := min(i+step, all.Length())
			row = row.AddSelection(all.Slice(i+1, end))
		}
		rows = append(rows, htmlNode{sel: row})
	}
	return rows, nil
}

// Find implements Document.
func (d *htmlDocument) Find(selector string) (Node, bool) {
	s := d.doc.Find(selector).First()
	if s.Length() == 0 {
		return nil, false
	}
	return htmlNode{sel: s}, true
}

// form returns the form matched by selector, or the first form when empty.
func (d *htmlDocument) form(selector string) *goquery.Selection {
	if selector == "" {
		selector = "form"
	}
	return d.doc.Find(selector).First()
}

type htmlNode struct {
	sel *goquery.Selection
}

// Select implements Row.
func (n htmlNode) Select(selector string) (Node, bool) {
	if selector == "" {
		return n, true
	}
	s := n.sel.Find(selector).First()
	if s.Length() == 0 {
		// Selectors may address the row element itself, e.g. "tr.freeleech".
		if n.sel.First().Is(selector) {
			return htmlNode{sel: n.sel.First()}, true
		}
		return nil, false
	}
	return htmlNode{sel: s}, true
}

// DateHeader implements Row.
func (n htmlNode) DateHeader(h *DateHeaders) string {
	if h == nil || h.Selector == "" {
		return ""
	}
	header := n.sel.First().PrevAllFiltered(h.Selector).First()
	if header.Length() == 0 {
		return ""
	}
	return strings.TrimSpace(header.Text())
}

// Text implements Node.
func (n htmlNode) Text(attribute, remove string) (string, bool) {
	s := n.sel
	if remove != "" {
		s = s.Clone()
		s.Find(remove).Remove()
	}
	if attribute != "" {
		v, ok := s.Attr(attribute)
		return strings.TrimSpace(v), ok
	}
	return strings.TrimSpace(s.Text()), true
}

// Matches implements Node. HTML case keys are selectors.
func (n htmlNode) Matches(key, _ string) bool {
	return n.sel.Is(key) || n.sel.Find(key).Length() > 0
}

// OuterHTML renders a node for diagnostics.
func OuterHTML(n Node) string {
	h, ok := n.(htmlNode)
	if !ok {
		text, _ := n.Text("", "")
		return text
	}
	out, err := goquery.OuterHtml(h.sel)
	if err != nil {
		return fmt.Sprintf("<unrenderable: %v>", err)
	}
	return out
}
