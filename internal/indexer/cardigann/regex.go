package cardigann

import (
	"strconv"

	"github.com/slipstream/searchd/internal/indexer/types"
)

// regexDocument treats the rows selector as a pattern applied to the raw
// body. Each match is a row and field selectors name a capture group by
// name or index.
type regexDocument struct {
	body string
}

// Rows implements Document.
func (d *regexDocument) Rows(sel RowSelector) ([]Row, error) {
	re, err := compileRegex(sel.Selector)
	if err != nil {
		return nil, types.NewConfigError("invalid rows pattern %q: %v", sel.Selector, err)
	}
	names := re.SubexpNames()
	var rows []Row
	for _, m := range re.FindAllStringSubmatch(d.body, -1) {
		groups := make(map[string]string, len(m)*2)
		for i, v := range m {
			groups[strconv.Itoa(i)] = v
			if names[i] != "" {
				groups[names[i]] = v
			}
		}
		rows = append(rows, regexRow{groups: groups})
	}
	if sel.After > 0 && len(rows) > 0 {
		rows = rows[min(sel.After, len(rows)):]
	}
	return rows, nil
}

// Find implements Document.
func (d *regexDocument) Find(selector string) (Node, bool) {
	re, err := compileRegex(selector)
	if err != nil {
		return nil, false
	}
	m := re.FindStringSubmatch(d.body)
	if m == nil {
		return nil, false
	}
	if len(m) > 1 {
		return textNode(m[1]), true
	}
	return textNode(m[0]), true
}

type regexRow struct {
	groups map[string]string
}

// Select implements Row.
func (r regexRow) Select(selector string) (Node, bool) {
	if selector == "" {
		selector = "0"
	}
	v, ok := r.groups[selector]
	if !ok {
		return nil, false
	}
	return textNode(v), true
}

// DateHeader implements Row.
func (regexRow) DateHeader(*DateHeaders) string { return "" }

type textNode string

// Text implements Node.
func (n textNode) Text(_, _ string) (string, bool) { return string(n), true }

// Matches implements Node.
func (n textNode) Matches(key, value string) bool { return key == value }
