package cardigann

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/slipstream/searchd/internal/indexer/types"
)

// jsonDocument selects with dot-notation paths such as data.items[0].name.
type jsonDocument struct {
	data any
}

// NewJSONDocument parses a JSON response.
func NewJSONDocument(body []byte) (Document, error) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, types.NewParseError("failed to parse JSON", err)
	}
	return &jsonDocument{data: data}, nil
}

// Rows implements Document. Attribute descends into each row; with
// Multiple the attribute holds an array whose elements each become a row
// that can still reach its parent through ".." selectors.
func (d *jsonDocument) Rows(sel RowSelector) ([]Row, error) {
	v, err := selectPath(d.data, sel.Selector)
	if err != nil {
		// A missing rows key is how most JSON APIs report no results.
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		if m, isMap := v.(map[string]any); isMap {
			// Some sites key rows by id.
			for _, k := range slices.Sorted(maps.Keys(m)) {
				items = append(items, m[k])
			}
		} else {
			return nil, types.NewParseError(fmt.Sprintf("rows at %q are not an array", sel.Selector), nil)
		}
	}

	var rows []Row
	for _, item := range items[min(max(sel.After, 0), len(items)):] {
		if sel.Attribute == "" {
			rows = append(rows, jsonNode{value: item})
			continue
		}
		child, err := selectPath(item, sel.Attribute)
		if err != nil {
			continue
		}
		if !sel.Multiple {
			rows = append(rows, jsonNode{value: child, parent: item})
			continue
		}
		if arr, ok := child.([]any); ok {
			for _, c := range arr {
				rows = append(rows, jsonNode{value: c, parent: item})
			}
		}
	}
	return rows, nil
}

// Find implements Document. Empty values do not count as found.
func (d *jsonDocument) Find(selector string) (Node, bool) {
	v, err := selectPath(d.data, selector)
	if err != nil || v == nil || toString(v) == "" {
		return nil, false
	}
	return jsonNode{value: v}, true
}

type jsonNode struct {
	value  any
	parent any
}

// Select implements Row.
func (n jsonNode) Select(selector string) (Node, bool) {
	if selector == "" {
		return n, true
	}
	root := n.value
	if strings.HasPrefix(selector, "..") && n.parent != nil {
		root = n.parent
		selector = strings.TrimPrefix(selector, "..")
	}
	v, err := selectPath(root, selector)
	if err != nil || v == nil {
		return nil, false
	}
	return jsonNode{value: v}, true
}

// DateHeader implements Row; JSON rows carry their own dates.
func (n jsonNode) DateHeader(*DateHeaders) string { return "" }

// Text implements Node.
func (n jsonNode) Text(attribute, _ string) (string, bool) {
	if attribute != "" {
		v, err := selectPath(n.value, attribute)
		if err != nil {
			return "", false
		}
		return toString(v), true
	}
	return toString(n.value), true
}

// Matches implements Node. JSON case keys compare against the value.
func (n jsonNode) Matches(key, value string) bool {
	return key == value
}

// selectPath navigates through the data structure using the path.
func selectPath(data any, path string) (any, error) {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "$")
	if path == "" || path == "." {
		return data, nil
	}
	if data == nil {
		return nil, fmt.Errorf("nil data")
	}

	current := data
	for _, seg := range parsePath(path) {
		if current == nil {
			return nil, fmt.Errorf("null value at path segment: %s", seg)
		}

		if idx, isIndex := parseArrayIndex(seg); isIndex {
			if arr, ok := current.([]any); ok {
				if idx < 0 {
					idx = len(arr) + idx
				}
				if idx < 0 || idx >= len(arr) {
					return nil, fmt.Errorf("array index out of bounds: %d", idx)
				}
				current = arr[idx]
				continue
			}
		}

		switch v := current.(type) {
		case map[string]any:
			val, exists := v[seg]
			if !exists {
				return nil, fmt.Errorf("key not found: %s", seg)
			}
			current = val
		default:
			return nil, fmt.Errorf("cannot access field %s on %T", seg, current)
		}
	}
	return current, nil
}

// parsePath splits a dot-notation path into segments.
func parsePath(path string) []string {
	var segments []string
	var current strings.Builder

	inBracket := false
	for _, r := range path {
		switch r {
		case '.':
			if !inBracket && current.Len() > 0 {
				segments = append(segments, current.String())
				current.Reset()
			} else if inBracket {
				current.WriteRune(r)
			}
		case '[':
			if current.Len() > 0 {
				segments = append(segments, current.String())
				current.Reset()
			}
			inBracket = true
		case ']':
			if inBracket && current.Len() > 0 {
				segments = append(segments, strings.Trim(current.String(), `'"`))
				current.Reset()
			}
			inBracket = false
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		segments = append(segments, current.String())
	}
	return segments
}

// parseArrayIndex checks if a segment is an array index and returns it.
func parseArrayIndex(seg string) (int, bool) {
	if idx, err := strconv.Atoi(seg); err == nil {
		return idx, true
	}
	return 0, false
}

// toString converts a decoded JSON value to string. Arrays are joined
// with commas.
func toString(v any) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, toString(item))
		}
		return strings.Join(parts, ",")
	case map[string]any:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}
