package capabilities

import (
	"strings"
	"unicode"
)

var glyphReplacer = strings.NewReplacer(
	"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-", "―", "-", "−", "-",
	"‘", "'", "’", "'", "‚", "'", "‛", "'", "´", "'", "`", "'",
	"“", "\"", "”", "\"", "„", "\"", "«", "\"", "»", "\"",
)

const allowedPunctuation = "-._()@/'[]+%:"

// SanitizeTerm normalizes dash and quote glyphs to ASCII, then keeps only
// letters, digits, whitespace and a fixed punctuation allow-list. Other
// characters are dropped.
func SanitizeTerm(term string) string {
	term = glyphReplacer.Replace(term)

	var b strings.Builder
	b.Grow(len(term))
	for _, r := range term {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case strings.ContainsRune(allowedPunctuation, r):
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
