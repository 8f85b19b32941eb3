package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var sizeRegex = regexp.MustCompile(`(?i)(\d[\d.,\s\x{00A0}]*)\s*(bytes?|[kmgtp]i?b|[kmgtp]o|b|o)?\b`)

var sizeUnits = map[byte]float64{
	'b': 1,
	'o': 1,
	'k': 1 << 10,
	'm': 1 << 20,
	'g': 1 << 30,
	't': 1 << 40,
	'p': 1 << 50,
}

// ParseSize converts a human readable size such as "1,023.4 MB" or
// "1.023,4 MB" into bytes. Thousands separators of any locale are
// stripped; units are binary (KB=1024).
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	m := sizeRegex.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("no size in %q", s)
	}

	number := normalizeNumber(m[1])
	if number == "" {
		return 0, fmt.Errorf("no size in %q", s)
	}

	multiplier := 1.0
	if unit := strings.ToLower(m[2]); unit != "" {
		multiplier = sizeUnits[unit[0]]
	}

	if !strings.Contains(number, ".") {
		n, err := strconv.ParseInt(number, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q: %w", s, err)
		}
		return n * int64(multiplier), nil
	}

	// Sizes are parsed at single precision so that the same input always
	// yields the same byte count regardless of the locale it came from.
	value, err := strconv.ParseFloat(number, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(value * multiplier), nil
}

// ParseSizeOr returns def when s is not a size.
func ParseSizeOr(s string, def int64) int64 {
	n, err := ParseSize(s)
	if err != nil {
		return def
	}
	return n
}

// normalizeNumber removes thousands separators and turns the decimal
// separator, if any, into '.'.
func normalizeNumber(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' || r == '\t' {
			return -1
		}
		return r
	}, s)
	s = strings.TrimRight(s, ".,")

	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')

	switch {
	case lastDot >= 0 && lastComma >= 0:
		decimal := byte('.')
		thousands := ","
		if lastComma > lastDot {
			decimal, thousands = ',', "."
		}
		s = strings.ReplaceAll(s, thousands, "")
		if decimal == ',' {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		s = resolveSingleSeparator(s, ".")
	case lastComma >= 0:
		s = resolveSingleSeparator(s, ",")
	}
	return s
}

// A separator that repeats, or that is followed by exactly three digits,
// groups thousands. Otherwise it is the decimal point.
func resolveSingleSeparator(s, sep string) string {
	if strings.Count(s, sep) > 1 {
		return strings.ReplaceAll(s, sep, "")
	}
	idx := strings.Index(s, sep)
	if len(s)-idx-1 == 3 {
		return strings.Replace(s, sep, "", 1)
	}
	return strings.Replace(s, sep, ".", 1)
}
