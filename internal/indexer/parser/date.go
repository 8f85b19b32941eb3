package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// DateOptions control ambiguous date resolution.
type DateOptions struct {
	DayFirst bool           // 03/04/2024 is 3 April rather than March 4
	Location *time.Location // zone for dates without an offset; UTC when nil
	Now      time.Time      // reference for relative dates and missing years
}

func (o DateOptions) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

func (o DateOptions) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

// Regions that write numeric dates month first.
var monthFirstRegions = map[string]bool{"US": true, "PH": true, "FM": true, "MH": true, "PW": true, "BZ": true}

// Languages that write numeric dates year first.
var yearFirstLanguages = map[string]bool{"zh": true, "ja": true, "ko": true, "hu": true, "lt": true, "mn": true}

// DayFirstLocale reports whether numeric dates written in locale (a BCP 47
// tag such as en-GB or fr-FR) put the day before the month. Unknown or
// empty locales are treated as en-US.
func DayFirstLocale(locale string) bool {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return false
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return false
	}
	base, conf := tag.Base()
	if conf == language.No || yearFirstLanguages[base.String()] {
		return false
	}
	region, _ := tag.Region()
	return !monthFirstRegions[region.String()]
}

// DayFirst resolves the numeric date order for an indexer. The
// dateDayFirst setting wins over the locale.
func DayFirst(settings map[string]string, locale string) bool {
	if v, ok := settings["dateDayFirst"]; ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return DayFirstLocale(locale)
}

// Layouts carrying their own zone, tried first.
var zonedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"Mon, 02 Jan 2006 15:04 -0700",
	time.RFC822Z,
	time.RFC822,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05 MST",
	time.UnixDate,
}

// Unzoned layouts with an explicit year, unambiguous order.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02",
	"Jan 2 2006 15:04",
	"Jan 2 2006",
	"Jan 2, 2006 15:04",
	"Jan 2, 2006",
	"January 2, 2006",
	"January 2 2006",
	"2 Jan 2006 15:04:05",
	"2 Jan 2006 15:04",
	"2 Jan 2006",
	"2 January 2006",
	"02-Jan-2006 15:04",
	"02-Jan-2006",
	"Mon Jan 2 15:04:05 2006",
}

// Numeric day/month layouts, month first.
var monthFirstLayouts = []string{
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"01.02.2006 15:04",
	"01.02.2006",
	"01/02/06",
}

// Numeric day/month layouts, day first.
var dayFirstLayouts = []string{
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006 15:04",
	"02.01.2006",
	"02/01/06",
}

// Layouts without a year; the current year is assumed.
var yearlessLayouts = []string{
	"Jan 2 15:04",
	"Jan 2",
	"2 Jan 15:04",
	"2 Jan",
	"January 2",
	"2 January",
}

var (
	unixRegex    = regexp.MustCompile(`^\d{9,13}$`)
	agoRegex     = regexp.MustCompile(`(?i)(\d+|an?|one)\s*(sec(?:ond)?|min(?:ute)?|h(?:ou)?r|day|week|month|year)s?\b`)
	ordinalRegex = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	spaceRegex   = regexp.MustCompile(`\s+`)
)

// ParseDate resolves a date string by trying a fixed sequence of formats:
// unix timestamps, zoned layouts, unzoned layouts, numeric day/month
// layouts in the configured order, yearless layouts, then relative
// expressions. The result is always UTC.
func ParseDate(value string, opts DateOptions) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	s = spaceRegex.ReplaceAllString(s, " ")
	s = ordinalRegex.ReplaceAllString(s, "$1")

	if unixRegex.MatchString(s) {
		n, _ := strconv.ParseInt(s, 10, 64)
		if len(s) == 13 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}

	loc := opts.location()
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}

	numeric := monthFirstLayouts
	if opts.DayFirst {
		numeric = dayFirstLayouts
	}
	for _, layout := range numeric {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}

	now := opts.now().In(loc)
	for _, layout := range yearlessLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			t = time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
			return t.UTC(), nil
		}
	}

	if t, ok := ParseRelative(s, opts.now()); ok {
		return t.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

// ParseRelative understands "now", "today", "yesterday" and "N units ago"
// expressions, including compound ones like "1 day 3 hours ago".
func ParseRelative(value string, now time.Time) (time.Time, bool) {
	s := strings.ToLower(strings.TrimSpace(value))
	switch s {
	case "now", "just now":
		return now, true
	case "today":
		return now, true
	case "yesterday":
		return now.AddDate(0, 0, -1), true
	}
	if strings.HasPrefix(s, "today") || strings.HasPrefix(s, "yesterday") {
		base := now
		rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(s, "today"), "yesterday"))
		if strings.HasPrefix(s, "yesterday") {
			base = now.AddDate(0, 0, -1)
		}
		rest = strings.TrimSpace(strings.TrimPrefix(rest, "at"))
		if clock, err := time.Parse("15:04", rest); err == nil {
			return time.Date(base.Year(), base.Month(), base.Day(), clock.Hour(), clock.Minute(), 0, 0, base.Location()), true
		}
		return base, true
	}

	matches := agoRegex.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return time.Time{}, false
	}
	t := now
	for _, m := range matches {
		n := 1
		if v, err := strconv.Atoi(m[1]); err == nil {
			n = v
		}
		switch unit := m[2]; {
		case strings.HasPrefix(unit, "sec"):
			t = t.Add(-time.Duration(n) * time.Second)
		case strings.HasPrefix(unit, "min"):
			t = t.Add(-time.Duration(n) * time.Minute)
		case strings.HasPrefix(unit, "h"):
			t = t.Add(-time.Duration(n) * time.Hour)
		case unit == "day":
			t = t.AddDate(0, 0, -n)
		case unit == "week":
			t = t.AddDate(0, 0, -7*n)
		case unit == "month":
			t = t.AddDate(0, -n, 0)
		case unit == "year":
			t = t.AddDate(-n, 0, 0)
		}
	}
	return t, true
}

// ParseInt parses an integer, ignoring thousands separators.
func ParseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(",", "", ".", "", " ", "").Replace(s)
	return strconv.Atoi(s)
}

// ParseFloat parses a float with the same separator rules as ParseSize.
func ParseFloat(s string) (float64, error) {
	return strconv.ParseFloat(normalizeNumber(strings.TrimSpace(s)), 64)
}
