package cardigann

import (
	"testing"
	"time"

	"github.com/slipstream/searchd/internal/indexer/parser"
)

func TestApplyFilters(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		filters []Filter
		want    string
		wantErr bool
	}{
		{
			name:  "no filters",
			value: "hello",
			want:  "hello",
		},
		{
			name:    "single replace filter",
			value:   "hello world",
			filters: []Filter{{Name: "replace", Args: []string{"world", "there"}}},
			want:    "hello there",
		},
		{
			name:    "chained filters run left to right",
			value:   "  HELLO WORLD  ",
			filters: []Filter{{Name: "trim"}, {Name: "tolower"}, {Name: "append", Args: "!"}},
			want:    "hello world!",
		},
		{
			name:    "yaml decoded args",
			value:   "a-b-c",
			filters: []Filter{{Name: "split", Args: []any{"-", 2}}},
			want:    "c",
		},
		{
			name:    "unknown filter is skipped",
			value:   "test",
			filters: []Filter{{Name: "unknownfilter"}},
			want:    "test",
		},
		{
			name:    "invalid pattern fails",
			value:   "test",
			filters: []Filter{{Name: "re_replace", Args: []string{"[invalid", "X"}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyFilters(tt.value, tt.filters)
			if (err != nil) != tt.wantErr {
				t.Errorf("ApplyFilters() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ApplyFilters() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyFiltersWithContext_TemplatedArgs(t *testing.T) {
	engine := NewTemplateEngine()
	ctx := NewTemplateContext()
	ctx.Config = map[string]string{"suffix": "-x"}

	got, err := ApplyFiltersWithContext("name", []Filter{{Name: "append", Args: "{{ .Config.suffix }}"}}, engine, ctx)
	if err != nil {
		t.Fatalf("ApplyFiltersWithContext() error = %v", err)
	}
	if got != "name-x" {
		t.Errorf("ApplyFiltersWithContext() = %q, want %q", got, "name-x")
	}
}

func TestFilterReplace(t *testing.T) {
	tests := []struct {
		name  string
		value string
		args  []string
		want  string
	}{
		{name: "basic replace", value: "hello world", args: []string{"world", "there"}, want: "hello there"},
		{name: "no match", value: "hello world", args: []string{"xyz", "abc"}, want: "hello world"},
		{name: "multiple occurrences", value: "hello hello hello", args: []string{"hello", "hi"}, want: "hi hi hi"},
		{name: "missing args", value: "hello", args: []string{"one"}, want: "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filterReplace(tt.value, tt.args)
			if err != nil {
				t.Errorf("filterReplace() error = %v", err)
				return
			}
			if got != tt.want {
				t.Errorf("filterReplace() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterReReplace(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "replace digits", value: "test123abc456", args: []string{"[0-9]+", "X"}, want: "testXabcX"},
		{name: "replace whitespace", value: "hello   world", args: []string{`\s+`, " "}, want: "hello world"},
		{name: "group reference", value: "S01E02", args: []string{`S(\d+)E(\d+)`, "$1x$2"}, want: "01x02"},
		{name: "group reference before dot", value: "2024-05", args: []string{`(\d+)-(\d+)`, "$2.$1"}, want: "05.2024"},
		{name: "group reference before underscore", value: "abc", args: []string{`(b)`, "$1_"}, want: "ab_c"},
		{name: "literal dollar", value: "5", args: []string{`(\d)`, "$$$1"}, want: "$5"},
		{name: "invalid regex", value: "test", args: []string{"[invalid", "X"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filterReReplace(tt.value, tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("filterReReplace() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("filterReReplace() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterSplit(t *testing.T) {
	tests := []struct {
		name  string
		value string
		args  []string
		want  string
	}{
		{name: "first element", value: "a,b,c,d", args: []string{",", "0"}, want: "a"},
		{name: "second element", value: "a,b,c,d", args: []string{",", "1"}, want: "b"},
		{name: "last element with negative index", value: "a,b,c,d", args: []string{",", "-1"}, want: "d"},
		{name: "out of bounds index", value: "a,b,c", args: []string{",", "10"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filterSplit(tt.value, tt.args)
			if err != nil {
				t.Errorf("filterSplit() error = %v", err)
				return
			}
			if got != tt.want {
				t.Errorf("filterSplit() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterTrim(t *testing.T) {
	tests := []struct {
		name  string
		fn    FilterFunc
		value string
		args  []string
		want  string
	}{
		{name: "default whitespace trim", fn: filterTrim, value: "  hello  ", want: "hello"},
		{name: "custom character trim", fn: filterTrim, value: "---hello---", args: []string{"-"}, want: "hello"},
		{name: "trim left", fn: filterTrimLeft, value: "--hello--", args: []string{"-"}, want: "hello--"},
		{name: "trim right", fn: filterTrimRight, value: "--hello--", args: []string{"-"}, want: "--hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(tt.value, tt.args)
			if err != nil {
				t.Errorf("trim error = %v", err)
				return
			}
			if got != tt.want {
				t.Errorf("trim = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterURLEncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		encode string
	}{
		{name: "basic encoding", value: "hello world", encode: "hello+world"},
		{name: "special characters", value: "a=b&c=d", encode: "a%3Db%26c%3Dd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := filterURLEncode(tt.value, nil)
			if err != nil {
				t.Errorf("filterURLEncode() error = %v", err)
				return
			}
			if encoded != tt.encode {
				t.Errorf("filterURLEncode() = %v, want %v", encoded, tt.encode)
			}

			decoded, err := filterURLDecode(encoded, nil)
			if err != nil {
				t.Errorf("filterURLDecode() error = %v", err)
				return
			}
			if decoded != tt.value {
				t.Errorf("filterURLDecode() = %v, want %v", decoded, tt.value)
			}
		})
	}
}

func TestFilterQueryString(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{value: "/download.php?id=42&name=x", want: "42"},
		{value: "https://example.org/t?id=7", want: "7"},
		{value: "id=9", want: "9"},
		{value: "/download.php", want: ""},
	}
	for _, tt := range tests {
		got, _ := filterQueryString(tt.value, []string{"id"})
		if got != tt.want {
			t.Errorf("filterQueryString(%q) = %q, want %q", tt.value, got, tt.want)
		}
	}
}

func TestFilterSize(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{value: "100", want: "100"},
		{value: "1 KB", want: "1024"},
		{value: "5 MB", want: "5242880"},
		{value: "2 GB", want: "2147483648"},
		{value: "1.5 GB", want: "1610612736"},
		{value: "n/a", want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := filterSize(tt.value, nil)
			if err != nil {
				t.Errorf("filterSize() error = %v", err)
				return
			}
			if got != tt.want {
				t.Errorf("filterSize(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestFilterDateParse(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		layout  string
		want    string
		wantErr bool
	}{
		{name: "dotnet layout", value: "2024-03-05 14:30", layout: "yyyy-MM-dd HH:mm", want: "2024-03-05T14:30:00Z"},
		{name: "go layout", value: "05/03/2024", layout: "02/01/2006", want: "2024-03-05T00:00:00Z"},
		{name: "quoted literal", value: "2024-03-05T14:30", layout: "yyyy-MM-dd'T'HH:mm", want: "2024-03-05T14:30:00Z"},
		{name: "fallback to general parser", value: "2024-03-05", layout: "dd MMM yyyy", want: "2024-03-05T00:00:00Z"},
		{name: "garbage", value: "soon", layout: "yyyy", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filterDateParse(tt.value, []string{tt.layout}, parser.DateOptions{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("filterDateParse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("filterDateParse() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterTimeAgo(t *testing.T) {
	tests := []struct {
		name  string
		value string
		valid bool
	}{
		{name: "minutes ago", value: "5 minutes ago", valid: true},
		{name: "hours ago", value: "2 hours ago", valid: true},
		{name: "days ago", value: "3 days ago", valid: true},
		{name: "today", value: "Today", valid: true},
		{name: "yesterday", value: "Yesterday", valid: true},
		{name: "not relative", value: "whenever", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filterTimeAgo(tt.value, nil)
			if (err == nil) != tt.valid {
				t.Fatalf("filterTimeAgo() error = %v, valid %v", err, tt.valid)
			}
			if tt.valid {
				if _, err := time.Parse(time.RFC3339, got); err != nil {
					t.Errorf("filterTimeAgo() returned invalid time format: %v", got)
				}
			}
		})
	}
}

func TestFilterHTMLEncodeDecode(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		encoded string
	}{
		{name: "basic HTML entities", value: "<div>Hello & World</div>", encoded: "&lt;div&gt;Hello &amp; World&lt;/div&gt;"},
		{name: "quotes", value: `"hello"`, encoded: "&#34;hello&#34;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := filterHTMLEncode(tt.value, nil)
			if err != nil {
				t.Errorf("filterHTMLEncode() error = %v", err)
				return
			}
			if encoded != tt.encoded {
				t.Errorf("filterHTMLEncode() = %v, want %v", encoded, tt.encoded)
			}

			decoded, err := filterHTMLDecode(encoded, nil)
			if err != nil {
				t.Errorf("filterHTMLDecode() error = %v", err)
				return
			}
			if decoded != tt.value {
				t.Errorf("filterHTMLDecode() = %v, want %v", decoded, tt.value)
			}
		})
	}
}

func TestFilterStripTags(t *testing.T) {
	got, _ := filterStripTags(`<b>Bold</b> and <a href="x">link</a>`, nil)
	if got != "Bold and link" {
		t.Errorf("filterStripTags() = %q", got)
	}
}

func TestFilterRegexp(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		args    []string
		want    string
		wantErr bool
	}{
		{name: "extract group", value: "Size: 1.5 GB", args: []string{`Size:\s*([\d.]+\s*\w+)`}, want: "1.5 GB"},
		{name: "whole match without groups", value: "id 12345 here", args: []string{`\d+`}, want: "12345"},
		{name: "no match", value: "no match here", args: []string{`not found: (\w+)`}, want: ""},
		{name: "invalid regex", value: "test", args: []string{`[invalid`}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := filterRegexp(tt.value, tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("filterRegexp() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("filterRegexp() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterValidate(t *testing.T) {
	got, _ := filterValidate("Action, Comedy|Horror, Drama", []string{"action, drama, thriller"})
	if got != "Action,Drama" {
		t.Errorf("filterValidate() = %q, want %q", got, "Action,Drama")
	}
}

func TestFilterMultiplyDivide(t *testing.T) {
	tests := []struct {
		name string
		fn   FilterFunc
		in   string
		arg  string
		want string
	}{
		{name: "multiply", fn: filterMultiply, in: "10", arg: "5", want: "50"},
		{name: "multiply fraction", fn: filterMultiply, in: "1.5", arg: "2", want: "3"},
		{name: "divide", fn: filterDivide, in: "100", arg: "4", want: "25"},
		{name: "divide by zero keeps value", fn: filterDivide, in: "100", arg: "0", want: "100"},
		{name: "non numeric keeps value", fn: filterMultiply, in: "abc", arg: "2", want: "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(tt.in, []string{tt.arg})
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilterDiacriticsAndNormalize(t *testing.T) {
	got, _ := filterDiacritics("Amélie Poulain à Montréal", nil)
	if got != "Amelie Poulain a Montreal" {
		t.Errorf("filterDiacritics() = %q", got)
	}
	got, _ = filterNormalize("  a \t b\n\nc  ", nil)
	if got != "a b c" {
		t.Errorf("filterNormalize() = %q", got)
	}
}

func TestNormalizeFilterArgs(t *testing.T) {
	tests := []struct {
		name string
		args any
		want []string
	}{
		{name: "nil", args: nil, want: nil},
		{name: "string", args: "single", want: []string{"single"}},
		{name: "string slice", args: []string{"a", "b"}, want: []string{"a", "b"}},
		{name: "interface slice", args: []any{"a", 123}, want: []string{"a", "123"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeFilterArgs(tt.args)
			if tt.want == nil && got != nil {
				t.Errorf("normalizeFilterArgs() = %v, want nil", got)
				return
			}
			if len(got) != len(tt.want) {
				t.Errorf("normalizeFilterArgs() len = %v, want %v", len(got), len(tt.want))
				return
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("normalizeFilterArgs()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExpandReplacement(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain", want: "plain"},
		{in: "$1x$2", want: "${1}x${2}"},
		{in: "$12", want: "${12}"},
		{in: "${name}", want: "${name}"},
		{in: "$$1", want: "$$1"},
		{in: "cost $", want: "cost $"},
	}
	for _, tt := range tests {
		if got := expandReplacement(tt.in); got != tt.want {
			t.Errorf("expandReplacement(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDateFilters_DayFirst(t *testing.T) {
	for _, name := range []string{"dateparse", "fuzzytime"} {
		t.Run(name, func(t *testing.T) {
			ctx := NewTemplateContext()
			ctx.Dates = parser.DateOptions{DayFirst: true}

			got, err := ApplyFiltersWithContext("03/04/2024", []Filter{{Name: name}}, NewTemplateEngine(), ctx)
			if err != nil {
				t.Fatalf("ApplyFiltersWithContext() error = %v", err)
			}
			if got != "2024-04-03T00:00:00Z" {
				t.Errorf("%s day first = %q, want 2024-04-03T00:00:00Z", name, got)
			}

			got, err = ApplyFilters("03/04/2024", []Filter{{Name: name}})
			if err != nil {
				t.Fatalf("ApplyFilters() error = %v", err)
			}
			if got != "2024-03-04T00:00:00Z" {
				t.Errorf("%s month first = %q, want 2024-03-04T00:00:00Z", name, got)
			}
		})
	}
}
