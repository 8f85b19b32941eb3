// Package settings describes indexer settings as explicit field descriptors
// and resolves raw configured values against them.
package settings

import (
	"errors"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/slipstream/searchd/internal/indexer/types"
)

// FieldType is the kind of input a settings field expects.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldPassword FieldType = "password"
	FieldCheckbox FieldType = "checkbox"
	FieldSelect   FieldType = "select"
	FieldCaptcha  FieldType = "captcha"
	FieldInfo     FieldType = "info"
)

// Field describes one setting.
type Field struct {
	Name     string            `json:"name"`
	Label    string            `json:"label"`
	Type     FieldType         `json:"type"`
	Default  string            `json:"default,omitempty"`
	Options  map[string]string `json:"options,omitempty"` // For select type
	Required bool              `json:"required,omitempty"`
}

// Secret reports whether values of this field must never be logged.
func (f Field) Secret() bool {
	return f.Type == FieldPassword || f.Type == FieldCaptcha
}

// Schema is the ordered field list for one adapter kind or definition.
type Schema []Field

// Field returns the descriptor for name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Values are resolved settings.
type Values map[string]string

// Resolve applies defaults and validates values against the schema.
// A missing required value is a configuration error.
func (s Schema) Resolve(raw map[string]string) (Values, error) {
	out := make(Values, len(s)+len(raw))
	maps.Copy(out, raw)

	var errs []error
	for _, f := range s {
		if f.Type == FieldInfo {
			continue
		}
		v, ok := raw[f.Name]
		if !ok || v == "" {
			v = f.Default
		}

		switch f.Type {
		case FieldCheckbox:
			v = normalizeBool(v)
		case FieldSelect:
			if v != "" && len(f.Options) > 0 {
				if _, ok := f.Options[v]; !ok {
					errs = append(errs, types.NewConfigError("setting %q: %q is not one of %s", f.Name, v, strings.Join(slices.Sorted(maps.Keys(f.Options)), ", ")))
					continue
				}
			}
		}

		if f.Required && strings.TrimSpace(v) == "" {
			errs = append(errs, types.NewConfigError("setting %q is required", f.Name))
			continue
		}
		out[f.Name] = v
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func normalizeBool(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return "true"
	default:
		return "false"
	}
}

// String returns the value for key, or "".
func (v Values) String(key string) string {
	return v[key]
}

// Bool returns the value for key as a bool.
func (v Values) Bool(key string) bool {
	return normalizeBool(v[key]) == "true"
}

// Int returns the value for key as an int, or def when unset or invalid.
func (v Values) Int(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v[key]))
	if err != nil {
		return def
	}
	return n
}

// Secrets returns the values of every secret field, for log redaction.
func (s Schema) Secrets(v Values) []string {
	var out []string
	for _, f := range s {
		if f.Secret() && v[f.Name] != "" {
			out = append(out, v[f.Name])
		}
	}
	return out
}

// Newznab is the field schema for Newznab/Torznab API indexers.
var Newznab = Schema{
	{Name: "apiPath", Label: "API Path", Type: FieldText, Default: "/api"},
	{Name: "apiKey", Label: "API Key", Type: FieldPassword},
	{Name: "categories", Label: "Categories", Type: FieldText},
	{Name: "additionalParameters", Label: "Additional Parameters", Type: FieldText},
	{Name: "minimumSeeders", Label: "Minimum Seeders", Type: FieldText, Default: "0"},
}

// RSS is the field schema for plain RSS/Atom feed indexers.
var RSS = Schema{
	{Name: "feedUrl", Label: "Feed URL", Type: FieldText, Required: true},
	{Name: "cookie", Label: "Cookie", Type: FieldPassword},
	{Name: "allowZeroSize", Label: "Allow Zero Size", Type: FieldCheckbox, Default: "false"},
	{Name: "defaultSize", Label: "Default Size (MB)", Type: FieldText, Default: "0"},
}
