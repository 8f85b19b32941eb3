package settings

import (
	"errors"
	"testing"

	"github.com/slipstream/searchd/internal/indexer/types"
)

func TestSchema_Resolve(t *testing.T) {
	schema := Schema{
		{Name: "username", Type: FieldText, Required: true},
		{Name: "password", Type: FieldPassword, Required: true},
		{Name: "freeleech", Type: FieldCheckbox, Default: "false"},
		{Name: "sort", Type: FieldSelect, Default: "added", Options: map[string]string{"added": "Added", "seeders": "Seeders"}},
		{Name: "notice", Type: FieldInfo},
	}

	values, err := schema.Resolve(map[string]string{
		"username":  "alice",
		"password":  "hunter2",
		"freeleech": "on",
		"extra":     "kept",
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if values.String("sort") != "added" {
		t.Errorf("sort = %q, want default", values.String("sort"))
	}
	if !values.Bool("freeleech") {
		t.Error("freeleech should resolve to true")
	}
	if values.String("extra") != "kept" {
		t.Error("unknown keys should pass through")
	}
	if secrets := schema.Secrets(values); len(secrets) != 1 || secrets[0] != "hunter2" {
		t.Errorf("Secrets() = %v", secrets)
	}
}

func TestSchema_ResolveErrors(t *testing.T) {
	schema := Schema{
		{Name: "apiKey", Type: FieldPassword, Required: true},
		{Name: "sort", Type: FieldSelect, Options: map[string]string{"a": "A"}},
	}

	_, err := schema.Resolve(map[string]string{"sort": "z"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestValues_Int(t *testing.T) {
	v := Values{"n": " 42 ", "bad": "x"}
	if v.Int("n", 0) != 42 {
		t.Errorf("Int(n) = %d", v.Int("n", 0))
	}
	if v.Int("bad", 7) != 7 || v.Int("missing", 3) != 3 {
		t.Error("expected defaults for invalid and missing values")
	}
}
