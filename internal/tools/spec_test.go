package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/tracklane/copilot/pkg/models"
)

func noopHandler(ctx context.Context, args json.RawMessage, scope models.Scope) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Spec{
		Name:      "query_things",
		Schema:    json.RawMessage(`{"type":"object","properties":{"status":{"type":"string","enum":["open","closed"]}}}`),
		Cacheable: true,
		Handler:   noopHandler,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, ok := r.Get("query_things"); !ok {
		t.Fatal("registered tool not found")
	}
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("unknown tool should not be found")
	}
}

func TestRegistry_RejectsInconsistentSpecs(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
	}{
		{"missing name", Spec{Handler: noopHandler}},
		{"mutating cacheable", Spec{Name: "x", Mutating: true, Cacheable: true, Preview: noopHandler, Execute: noopHandler}},
		{"mutating without preview", Spec{Name: "x", Mutating: true, Execute: noopHandler}},
		{"read without handler", Spec{Name: "x"}},
	}
	for _, tc := range cases {
		if err := NewRegistry().Register(tc.spec); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestRegistry_RejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	spec := Spec{Name: "dup", Handler: noopHandler}
	if err := r.Register(spec); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(spec); err == nil {
		t.Error("duplicate register should fail")
	}
}

func TestRegistry_ValidateArgs(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Spec{
		Name:    "query_things",
		Schema:  json.RawMessage(`{"type":"object","properties":{"week":{"type":"integer"}},"required":["week"]}`),
		Handler: noopHandler,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := r.ValidateArgs("query_things", json.RawMessage(`{"week":3}`)); err != nil {
		t.Errorf("valid args rejected: %v", err)
	}
	if err := r.ValidateArgs("query_things", json.RawMessage(`{"week":"three"}`)); err == nil {
		t.Error("type mismatch should fail validation")
	}
	if err := r.ValidateArgs("query_things", json.RawMessage(`{}`)); err == nil {
		t.Error("missing required field should fail validation")
	}
	if err := r.ValidateArgs("query_things", json.RawMessage(`not json`)); Classify(err) != models.ErrValidation {
		t.Error("malformed JSON should classify as validation")
	}
}

func TestSchemaFor(t *testing.T) {
	type args struct {
		Status string `json:"status,omitempty" jsonschema:"enum=draft,enum=submitted"`
		Week   int    `json:"week"`
	}
	raw := SchemaFor(&args{})

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		t.Fatalf("derived schema is not JSON: %v", err)
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("schema has no properties: %s", raw)
	}
	if _, ok := props["status"]; !ok {
		t.Error("status property missing")
	}
	if _, ok := props["week"]; !ok {
		t.Error("week property missing")
	}

	// Derived schemas must compile in the registry.
	r := NewRegistry()
	if err := r.Register(Spec{Name: "derived", Schema: raw, Handler: noopHandler}); err != nil {
		t.Fatalf("derived schema failed to compile: %v", err)
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(Spec{Name: name, Handler: noopHandler}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	list := r.List()
	if len(list) != 3 || list[0].Name != "alpha" || list[2].Name != "zeta" {
		t.Errorf("list not sorted: %+v", list)
	}
}
