// Package tools defines the typed tool catalog: named capabilities with
// argument schemas, cacheability, mutation flags, and required capabilities.
// The catalog is resolved once at startup; unknown names are rejected at the
// boundary instead of via runtime reflection.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/invopop/jsonschema"
	schemavalidate "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tracklane/copilot/pkg/models"
)

// Handler executes one tool call against the data provider. args have
// already been validated against the tool's schema.
type Handler func(ctx context.Context, args json.RawMessage, scope models.Scope) (json.RawMessage, error)

// Spec describes a single named capability. Mutating tools carry a Preview
// handler (read-only, produces the human-readable effect summary) and an
// Execute handler (performs the mutation); read tools carry only Handler.
type Spec struct {
	Name               string
	Description        string
	Schema             json.RawMessage
	Cacheable          bool
	Mutating           bool
	RequiredCapability string

	Handler Handler
	Preview Handler
	Execute Handler
}

// Registry is the static catalog of tools, loaded at process start.
// Lookups after startup are read-only and lock-free contention is minimal,
// but registration is still guarded for safety in tests.
type Registry struct {
	mu       sync.RWMutex
	specs    map[string]Spec
	compiled map[string]*schemavalidate.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		specs:    make(map[string]Spec),
		compiled: make(map[string]*schemavalidate.Schema),
	}
}

// Register adds a spec to the catalog, compiling its schema. It rejects
// inconsistent specs: mutating tools must not be cacheable and must carry
// both Preview and Execute; read tools must carry Handler.
func (r *Registry) Register(spec Spec) error {
	if spec.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if spec.Mutating {
		if spec.Cacheable {
			return fmt.Errorf("tool %s: mutating tools are never cacheable", spec.Name)
		}
		if spec.Preview == nil || spec.Execute == nil {
			return fmt.Errorf("tool %s: mutating tools need preview and execute handlers", spec.Name)
		}
	} else if spec.Handler == nil {
		return fmt.Errorf("tool %s: read tools need a handler", spec.Name)
	}

	schema := spec.Schema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
		spec.Schema = schema
	}
	compiled, err := schemavalidate.CompileString(spec.Name+".schema.json", string(schema))
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", spec.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("tool %s: already registered", spec.Name)
	}
	r.specs[spec.Name] = spec
	r.compiled[spec.Name] = compiled
	return nil
}

// Get returns the spec for name.
func (r *Registry) Get(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// List returns all specs sorted by name.
func (r *Registry) List() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidateArgs checks args against the tool's compiled schema.
func (r *Registry) ValidateArgs(name string, args json.RawMessage) error {
	r.mu.RLock()
	compiled, ok := r.compiled[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("tool %s: not registered", name)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return &Error{Kind: models.ErrValidation, Message: fmt.Sprintf("arguments are not valid JSON: %v", err)}
	}
	if err := compiled.Validate(decoded); err != nil {
		return &Error{Kind: models.ErrValidation, Message: err.Error()}
	}
	return nil
}

// SchemaFor derives a JSON schema from a Go argument struct. Tool packs use
// this so the schema and the decoded type cannot drift apart.
func SchemaFor(v any) json.RawMessage {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	schema := reflector.Reflect(v)
	schema.Version = "" // validators receive a bare object schema
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}
