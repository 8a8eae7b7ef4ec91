package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/tracklane/copilot/pkg/models"
)

// Entity is a resolvable target of an action tool.
type Entity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Ref  string `json:"ref,omitempty"`
}

// EntitySource lists candidate entities of a type within a scope. The data
// provider's row shape is adapted to this by each tool pack.
type EntitySource interface {
	ListEntities(ctx context.Context, entityType string, scope models.Scope) ([]Entity, error)
}

// AmbiguousError reports that an identifier matched more than one entity.
// Callers must disambiguate before confirming an action; the engine never
// guesses among candidates for a mutation.
type AmbiguousError struct {
	Identifier string
	Candidates []Entity
}

func (e *AmbiguousError) Error() string {
	names := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		names[i] = c.Name
	}
	return fmt.Sprintf("%q matches multiple entities: %s", e.Identifier, strings.Join(names, ", "))
}

// Resolve finds the single entity identified by identifier. An exact id or
// reference-code match wins outright; names match by case-insensitive
// substring, with no exact-name tier, so an identifier that is one entity's
// full name but also a fragment of another's is still ambiguous. Zero
// matches yield NotFound; more than one yields AmbiguousError with all
// candidates.
func Resolve(ctx context.Context, src EntitySource, entityType, identifier string, scope models.Scope) (Entity, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Entity{}, Validation("identifier is required")
	}

	entities, err := src.ListEntities(ctx, entityType, scope)
	if err != nil {
		return Entity{}, fmt.Errorf("list %s entities: %w", entityType, err)
	}

	lower := strings.ToLower(identifier)
	var partial []Entity
	for _, e := range entities {
		if e.ID == identifier || (e.Ref != "" && strings.EqualFold(e.Ref, identifier)) {
			return e, nil
		}
		if strings.Contains(strings.ToLower(e.Name), lower) {
			partial = append(partial, e)
		}
	}

	switch len(partial) {
	case 0:
		return Entity{}, NotFound(fmt.Sprintf("no %s matches %q", entityType, identifier))
	case 1:
		return partial[0], nil
	default:
		return Entity{}, &AmbiguousError{Identifier: identifier, Candidates: partial}
	}
}
