package tools

import (
	"context"

	"github.com/tracklane/copilot/pkg/models"
)

// DataProvider is the query contract against the external data store. The
// engine never implements authorization logic itself; it only guarantees
// that the scope passed here is derived from the authenticated caller and
// that a capability check passed before calling through.
type DataProvider interface {
	// Query runs a read-only operation and returns matching rows.
	Query(ctx context.Context, op string, args map[string]any, scope models.Scope) ([]map[string]any, error)

	// Exec runs a mutating operation and returns its outcome. Callers must
	// treat it as non-idempotent: the engine never retries Exec.
	Exec(ctx context.Context, op string, args map[string]any, scope models.Scope) (map[string]any, error)
}
