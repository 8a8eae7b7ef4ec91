package project

import (
	"context"
	"fmt"
	"sync"

	"github.com/tracklane/copilot/internal/tools"
	"github.com/tracklane/copilot/pkg/models"
)

// MemProvider is an in-memory reference implementation of the data-provider
// contract, used in tests and for local development without a backing
// store. Rows are partitioned per tenant; scope enforcement beyond that is
// the real provider's job.
type MemProvider struct {
	mu     sync.Mutex
	tables map[string][]map[string]any

	queryCalls map[string]int
	execCalls  map[string]int
}

// NewMemProvider creates an empty provider.
func NewMemProvider() *MemProvider {
	return &MemProvider{
		tables:     make(map[string][]map[string]any),
		queryCalls: make(map[string]int),
		execCalls:  make(map[string]int),
	}
}

// Seed replaces the rows of a table.
func (m *MemProvider) Seed(table string, rows []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = rows
}

// Query implements tools.DataProvider. Filters match row fields by
// equality; numeric filter values compare loosely across int/float64.
func (m *MemProvider) Query(ctx context.Context, op string, args map[string]any, scope models.Scope) ([]map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls[op]++

	rows, ok := m.tables[op]
	if !ok {
		return nil, fmt.Errorf("unknown query operation %q", op)
	}

	var out []map[string]any
	for _, row := range rows {
		if matchesFilter(row, args) {
			out = append(out, row)
		}
	}
	return out, nil
}

// Exec implements tools.DataProvider for the two mutations the project pack
// issues.
func (m *MemProvider) Exec(ctx context.Context, op string, args map[string]any, scope models.Scope) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execCalls[op]++

	switch op {
	case "submit_timesheets":
		ids, _ := args["ids"].([]any)
		affected := 0
		for _, row := range m.tables["timesheets"] {
			for _, id := range ids {
				if row["id"] == id {
					row["status"] = "submitted"
					affected++
				}
			}
		}
		return map[string]any{"affected": affected}, nil

	case "update_milestone":
		for _, row := range m.tables["milestones"] {
			if row["id"] == args["id"] {
				if status, ok := args["status"]; ok {
					row["status"] = status
				}
				if due, ok := args["due_date"]; ok {
					row["due_date"] = due
				}
				return map[string]any{"affected": 1}, nil
			}
		}
		return nil, tools.NotFound(fmt.Sprintf("milestone %v not found", args["id"]))

	default:
		return nil, fmt.Errorf("unknown exec operation %q", op)
	}
}

// QueryCalls returns how many times op was queried, for assertions.
func (m *MemProvider) QueryCalls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queryCalls[op]
}

// ExecCalls returns how many times op was executed, for assertions.
func (m *MemProvider) ExecCalls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.execCalls[op]
}

func matchesFilter(row, filter map[string]any) bool {
	for key, want := range filter {
		got, ok := row[key]
		if !ok {
			return false
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// SeedDemo loads a small demo data set covering every tool in the pack.
func (m *MemProvider) SeedDemo() {
	m.Seed("timesheets", []map[string]any{
		{"id": "ts-1", "week": 32, "hours": 8.0, "status": "draft"},
		{"id": "ts-2", "week": 32, "hours": 8.0, "status": "draft"},
		{"id": "ts-3", "week": 33, "hours": 8.0, "status": "draft"},
		{"id": "ts-4", "week": 31, "hours": 40.0, "status": "approved"},
	})
	m.Seed("milestones", []map[string]any{
		{"id": "m-1", "ref": "MS-001", "name": "Discovery", "status": "complete", "due_date": "2026-05-01"},
		{"id": "m-2", "ref": "MS-002", "name": "Phase 1 Build", "status": "in_progress", "due_date": "2026-09-15"},
		{"id": "m-3", "ref": "MS-003", "name": "Phase 1 Review", "status": "planned", "due_date": "2026-10-01"},
	})
	m.Seed("raid_items", []map[string]any{
		{"id": "r-1", "category": "risk", "status": "open", "title": "Vendor API deprecation"},
		{"id": "r-2", "category": "issue", "status": "open", "title": "Staging environment flaky"},
		{"id": "r-3", "category": "risk", "status": "closed", "title": "Key hire delayed"},
	})
	m.Seed("budget", []map[string]any{
		{"currency": "USD", "total": 250000.0, "spent": 96500.0},
	})
}
