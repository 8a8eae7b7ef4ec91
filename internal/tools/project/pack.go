// Package project registers the project-tracking tool pack: timesheet,
// milestone, RAID and budget capabilities backed by the external data
// provider. Handlers only shape arguments and rows; all domain semantics
// live behind the provider contract.
package project

import (
	"context"
	"fmt"

	"github.com/tracklane/copilot/internal/tools"
	"github.com/tracklane/copilot/pkg/models"
)

// Capability names required for the mutating tools in this pack.
const (
	CapSubmitTimesheets = "timesheets:submit"
	CapUpdateMilestones = "milestones:update"
)

// Pack wires the project tools to a data provider.
type Pack struct {
	provider tools.DataProvider
}

// NewPack creates a tool pack over the given provider.
func NewPack(provider tools.DataProvider) *Pack {
	return &Pack{provider: provider}
}

// Register adds every tool in the pack to the registry.
func (p *Pack) Register(reg *tools.Registry) error {
	specs := []tools.Spec{
		p.queryTimesheetsSpec(),
		p.submitTimesheetsSpec(),
		p.queryMilestonesSpec(),
		p.updateMilestoneSpec(),
		p.queryRAIDItemsSpec(),
		p.budgetSummarySpec(),
	}
	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			return fmt.Errorf("register %s: %w", spec.Name, err)
		}
	}
	return nil
}

// ListEntities adapts provider rows to resolvable entities so action tools
// can use tools.Resolve.
func (p *Pack) ListEntities(ctx context.Context, entityType string, scope models.Scope) ([]tools.Entity, error) {
	rows, err := p.provider.Query(ctx, entityType, nil, scope)
	if err != nil {
		return nil, err
	}
	entities := make([]tools.Entity, 0, len(rows))
	for _, row := range rows {
		entities = append(entities, tools.Entity{
			ID:   rowString(row, "id"),
			Name: rowString(row, "name"),
			Ref:  rowString(row, "ref"),
		})
	}
	return entities, nil
}

func rowString(row map[string]any, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func rowFloat(row map[string]any, key string) float64 {
	switch v := row[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
