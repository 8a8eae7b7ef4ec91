package project

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tracklane/copilot/internal/tools"
	"github.com/tracklane/copilot/pkg/models"
)

type queryMilestonesArgs struct {
	Status string `json:"status,omitempty" jsonschema:"enum=planned,enum=in_progress,enum=complete,description=Filter by milestone status"`
}

func (p *Pack) queryMilestonesSpec() tools.Spec {
	return tools.Spec{
		Name:        "query_milestones",
		Description: "List project milestones with status and due dates.",
		Schema:      tools.SchemaFor(&queryMilestonesArgs{}),
		Cacheable:   true,
		Handler:     p.queryMilestones,
	}
}

func (p *Pack) queryMilestones(ctx context.Context, args json.RawMessage, scope models.Scope) (json.RawMessage, error) {
	var q queryMilestonesArgs
	if err := json.Unmarshal(args, &q); err != nil {
		return nil, tools.Validation(err.Error())
	}
	filter := map[string]any{}
	if q.Status != "" {
		filter["status"] = q.Status
	}
	rows, err := p.provider.Query(ctx, "milestones", filter, scope)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"milestones": rows, "count": len(rows)})
}

type updateMilestoneArgs struct {
	Milestone string `json:"milestone" jsonschema:"description=Milestone id or name or reference code"`
	Status    string `json:"status,omitempty" jsonschema:"enum=planned,enum=in_progress,enum=complete,description=New status"`
	DueDate   string `json:"due_date,omitempty" jsonschema:"description=New due date in YYYY-MM-DD form"`
}

func (p *Pack) updateMilestoneSpec() tools.Spec {
	return tools.Spec{
		Name:               "update_milestone",
		Description:        "Change a milestone's status or due date. Requires confirmation.",
		Schema:             tools.SchemaFor(&updateMilestoneArgs{}),
		Mutating:           true,
		RequiredCapability: CapUpdateMilestones,
		Preview:            p.previewUpdateMilestone,
		Execute:            p.executeUpdateMilestone,
	}
}

func (p *Pack) resolveMilestoneUpdate(ctx context.Context, args json.RawMessage, scope models.Scope) (tools.Entity, updateMilestoneArgs, error) {
	var a updateMilestoneArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tools.Entity{}, a, tools.Validation(err.Error())
	}
	if a.Status == "" && a.DueDate == "" {
		return tools.Entity{}, a, tools.Validation("nothing to change: provide status or due_date")
	}
	entity, err := tools.Resolve(ctx, p, "milestones", a.Milestone, scope)
	if err != nil {
		return tools.Entity{}, a, err
	}
	return entity, a, nil
}

func (p *Pack) previewUpdateMilestone(ctx context.Context, args json.RawMessage, scope models.Scope) (json.RawMessage, error) {
	entity, a, err := p.resolveMilestoneUpdate(ctx, args, scope)
	if err != nil {
		return nil, err
	}

	change := ""
	if a.Status != "" {
		change = fmt.Sprintf("status to %q", a.Status)
	}
	if a.DueDate != "" {
		if change != "" {
			change += " and "
		}
		change += fmt.Sprintf("due date to %s", a.DueDate)
	}
	return json.Marshal(map[string]any{
		"milestone_id": entity.ID,
		"message":      fmt.Sprintf("This will change milestone %q %s.", entity.Name, change),
	})
}

func (p *Pack) executeUpdateMilestone(ctx context.Context, args json.RawMessage, scope models.Scope) (json.RawMessage, error) {
	// Re-resolve at execute time; an identifier that became ambiguous or
	// stale since preview fails closed instead of guessing.
	entity, a, err := p.resolveMilestoneUpdate(ctx, args, scope)
	if err != nil {
		return nil, err
	}

	change := map[string]any{"id": entity.ID}
	if a.Status != "" {
		change["status"] = a.Status
	}
	if a.DueDate != "" {
		change["due_date"] = a.DueDate
	}
	if _, err := p.provider.Exec(ctx, "update_milestone", change, scope); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"success": true,
		"message": fmt.Sprintf("Milestone %q updated.", entity.Name),
	})
}
