package project

import (
	"context"
	"encoding/json"

	"github.com/tracklane/copilot/internal/tools"
	"github.com/tracklane/copilot/pkg/models"
)

type queryRAIDArgs struct {
	Category string `json:"category,omitempty" jsonschema:"enum=risk,enum=assumption,enum=issue,enum=dependency,description=RAID category to filter by"`
	Status   string `json:"status,omitempty" jsonschema:"enum=open,enum=closed,description=Filter by item status"`
}

func (p *Pack) queryRAIDItemsSpec() tools.Spec {
	return tools.Spec{
		Name:        "query_raid_items",
		Description: "List RAID log items (risks, assumptions, issues, dependencies) for the project.",
		Schema:      tools.SchemaFor(&queryRAIDArgs{}),
		Cacheable:   true,
		Handler:     p.queryRAIDItems,
	}
}

func (p *Pack) queryRAIDItems(ctx context.Context, args json.RawMessage, scope models.Scope) (json.RawMessage, error) {
	var q queryRAIDArgs
	if err := json.Unmarshal(args, &q); err != nil {
		return nil, tools.Validation(err.Error())
	}
	filter := map[string]any{}
	if q.Category != "" {
		filter["category"] = q.Category
	}
	if q.Status != "" {
		filter["status"] = q.Status
	}
	rows, err := p.provider.Query(ctx, "raid_items", filter, scope)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"items": rows, "count": len(rows)})
}
