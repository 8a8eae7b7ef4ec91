package project

import (
	"context"
	"encoding/json"

	"github.com/tracklane/copilot/internal/tools"
	"github.com/tracklane/copilot/pkg/models"
)

type budgetSummaryArgs struct{}

func (p *Pack) budgetSummarySpec() tools.Spec {
	return tools.Spec{
		Name:        "budget_summary",
		Description: "Summarize the project budget: total, spent, and remaining.",
		Schema:      tools.SchemaFor(&budgetSummaryArgs{}),
		Cacheable:   true,
		Handler:     p.budgetSummary,
	}
}

func (p *Pack) budgetSummary(ctx context.Context, args json.RawMessage, scope models.Scope) (json.RawMessage, error) {
	rows, err := p.provider.Query(ctx, "budget", nil, scope)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, tools.NotFound("no budget recorded for this project")
	}

	row := rows[0]
	total := rowFloat(row, "total")
	spent := rowFloat(row, "spent")
	return json.Marshal(map[string]any{
		"currency":  rowString(row, "currency"),
		"total":     total,
		"spent":     spent,
		"remaining": total - spent,
	})
}
