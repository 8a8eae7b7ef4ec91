package project

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tracklane/copilot/internal/tools"
	"github.com/tracklane/copilot/pkg/models"
)

type queryTimesheetsArgs struct {
	Status string `json:"status,omitempty" jsonschema:"enum=draft,enum=submitted,enum=approved,description=Filter by timesheet status"`
	Week   int    `json:"week,omitempty" jsonschema:"description=ISO week number to filter by"`
}

func (p *Pack) queryTimesheetsSpec() tools.Spec {
	return tools.Spec{
		Name:        "query_timesheets",
		Description: "List the caller's timesheets, optionally filtered by status or week.",
		Schema:      tools.SchemaFor(&queryTimesheetsArgs{}),
		Cacheable:   true,
		Handler:     p.queryTimesheets,
	}
}

func (p *Pack) queryTimesheets(ctx context.Context, args json.RawMessage, scope models.Scope) (json.RawMessage, error) {
	var q queryTimesheetsArgs
	if err := json.Unmarshal(args, &q); err != nil {
		return nil, tools.Validation(err.Error())
	}

	filter := map[string]any{}
	if q.Status != "" {
		filter["status"] = q.Status
	}
	if q.Week != 0 {
		filter["week"] = q.Week
	}

	rows, err := p.provider.Query(ctx, "timesheets", filter, scope)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"timesheets": rows, "count": len(rows)})
}

type submitTimesheetsArgs struct {
	Week int `json:"week,omitempty" jsonschema:"description=Restrict submission to one ISO week"`
}

func (p *Pack) submitTimesheetsSpec() tools.Spec {
	return tools.Spec{
		Name:               "submit_timesheets",
		Description:        "Submit the caller's draft timesheets for approval. Requires confirmation.",
		Schema:             tools.SchemaFor(&submitTimesheetsArgs{}),
		Mutating:           true,
		RequiredCapability: CapSubmitTimesheets,
		Preview:            p.previewSubmitTimesheets,
		Execute:            p.executeSubmitTimesheets,
	}
}

func (p *Pack) draftTimesheets(ctx context.Context, args json.RawMessage, scope models.Scope) ([]map[string]any, error) {
	var a submitTimesheetsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, tools.Validation(err.Error())
	}
	filter := map[string]any{"status": "draft"}
	if a.Week != 0 {
		filter["week"] = a.Week
	}
	return p.provider.Query(ctx, "timesheets", filter, scope)
}

func (p *Pack) previewSubmitTimesheets(ctx context.Context, args json.RawMessage, scope models.Scope) (json.RawMessage, error) {
	drafts, err := p.draftTimesheets(ctx, args, scope)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return json.Marshal(map[string]any{
			"noop":    true,
			"message": "0 timesheets found in draft status; nothing to submit.",
		})
	}

	var totalHours float64
	for _, row := range drafts {
		totalHours += rowFloat(row, "hours")
	}
	return json.Marshal(map[string]any{
		"count":       len(drafts),
		"total_hours": totalHours,
		"message":     fmt.Sprintf("This will submit %d draft timesheet(s) totaling %.1f hours for approval.", len(drafts), totalHours),
	})
}

func (p *Pack) executeSubmitTimesheets(ctx context.Context, args json.RawMessage, scope models.Scope) (json.RawMessage, error) {
	// Re-query at execute time: the confirmed set is whatever is still in
	// draft, never a stale snapshot from preview time.
	drafts, err := p.draftTimesheets(ctx, args, scope)
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, tools.Validation("no draft timesheets remain; the previewed submission is stale")
	}

	ids := make([]any, len(drafts))
	for i, row := range drafts {
		ids[i] = row["id"]
	}
	if _, err := p.provider.Exec(ctx, "submit_timesheets", map[string]any{"ids": ids}, scope); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"success": true,
		"message": fmt.Sprintf("%d timesheet(s) submitted for approval.", len(ids)),
	})
}
