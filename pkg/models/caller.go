package models

// CallerContext identifies the authenticated caller of a chat request and
// the restrictions applied to every data-provider call made on their behalf.
type CallerContext struct {
	UserID       string   `json:"user_id"`
	Role         string   `json:"role"`
	TenantID     string   `json:"tenant_id"`
	ProjectID    string   `json:"project_id,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// HasCapability reports whether the caller holds the named capability.
// An empty capability name requires nothing.
func (c CallerContext) HasCapability(name string) bool {
	if name == "" {
		return true
	}
	for _, capability := range c.Capabilities {
		if capability == name {
			return true
		}
	}
	return false
}

// Scope returns the tenant/project/caller restriction passed to the data
// provider alongside tool arguments.
func (c CallerContext) Scope() Scope {
	return Scope{TenantID: c.TenantID, ProjectID: c.ProjectID, UserID: c.UserID}
}

// Scope encodes the restriction context for data-provider calls. The engine
// never interprets it; it only guarantees it is derived from the
// authenticated caller.
type Scope struct {
	TenantID  string `json:"tenant_id"`
	ProjectID string `json:"project_id,omitempty"`
	UserID    string `json:"user_id"`
}

// Key returns a stable string form of the scope for cache keys.
func (s Scope) Key() string {
	return s.TenantID + "/" + s.ProjectID + "/" + s.UserID
}

// Snapshot holds small precomputed aggregates for the caller's current
// scope, refreshed out-of-band. It enables instant local answers without
// any model or provider call.
type Snapshot struct {
	Currency            string  `json:"currency,omitempty"`
	BudgetTotal         float64 `json:"budget_total"`
	BudgetSpent         float64 `json:"budget_spent"`
	OpenRisks           int     `json:"open_risks"`
	OpenIssues          int     `json:"open_issues"`
	OpenActions         int     `json:"open_actions"`
	DraftTimesheetHours float64 `json:"draft_timesheet_hours"`
	MilestonesDueSoon   int     `json:"milestones_due_soon"`
}
