package assistant

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracklane/copilot/internal/cache"
	"github.com/tracklane/copilot/pkg/models"
)

// Control field names the confirmation protocol reserves inside tool args.
// They are stripped before schema validation, hashing, and handler calls.
const (
	controlConfirmed = "confirmed"
	controlTicket    = "confirmation_ticket"
)

// DefaultTicketTTL bounds how long a previewed action stays confirmable.
const DefaultTicketTTL = 5 * time.Minute

type ticket struct {
	toolName string
	argsHash string
	issuedAt time.Time
	used     bool
}

// ConfirmationGate issues and consumes single-use tickets for mutating tool
// calls. A ticket binds the previewed tool name and argument hash; consuming
// it is atomic, so concurrent confirmations of the same ticket execute the
// mutation at most once and the loser receives a validation error.
type ConfirmationGate struct {
	mu      sync.Mutex
	tickets map[string]*ticket
	ttl     time.Duration
}

// NewConfirmationGate creates a gate with the given ticket TTL.
func NewConfirmationGate(ttl time.Duration) *ConfirmationGate {
	if ttl <= 0 {
		ttl = DefaultTicketTTL
	}
	return &ConfirmationGate{
		tickets: make(map[string]*ticket),
		ttl:     ttl,
	}
}

// Issue records a previewed action and returns its ticket id.
func (g *ConfirmationGate) Issue(toolName string, args json.RawMessage, scope models.Scope) string {
	return g.IssueAt(toolName, args, scope, time.Now())
}

// IssueAt is Issue with an explicit clock, for tests.
func (g *ConfirmationGate) IssueAt(toolName string, args json.RawMessage, scope models.Scope, now time.Time) string {
	id := uuid.NewString()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tickets[id] = &ticket{
		toolName: toolName,
		argsHash: cache.Key(toolName, args, scope.Key()),
		issuedAt: now,
	}
	return id
}

// Consume validates and spends a ticket. It fails if the ticket is unknown,
// expired, already used, or bound to different arguments than the ones now
// being confirmed.
func (g *ConfirmationGate) Consume(ticketID, toolName string, args json.RawMessage, scope models.Scope) error {
	return g.ConsumeAt(ticketID, toolName, args, scope, time.Now())
}

// ConsumeAt is Consume with an explicit clock, for tests.
func (g *ConfirmationGate) ConsumeAt(ticketID, toolName string, args json.RawMessage, scope models.Scope, now time.Time) error {
	if ticketID == "" {
		return fmt.Errorf("confirmation requires the ticket issued with the preview")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tickets[ticketID]
	if !ok {
		return fmt.Errorf("unknown confirmation ticket")
	}
	if t.used {
		return fmt.Errorf("confirmation ticket already used")
	}
	if now.Sub(t.issuedAt) > g.ttl {
		delete(g.tickets, ticketID)
		return fmt.Errorf("confirmation ticket expired; request a new preview")
	}
	if t.toolName != toolName {
		return fmt.Errorf("confirmation ticket was issued for a different tool")
	}
	if t.argsHash != cache.Key(toolName, args, scope.Key()) {
		return fmt.Errorf("arguments differ from the previewed action; request a new preview")
	}
	t.used = true
	return nil
}

// Prune drops expired tickets, returning how many were removed.
func (g *ConfirmationGate) Prune() int {
	return g.PruneAt(time.Now())
}

// PruneAt is Prune with an explicit clock, for tests.
func (g *ConfirmationGate) PruneAt(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for id, t := range g.tickets {
		if t.used || now.Sub(t.issuedAt) > g.ttl {
			delete(g.tickets, id)
			removed++
		}
	}
	return removed
}

// splitControls separates the protocol's control fields from the tool's own
// arguments. The returned args are what gets validated, hashed, and passed
// to handlers.
func splitControls(raw json.RawMessage) (args json.RawMessage, confirmed bool, ticketID string, err error) {
	if len(raw) == 0 {
		return json.RawMessage(`{}`), false, "", nil
	}

	var fields map[string]json.RawMessage
	if unmarshalErr := json.Unmarshal(raw, &fields); unmarshalErr != nil {
		return nil, false, "", fmt.Errorf("arguments are not a JSON object: %w", unmarshalErr)
	}

	if v, ok := fields[controlConfirmed]; ok {
		if unmarshalErr := json.Unmarshal(v, &confirmed); unmarshalErr != nil {
			return nil, false, "", fmt.Errorf("%s must be a boolean", controlConfirmed)
		}
		delete(fields, controlConfirmed)
	}
	if v, ok := fields[controlTicket]; ok {
		if unmarshalErr := json.Unmarshal(v, &ticketID); unmarshalErr != nil {
			return nil, false, "", fmt.Errorf("%s must be a string", controlTicket)
		}
		delete(fields, controlTicket)
	}

	args, err = json.Marshal(fields)
	if err != nil {
		return nil, false, "", err
	}
	return args, confirmed, ticketID, nil
}

// previewEnvelope wraps a preview payload with the confirmation controls
// the caller needs to proceed.
func previewEnvelope(preview json.RawMessage, ticketID string) json.RawMessage {
	envelope := map[string]any{
		"requires_confirmation": true,
		controlTicket:           ticketID,
		"preview":               preview,
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return preview
	}
	return raw
}

// isNoopPreview reports whether a preview declared there is nothing to do,
// in which case no ticket is issued and the caller never reaches the
// confirmation step.
func isNoopPreview(preview json.RawMessage) bool {
	var probe struct {
		Noop bool `json:"noop"`
	}
	if err := json.Unmarshal(preview, &probe); err != nil {
		return false
	}
	return probe.Noop
}
