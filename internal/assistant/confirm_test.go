package assistant

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/tracklane/copilot/pkg/models"
)

var testScope = models.Scope{TenantID: "t1", ProjectID: "p1", UserID: "alice"}

func TestSplitControls(t *testing.T) {
	raw := json.RawMessage(`{"week":"2026-08-24","confirmed":true,"confirmation_ticket":"tk-1"}`)
	args, confirmed, ticketID, err := splitControls(raw)
	if err != nil {
		t.Fatalf("splitControls: %v", err)
	}
	if !confirmed || ticketID != "tk-1" {
		t.Errorf("confirmed=%v ticket=%q, want true/tk-1", confirmed, ticketID)
	}
	var fields map[string]any
	if err := json.Unmarshal(args, &fields); err != nil {
		t.Fatalf("clean args: %v", err)
	}
	if _, ok := fields["confirmed"]; ok {
		t.Error("control field leaked into clean args")
	}
	if fields["week"] != "2026-08-24" {
		t.Errorf("tool arg lost: %v", fields)
	}
}

func TestSplitControlsEmptyAndInvalid(t *testing.T) {
	args, confirmed, ticketID, err := splitControls(nil)
	if err != nil || confirmed || ticketID != "" || string(args) != "{}" {
		t.Errorf("empty args: got %s/%v/%q/%v", args, confirmed, ticketID, err)
	}

	if _, _, _, err := splitControls(json.RawMessage(`[1,2]`)); err == nil {
		t.Error("expected error for non-object args")
	}
	if _, _, _, err := splitControls(json.RawMessage(`{"confirmed":"yes"}`)); err == nil {
		t.Error("expected error for non-boolean confirmed")
	}
}

func TestGateConsumeSingleUse(t *testing.T) {
	gate := NewConfirmationGate(time.Minute)
	args := json.RawMessage(`{"week":"2026-08-24"}`)
	id := gate.Issue("submit_timesheets", args, testScope)

	if err := gate.Consume(id, "submit_timesheets", args, testScope); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := gate.Consume(id, "submit_timesheets", args, testScope); err == nil {
		t.Error("second consume of the same ticket must fail")
	}
}

func TestGateRejectsMismatches(t *testing.T) {
	gate := NewConfirmationGate(time.Minute)
	args := json.RawMessage(`{"week":"2026-08-24"}`)
	id := gate.Issue("submit_timesheets", args, testScope)

	if err := gate.Consume(id, "update_milestone", args, testScope); err == nil {
		t.Error("ticket must be bound to the previewed tool")
	}
	if err := gate.Consume(id, "submit_timesheets", json.RawMessage(`{"week":"2026-08-31"}`), testScope); err == nil {
		t.Error("ticket must be bound to the previewed arguments")
	}
	if err := gate.Consume("", "submit_timesheets", args, testScope); err == nil {
		t.Error("missing ticket must be rejected")
	}
	if err := gate.Consume("no-such-ticket", "submit_timesheets", args, testScope); err == nil {
		t.Error("unknown ticket must be rejected")
	}
}

func TestGateTicketExpiry(t *testing.T) {
	gate := NewConfirmationGate(time.Minute)
	args := json.RawMessage(`{}`)
	now := time.Now()
	id := gate.IssueAt("submit_timesheets", args, testScope, now)

	err := gate.ConsumeAt(id, "submit_timesheets", args, testScope, now.Add(2*time.Minute))
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Errorf("expected expiry error, got %v", err)
	}
}

func TestGatePrune(t *testing.T) {
	gate := NewConfirmationGate(time.Minute)
	now := time.Now()
	gate.IssueAt("a", json.RawMessage(`{}`), testScope, now.Add(-2*time.Minute))
	fresh := gate.IssueAt("b", json.RawMessage(`{}`), testScope, now)

	if removed := gate.PruneAt(now); removed != 1 {
		t.Errorf("pruned %d tickets, want 1", removed)
	}
	if err := gate.ConsumeAt(fresh, "b", json.RawMessage(`{}`), testScope, now); err != nil {
		t.Errorf("fresh ticket pruned: %v", err)
	}
}

func TestPreviewEnvelopeAndNoop(t *testing.T) {
	envelope := previewEnvelope(json.RawMessage(`{"count":3}`), "tk-9")
	var decoded struct {
		RequiresConfirmation bool            `json:"requires_confirmation"`
		Ticket               string          `json:"confirmation_ticket"`
		Preview              json.RawMessage `json:"preview"`
	}
	if err := json.Unmarshal(envelope, &decoded); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if !decoded.RequiresConfirmation || decoded.Ticket != "tk-9" {
		t.Errorf("envelope = %s", envelope)
	}

	if !isNoopPreview(json.RawMessage(`{"noop":true,"message":"0 timesheets found"}`)) {
		t.Error("noop preview not detected")
	}
	if isNoopPreview(json.RawMessage(`{"count":3}`)) {
		t.Error("regular preview misdetected as noop")
	}
}
