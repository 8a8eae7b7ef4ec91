package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/tracklane/copilot/pkg/models"
)

type fakeSource struct {
	entities []Entity
	err      error
}

func (f *fakeSource) ListEntities(ctx context.Context, entityType string, scope models.Scope) ([]Entity, error) {
	return f.entities, f.err
}

func TestResolve_ExactID(t *testing.T) {
	src := &fakeSource{entities: []Entity{
		{ID: "m-1", Name: "Phase 1"},
		{ID: "m-2", Name: "Phase 1 Review"},
	}}
	e, err := Resolve(context.Background(), src, "milestone", "m-2", models.Scope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Name != "Phase 1 Review" {
		t.Errorf("resolved %q, want Phase 1 Review", e.Name)
	}
}

func TestResolve_FullNameStillAmbiguous(t *testing.T) {
	src := &fakeSource{entities: []Entity{
		{ID: "m-1", Name: "Phase 1"},
		{ID: "m-2", Name: "Phase 1 Review"},
	}}
	// "Phase 1" is one entity's full name but also a fragment of another's;
	// names have no exact-match tier, so the resolver must not pick one.
	_, err := Resolve(context.Background(), src, "milestone", "phase 1", models.Scope{})
	var ambiguous *AmbiguousError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("expected AmbiguousError, got %v", err)
	}
	if len(ambiguous.Candidates) != 2 {
		t.Fatalf("expected both candidates reported, got %d", len(ambiguous.Candidates))
	}
	if ambiguous.Candidates[0].ID != "m-1" || ambiguous.Candidates[1].ID != "m-2" {
		t.Errorf("candidates = %+v, want m-1 and m-2", ambiguous.Candidates)
	}
}

func TestResolve_AmbiguousPartial(t *testing.T) {
	src := &fakeSource{entities: []Entity{
		{ID: "m-1", Name: "Phase 1 Build"},
		{ID: "m-2", Name: "Phase 1 Review"},
	}}
	_, err := Resolve(context.Background(), src, "milestone", "Phase 1", models.Scope{})
	var ambiguous *AmbiguousError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("expected AmbiguousError, got %v", err)
	}
	if len(ambiguous.Candidates) != 2 {
		t.Errorf("expected both candidates reported, got %d", len(ambiguous.Candidates))
	}
	if Classify(err) != models.ErrValidation {
		t.Error("ambiguity must classify as validation")
	}
}

func TestResolve_NotFound(t *testing.T) {
	src := &fakeSource{entities: []Entity{{ID: "m-1", Name: "Phase 1"}}}
	_, err := Resolve(context.Background(), src, "milestone", "Phase 9", models.Scope{})
	if Classify(err) != models.ErrNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestResolve_RefCode(t *testing.T) {
	src := &fakeSource{entities: []Entity{{ID: "m-1", Name: "Kickoff", Ref: "MS-002"}}}
	e, err := Resolve(context.Background(), src, "milestone", "ms-002", models.Scope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.ID != "m-1" {
		t.Errorf("resolved %s, want m-1", e.ID)
	}
}

func TestResolve_EmptyIdentifier(t *testing.T) {
	src := &fakeSource{}
	_, err := Resolve(context.Background(), src, "milestone", "  ", models.Scope{})
	if Classify(err) != models.ErrValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}
