package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/tracklane/copilot/pkg/models"
)

var testCaller = models.CallerContext{
	UserID:       "alice",
	Role:         "member",
	TenantID:     "t1",
	ProjectID:    "p1",
	Capabilities: []string{"timesheets:submit"},
}

func TestGenerateValidateRoundTrip(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)

	token, err := svc.Generate(testCaller)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	caller, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if caller.UserID != "alice" || caller.TenantID != "t1" || caller.ProjectID != "p1" {
		t.Errorf("caller = %+v", caller)
	}
	if len(caller.Capabilities) != 1 || caller.Capabilities[0] != "timesheets:submit" {
		t.Errorf("capabilities = %v", caller.Capabilities)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenService("secret-a", time.Hour).Generate(testCaller)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewTokenService("secret-b", time.Hour).Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	svc := NewTokenService("test-secret", -time.Minute)
	token, err := svc.Generate(testCaller)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("got %v, want ErrInvalidToken", err)
	}
}

func TestGenerateRequiresIdentity(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	if _, err := svc.Generate(models.CallerContext{TenantID: "t1"}); err == nil {
		t.Error("expected error for missing user id")
	}
	if _, err := svc.Generate(models.CallerContext{UserID: "alice"}); err == nil {
		t.Error("expected error for missing tenant id")
	}

	var disabled *TokenService
	if _, err := disabled.Generate(testCaller); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("nil service: got %v, want ErrAuthDisabled", err)
	}
	if _, err := NewTokenService("", time.Hour).Generate(testCaller); !errors.Is(err, ErrAuthDisabled) {
		t.Errorf("empty secret: got %v, want ErrAuthDisabled", err)
	}
}
