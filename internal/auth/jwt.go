// Package auth issues and verifies the signed caller-context tokens the
// gateway accepts. A token carries the caller's identity, tenant/project
// scope, and capability set; authorization decisions downstream trust these
// claims, so verification failures reject the request outright.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tracklane/copilot/pkg/models"
)

var (
	// ErrAuthDisabled is returned when no signing secret is configured.
	ErrAuthDisabled = errors.New("auth: no signing secret configured")

	// ErrInvalidToken covers expired, malformed, or tampered tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims binds a caller context to the registered JWT claims.
type Claims struct {
	Role         string   `json:"role,omitempty"`
	TenantID     string   `json:"tenant_id"`
	ProjectID    string   `json:"project_id,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies caller tokens with a shared HMAC secret.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService builds a token helper. A zero expiry issues tokens that
// never expire; intended for tests only.
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), expiry: expiry}
}

// Generate issues a signed token for the given caller.
func (s *TokenService) Generate(caller models.CallerContext) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(caller.UserID) == "" {
		return "", errors.New("auth: caller user id required")
	}
	if strings.TrimSpace(caller.TenantID) == "" {
		return "", errors.New("auth: caller tenant id required")
	}

	claims := Claims{
		Role:         caller.Role,
		TenantID:     caller.TenantID,
		ProjectID:    caller.ProjectID,
		Capabilities: caller.Capabilities,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  caller.UserID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if s.expiry != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses a token and returns the caller context embedded in it.
func (s *TokenService) Validate(token string) (models.CallerContext, error) {
	if s == nil || len(s.secret) == 0 {
		return models.CallerContext{}, ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return models.CallerContext{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return models.CallerContext{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.TenantID) == "" {
		return models.CallerContext{}, ErrInvalidToken
	}
	return models.CallerContext{
		UserID:       claims.Subject,
		Role:         claims.Role,
		TenantID:     claims.TenantID,
		ProjectID:    claims.ProjectID,
		Capabilities: claims.Capabilities,
	}, nil
}
