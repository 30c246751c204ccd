package domain

import (
	"slices"
	"time"
)

// Scopes granted to API tokens.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

// TokenClaims represents the JWT token payload
type TokenClaims struct {
	Subject   string   `json:"sub"`
	Scopes    []string `json:"scopes"`
	IssuedAt  int64    `json:"iat"`
	ExpiresAt int64    `json:"exp"`
}

// NewTokenClaims builds claims valid for ttl from now.
func NewTokenClaims(subject string, scopes []string, ttl time.Duration) *TokenClaims {
	now := time.Now()
	return &TokenClaims{
		Subject:   subject,
		Scopes:    scopes,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
}

// AuthContext contains the authenticated caller for request context
type AuthContext struct {
	Subject string   `json:"subject"`
	Scopes  []string `json:"scopes"`
}

// CanWrite checks if the caller may mutate connections
func (a *AuthContext) CanWrite() bool {
	return slices.Contains(a.Scopes, ScopeWrite)
}
