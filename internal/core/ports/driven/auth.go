package driven

import "github.com/custodia-labs/collect-core/internal/core/domain"

// TokenService signs and verifies API bearer tokens.
type TokenService interface {
	GenerateToken(claims *domain.TokenClaims) (string, error)
	ParseToken(token string) (*domain.TokenClaims, error)
}
