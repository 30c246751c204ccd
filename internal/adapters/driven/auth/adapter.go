package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
)

var _ driven.TokenService = (*Adapter)(nil)

// Issuer is stamped on every token.
const Issuer = "collect-core"

type jwtClaims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Adapter signs and verifies HS256 API tokens.
type Adapter struct {
	secret []byte
}

// NewAdapter creates a token adapter. The secret must not be empty.
func NewAdapter(secret string) (*Adapter, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Adapter{secret: []byte(secret)}, nil
}

// GenerateToken signs claims.
func (a *Adapter) GenerateToken(claims *domain.TokenClaims) (string, error) {
	if claims == nil || claims.Subject == "" {
		return "", domain.MissingParam("generateToken", "subject")
	}
	jc := jwtClaims{
		Scopes: claims.Scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   claims.Subject,
			IssuedAt:  jwt.NewNumericDate(time.Unix(claims.IssuedAt, 0)),
			ExpiresAt: jwt.NewNumericDate(time.Unix(claims.ExpiresAt, 0)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jc).SignedString(a.secret)
}

// ParseToken verifies a token. Expired tokens fail with
// domain.ErrTokenExpired, anything else with domain.ErrTokenInvalid.
func (a *Adapter) ParseToken(token string) (*domain.TokenClaims, error) {
	var jc jwtClaims
	_, err := jwt.ParseWithClaims(token, &jc, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, domain.ErrTokenExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}

	claims := &domain.TokenClaims{
		Subject: jc.Subject,
		Scopes:  jc.Scopes,
	}
	if jc.IssuedAt != nil {
		claims.IssuedAt = jc.IssuedAt.Unix()
	}
	if jc.ExpiresAt != nil {
		claims.ExpiresAt = jc.ExpiresAt.Unix()
	}
	return claims, nil
}
