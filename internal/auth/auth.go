// Package auth verifies the hosted auth provider's access tokens and scopes
// requests to the identity they carry. Token issuance lives entirely in the
// provider; this side only checks signatures and claims.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rotisserie/eris"

	"github.com/cocorobi/cardpool/internal/config"
)

// Identity is the verified caller.
type Identity struct {
	UserID string
	Email  string
}

type contextKey struct{}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext extracts the identity placed by the middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// claims is the provider's access-token payload.
type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Verifier checks HS256 access tokens against the shared signing secret.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

func NewVerifier(cfg config.AuthConfig) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, eris.New("auth: signing secret not configured")
	}
	return &Verifier{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// Verify parses and validates a bearer token, returning the identity it
// asserts. Expiry and not-before are always enforced; issuer and audience
// only when configured.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, eris.Wrap(err, "auth: parse token")
	}
	if c.Subject == "" {
		return Identity{}, eris.New("auth: token has no subject")
	}
	return Identity{UserID: c.Subject, Email: c.Email}, nil
}
