package credential

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// Claims are the perkline-specific claims carried by access tokens.
type Claims struct {
	StoreID string `json:"store_id,omitempty"`
	Role    string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Session is the identity of the signed-in actor.
type Session struct {
	UserID  string
	StoreID string
	Role    string
}

// CurrentSession decodes the actor identity from the provider's access
// token. The token signature is not verified: the backend remains the
// authority, and the session is only used to fill in identifiers the caller
// omitted.
func CurrentSession(ctx context.Context, p Provider) (Session, error) {
	raw, err := p.AccessToken(ctx)
	if err != nil {
		return Session{}, err
	}

	return ParseSession(raw)
}

// ParseSession decodes the claims of a JWT access token.
func ParseSession(raw string) (Session, error) {
	var claims Claims
	_, _, err := jwt.NewParser().ParseUnverified(raw, &claims)
	if err != nil {
		return Session{}, fmt.Errorf("access token claims could not be read: %w", err)
	}

	return Session{
		UserID:  claims.Subject,
		StoreID: claims.StoreID,
		Role:    claims.Role,
	}, nil
}
