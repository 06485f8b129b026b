// Package credential supplies access tokens for authenticated API calls and
// resolves the identity of the signed-in actor.
package credential

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// ErrNoCredentials is returned when no access token is available, for
// example after sign-out.
var ErrNoCredentials = errors.New("no access token available")

// Provider supplies the bearer token attached to outbound requests.
type Provider interface {
	AccessToken(ctx context.Context) (string, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (string, error)

func (f ProviderFunc) AccessToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static returns a provider that always supplies token. An empty token
// yields ErrNoCredentials.
func Static(token string) Provider {
	return ProviderFunc(func(context.Context) (string, error) {
		if token == "" {
			return "", ErrNoCredentials
		}
		return token, nil
	})
}

// FromTokenSource adapts an oauth2 token source. Wrap the source with
// oauth2.ReuseTokenSource to avoid refreshing on every call.
func FromTokenSource(src oauth2.TokenSource) Provider {
	return ProviderFunc(func(context.Context) (string, error) {
		tok, err := src.Token()
		if err != nil {
			return "", fmt.Errorf("access token refresh failed: %w", err)
		}

		if !tok.Valid() {
			return "", ErrNoCredentials
		}

		return tok.AccessToken, nil
	})
}
