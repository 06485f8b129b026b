package testhelpers

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/perkline/perkline/internal/credential"
	"github.com/stretchr/testify/require"
)

// CreateAccessToken signs an HS256 access token carrying the given actor
// identifiers. An empty storeID omits the claim.
func CreateAccessToken(t *testing.T, userID, storeID string) string {
	t.Helper()

	claims := credential.Claims{
		StoreID: storeID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    "https://auth.perkline.test",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
	require.NoError(t, err, "failed to sign access token")

	return signed
}
