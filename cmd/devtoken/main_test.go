package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/perkline/perkline/internal/config"
	"github.com/perkline/perkline/internal/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateJWT_RoundTripsSession(t *testing.T) {
	cfg := config.DevTokenConfig{SigningKey: "k", Issuer: "http://localhost:8080", Lifetime: time.Hour}
	now := time.Now().UTC()

	signed, err := createJWT(cfg, now, credential.Session{UserID: "partner-1", StoreID: "store-9", Role: "partner"})
	require.NoError(t, err)

	session, err := credential.ParseSession(signed)
	require.NoError(t, err)
	assert.Equal(t, credential.Session{UserID: "partner-1", StoreID: "store-9", Role: "partner"}, session)

	var claims credential.Claims
	_, err = jwt.ParseWithClaims(signed, &claims, func(*jwt.Token) (any, error) { return []byte("k"), nil })
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", claims.Issuer)
	assert.WithinDuration(t, now.Add(time.Hour), claims.ExpiresAt.Time, time.Second)
}

func TestCommand_PrintsToken(t *testing.T) {
	t.Setenv("DEVTOKEN_SIGNING_KEY", "secret")

	var out bytes.Buffer
	cmd := newCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"customer-7", "--store", "store-1"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))

	session, err := credential.ParseSession(out.String())
	require.NoError(t, err)
	assert.Equal(t, "customer-7", session.UserID)
	assert.Equal(t, "store-1", session.StoreID)
	assert.Equal(t, "customer", session.Role)
}

func TestCommand_RequiresUser(t *testing.T) {
	cmd := newCommand()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	assert.Error(t, cmd.ExecuteContext(context.Background()))
}
