package token_test

import (
	"context"
	"encoding/json"
	"testing"
	"unicode/utf8"

	"github.com/perkline/perkline/internal/apierror"
	"github.com/perkline/perkline/internal/credential"
	"github.com/perkline/perkline/internal/request"
	"github.com/perkline/perkline/internal/testhelpers"
	"github.com/perkline/perkline/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"abc123", "abc123"},
		{"  abc123\n", "abc123"},
		{`"abc123"`, "abc123"},
		{"'abc123'", "abc123"},
		{"perkline://token/abc123", "abc123"},
		{"PERKLINE://TOKEN/abc123", "abc123"},
		{"perkline:abc123", "abc123"},
		{"QR:abc123", "abc123"},
		{`{"token":"abc123"}`, "abc123"},
		{` '{"token": "QR:abc123"}' `, "abc123"},
		{"QR: perkline:abc123", "abc123"},
		{"Qr:abc123", "abc123"},
		{"qr", "qr"},
		// KELVIN SIGN lowercases to a single-byte k
		{"per\u212Aline:abc123", "per\u212Aline:abc123"},
		{"{not json", "{not json"},
		{"", ""},
		{`""`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			normalized := token.Normalize(tt.raw)
			assert.Equal(t, tt.expected, normalized)
			assert.True(t, utf8.ValidString(normalized))
		})
	}
}

func newValidator(t *testing.T, api *testhelpers.MockAPIServer, creds credential.Provider) *token.Validator {
	t.Helper()

	ex := request.New(api.URL(), request.WithCredentials(creds))
	return token.NewValidator(ex, creds, "/qr-token/validate", apierror.NewTranslator(language.English))
}

func TestValidate_Success(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("POST", "/qr-token/validate", testhelpers.JSON(200, map[string]any{
		"valid":      true,
		"customerId": "cust-1",
		"reward":     "10% off",
	}))

	v := newValidator(t, api, credential.Static(testhelpers.CreateAccessToken(t, "partner-1", "store-1")))

	result, err := v.Validate(context.Background(), "perkline://token/abc123", token.Identifiers{})
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.Equal(t, "cust-1", result.CustomerID)
	assert.Empty(t, result.Message)

	reqs := api.Requests()
	require.Len(t, reqs, 1)

	var sent map[string]string
	require.NoError(t, json.Unmarshal([]byte(reqs[0].Body), &sent))
	assert.Equal(t, map[string]string{
		"token":     "abc123",
		"partnerId": "partner-1",
		"storeId":   "store-1",
	}, sent)
}

func TestValidate_ExplicitIdentifiersWin(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("POST", "/qr-token/validate", testhelpers.JSON(200, map[string]any{"valid": true}))

	v := newValidator(t, api, credential.Static(testhelpers.CreateAccessToken(t, "partner-1", "store-1")))

	_, err := v.Validate(context.Background(), "abc", token.Identifiers{StoreID: "store-9"})
	require.NoError(t, err)

	var sent map[string]string
	require.NoError(t, json.Unmarshal([]byte(api.Requests()[0].Body), &sent))
	assert.Equal(t, "partner-1", sent["partnerId"])
	assert.Equal(t, "store-9", sent["storeId"])
}

func TestValidate_MissingIdentifiersFailBeforeNetwork(t *testing.T) {
	testhelpers.SetupLogger(t)

	tests := []struct {
		name  string
		creds credential.Provider
	}{
		{"session without store", credential.Static(testhelpers.CreateAccessToken(t, "partner-1", ""))},
		{"no session", credential.Static("")},
		{"unparseable session", credential.Static("not-a-jwt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := testhelpers.SetupMockAPIServer(t)
			v := newValidator(t, api, tt.creds)

			result, err := v.Validate(context.Background(), "abc", token.Identifiers{})

			require.ErrorIs(t, err, apierror.ErrValidation)
			assert.False(t, apierror.IsRetryable(err))
			assert.Equal(t, "Some required information is missing.", result.Message)
			assert.Empty(t, api.Requests())
		})
	}
}

func TestValidate_EmptyToken(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	v := newValidator(t, api, credential.Static(testhelpers.CreateAccessToken(t, "p", "s")))

	_, err := v.Validate(context.Background(), ` "QR:" `, token.Identifiers{})

	require.ErrorIs(t, err, apierror.ErrValidation)
	assert.Empty(t, api.Requests())
}

func TestValidate_AlreadyUsed(t *testing.T) {
	tests := []struct {
		name     string
		response testhelpers.Response
	}{
		{"conflict", testhelpers.Text(409, "conflict")},
		{"gone", testhelpers.Text(410, "gone")},
		{"keyword", testhelpers.JSON(400, map[string]string{"error": "Token already redeemed"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := testhelpers.SetupMockAPIServer(t)
			api.Script("POST", "/qr-token/validate", tt.response)

			v := newValidator(t, api, credential.Static(testhelpers.CreateAccessToken(t, "p", "s")))
			result, err := v.Validate(context.Background(), "abc", token.Identifiers{})

			require.Error(t, err)
			assert.Equal(t, "This code has already been used.", result.Message)
			assert.False(t, result.Valid)
		})
	}
}

func TestValidate_OtherRejection(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("POST", "/qr-token/validate", testhelpers.Text(403, "nope"))

	v := newValidator(t, api, credential.Static(testhelpers.CreateAccessToken(t, "p", "s")))
	result, err := v.Validate(context.Background(), "abc", token.Identifiers{})

	require.ErrorIs(t, err, apierror.ErrForbidden)
	assert.Equal(t, "You don't have permission to do that.", result.Message)
}
