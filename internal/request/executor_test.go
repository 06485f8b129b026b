package request_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/perkline/perkline/internal/apierror"
	"github.com/perkline/perkline/internal/audit"
	"github.com/perkline/perkline/internal/config"
	"github.com/perkline/perkline/internal/credential"
	"github.com/perkline/perkline/internal/request"
	"github.com/perkline/perkline/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_JSONSuccess(t *testing.T) {
	testhelpers.SetupLogger(t)
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("GET", "/items", testhelpers.JSON(200, map[string]any{"items": []string{"a", "b"}}))

	ex := request.New(api.URL(), request.WithCredentials(credential.Static("secret")))

	body, err := ex.Execute(context.Background(), request.Descriptor{Endpoint: "/items"})
	require.NoError(t, err)
	assert.Equal(t, request.KindJSON, body.Kind)

	var decoded struct {
		Items []string `json:"items"`
	}
	require.NoError(t, body.Decode(&decoded))
	assert.Equal(t, []string{"a", "b"}, decoded.Items)

	reqs := api.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer secret", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "application/json", reqs[0].Header.Get("Content-Type"))
}

func TestExecute_VendorJSONContentType(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("GET", "/items", testhelpers.Response{
		Status:      200,
		Body:        `{"ok":true}`,
		ContentType: "application/vnd.perkline+json; charset=utf-8",
	})

	body, err := request.New(api.URL()).Execute(context.Background(), request.Descriptor{Endpoint: "/items"})
	require.NoError(t, err)
	assert.Equal(t, request.KindJSON, body.Kind)
}

func TestExecute_TextAndEmptyBodies(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("GET", "/text", testhelpers.Text(200, "hello"))
	api.Script("DELETE", "/thing", testhelpers.Response{Status: 204})
	api.Script("GET", "/blank", testhelpers.Response{Status: 200, ContentType: "application/json"})

	ex := request.New(api.URL())

	body, err := ex.Execute(context.Background(), request.Descriptor{Endpoint: "/text"})
	require.NoError(t, err)
	assert.Equal(t, request.KindText, body.Kind)

	var s string
	require.NoError(t, body.Decode(&s))
	assert.Equal(t, "hello", s)

	var m map[string]any
	assert.ErrorIs(t, body.Decode(&m), apierror.ErrParse)

	body, err = ex.Execute(context.Background(), request.Descriptor{Method: "DELETE", Endpoint: "/thing"})
	require.NoError(t, err)
	assert.Equal(t, request.KindEmpty, body.Kind)
	assert.Equal(t, 204, body.StatusCode)
	assert.NoError(t, body.Decode(&m))
	assert.Nil(t, m)

	body, err = ex.Execute(context.Background(), request.Descriptor{Endpoint: "/blank"})
	require.NoError(t, err)
	assert.Equal(t, request.KindEmpty, body.Kind)
}

func TestExecute_MalformedJSONIsParseError(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("GET", "/items", testhelpers.Response{Status: 200, Body: `{"items": [`, ContentType: "application/json"})

	_, err := request.New(api.URL()).Execute(context.Background(), request.Descriptor{Endpoint: "/items"})

	require.ErrorIs(t, err, apierror.ErrParse)
	assert.False(t, apierror.IsRetryable(err))
}

func TestExecute_PostsJSONBody(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("POST", "/qr-token", testhelpers.JSON(201, map[string]string{"token": "t"}))

	ex := request.New(api.URL(), request.WithHeader("X-Client", "cli"))
	_, err := ex.Execute(context.Background(), request.Descriptor{
		Method:   "POST",
		Endpoint: "qr-token",
		Body:     map[string]string{"storeId": "s1"},
		Headers:  map[string]string{"X-Trace": "abc"},
	})
	require.NoError(t, err)

	reqs := api.Requests()
	require.Len(t, reqs, 1)
	assert.JSONEq(t, `{"storeId":"s1"}`, reqs[0].Body)
	assert.Equal(t, "cli", reqs[0].Header.Get("X-Client"))
	assert.Equal(t, "abc", reqs[0].Header.Get("X-Trace"))
	assert.Empty(t, reqs[0].Header.Get("Authorization"))
}

func TestExecute_UnencodableBodyFailsBeforeNetwork(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)

	_, err := request.New(api.URL()).Execute(context.Background(), request.Descriptor{
		Method:   "POST",
		Endpoint: "/x",
		Body:     map[string]any{"bad": make(chan int)},
	})

	assert.ErrorIs(t, err, apierror.ErrValidation)
	assert.Empty(t, api.Requests())
}

func TestExecute_HTTPErrors(t *testing.T) {
	tests := []struct {
		status    int
		sentinel  error
		retryable bool
	}{
		{400, apierror.ErrBadRequest, false},
		{401, apierror.ErrUnauthorized, false},
		{403, apierror.ErrForbidden, false},
		{404, apierror.ErrNotFound, false},
		{409, apierror.ErrConflict, false},
		{410, apierror.ErrGone, false},
		{500, apierror.ErrServer, true},
		{503, apierror.ErrServer, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			api := testhelpers.SetupMockAPIServer(t)
			api.Script("GET", "/items", testhelpers.Text(tt.status, "details"))

			_, err := request.New(api.URL()).Execute(context.Background(), request.Descriptor{Endpoint: "/items"})

			require.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.retryable, apierror.IsRetryable(err))
			assert.Equal(t, tt.status, apierror.StatusCode(err))

			ae, ok := apierror.As(err)
			require.True(t, ok)
			assert.Equal(t, "details", ae.Body)
		})
	}
}

func TestExecute_SkipAuth(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("GET", "/public", testhelpers.Text(200, "ok"))

	ex := request.New(api.URL(), request.WithCredentials(credential.Static("secret")))
	_, err := ex.Execute(context.Background(), request.Descriptor{Endpoint: "/public", SkipAuth: true})
	require.NoError(t, err)

	assert.Empty(t, api.Requests()[0].Header.Get("Authorization"))
}

func TestExecute_CredentialFailureBeforeNetwork(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)

	ex := request.New(api.URL(), request.WithCredentials(credential.Static("")))
	_, err := ex.Execute(context.Background(), request.Descriptor{Endpoint: "/items"})

	require.ErrorIs(t, err, apierror.ErrCredential)
	assert.ErrorIs(t, err, credential.ErrNoCredentials)
	assert.False(t, apierror.IsRetryable(err))
	assert.Empty(t, api.Requests())
}

func TestExecute_TimeoutOnHangingServer(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("GET", "/slow", testhelpers.Response{Hang: true})

	started := time.Now()
	_, err := request.New(api.URL()).Execute(context.Background(), request.Descriptor{
		Endpoint: "/slow",
		Timeout:  100 * time.Millisecond,
	})
	elapsed := time.Since(started)

	require.ErrorIs(t, err, apierror.ErrTimeout)
	assert.True(t, apierror.IsRetryable(err))
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestExecute_CallerCancellationIsNotTimeout(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("GET", "/slow", testhelpers.Response{Hang: true})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := request.New(api.URL()).Execute(ctx, request.Descriptor{Endpoint: "/slow", Timeout: 5 * time.Second})

	assert.ErrorIs(t, err, context.Canceled)
	_, classified := apierror.As(err)
	assert.False(t, classified)
}

func TestExecute_NetworkFailure(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	url := api.URL()
	api.Close()

	_, err := request.New(url).Execute(context.Background(), request.Descriptor{Endpoint: "/items"})

	require.ErrorIs(t, err, apierror.ErrNetwork)
	assert.True(t, apierror.IsRetryable(err))
}

func TestExecute_BaseURLOverride(t *testing.T) {
	primary := testhelpers.SetupMockAPIServer(t)
	other := testhelpers.SetupMockAPIServer(t)
	other.Script("GET", "/items", testhelpers.Text(200, "other"))

	body, err := request.New(primary.URL()).Execute(context.Background(), request.Descriptor{
		Endpoint: "/items",
		BaseURL:  other.URL() + "/",
	})
	require.NoError(t, err)

	assert.Equal(t, "other", body.String())
	assert.Empty(t, primary.Requests())
}

func TestExecute_RecordsAuditAttempt(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("GET", "/items", testhelpers.Text(500, "down"), testhelpers.Text(200, "up"))

	ctx, entry := audit.Context(context.Background())
	ex := request.New(api.URL(), request.WithCredentials(credential.Static("secret")))

	_, err := ex.Execute(ctx, request.Descriptor{Endpoint: "/items"})
	require.Error(t, err)
	_, err = ex.Execute(ctx, request.Descriptor{Endpoint: "/items"})
	require.NoError(t, err)

	assert.Equal(t, 2, entry.Attempts)
	assert.Equal(t, 200, entry.Status)
	assert.True(t, entry.Authenticated)
}

func TestNewFromConfig(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("GET", "/items", testhelpers.Text(200, "ok"))

	ex := request.NewFromConfig(config.APIConfig{
		BaseURL:   api.URL(),
		Timeout:   time.Second,
		UserAgent: "perkline-test",
	})

	_, err := ex.Execute(context.Background(), request.Descriptor{Endpoint: "/items"})
	require.NoError(t, err)
	assert.Equal(t, "perkline-test", api.Requests()[0].Header.Get("User-Agent"))
}

func TestBody_Constructors(t *testing.T) {
	var v struct{ A int }
	require.NoError(t, request.JSON([]byte(`{"A":3}`)).Decode(&v))
	assert.Equal(t, 3, v.A)

	assert.Equal(t, "hi", request.Text("hi").String())
	assert.Nil(t, request.Empty().Raw())
	assert.True(t, errors.Is(request.JSON([]byte(`nope`)).Decode(&v), apierror.ErrParse))
}
