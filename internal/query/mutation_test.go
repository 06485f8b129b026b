package query_test

import (
	"context"
	"testing"

	"github.com/perkline/perkline/internal/apierror"
	"github.com/perkline/perkline/internal/query"
	"github.com/perkline/perkline/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type redemption struct {
	Points int `json:"points"`
}

func TestMutation_InvalidatesNamedKey(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("GET", "/items", testhelpers.JSON(200, itemsPayload))
	api.Script("POST", "/items", testhelpers.JSON(201, item{ID: "3"}))

	client := newClient(t, api)
	list := query.NewQuery(client, query.Options[[]item]{Endpoint: "/items", Key: "list:items", Decode: query.NormalizeList[item]})

	_, err := list.Activate(context.Background())
	require.NoError(t, err)

	var created []item
	create := query.NewMutation(client, query.MutationOptions[item]{
		Endpoint:    "/items",
		Invalidates: "list:items",
		OnSuccess:   func(i item) { created = append(created, i) },
	})

	data, err := create.Mutate(context.Background(), item{Name: "muffin"})
	require.NoError(t, err)
	assert.Equal(t, "3", data.ID)
	assert.Len(t, created, 1)
	assert.Equal(t, query.StatusSuccess, create.State().Status)

	reqs := api.Requests()
	assert.JSONEq(t, `{"id":"","name":"muffin"}`, reqs[len(reqs)-1].Body)

	_, err = list.Activate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, api.RequestCount("GET", "/items"), "list re-fetched after invalidation")
}

func TestMutation_DoesNotRetryByDefault(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("POST", "/redeem", testhelpers.Text(500, "down"))

	var errs []error
	m := query.NewMutation(newClient(t, api), query.MutationOptions[redemption]{
		Endpoint: "/redeem",
		OnError:  func(err error) { errs = append(errs, err) },
	})

	_, err := m.Mutate(context.Background(), map[string]string{"token": "abc"})

	require.ErrorIs(t, err, apierror.ErrServer)
	assert.Equal(t, 1, api.RequestCount("POST", "/redeem"))
	assert.Len(t, errs, 1)
	assert.Equal(t, query.StatusError, m.State().Status)
	assert.NotEmpty(t, m.State().Message)
}

func TestMutation_RetryOptIn(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("PUT", "/profile",
		testhelpers.Text(502, "down"),
		testhelpers.JSON(200, redemption{Points: 10}),
	)

	m := query.NewMutation(newClient(t, api), query.MutationOptions[redemption]{
		Method:   "PUT",
		Endpoint: "/profile",
		Retry:    true,
	})

	data, err := m.Mutate(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 10, data.Points)
	assert.Equal(t, 2, api.RequestCount("PUT", "/profile"))
}

func TestMutation_NeverReadsCache(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("POST", "/redeem", testhelpers.JSON(200, redemption{Points: 5}))

	m := query.NewMutation(newClient(t, api), query.MutationOptions[redemption]{Endpoint: "/redeem"})

	_, err := m.Mutate(context.Background(), nil)
	require.NoError(t, err)
	_, err = m.Mutate(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, api.RequestCount("POST", "/redeem"))
}

func TestMutation_EmptyResponse(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("DELETE", "/items/1", testhelpers.Response{Status: 204})

	m := query.NewMutation(newClient(t, api), query.MutationOptions[redemption]{Method: "DELETE", Endpoint: "/items/1"})

	data, err := m.Mutate(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, data)
}

func TestMutation_CloseAndReset(t *testing.T) {
	api := testhelpers.SetupMockAPIServer(t)
	api.Script("POST", "/redeem", testhelpers.JSON(200, redemption{Points: 5}))

	notifier := &recordingNotifier{}
	spy := &stateSpy[redemption]{}
	m := query.NewMutation(newClient(t, api, query.WithNotifier(notifier)), query.MutationOptions[redemption]{
		Endpoint: "/redeem",
		Global:   true,
		OnState:  spy.record,
	})

	_, err := m.Mutate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"loading:true", "loading:false", "error:"}, notifier.events())

	m.Reset()
	assert.Equal(t, query.StatusIdle, m.State().Status)

	m.Close()
	_, err = m.Mutate(context.Background(), nil)
	require.NoError(t, err, "result still returned after close")

	assert.Equal(t, []query.Status{
		query.StatusLoading,
		query.StatusSuccess,
		query.StatusIdle,
	}, spy.statuses())
	assert.Len(t, notifier.events(), 3)
}
