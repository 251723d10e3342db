package hubs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etiennebl/hilolink/internal/pkg/transport"
)

type staticTokens string

func (s staticTokens) AccessToken(ctx context.Context) (string, error) {
	return string(s), nil
}

func testCoordinator(t *testing.T, api *fakeRequester) *Coordinator {
	t.Helper()
	return NewCoordinator(api, testStore(t), CoordinatorConfig{
		DeviceHubEndpoint:    "/DeviceHub",
		ChallengeHubEndpoint: "/ChallengeHub",
	}, "test-agent")
}

func lineageResponses() map[string]string {
	return map[string]string{
		"/DeviceHub/negotiate":               `{"url":"https://ws.example.com/client/?hub=devicehub","accessToken":"session-token"}`,
		"/client/negotiate?hub=devicehub":    `{"connectionId":"dev-conn"}`,
		"/ChallengeHub/negotiate":            `{"url":"https://ws.example.com/client/?hub=challengehub","accessToken":"minted-but-unused"}`,
		"/client/negotiate?hub=challengehub": `{"connectionId":"chal-conn"}`,
	}
}

// TestInitializeSharedTokenLineage verifies the device hub mints the
// session token and the challenge hub reuses it with its own fresh URL and
// connection id.
func TestInitializeSharedTokenLineage(t *testing.T) {
	api := &fakeRequester{responses: lineageResponses()}
	coord := testCoordinator(t, api)

	require.NoError(t, coord.Initialize(context.Background()))

	dev := coord.DeviceHub.Config()
	chal := coord.ChallengeHub.Config()

	assert.Equal(t, "session-token", dev.Token)
	assert.Equal(t, "session-token", chal.Token)
	assert.NotEqual(t, dev.ConnectionID, chal.ConnectionID)
	assert.Equal(t, "https://ws.example.com/client/?hub=devicehub&id=dev-conn&access_token=session-token", dev.FullURL)
	assert.Equal(t, "https://ws.example.com/client/?hub=challengehub&id=chal-conn&access_token=session-token", chal.FullURL)
}

// TestRefreshReplacesLineage verifies a refresh renegotiates both hubs
// onto a new shared token.
func TestRefreshReplacesLineage(t *testing.T) {
	api := &fakeRequester{responses: lineageResponses()}
	coord := testCoordinator(t, api)
	require.NoError(t, coord.Initialize(context.Background()))

	api.responses["/DeviceHub/negotiate"] = `{"url":"https://ws.example.com/client/?hub=devicehub","accessToken":"second-token"}`
	require.NoError(t, coord.Refresh(context.Background()))

	assert.Equal(t, "second-token", coord.DeviceHub.Config().Token)
	assert.Equal(t, "second-token", coord.ChallengeHub.Config().Token)
}

// TestInitializeUnauthorizedPropagates verifies a persistently rejected
// negotiate surfaces the credential error promptly: the transport's
// negotiate-401 hook fires on the goroutine already refreshing, which must
// skip instead of blocking on its own mutex.
func TestInitializeUnauthorizedPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tc := transport.New(srv.URL, "test-agent", "subs-key", staticTokens("stale"),
		transport.WithMaxAttempts(2))
	coord := NewCoordinator(tc, testStore(t), CoordinatorConfig{
		DeviceHubEndpoint:    "/DeviceHub",
		ChallengeHubEndpoint: "/ChallengeHub",
	}, "test-agent")
	tc.OnNegotiateAuthError(coord.Refresh)

	err := coord.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrInvalidCredentials)
}

// TestRefreshSkipsWhenInFlight verifies a refresh attempted while another
// holds the lineage returns instead of waiting on it.
func TestRefreshSkipsWhenInFlight(t *testing.T) {
	coord := testCoordinator(t, &fakeRequester{})

	coord.refreshMu.Lock()
	defer coord.refreshMu.Unlock()

	require.Error(t, coord.Refresh(context.Background()))
}

// TestChallengeHubDropsSubscriptionKey verifies the challenge hub's config
// is marked to negotiate without the subscription key header.
func TestChallengeHubDropsSubscriptionKey(t *testing.T) {
	coord := testCoordinator(t, &fakeRequester{})

	assert.False(t, coord.DeviceHub.Config().DropSubscriptionKey)
	assert.True(t, coord.ChallengeHub.Config().DropSubscriptionKey)
}
