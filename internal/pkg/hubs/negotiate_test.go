package hubs

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etiennebl/hilolink/internal/pkg/statestore"
	"github.com/etiennebl/hilolink/internal/pkg/transport"
)

type fakeRequester struct {
	responses map[string]string
	calls     []string
	err       error
}

func (f *fakeRequester) Execute(ctx context.Context, method, path string, opts ...transport.RequestOption) (json.RawMessage, error) {
	f.calls = append(f.calls, method+" "+path)
	if f.err != nil {
		return nil, f.err
	}
	if resp, ok := f.responses[path]; ok {
		return json.RawMessage(resp), nil
	}
	return json.RawMessage(`{}`), nil
}

func testStore(t *testing.T) *statestore.Store {
	t.Helper()
	return statestore.New(filepath.Join(t.TempDir(), "state.yaml"))
}

// TestNegotiate verifies the first-stage handshake hits the hub's
// negotiate path, returns the websocket URL and token, and persists both.
func TestNegotiate(t *testing.T) {
	api := &fakeRequester{responses: map[string]string{
		"/DeviceHub/negotiate": `{"url":"https://ws.example.com/client/?hub=devicehub","accessToken":"tok-123"}`,
	}}
	state := testStore(t)
	n := NewNegotiator(api, state)

	cfg := &Config{Name: statestore.SectionDeviceHub, Endpoint: "/DeviceHub"}
	url, token, err := n.Negotiate(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "https://ws.example.com/client/?hub=devicehub", url)
	assert.Equal(t, "tok-123", token)
	assert.Equal(t, []string{"POST /DeviceHub/negotiate"}, api.calls)

	sec, err := state.Get(statestore.SectionDeviceHub)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", sec["token"])
}

// TestConnectionParams verifies the second-stage handshake posts to the
// host embedded in the negotiated URL and derives the full websocket URL.
func TestConnectionParams(t *testing.T) {
	api := &fakeRequester{responses: map[string]string{
		"/client/negotiate?hub=devicehub": `{"connectionId":"conn-42","availableTransports":[{"transport":"WebSockets","transferFormats":["Text"]}]}`,
	}}
	state := testStore(t)
	n := NewNegotiator(api, state)

	cfg := &Config{
		Name:     statestore.SectionDeviceHub,
		Endpoint: "/DeviceHub",
		URL:      "https://ws.example.com/client/?hub=devicehub",
		Token:    "tok-123",
	}
	require.NoError(t, n.ConnectionParams(context.Background(), cfg))

	assert.Equal(t, "conn-42", cfg.ConnectionID)
	assert.Equal(t, "https://ws.example.com/client/?hub=devicehub&id=conn-42&access_token=tok-123", cfg.FullURL)
	require.Len(t, cfg.Transports, 1)
	assert.Equal(t, "WebSockets", cfg.Transports[0].Transport)

	sec, err := state.Get(statestore.SectionDeviceHub)
	require.NoError(t, err)
	assert.Equal(t, cfg.FullURL, sec["full_url"])
}

// TestConnectionParamsBadURL verifies an unparseable negotiated URL is
// reported instead of being sent anywhere.
func TestConnectionParamsBadURL(t *testing.T) {
	api := &fakeRequester{}
	n := NewNegotiator(api, testStore(t))

	cfg := &Config{Name: "websocket", URL: "://bad"}
	err := n.ConnectionParams(context.Background(), cfg)

	require.Error(t, err)
	assert.Empty(t, api.calls)
}
