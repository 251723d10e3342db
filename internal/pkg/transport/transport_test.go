package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens string

func (s staticTokens) AccessToken(ctx context.Context) (string, error) {
	return string(s), nil
}

func testClient(srv *httptest.Server, opts ...Option) *Client {
	opts = append([]Option{WithMaxAttempts(3)}, opts...)
	return New(srv.URL, "test-agent/1.0", "subs-key", staticTokens("tok-abc"), opts...)
}

// TestExecuteHeaders verifies the default header set: bearer token on the
// API host, subscription key and user agent.
func TestExecuteHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	raw, err := testClient(srv).Execute(context.Background(), http.MethodGet, "/Automation/v1/api/Locations")
	require.NoError(t, err)

	assert.JSONEq(t, `{"ok":true}`, string(raw))
	assert.Equal(t, "Bearer tok-abc", got.Get("Authorization"))
	assert.Equal(t, "subs-key", got.Get("Ocp-Apim-Subscription-Key"))
	assert.Equal(t, "test-agent/1.0", got.Get("User-Agent"))
}

// TestWithoutSubscriptionKey verifies the option removes the subscription
// key header from the request.
func TestWithoutSubscriptionKey(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := testClient(srv).Execute(context.Background(), http.MethodPost, "/ChallengeHub/negotiate",
		WithoutSubscriptionKey())
	require.NoError(t, err)

	assert.Empty(t, got.Get("Ocp-Apim-Subscription-Key"))
}

// TestExplicitAuthorizationWins verifies a per-request Authorization header
// suppresses the automatic bearer token.
func TestExplicitAuthorizationWins(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := testClient(srv).Execute(context.Background(), http.MethodPost, "/client/negotiate",
		WithHeaders(map[string]string{"Authorization": "Bearer hub-token"}))
	require.NoError(t, err)

	assert.Equal(t, "Bearer hub-token", got.Get("Authorization"))
}

// TestRetryOnServerError verifies a 500 is retried and the eventual
// success payload is returned.
func TestRetryOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	raw, err := testClient(srv).Execute(context.Background(), http.MethodGet, "/Devices")
	require.NoError(t, err)

	assert.JSONEq(t, `{"ok":true}`, string(raw))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestUnauthorizedIsPermanent verifies a plain 401 surfaces as invalid
// credentials without burning the retry budget.
func TestUnauthorizedIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(srv).Execute(context.Background(), http.MethodGet, "/Devices")

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestNegotiateUnauthorizedFiresHook verifies a 401 on a negotiate POST
// invokes the token refresh hook and retries instead of failing fast.
func TestNegotiateUnauthorizedFiresHook(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"url":"wss://x","accessToken":"t"}`))
	}))
	defer srv.Close()

	c := testClient(srv)
	var hooked int32
	c.OnNegotiateAuthError(func(ctx context.Context) error {
		atomic.AddInt32(&hooked, 1)
		return nil
	})

	_, err := c.Execute(context.Background(), http.MethodPost, "/DeviceHub/negotiate")
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&hooked))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestNegotiateUnauthorizedFailedRefreshIsPermanent verifies a negotiate
// 401 whose refresh hook cannot help gives up with the credential error
// instead of burning retries on a dead session.
func TestNegotiateUnauthorizedFailedRefreshIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(srv)
	c.OnNegotiateAuthError(func(ctx context.Context) error {
		return errors.New("refresh already in progress")
	})

	_, err := c.Execute(context.Background(), http.MethodPost, "/DeviceHub/negotiate")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestBadRequestIsPermanent verifies other 4xx codes stop the retry loop
// and surface as a request error.
func TestBadRequestIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(srv).Execute(context.Background(), http.MethodGet, "/Devices")

	require.Error(t, err)
	var re *RequestError
	assert.True(t, errors.As(err, &re))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestNormalizeBodyPlainText verifies a non-JSON response is wrapped in a
// message envelope rather than breaking the caller.
func TestNormalizeBodyPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("all good"))
	}))
	defer srv.Close()

	raw, err := testClient(srv).Execute(context.Background(), http.MethodGet, "/ping")
	require.NoError(t, err)

	assert.JSONEq(t, `{"message":"all good"}`, string(raw))
}

// TestNormalizeBodyBrokenJSON verifies a response that claims JSON but is
// not parseable is wrapped in an error envelope.
func TestNormalizeBodyBrokenJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"broken":`))
	}))
	defer srv.Close()

	raw, err := testClient(srv).Execute(context.Background(), http.MethodGet, "/ping")
	require.NoError(t, err)

	assert.JSONEq(t, `{"error":"{\"broken\":"}`, string(raw))
}
