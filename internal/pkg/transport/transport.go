package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/etiennebl/hilolink/internal/pkg/logging"
)

const (
	defaultMaxAttempts = 5
	defaultTimeout     = time.Second * 30
)

// TokenProvider supplies a valid bearer token on demand, refreshing itself
// as needed.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client executes HTTP requests against the Hilo cloud with host/header
// composition and an exponential backoff retry policy.  A hook can be
// registered to refresh hub websocket tokens when a negotiate call fails
// with 401/403 mid-retry.
type Client struct {
	http            *http.Client
	tokens          TokenProvider
	apiHost         string
	userAgent       string
	subscriptionKey string
	maxAttempts     uint64

	refreshMu            sync.Mutex
	onNegotiateAuthError func(ctx context.Context) error
}

type Option func(*Client)

// WithHTTPClient overrides the underlying http client (used in tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxAttempts bounds the retry budget.
func WithMaxAttempts(n uint64) Option {
	return func(c *Client) { c.maxAttempts = n }
}

func New(apiHost, userAgent, subscriptionKey string, tokens TokenProvider, opts ...Option) *Client {
	c := &Client{
		http:            &http.Client{Timeout: defaultTimeout},
		tokens:          tokens,
		apiHost:         apiHost,
		userAgent:       userAgent,
		subscriptionKey: subscriptionKey,
		maxAttempts:     defaultMaxAttempts,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// OnNegotiateAuthError registers the hook invoked when a hub negotiate POST
// fails with 401/403 before the final retry attempt.  The hook runs under a
// mutex so two channels hitting token expiry at the same time cannot race
// each other's refresh.
func (c *Client) OnNegotiateAuthError(hook func(ctx context.Context) error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	c.onNegotiateAuthError = hook
}

type request struct {
	host      string
	headers   map[string]string
	body      interface{}
	form      url.Values
	noRetry   bool
	noSubsKey bool
}

type RequestOption func(*request)

// WithHost targets a host other than the default API host.  Bearer
// authentication is not attached automatically for foreign hosts.
func WithHost(host string) RequestOption {
	return func(r *request) { r.host = host }
}

// WithHeaders merges per-request headers over the defaults.
func WithHeaders(h map[string]string) RequestOption {
	return func(r *request) {
		for k, v := range h {
			r.headers[k] = v
		}
	}
}

// WithJSONBody attaches a JSON-encoded request body.
func WithJSONBody(body interface{}) RequestOption {
	return func(r *request) { r.body = body }
}

// WithFormBody attaches a form-encoded request body.
func WithFormBody(form url.Values) RequestOption {
	return func(r *request) { r.form = form }
}

// WithoutRetries disables the backoff policy for this request.
func WithoutRetries() RequestOption {
	return func(r *request) { r.noRetry = true }
}

// WithoutSubscriptionKey drops the subscription key header.  The challenge
// hub's negotiate endpoint rejects requests that carry it.
func WithoutSubscriptionKey() RequestOption {
	return func(r *request) { r.noSubsKey = true }
}

// Execute performs an HTTP request and returns the response body normalized
// to JSON.  A response that claims JSON but fails to parse is converted to
// {"error": <raw text>}; a plain-text response becomes {"message": <text>}.
// On a non-2xx final result a *RequestError wrapping the original cause is
// returned.
func (c *Client) Execute(ctx context.Context, method, path string, opts ...RequestOption) (json.RawMessage, error) {
	req := &request{
		host:    c.apiHost,
		headers: map[string]string{},
	}
	for _, o := range opts {
		o(req)
	}

	var payload json.RawMessage

	operation := func() error {
		var err error
		payload, err = c.attempt(ctx, method, path, req)
		if err == nil {
			return nil
		}

		var se *StatusError
		if errors.As(err, &se) {
			if se.StatusCode == 401 || se.StatusCode == 403 {
				if isNegotiate(method, path) && c.refreshHubTokens(ctx) {
					// Expected shape of hub token expiry; the websocket
					// token lineage was refreshed, let the retry proceed.
					return err
				}
				// Credential refresh on plain API calls is the token
				// provider's job, and a negotiate that cannot be refreshed
				// is a dead session either way; surface immediately.
				return backoff.Permanent(errors.Wrap(ErrInvalidCredentials, err.Error()))
			}
			if se.StatusCode >= 400 && se.StatusCode < 500 && se.StatusCode != 408 && se.StatusCode != 429 {
				return backoff.Permanent(err)
			}
		}
		return err
	}

	policy := c.policy(ctx, req)
	if err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		logging.Logger(ctx).WithError(err).Debugf("retrying %s %s in %s", method, path, wait)
	}); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, err
		}
		return nil, &RequestError{cause: err}
	}

	return payload, nil
}

func (c *Client) policy(ctx context.Context, req *request) backoff.BackOff {
	if req.noRetry {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = time.Second
	exp.RandomizationFactor = 0.5
	return backoff.WithContext(backoff.WithMaxRetries(exp, c.maxAttempts-1), ctx)
}

// refreshHubTokens runs the negotiate-401 hook and reports whether the
// token lineage was actually refreshed.  A nil hook, a hook error or a
// refresh already in flight all count as not refreshed, so the caller can
// stop retrying with credentials that will never improve.
func (c *Client) refreshHubTokens(ctx context.Context) bool {
	c.refreshMu.Lock()
	hook := c.onNegotiateAuthError
	c.refreshMu.Unlock()

	if hook == nil {
		return false
	}

	logging.Logger(ctx).Warn("401 on hub negotiate, refreshing websocket tokens")
	if err := hook(ctx); err != nil {
		logging.Logger(ctx).WithError(err).Warn("refreshing websocket tokens")
		return false
	}
	return true
}

func isNegotiate(method, path string) bool {
	return method == http.MethodPost && strings.Contains(strings.ToLower(path), "negotiate")
}

func (c *Client) attempt(ctx context.Context, method, path string, req *request) (json.RawMessage, error) {
	headers := map[string]string{
		"User-Agent":                c.userAgent,
		"Content-Type":              "application/json; charset=utf-8",
		"Ocp-Apim-Subscription-Key": c.subscriptionKey,
	}
	for k, v := range req.headers {
		headers[k] = v
	}
	if req.noSubsKey {
		delete(headers, "Ocp-Apim-Subscription-Key")
	}

	// Bearer authentication is only attached for the API host; integration
	// endpoints (firebase, push registration) carry their own auth headers.
	if req.host == c.apiHost {
		if _, ok := headers["Authorization"]; !ok {
			token, err := c.tokens.AccessToken(ctx)
			if err != nil {
				return nil, errors.Wrap(err, "obtaining access token")
			}
			headers["Authorization"] = "Bearer " + token
		}
	}

	var body io.Reader
	switch {
	case req.form != nil:
		body = strings.NewReader(req.form.Encode())
		headers["Content-Type"] = "application/x-www-form-urlencoded"
	case req.body != nil:
		buf, err := json.Marshal(req.body)
		if err != nil {
			return nil, errors.Wrap(err, "encoding request body")
		}
		body = bytes.NewReader(buf)
	}

	u := "https://" + req.host + path
	if strings.HasPrefix(req.host, "http://") || strings.HasPrefix(req.host, "https://") {
		u = req.host + path
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, u)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}

	payload := normalizeBody(ctx, resp.Header.Get("Content-Type"), raw)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return payload, &StatusError{
			StatusCode: resp.StatusCode,
			Method:     method,
			URL:        u,
			Body:       string(raw),
		}
	}

	return payload, nil
}

// normalizeBody sniffs the content type and always yields valid JSON; a
// malformed vendor response must not crash the caller.
func normalizeBody(ctx context.Context, contentType string, raw []byte) json.RawMessage {
	if strings.Contains(contentType, "application/json") {
		if json.Valid(raw) {
			return json.RawMessage(raw)
		}
		logging.Logger(ctx).Warnf("JSON decode error, body: %.200s", raw)
		wrapped, _ := json.Marshal(map[string]string{"error": string(raw)})
		return wrapped
	}

	wrapped, _ := json.Marshal(map[string]string{"message": string(raw)})
	return wrapped
}
