package graphql

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/r3labs/sse/v2"

	"github.com/etiennebl/hilolink/internal/pkg/logging"
	"github.com/etiennebl/hilolink/internal/pkg/transport"
)

const (
	// PlatformHost serves the digital-twin graph.
	PlatformHost     = "platform.hiloenergie.com"
	platformEndpoint = "/api/digital-twin/v3/graphql"

	resubscribeDelay = 5 * time.Second
)

// requester is the slice of the transport client this package needs.
type requester interface {
	Execute(ctx context.Context, method, path string, opts ...transport.RequestOption) (json.RawMessage, error)
}

// Error is one entry of a GraphQL error list.
type Error struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

func (e Error) Error() string {
	if e.Extensions.Code != "" {
		return e.Extensions.Code + ": " + e.Message
	}
	return e.Message
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []Error         `json:"errors"`
}

// persistedQueryNotFound reports the server asking for the literal query
// body because its hash cache missed.
func persistedQueryNotFound(errs []Error) bool {
	for _, e := range errs {
		if e.Extensions.Code == "PERSISTED_QUERY_NOT_FOUND" || e.Message == "PersistedQueryNotFound" {
			return true
		}
	}
	return false
}

// Executor submits queries to the digital-twin graph and holds long-lived
// subscriptions over server-sent events.  Queries go hash-first: the
// request carries a sha256 of the query body, and only when the server's
// persisted-query cache misses is the literal body resent.
type Executor struct {
	api    requester
	tokens transport.TokenProvider

	// ResyncHandler runs after a subscription transport drop, before the
	// stream is re-established.  A reconnect loses whatever the stream
	// pushed in the gap, so consumers re-snapshot here.
	ResyncHandler func(ctx context.Context)

	// sseFactory builds the stream client; overridable in tests.
	sseFactory func(url string) sseStream
}

type sseStream interface {
	SubscribeRawWithContext(ctx context.Context, handler func(msg *sse.Event)) error
}

func NewExecutor(api requester, tokens transport.TokenProvider) *Executor {
	return &Executor{
		api:    api,
		tokens: tokens,
		sseFactory: func(u string) sseStream {
			return sse.NewClient(u)
		},
	}
}

// Query executes one operation and returns its data payload.
func (x *Executor) Query(ctx context.Context, query string, variables map[string]string) (json.RawMessage, error) {
	hash := queryHash(query)

	resp, err := x.post(ctx, map[string]interface{}{
		"variables":  variables,
		"extensions": persistedQueryExtension(hash),
	})
	if err != nil {
		return nil, err
	}

	if persistedQueryNotFound(resp.Errors) {
		logging.Logger(ctx).Debug("Persisted query not cached, resending with body")
		resp, err = x.post(ctx, map[string]interface{}{
			"query":      query,
			"variables":  variables,
			"extensions": persistedQueryExtension(hash),
		})
		if err != nil {
			return nil, err
		}
	}

	if len(resp.Errors) > 0 {
		return nil, errors.Wrap(resp.Errors[0], "graphql query failed")
	}

	return resp.Data, nil
}

func (x *Executor) post(ctx context.Context, body map[string]interface{}) (*response, error) {
	raw, err := x.api.Execute(ctx, http.MethodPost, platformEndpoint,
		transport.WithHost(PlatformHost),
		transport.WithHeaders(x.authHeader(ctx)),
		transport.WithJSONBody(body),
	)
	if err != nil {
		return nil, errors.Wrap(err, "executing graphql request")
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, "decoding graphql response")
	}
	return &resp, nil
}

func (x *Executor) authHeader(ctx context.Context) map[string]string {
	token, err := x.tokens.AccessToken(ctx)
	if err != nil {
		logging.Logger(ctx).WithError(err).Warn("obtaining access token for graphql")
		return map[string]string{}
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

// Subscribe holds a subscription open and feeds its frames to the handler.
// It blocks until the context is cancelled.  A transport drop triggers the
// resync handler, a short delay, and a fresh subscription; no stream state
// survives the reconnect.
func (x *Executor) Subscribe(ctx context.Context, query string, variables map[string]string, handler func(json.RawMessage)) error {
	for {
		if err := x.subscribeOnce(ctx, query, variables, handler); err != nil && ctx.Err() == nil {
			logging.Logger(ctx).WithError(err).Warnf("Subscription dropped, resubscribing in %s", resubscribeDelay)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if x.ResyncHandler != nil {
			x.ResyncHandler(ctx)
		}

		select {
		case <-time.After(resubscribeDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (x *Executor) subscribeOnce(ctx context.Context, query string, variables map[string]string, handler func(json.RawMessage)) error {
	token, err := x.tokens.AccessToken(ctx)
	if err != nil {
		return errors.Wrap(err, "obtaining access token for subscription")
	}

	vars, err := json.Marshal(variables)
	if err != nil {
		return errors.Wrap(err, "encoding subscription variables")
	}
	ext, err := json.Marshal(persistedQueryExtension(queryHash(query)))
	if err != nil {
		return errors.Wrap(err, "encoding subscription extensions")
	}

	q := url.Values{
		"query":        {query},
		"variables":    {string(vars)},
		"extensions":   {string(ext)},
		"access_token": {token},
	}
	streamURL := "https://" + PlatformHost + platformEndpoint + "?" + q.Encode()

	logging.Logger(ctx).Debug("Opening graphql subscription stream")

	return x.sseFactory(streamURL).SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		if len(msg.Data) == 0 {
			return
		}

		var resp response
		if err := json.Unmarshal(msg.Data, &resp); err != nil {
			logging.Logger(ctx).Warnf("Dropping malformed subscription frame: %.100s", msg.Data)
			return
		}
		if len(resp.Errors) > 0 {
			logging.Logger(ctx).Warnf("Subscription frame carried errors: %v", resp.Errors[0])
			return
		}

		handler(resp.Data)
	})
}

func persistedQueryExtension(hash string) map[string]interface{} {
	return map[string]interface{}{
		"persistedQuery": map[string]interface{}{
			"version":    1,
			"sha256Hash": hash,
		},
	}
}

func queryHash(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}
