package hubs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"github.com/etiennebl/hilolink/internal/pkg/logging"
	"github.com/etiennebl/hilolink/internal/pkg/statestore"
	"github.com/etiennebl/hilolink/internal/pkg/transport"
)

// requester is the slice of the transport client the hub layer needs.
type requester interface {
	Execute(ctx context.Context, method, path string, opts ...transport.RequestOption) (json.RawMessage, error)
}

// Config is the mutable per-hub connection record.  Two hubs share one
// token lineage: the first hub to negotiate mints the session token and the
// second reuses it, because the cloud issues one token per session, not per
// hub.
type Config struct {
	// Name keys the hub's section in the state store.
	Name string
	// Endpoint is the hub path on the API host, e.g. "/DeviceHub".
	Endpoint string
	// DropSubscriptionKey is set for the challenge hub, whose negotiate
	// endpoint rejects the subscription key header.
	DropSubscriptionKey bool

	URL          string
	Token        string
	ConnectionID string
	FullURL      string
	Transports   []Transport
}

// Transport is one entry of the hub's advertised transport list.
type Transport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

// Negotiator performs the hub negotiate handshake: one POST on the API
// host for a websocket URL and an ephemeral access token, then a second
// POST against the host embedded in that URL for a connection id and
// transport list.  Each step persists its result to the state store so a
// crash between steps leaves recoverable partial state.
type Negotiator struct {
	api   requester
	state *statestore.Store
}

func NewNegotiator(api requester, state *statestore.Store) *Negotiator {
	return &Negotiator{api: api, state: state}
}

// Negotiate performs the first-stage handshake and returns the base
// websocket URL and hub access token.
func (n *Negotiator) Negotiate(ctx context.Context, cfg *Config) (string, string, error) {
	path := cfg.Endpoint + "/negotiate"
	logging.Logger(ctx).Debugf("Negotiate URL for %s is %s", cfg.Name, path)

	var opts []transport.RequestOption
	if cfg.DropSubscriptionKey {
		opts = append(opts, transport.WithoutSubscriptionKey())
	}

	raw, err := n.api.Execute(ctx, http.MethodPost, path, opts...)
	if err != nil {
		return "", "", errors.Wrapf(err, "negotiating hub %s", cfg.Name)
	}

	var resp struct {
		URL         string `json:"url"`
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", "", errors.Wrapf(err, "decoding negotiate response for hub %s", cfg.Name)
	}

	if err := n.state.Set(cfg.Name, statestore.Section{
		"url":   resp.URL,
		"token": resp.AccessToken,
	}); err != nil {
		return "", "", err
	}

	return resp.URL, resp.AccessToken, nil
}

// ConnectionParams performs the second-stage handshake against the host
// embedded in the negotiated URL, fills in the connection id and derived
// full URL, and persists them.
func (n *Negotiator) ConnectionParams(ctx context.Context, cfg *Config) error {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return errors.Wrapf(err, "parsing negotiated url for hub %s", cfg.Name)
	}

	host := u.Host
	if u.Scheme != "" {
		host = u.Scheme + "://" + u.Host
	}

	path := u.Path + "negotiate"
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	logging.Logger(ctx).Debugf("Getting websocket params for %s from %s", cfg.Name, host)

	raw, err := n.api.Execute(ctx, http.MethodPost, path,
		transport.WithHost(host),
		transport.WithHeaders(map[string]string{
			"Authorization": "Bearer " + cfg.Token,
		}),
	)
	if err != nil {
		return errors.Wrapf(err, "fetching connection params for hub %s", cfg.Name)
	}

	var resp struct {
		ConnectionID        string      `json:"connectionId"`
		AvailableTransports []Transport `json:"availableTransports"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return errors.Wrapf(err, "decoding connection params for hub %s", cfg.Name)
	}

	cfg.ConnectionID = resp.ConnectionID
	cfg.Transports = resp.AvailableTransports
	cfg.FullURL = fmt.Sprintf("%s&id=%s&access_token=%s", cfg.URL, cfg.ConnectionID, cfg.Token)
	logging.Logger(ctx).Debugf("Full ws URL for %s: %s", cfg.Name, cfg.FullURL)

	return n.state.Set(cfg.Name, statestore.Section{
		"connection_id":        cfg.ConnectionID,
		"available_transports": cfg.Transports,
		"full_url":             cfg.FullURL,
	})
}
