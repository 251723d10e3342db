package hubs

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/etiennebl/hilolink/internal/pkg/logging"
	"github.com/etiennebl/hilolink/internal/pkg/statestore"
	"github.com/etiennebl/hilolink/internal/pkg/transport"
)

// Coordinator owns the two hub channels and their shared token lineage.
// The device hub mints the session token and the challenge hub reuses it;
// when credentials go stale both hubs are refreshed in lockstep under one
// mutex so they never diverge onto different sessions.
type Coordinator struct {
	refreshMu  sync.Mutex
	negotiator *Negotiator

	DeviceHub    *Channel
	ChallengeHub *Channel
}

// CoordinatorConfig carries the two hub endpoints on the API host.
type CoordinatorConfig struct {
	DeviceHubEndpoint    string
	ChallengeHubEndpoint string
}

func NewCoordinator(api requester, state *statestore.Store, cfg CoordinatorConfig, userAgent string, opts ...ChannelOption) *Coordinator {
	return &Coordinator{
		negotiator: NewNegotiator(api, state),
		DeviceHub: NewChannel(&Config{
			Name:     statestore.SectionDeviceHub,
			Endpoint: cfg.DeviceHubEndpoint,
		}, userAgent, opts...),
		ChallengeHub: NewChannel(&Config{
			Name:                statestore.SectionChallengeHub,
			Endpoint:            cfg.ChallengeHubEndpoint,
			DropSubscriptionKey: true,
		}, userAgent, opts...),
	}
}

// Channels returns both hubs, device hub first.
func (c *Coordinator) Channels() []*Channel {
	return []*Channel{c.DeviceHub, c.ChallengeHub}
}

// Initialize negotiates both hubs.  The device hub's negotiate mints the
// session token; the challenge hub inherits it instead of minting its own.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	return c.refreshLocked(ctx)
}

// Refresh re-negotiates both hubs in lockstep.  It is registered as the
// transport's negotiate-401 hook: a credential failure on either hub's
// behalf refreshes the shared lineage, never just one side.
//
// A negotiate rejected inside Initialize or Refresh fires that hook on the
// goroutine already holding refreshMu, so the lock is only tried: when a
// refresh is in flight there is nothing useful a second one could do, and
// blocking on it would deadlock.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.refreshMu.TryLock() {
		return errors.New("hub refresh already in progress")
	}
	defer c.refreshMu.Unlock()

	logging.Logger(ctx).Info("Refreshing both hub sessions")
	return c.refreshLocked(ctx)
}

func (c *Coordinator) refreshLocked(ctx context.Context) error {
	url, token, err := c.negotiator.Negotiate(ctx, c.DeviceHub.cfg)
	if err != nil {
		return errors.Wrap(err, "negotiating device hub")
	}
	c.DeviceHub.cfg.URL = url
	c.DeviceHub.cfg.Token = token

	if err := c.negotiator.ConnectionParams(ctx, c.DeviceHub.cfg); err != nil {
		return err
	}

	// Second hub: fresh websocket URL and connection id, inherited token.
	url, _, err = c.negotiator.Negotiate(ctx, c.ChallengeHub.cfg)
	if err != nil {
		return errors.Wrap(err, "negotiating challenge hub")
	}
	c.ChallengeHub.cfg.URL = url
	c.ChallengeHub.cfg.Token = token

	if err := c.negotiator.ConnectionParams(ctx, c.ChallengeHub.cfg); err != nil {
		return err
	}

	return nil
}

// Connect dials both hubs.
func (c *Coordinator) Connect(ctx context.Context) error {
	for _, ch := range c.Channels() {
		if err := ch.Connect(ctx); err != nil {
			if errors.Is(err, transport.ErrInvalidCredentials) {
				return err
			}
			return errors.Wrapf(err, "connecting %s hub", ch.cfg.Name)
		}
	}
	return nil
}

// Disconnect closes both hubs.
func (c *Coordinator) Disconnect() {
	for _, ch := range c.Channels() {
		ch.Disconnect()
	}
}
