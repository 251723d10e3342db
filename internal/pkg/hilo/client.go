// Package hilo assembles the transport, hub channels, registry and mappers
// into one long-running client that keeps a location's device model live.
package hilo

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/etiennebl/hilolink/internal/pkg/devices"
	"github.com/etiennebl/hilolink/internal/pkg/events"
	"github.com/etiennebl/hilolink/internal/pkg/graphql"
	"github.com/etiennebl/hilolink/internal/pkg/hiloapi"
	"github.com/etiennebl/hilolink/internal/pkg/hubs"
	"github.com/etiennebl/hilolink/internal/pkg/logging"
	"github.com/etiennebl/hilolink/internal/pkg/mapper"
	"github.com/etiennebl/hilolink/internal/pkg/statestore"
	"github.com/etiennebl/hilolink/internal/pkg/transport"
)

const (
	defaultRefreshInterval = 30 * time.Minute
	channelRetryDelay      = 5 * time.Second
	// The hubs ignore the invocation id for subscription calls; the mobile
	// app always sends 1.
	subscriptionInvocationID = 1
)

// UpdateCallback receives devices whose readings changed.
type UpdateCallback func(*devices.Device)

// Client is the top-level coordinator.  It owns the device registry, both
// hub channels, the digital-twin executor and the polling loop, and routes
// every update source into the registry.
type Client struct {
	api   hiloapi.Automation
	graph *graphql.Executor
	coord *hubs.Coordinator
	push  *hiloapi.Push

	registry *devices.Registry

	refreshInterval   time.Duration
	appreciationHours int
	preColdHours      int
	registerPush      bool

	challengeMu sync.Mutex
	challenges  map[int64]*events.ChallengeEvent

	cbMu      sync.Mutex
	nextCbID  int
	updateCbs map[int]UpdateCallback
}

type Option func(*Client)

// WithRefreshInterval overrides the REST snapshot polling interval.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Client) { c.refreshInterval = d }
}

// WithAppreciationHours arms a synthesized appreciation phase of the given
// length before each challenge's preheat.
func WithAppreciationHours(h int) Option {
	return func(c *Client) { c.appreciationHours = h }
}

// WithPreColdHours arms a synthesized pre-cold phase before the
// appreciation phase; only meaningful with WithAppreciationHours.
func WithPreColdHours(h int) Option {
	return func(c *Client) { c.preColdHours = h }
}

// WithPushRegistration enables registering this client as a push target
// during initialization.
func WithPushRegistration(enabled bool) Option {
	return func(c *Client) { c.registerPush = enabled }
}

func New(tc *transport.Client, tokens transport.TokenProvider, state *statestore.Store, userAgent string, opts ...Option) *Client {
	c := &Client{
		api:   hiloapi.NewLiveClient(tc),
		graph: graphql.NewExecutor(tc, tokens),
		coord: hubs.NewCoordinator(tc, state, hubs.CoordinatorConfig{
			DeviceHubEndpoint:    hiloapi.DeviceHubEndpoint,
			ChallengeHubEndpoint: hiloapi.ChallengeHubEndpoint,
		}, userAgent),
		push:            hiloapi.NewPush(tc, state),
		registry:        devices.NewRegistry(),
		refreshInterval: defaultRefreshInterval,
		challenges:      map[int64]*events.ChallengeEvent{},
		updateCbs:       map[int]UpdateCallback{},
	}
	for _, o := range opts {
		o(c)
	}

	// A 401 on any hub negotiate means the shared token lineage is stale.
	tc.OnNegotiateAuthError(c.coord.Refresh)

	// A reconnect is a restart: subscriptions are re-issued every time the
	// socket comes up.
	c.coord.DeviceHub.AddConnectCallback(c.subscribeToLocation)
	c.coord.DeviceHub.AddConnectCallback(c.subscribeDevicesAttributes)
	c.coord.DeviceHub.AddEventCallback(c.onDeviceHubEvent)
	c.coord.ChallengeHub.AddConnectCallback(c.subscribeToChallengeList)
	c.coord.ChallengeHub.AddEventCallback(c.onChallengeHubEvent)

	c.graph.ResyncHandler = func(ctx context.Context) {
		if err := c.SyncLocationGraph(ctx); err != nil {
			logging.Logger(ctx).WithError(err).Warn("re-snapshotting location after subscription drop")
		}
	}

	return c
}

// Registry exposes the authoritative device set.
func (c *Client) Registry() *devices.Registry {
	return c.registry
}

// AddUpdateCallback registers a callback fired for each device whose
// readings change.  The returned func removes it.
func (c *Client) AddUpdateCallback(cb UpdateCallback) func() {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	id := c.nextCbID
	c.nextCbID++
	c.updateCbs[id] = cb
	return func() {
		c.cbMu.Lock()
		defer c.cbMu.Unlock()
		delete(c.updateCbs, id)
	}
}

// Initialize resolves the location, loads the first device snapshot and
// negotiates both hub sessions.  It must complete before Run.
func (c *Client) Initialize(ctx context.Context) error {
	locations, err := c.api.GetLocations(ctx)
	if err != nil {
		return errors.Wrap(err, "resolving location")
	}
	if len(locations) == 0 {
		return errors.New("account has no locations")
	}
	c.registry.LocationID = locations[0].ID
	c.registry.LocationIdentifier = locations[0].LocationHiloID
	logging.Logger(ctx).Infof("Operating on location %d (%s)", c.registry.LocationID, c.registry.LocationIdentifier)

	if c.registerPush {
		if err := c.push.Register(ctx); err != nil {
			logging.Logger(ctx).WithError(err).Warn("push registration failed, continuing without notifications")
		}
	}

	if err := c.RefreshDevices(ctx); err != nil {
		return err
	}

	if err := c.coord.Initialize(ctx); err != nil {
		return errors.Wrap(err, "negotiating hub sessions")
	}

	if err := c.RefreshChallenges(ctx); err != nil {
		logging.Logger(ctx).WithError(err).Warn("loading challenges")
	}

	return nil
}

// Run connects both hubs, opens the digital-twin subscriptions and starts
// the polling loop.  It blocks until the context is cancelled.
func (c *Client) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for _, ch := range c.coord.Channels() {
		wg.Add(1)
		go func(ch *hubs.Channel) {
			defer wg.Done()
			c.runChannel(ctx, ch)
		}(ch)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.runPolling(ctx)
	}()

	if c.registry.LocationIdentifier != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runDeviceSubscription(ctx)
		}()
	}

	wg.Wait()
	return ctx.Err()
}

// runChannel keeps one hub connected for the life of the context.  A dial
// rejected for credentials refreshes the shared token lineage before the
// next attempt.
func (c *Client) runChannel(ctx context.Context, ch *hubs.Channel) {
	go func() {
		<-ctx.Done()
		ch.Disconnect()
	}()

	for ctx.Err() == nil {
		if err := ch.Connect(ctx); err != nil {
			if errors.Is(err, transport.ErrInvalidCredentials) {
				if rerr := c.coord.Refresh(ctx); rerr != nil {
					logging.Logger(ctx).WithError(rerr).Warn("refreshing hub sessions")
				}
			} else {
				logging.Logger(ctx).WithError(err).Warnf("connecting %s hub", ch.Config().Name)
			}
		} else if err := ch.Listen(ctx); err != nil {
			logging.Logger(ctx).WithError(err).Warnf("%s hub listen ended", ch.Config().Name)
		}

		select {
		case <-time.After(channelRetryDelay):
		case <-ctx.Done():
		}
	}
}

func (c *Client) runPolling(ctx context.Context) {
	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.RefreshDevices(ctx); err != nil {
				logging.Logger(ctx).WithError(err).Warn("refreshing device snapshot")
			}
			if err := c.RefreshChallenges(ctx); err != nil {
				logging.Logger(ctx).WithError(err).Warn("refreshing challenges")
			}
			c.pollChallengeBaselines(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) runDeviceSubscription(ctx context.Context) {
	vars := map[string]string{"locationHiloId": c.registry.LocationIdentifier}
	err := c.graph.Subscribe(ctx, graphql.SubscriptionDeviceUpdated, vars, c.onDeviceUpdatedFrame)
	if err != nil && ctx.Err() == nil {
		logging.Logger(ctx).WithError(err).Error("device subscription terminated")
	}
}

// RefreshDevices pulls a full device snapshot and reconciles it into the
// registry.  Devices absent from the snapshot are kept.
func (c *Client) RefreshDevices(ctx context.Context) error {
	records, err := c.api.GetDevices(ctx, c.registry.LocationID)
	if err != nil {
		return errors.Wrap(err, "fetching device snapshot")
	}

	added := c.registry.ReconcileSnapshot(records)
	for _, dev := range added {
		logging.Logger(ctx).Infof("Discovered %s", dev)
	}
	logging.Logger(ctx).Debugf("Snapshot applied: %d records, %d new devices", len(records), len(added))
	return nil
}

// SyncLocationGraph pulls the digital-twin snapshot and folds its readings
// into the registry.
func (c *Client) SyncLocationGraph(ctx context.Context) error {
	data, err := c.graph.Query(ctx, graphql.QueryGetLocation, map[string]string{
		"locationHiloId": c.registry.LocationIdentifier,
	})
	if err != nil {
		return err
	}

	var payload struct {
		GetLocation struct {
			Devices []mapper.Object `json:"devices"`
		} `json:"getLocation"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return errors.Wrap(err, "decoding location graph")
	}

	readings := mapper.QueryReadings(payload.GetLocation.Devices)
	c.applyReadings(ctx, readings)
	return nil
}

// SetAttribute pushes one settable attribute value to the cloud.
func (c *Client) SetAttribute(ctx context.Context, dev *devices.Device, attribute string, value interface{}) error {
	return c.api.SetDeviceAttribute(ctx, c.registry.LocationID, dev.ID(), attribute, value)
}

func (c *Client) subscribeToLocation() {
	ctx := context.Background()
	logging.Logger(ctx).Debugf("Subscribing to location %d", c.registry.LocationID)
	err := c.coord.DeviceHub.Invoke(ctx,
		[]interface{}{c.registry.LocationID}, "SubscribeToLocation", subscriptionInvocationID)
	if err != nil {
		logging.Logger(ctx).WithError(err).Warn("subscribing to location")
	}
}

func (c *Client) subscribeDevicesAttributes() {
	ctx := context.Background()
	err := c.coord.DeviceHub.Invoke(ctx,
		c.registry.SubscriptionArgs(), "SubscribeDevicesAttributes", subscriptionInvocationID)
	if err != nil {
		logging.Logger(ctx).WithError(err).Warn("subscribing to device attributes")
	}
}

func (c *Client) subscribeToChallengeList() {
	ctx := context.Background()
	err := c.coord.ChallengeHub.Invoke(ctx,
		[]interface{}{c.registry.LocationID}, "SubscribeToChallengeList", subscriptionInvocationID)
	if err != nil {
		logging.Logger(ctx).WithError(err).Warn("subscribing to challenge list")
	}
}

func (c *Client) onDeviceHubEvent(ev hubs.Event) {
	ctx := context.Background()

	switch ev.Target {
	case "Heartbeat":
		c.validateHeartbeat(ctx, ev)
	case "DevicesValuesReceived", "GatewayValuesReceived":
		c.applyFlatValues(ctx, ev)
	case "DeviceListInitialValuesReceived", "DeviceListUpdatedValuesReceived":
		c.reconcileDeviceList(ctx, ev)
	default:
		logging.Logger(ctx).Debugf("Unhandled websocket event: target %s type %s", ev.Target, ev.Type)
	}
}

func (c *Client) validateHeartbeat(ctx context.Context, ev hubs.Event) {
	if len(ev.Arguments) == 0 {
		return
	}
	var stamp time.Time
	if err := json.Unmarshal(ev.Arguments[0], &stamp); err != nil {
		logging.Logger(ctx).Warnf("Malformed heartbeat: %.100s", ev.Arguments[0])
		return
	}
	logging.Logger(ctx).Debugf("Heartbeat lag: %s", ev.Timestamp.Sub(stamp))
}

func (c *Client) applyFlatValues(ctx context.Context, ev hubs.Event) {
	if len(ev.Arguments) == 0 {
		return
	}
	var records []mapper.FlatRecord
	if err := json.Unmarshal(ev.Arguments[0], &records); err != nil {
		logging.Logger(ctx).Warnf("Malformed device values: %.200s", ev.Arguments[0])
		return
	}
	c.applyReadings(ctx, mapper.FlatReadings(records))
}

// reconcileDeviceList folds a pushed device list into the registry, the
// same way a polled snapshot is.
func (c *Client) reconcileDeviceList(ctx context.Context, ev hubs.Event) {
	if len(ev.Arguments) == 0 {
		return
	}
	var records []devices.Record
	if err := json.Unmarshal(ev.Arguments[0], &records); err != nil {
		logging.Logger(ctx).Warnf("Malformed device list: %.200s", ev.Arguments[0])
		return
	}
	added := c.registry.ReconcileSnapshot(records)
	for _, dev := range added {
		logging.Logger(ctx).Infof("Discovered %s", dev)
	}
}

// onDeviceUpdatedFrame handles one digital-twin subscription push.
func (c *Client) onDeviceUpdatedFrame(data json.RawMessage) {
	ctx := context.Background()

	var payload struct {
		OnAnyDeviceUpdated struct {
			Device mapper.Object `json:"device"`
		} `json:"onAnyDeviceUpdated"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		logging.Logger(ctx).Warnf("Malformed subscription payload: %.200s", data)
		return
	}
	if payload.OnAnyDeviceUpdated.Device == nil {
		return
	}

	c.applyReadings(ctx, mapper.DeviceReadings(payload.OnAnyDeviceUpdated.Device))
}

func (c *Client) applyReadings(ctx context.Context, readings []devices.Reading) {
	if len(readings) == 0 {
		return
	}
	updated := c.registry.ApplyReadings(readings)
	for _, dev := range updated {
		c.fireUpdate(dev)
	}
}

func (c *Client) fireUpdate(dev *devices.Device) {
	c.cbMu.Lock()
	cbs := make([]UpdateCallback, 0, len(c.updateCbs))
	for _, cb := range c.updateCbs {
		cbs = append(cbs, cb)
	}
	c.cbMu.Unlock()

	for _, cb := range cbs {
		cb(dev)
	}
}
