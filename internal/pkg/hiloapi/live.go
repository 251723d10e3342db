package hiloapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/etiennebl/hilolink/internal/pkg/devices"
	"github.com/etiennebl/hilolink/internal/pkg/logging"
	"github.com/etiennebl/hilolink/internal/pkg/transport"
)

// requester is the slice of the transport client this package needs.
type requester interface {
	Execute(ctx context.Context, method, path string, opts ...transport.RequestOption) (json.RawMessage, error)
}

type Live struct {
	api     requester
	timeout time.Duration
}

func NewLiveClient(api requester) *Live {
	return &Live{api: api}
}

func (c *Live) WithTimeout(d time.Duration) Automation {
	nc := *c
	nc.timeout = d
	return &nc
}

func (c *Live) makeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func() {}
}

func locationURL(base string, locationID int64, endpoint string) string {
	url := fmt.Sprintf("%s/Locations/%d", base, locationID)
	if endpoint != "" {
		url += "/" + endpoint
	}
	return url
}

func (c *Live) GetLocations(ctx context.Context) ([]Location, error) {
	ctx, cancel := c.makeContext(ctx)
	defer cancel()

	raw, err := c.api.Execute(ctx, http.MethodGet, AutomationEndpoint+"/Locations")
	if err != nil {
		return nil, errors.Wrap(err, "listing locations")
	}

	var locations []Location
	if err := json.Unmarshal(raw, &locations); err != nil {
		return nil, errors.Wrap(err, "decoding locations")
	}
	return locations, nil
}

// GetLocationID returns the id of the account's first location, which is
// the one the mobile app operates on.
func (c *Live) GetLocationID(ctx context.Context) (int64, error) {
	locations, err := c.GetLocations(ctx)
	if err != nil {
		return 0, err
	}
	if len(locations) == 0 {
		return 0, errors.New("account has no locations")
	}
	return locations[0].ID, nil
}

// GetDevices lists the location's devices and appends the gateway, which
// the cloud reports through a separate endpoint.
func (c *Live) GetDevices(ctx context.Context, locationID int64) ([]devices.Record, error) {
	ctx, cancel := c.makeContext(ctx)
	defer cancel()

	url := locationURL(AutomationEndpoint, locationID, "Devices")
	logging.Logger(ctx).Debugf("Devices URL is %s", url)

	raw, err := c.api.Execute(ctx, http.MethodGet, url)
	if err != nil {
		return nil, errors.Wrap(err, "listing devices")
	}

	var records []devices.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, errors.Wrap(err, "decoding devices")
	}

	gw, err := c.GetGateway(ctx, locationID)
	if err != nil {
		logging.Logger(ctx).WithError(err).Warn("fetching gateway info")
	} else {
		records = append(records, gw)
	}

	return records, nil
}

// gatewayAttributes are the gateway info fields surfaced as readings.
var gatewayAttributes = []string{
	"zigBeePairingActivated",
	"zigBeeChannel",
	"firmwareVersion",
	"onlineStatus",
	"lastStatusTime",
	"disconnected",
}

// GetGateway fetches the gateway info record and reshapes it into the same
// record form as a regular device, so the registry can treat it uniformly.
// The gateway always gets device id 1.
func (c *Live) GetGateway(ctx context.Context, locationID int64) (devices.Record, error) {
	ctx, cancel := c.makeContext(ctx)
	defer cancel()

	url := locationURL(AutomationEndpoint, locationID, "Gateways/Info")
	logging.Logger(ctx).Debugf("Gateway URL is %s", url)

	raw, err := c.api.Execute(ctx, http.MethodGet, url)
	if err != nil {
		return nil, errors.Wrap(err, "fetching gateway info")
	}

	var infos []map[string]interface{}
	if err := json.Unmarshal(raw, &infos); err != nil {
		return nil, errors.Wrap(err, "decoding gateway info")
	}
	if len(infos) == 0 {
		return nil, errors.New("gateway info response is empty")
	}
	info := infos[0]

	online, _ := info["onlineStatus"].(string)
	rec := devices.Record{
		"name":                "Hilo Gateway",
		"type":                "Gateway",
		"category":            "Gateway",
		"id":                  1,
		"identifier":          info["dsn"],
		"sdi":                 info["sdi"],
		"provider":            1,
		"model_number":        "EQ000017",
		"sw_version":          info["firmwareVersion"],
		"supportedAttributes": strings.Join(gatewayAttributes, ", "),
		"settableAttributes":  "",
		"Disconnected":        map[string]interface{}{"value": online != "Online"},
	}
	for _, attr := range gatewayAttributes {
		rec[attr] = map[string]interface{}{"value": info[attr]}
	}

	return rec, nil
}

// SetDeviceAttribute pushes one settable attribute value to a device.
func (c *Live) SetDeviceAttribute(ctx context.Context, locationID, deviceID int64, attribute string, value interface{}) error {
	ctx, cancel := c.makeContext(ctx)
	defer cancel()

	url := locationURL(AutomationEndpoint, locationID, fmt.Sprintf("Devices/%d/Attributes", deviceID))
	logging.Logger(ctx).Debugf("Device attribute URL is %s", url)

	_, err := c.api.Execute(ctx, http.MethodPut, url,
		transport.WithJSONBody(map[string]interface{}{attribute: value}))
	return errors.Wrapf(err, "setting %s on device %d", attribute, deviceID)
}

func (c *Live) GetWeather(ctx context.Context, locationID int64) (*Weather, error) {
	ctx, cancel := c.makeContext(ctx)
	defer cancel()

	url := locationURL(AutomationEndpoint, locationID, "Weather")
	logging.Logger(ctx).Debugf("Weather URL is %s", url)

	raw, err := c.api.Execute(ctx, http.MethodGet, url)
	if err != nil {
		return nil, errors.Wrap(err, "fetching weather")
	}

	// The endpoint answers with either a bare object or a one-item list.
	var weather Weather
	if err := json.Unmarshal(raw, &weather); err == nil {
		return &weather, nil
	}
	var list []Weather
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errors.Wrap(err, "decoding weather")
	}
	if len(list) == 0 {
		return nil, errors.New("weather response is empty")
	}
	return &list[0], nil
}

func (c *Live) GetSeasons(ctx context.Context, locationID int64) ([]Season, error) {
	ctx, cancel := c.makeContext(ctx)
	defer cancel()

	url := locationURL(ChallengeEndpoint, locationID, "Seasons")
	logging.Logger(ctx).Debugf("Seasons URL is %s", url)

	raw, err := c.api.Execute(ctx, http.MethodGet, url)
	if err != nil {
		return nil, errors.Wrap(err, "fetching seasons")
	}

	var seasons []Season
	if err := json.Unmarshal(raw, &seasons); err != nil {
		return nil, errors.Wrap(err, "decoding seasons")
	}
	return seasons, nil
}

// GetChallenges lists the location's active and upcoming challenges.
func (c *Live) GetChallenges(ctx context.Context, locationID int64) ([]Challenge, error) {
	ctx, cancel := c.makeContext(ctx)
	defer cancel()

	url := locationURL(GDServiceEndpoint, locationID, "Events") + "?active=true"
	logging.Logger(ctx).Debugf("Challenges URL is %s", url)

	raw, err := c.api.Execute(ctx, http.MethodGet, url)
	if err != nil {
		return nil, errors.Wrap(err, "listing challenges")
	}

	var challenges []Challenge
	if err := json.Unmarshal(raw, &challenges); err != nil {
		return nil, errors.Wrap(err, "decoding challenges")
	}
	return challenges, nil
}

// GetChallenge fetches the details of one challenge.
func (c *Live) GetChallenge(ctx context.Context, locationID, eventID int64) (*Challenge, error) {
	ctx, cancel := c.makeContext(ctx)
	defer cancel()

	url := locationURL(GDServiceEndpoint, locationID, fmt.Sprintf("Events/%d", eventID))
	logging.Logger(ctx).Debugf("Challenge URL is %s", url)

	raw, err := c.api.Execute(ctx, http.MethodGet, url)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching challenge %d", eventID)
	}

	var challenge Challenge
	if err := json.Unmarshal(raw, &challenge); err != nil {
		return nil, errors.Wrap(err, "decoding challenge")
	}
	return &challenge, nil
}

func (c *Live) GetEventNotifications(ctx context.Context, locationID int64) ([]EventNotification, error) {
	ctx, cancel := c.makeContext(ctx)
	defer cancel()

	url := locationURL(EventsEndpoint, locationID, "")
	logging.Logger(ctx).Debugf("Event notifications URL is %s", url)

	raw, err := c.api.Execute(ctx, http.MethodGet, url)
	if err != nil {
		return nil, errors.Wrap(err, "fetching event notifications")
	}

	var notifications []EventNotification
	if err := json.Unmarshal(raw, &notifications); err != nil {
		return nil, errors.Wrap(err, "decoding event notifications")
	}
	return notifications, nil
}
