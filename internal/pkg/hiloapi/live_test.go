package hiloapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etiennebl/hilolink/internal/pkg/transport"
)

type fakeRequester struct {
	responses map[string]string
	calls     []string
}

func (f *fakeRequester) Execute(ctx context.Context, method, path string, opts ...transport.RequestOption) (json.RawMessage, error) {
	f.calls = append(f.calls, method+" "+path)
	if resp, ok := f.responses[path]; ok {
		return json.RawMessage(resp), nil
	}
	return nil, &transport.RequestError{}
}

// TestGetLocations verifies location decoding and the derived first
// location id.
func TestGetLocations(t *testing.T) {
	api := &fakeRequester{responses: map[string]string{
		AutomationEndpoint + "/Locations": `[{"id":4051,"locationHiloId":"loc-abc","name":"Home"}]`,
	}}
	c := NewLiveClient(api)

	locs, err := c.GetLocations(context.Background())
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, int64(4051), locs[0].ID)
	assert.Equal(t, "loc-abc", locs[0].LocationHiloID)

	id, err := c.GetLocationID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4051), id)
}

// TestGetDevicesAppendsGateway verifies the device list is merged with the
// synthesized gateway record.
func TestGetDevicesAppendsGateway(t *testing.T) {
	api := &fakeRequester{responses: map[string]string{
		AutomationEndpoint + "/Locations/4051/Devices":       `[{"id":10,"type":"Thermostat","name":"Office"}]`,
		AutomationEndpoint + "/Locations/4051/Gateways/Info": `[{"dsn":"gw-123","onlineStatus":"Online","firmwareVersion":"2.1.0"}]`,
	}}
	c := NewLiveClient(api)

	records, err := c.GetDevices(context.Background(), 4051)
	require.NoError(t, err)
	require.Len(t, records, 2)

	gw := records[1]
	assert.Equal(t, "Hilo Gateway", gw["name"])
	assert.Equal(t, 1, gw["id"])
	assert.Equal(t, "gw-123", gw["identifier"])
	assert.Equal(t, "EQ000017", gw["model_number"])
}

// TestGetDevicesGatewayFailureTolerated verifies a gateway fetch failure
// degrades to the bare device list instead of failing the call.
func TestGetDevicesGatewayFailureTolerated(t *testing.T) {
	api := &fakeRequester{responses: map[string]string{
		AutomationEndpoint + "/Locations/4051/Devices": `[{"id":10,"type":"Thermostat","name":"Office"}]`,
	}}
	c := NewLiveClient(api)

	records, err := c.GetDevices(context.Background(), 4051)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

// TestGetGatewayDisconnected verifies any online status other than Online
// marks the gateway disconnected.
func TestGetGatewayDisconnected(t *testing.T) {
	api := &fakeRequester{responses: map[string]string{
		AutomationEndpoint + "/Locations/4051/Gateways/Info": `[{"dsn":"gw-123","onlineStatus":"Offline"}]`,
	}}
	c := NewLiveClient(api)

	rec, err := c.GetGateway(context.Background(), 4051)
	require.NoError(t, err)

	disc, ok := rec["Disconnected"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, disc["value"])
}

// TestSetDeviceAttribute verifies the attribute write goes to the device's
// attributes endpoint.
func TestSetDeviceAttribute(t *testing.T) {
	api := &fakeRequester{responses: map[string]string{
		AutomationEndpoint + "/Locations/4051/Devices/10/Attributes": `{}`,
	}}
	c := NewLiveClient(api)

	err := c.SetDeviceAttribute(context.Background(), 4051, 10, "TargetTemperature", 21.5)
	require.NoError(t, err)
	assert.Equal(t, []string{http.MethodPut + " " + AutomationEndpoint + "/Locations/4051/Devices/10/Attributes"}, api.calls)
}

// TestGetChallenges verifies the active-events listing decodes nested
// phase times.
func TestGetChallenges(t *testing.T) {
	api := &fakeRequester{responses: map[string]string{
		GDServiceEndpoint + "/Locations/4051/Events?active=true": `[
			{"id":9001,"period":"am","isParticipating":true,
			 "phases":{"preheatStartDateUTC":"2026-01-15T14:00:00Z","preheatEndDateUTC":"2026-01-15T16:00:00Z"}}
		]`,
	}}
	c := NewLiveClient(api)

	challenges, err := c.GetChallenges(context.Background(), 4051)
	require.NoError(t, err)
	require.Len(t, challenges, 1)
	assert.Equal(t, int64(9001), challenges[0].ID)
	assert.True(t, challenges[0].IsParticipating)
	assert.Equal(t, 14, challenges[0].Phases.PreheatStart.Hour())
}

// TestGetWeatherShapes verifies both response shapes the endpoint is known
// to produce.
func TestGetWeatherShapes(t *testing.T) {
	bare := &fakeRequester{responses: map[string]string{
		AutomationEndpoint + "/Locations/4051/Weather": `{"temperature":-12.5,"condition":"Snow"}`,
	}}
	w, err := NewLiveClient(bare).GetWeather(context.Background(), 4051)
	require.NoError(t, err)
	assert.Equal(t, -12.5, w.Temperature)

	list := &fakeRequester{responses: map[string]string{
		AutomationEndpoint + "/Locations/4051/Weather": `[{"temperature":3.0,"condition":"Cloudy"}]`,
	}}
	w, err = NewLiveClient(list).GetWeather(context.Background(), 4051)
	require.NoError(t, err)
	assert.Equal(t, 3.0, w.Temperature)
}

// TestWithTimeout verifies the copy-on-write timeout client leaves the
// original untouched.
func TestWithTimeout(t *testing.T) {
	c := NewLiveClient(&fakeRequester{})
	tc := c.WithTimeout(1)

	assert.NotSame(t, c, tc)
	assert.Zero(t, c.timeout)
}
