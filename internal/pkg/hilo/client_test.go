package hilo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etiennebl/hilolink/internal/pkg/devices"
	"github.com/etiennebl/hilolink/internal/pkg/events"
	"github.com/etiennebl/hilolink/internal/pkg/hubs"
)

func testClient() *Client {
	c := &Client{
		registry:   devices.NewRegistry(),
		challenges: map[int64]*events.ChallengeEvent{},
		updateCbs:  map[int]UpdateCallback{},
	}
	c.registry.LocationID = 4051
	return c
}

func deviceHubEvent(target, args string) hubs.Event {
	return hubs.Event{
		Type:      hubs.MsgInvoke,
		Target:    target,
		Arguments: []json.RawMessage{json.RawMessage(args)},
	}
}

// TestDeviceListEventReconciles verifies a pushed device list lands in the
// registry the same way a polled snapshot does.
func TestDeviceListEventReconciles(t *testing.T) {
	c := testClient()

	c.onDeviceHubEvent(deviceHubEvent("DeviceListUpdatedValuesReceived",
		`[{"id":10,"type":"Thermostat","name":"Office","supportedAttributes":"CurrentTemperature","settableAttributes":""}]`))

	dev := c.registry.Find(10)
	require.NotNil(t, dev)
	assert.Equal(t, "Office", dev.Name())
	assert.Equal(t, int64(4051), dev.LocationID())
}

// TestDeviceValuesEventFiresCallbacks verifies flat value pushes update
// readings and notify registered callbacks.
func TestDeviceValuesEventFiresCallbacks(t *testing.T) {
	c := testClient()
	c.registry.GenerateDevice(devices.Record{
		"id": float64(10), "type": "Thermostat", "name": "Office",
		"supportedAttributes": "CurrentTemperature", "settableAttributes": "",
	})

	var fired []*devices.Device
	c.AddUpdateCallback(func(d *devices.Device) { fired = append(fired, d) })

	c.onDeviceHubEvent(deviceHubEvent("DevicesValuesReceived",
		`[{"deviceId":10,"attribute":"CurrentTemperature","valueType":"Celcius","value":21.5}]`))

	require.Len(t, fired, 1)
	assert.Equal(t, 21.5, fired[0].Value("current_temperature"))
}

// TestGatewayValuesEventRouted verifies gateway pushes flow through the
// same flat-record path as device values.
func TestGatewayValuesEventRouted(t *testing.T) {
	c := testClient()
	c.registry.GenerateDevice(devices.Record{
		"id": float64(1), "type": "Gateway", "name": "Hilo Gateway",
		"supportedAttributes": "Disconnected", "settableAttributes": "",
	})

	c.onDeviceHubEvent(deviceHubEvent("GatewayValuesReceived",
		`[{"deviceId":1,"attribute":"Disconnected","valueType":"null","value":true}]`))

	dev := c.registry.Find(1)
	require.NotNil(t, dev)
	assert.False(t, dev.Available())
}

// TestUnhandledEventIgnored verifies unknown hub targets are dropped
// without side effects.
func TestUnhandledEventIgnored(t *testing.T) {
	c := testClient()
	c.onDeviceHubEvent(deviceHubEvent("SomethingNew", `[1,2,3]`))
	assert.Empty(t, c.registry.All())
}

// TestCallbackRemoval verifies the remover returned by AddUpdateCallback
// unregisters the callback.
func TestCallbackRemoval(t *testing.T) {
	c := testClient()
	c.registry.GenerateDevice(devices.Record{
		"id": float64(10), "type": "Thermostat", "name": "Office",
		"supportedAttributes": "CurrentTemperature", "settableAttributes": "",
	})

	var fired int
	remove := c.AddUpdateCallback(func(*devices.Device) { fired++ })
	remove()

	c.onDeviceHubEvent(deviceHubEvent("DevicesValuesReceived",
		`[{"deviceId":10,"attribute":"CurrentTemperature","valueType":"Celcius","value":20.0}]`))

	assert.Zero(t, fired)
}
