package devices

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *Registry {
	reg := NewRegistry()
	reg.LocationID = 4051
	reg.LocationIdentifier = "loc-abc"
	return reg
}

// TestGenerateDeviceStampsLocation verifies new devices inherit the
// registry's location id.
func TestGenerateDeviceStampsLocation(t *testing.T) {
	reg := testRegistry()
	dev := reg.GenerateDevice(Record{
		"id":   float64(10),
		"type": "Thermostat",
		"name": "Office",
	})

	assert.Equal(t, int64(4051), dev.LocationID())
}

// TestFindDualKey verifies lookup by numeric id first, with the string
// identifier as a fallback.
func TestFindDualKey(t *testing.T) {
	reg := testRegistry()
	reg.GenerateDevice(Record{
		"id":         float64(10),
		"identifier": "aaaa-bbbb",
		"type":       "Thermostat",
		"name":       "Office",
	})

	require.NotNil(t, reg.Find(10))
	require.NotNil(t, reg.FindByIdentifier("aaaa-bbbb"))
	assert.Same(t, reg.Find(10), reg.FindByIdentifier("aaaa-bbbb"))

	assert.Nil(t, reg.Find(99))
	assert.Nil(t, reg.FindByIdentifier("nope"))
}

// TestGenerateDeviceUpdatesInPlace verifies re-generating an existing
// device updates it rather than duplicating it.
func TestGenerateDeviceUpdatesInPlace(t *testing.T) {
	reg := testRegistry()
	first := reg.GenerateDevice(Record{
		"id":   float64(10),
		"type": "Thermostat",
		"name": "Office",
	})
	second := reg.GenerateDevice(Record{
		"id":   float64(10),
		"type": "Thermostat",
		"name": "Office renamed",
	})

	assert.Same(t, first, second)
	assert.Equal(t, "Office renamed", first.Name())
	assert.Len(t, reg.All(), 1)
}

// TestGenerateDeviceMatchesByIdentifier verifies a device first seen
// without a numeric id is matched up by identifier later.
func TestGenerateDeviceMatchesByIdentifier(t *testing.T) {
	reg := testRegistry()
	first := reg.GenerateDevice(Record{
		"identifier": "aaaa-bbbb",
		"type":       "Thermostat",
		"name":       "Office",
	})
	second := reg.GenerateDevice(Record{
		"id":         float64(42),
		"identifier": "aaaa-bbbb",
		"type":       "Thermostat",
		"name":       "Office",
	})

	assert.Same(t, first, second)
	assert.Equal(t, int64(42), first.ID())
}

// TestReconcileSnapshotReportsAdded verifies only first-sighted devices
// are reported, and repeated reconciles report nothing.
func TestReconcileSnapshotReportsAdded(t *testing.T) {
	reg := testRegistry()
	snapshot := []Record{
		{"id": float64(10), "type": "Thermostat", "name": "Office"},
		{"id": float64(11), "type": "LightSwitch", "name": "Hallway"},
	}

	added := reg.ReconcileSnapshot(snapshot)
	assert.Len(t, added, 2)

	added = reg.ReconcileSnapshot(snapshot)
	assert.Empty(t, added)
	assert.Len(t, reg.All(), 2)
}

// TestReconcileSnapshotNeverRemoves verifies a device absent from a later
// snapshot stays in the registry.
func TestReconcileSnapshotNeverRemoves(t *testing.T) {
	reg := testRegistry()
	reg.ReconcileSnapshot([]Record{
		{"id": float64(10), "type": "Thermostat", "name": "Office"},
		{"id": float64(11), "type": "LightSwitch", "name": "Hallway"},
	})

	reg.ReconcileSnapshot([]Record{
		{"id": float64(10), "type": "Thermostat", "name": "Office"},
	})

	assert.Len(t, reg.All(), 2)
	assert.NotNil(t, reg.Find(11))
}

// TestApplyReadingsDropsUnknownDevice verifies a reading for an unknown
// device is dropped without fabricating a device.
func TestApplyReadingsDropsUnknownDevice(t *testing.T) {
	reg := testRegistry()
	reg.GenerateDevice(Record{"id": float64(10), "type": "Thermostat", "name": "Office"})

	updated := reg.ApplyReadings([]Reading{
		{DeviceID: 10, Attribute: AttributeFor("CurrentTemperature"), Value: 21.0},
		{DeviceID: 999, Attribute: AttributeFor("Power"), Value: 100.0},
	})

	require.Len(t, updated, 1)
	assert.Equal(t, int64(10), updated[0].ID())
	assert.Len(t, reg.All(), 1)
}

// TestApplyReadingsDedupesDevices verifies a device receiving several
// readings in one batch appears once in the result.
func TestApplyReadingsDedupesDevices(t *testing.T) {
	reg := testRegistry()
	reg.GenerateDevice(Record{"id": float64(10), "type": "Thermostat", "name": "Office"})

	updated := reg.ApplyReadings([]Reading{
		{DeviceID: 10, Attribute: AttributeFor("CurrentTemperature"), Value: 21.0},
		{DeviceID: 10, Attribute: AttributeFor("Power"), Value: 250.0},
	})

	assert.Len(t, updated, 1)
}

// TestGenerateDeviceConcurrentReads verifies snapshot applies and device
// field reads can interleave from different goroutines, which is the
// normal shape of a hub push racing the local API.
func TestGenerateDeviceConcurrentReads(t *testing.T) {
	reg := testRegistry()
	dev := reg.GenerateDevice(thermostatRecord())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			reg.GenerateDevice(thermostatRecord())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = dev.Name()
			_ = dev.Tag()
			_ = dev.Supported()
			_ = dev.Available()
		}
	}()
	wg.Wait()

	assert.Equal(t, "Bedroom", dev.Name())
}

// TestSubscriptionArgs verifies the hub subscription payload carries the
// location id and skips the synthesized gateway entry.
func TestSubscriptionArgs(t *testing.T) {
	reg := testRegistry()
	reg.GenerateDevice(Record{
		"id": float64(1), "type": "Gateway", "name": "Hilo Gateway",
		"supportedAttributes": "Disconnected",
	})
	reg.GenerateDevice(Record{
		"id": float64(10), "type": "Thermostat", "name": "Office",
		"supportedAttributes": "CurrentTemperature, Power",
	})

	args := reg.SubscriptionArgs()
	require.Len(t, args, 2)
	assert.Equal(t, int64(4051), args[0])

	attrs, ok := args[1].(map[int64][]string)
	require.True(t, ok)
	assert.NotContains(t, attrs, int64(1))
	assert.ElementsMatch(t, []string{"CurrentTemperature", "Power"}, attrs[10])
}
