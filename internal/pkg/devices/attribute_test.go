package devices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestCamelToSnake verifies wire-name normalization.
func TestCamelToSnake(t *testing.T) {
	cases := map[string]string{
		"CurrentTemperature": "current_temperature",
		"zigBeeChannel":      "zig_bee_channel",
		"onlineStatus":       "online_status",
		"Power":              "power",
		"gDState":            "g_d_state",
	}

	for in, want := range cases {
		assert.Equal(t, want, camelToSnake(in), "input %q", in)
	}
}

// TestNewAttributeOnOff verifies the OnOff special case: the accessor is
// is_on and the unit classification is boolean.
func TestNewAttributeOnOff(t *testing.T) {
	a := NewAttribute("OnOff", "OnOff")

	assert.Equal(t, "is_on", a.Name())
	assert.Equal(t, "boolean", a.Unit())
}

// TestNewAttributeNullType verifies that null-typed attributes classify as
// boolean.
func TestNewAttributeNullType(t *testing.T) {
	a := NewAttribute("Disconnected", "null")

	assert.Equal(t, "disconnected", a.Name())
	assert.Equal(t, "boolean", a.Unit())
}

// TestNewAttributeUnits verifies unit mapping from the reading-type table.
func TestNewAttributeUnits(t *testing.T) {
	temp := AttributeFor("CurrentTemperature")
	assert.Equal(t, "°C", temp.Unit())

	power := AttributeFor("Power")
	assert.Equal(t, "W", power.Unit())

	hum := AttributeFor("Humidity")
	assert.Equal(t, "%", hum.Unit())
}

// TestAttributeEquality verifies equality is decided on the normalized
// accessor name only, so differently-spelled wire names that normalize
// identically are interchangeable.
func TestAttributeEquality(t *testing.T) {
	fromRest := NewAttribute("CurrentTemperature", "Celcius")
	fromGraph := NewAttribute("currentTemperature", "Celcius")

	assert.True(t, fromRest.Equal(fromGraph))

	other := NewAttribute("TargetTemperature", "Celcius")
	assert.False(t, fromRest.Equal(other))
}

// TestKnownAttribute verifies the lookup distinguishes catalogued wire
// names from unknown ones.
func TestKnownAttribute(t *testing.T) {
	_, ok := KnownAttribute("Power")
	assert.True(t, ok)

	_, ok = KnownAttribute("TotallyMadeUp")
	assert.False(t, ok)
}
