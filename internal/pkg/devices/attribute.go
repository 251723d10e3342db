package devices

import (
	"regexp"
	"strings"
)

var (
	camelRex1 = regexp.MustCompile(`(.)([A-Z][a-z]+)`)
	camelRex2 = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

func camelToSnake(s string) string {
	s = camelRex1.ReplaceAllString(s, "${1}_${2}")
	return strings.ToLower(camelRex2.ReplaceAllString(s, "${1}_${2}"))
}

// unitConversion maps the cloud's value-type spellings to unit labels.
// "Celcius" is misspelled on the wire.
var unitConversion = map[string]string{
	"Celcius":    "°C",
	"DB":         "dB",
	"Integer":    "dB",
	"Mbar":       "mbar",
	"Percentage": "%",
	"PPM":        "ppm",
	"Watt":       "W",
}

// readingTypes enumerates the attribute names the cloud reports readings
// for, with their value-type classification.
var readingTypes = map[string]string{
	"BatteryPercent":         "Percentage",
	"Co2":                    "PPM",
	"ColorTemperature":       "Integer",
	"CurrentTemperature":     "Celcius",
	"Disconnected":           "null",
	"DrmsState":              "OnOff",
	"firmwareVersion":        "null",
	"GdState":                "OnOff",
	"Heating":                "Percentage",
	"Hue":                    "Integer",
	"Humidity":               "Percentage",
	"Intensity":              "Percentage",
	"MaxTempSetpoint":        "Celcius",
	"MinTempSetpoint":        "Celcius",
	"Noise":                  "DB",
	"onlineStatus":           "null",
	"OnOff":                  "OnOff",
	"Power":                  "Watt",
	"Pressure":               "Mbar",
	"Saturation":             "Integer",
	"Status":                 "OnOff",
	"TargetTemperature":      "Celcius",
	"Unpaired":               "null",
	"WifiStatus":             "Integer",
	"zigBeePairingActivated": "OnOff",
	"zigBeeChannel":          "Integer",
}

// Attribute is an immutable descriptor of one device attribute: the wire
// spelling plus a value-type classification, with a cached normalized
// accessor name and unit label.  Equality is defined solely on the
// normalized name, so descriptors built from different wire spellings that
// normalize identically are interchangeable; that lets the REST and GraphQL
// sources agree on the same logical attribute.
type Attribute struct {
	wireName string
	wireType string
	name     string
	unit     string
}

// NewAttribute builds an attribute descriptor from a wire name and
// value-type classification.
func NewAttribute(wireName, wireType string) Attribute {
	name := camelToSnake(wireName)
	if wireName == "OnOff" {
		name = "is_on"
	}

	unit := ""
	switch wireType {
	case "null", "OnOff":
		unit = "boolean"
	default:
		if u, ok := unitConversion[wireType]; ok {
			unit = u
		} else {
			unit = camelToSnake(wireType)
		}
	}

	return Attribute{
		wireName: wireName,
		wireType: wireType,
		name:     name,
		unit:     unit,
	}
}

// KnownAttribute resolves a descriptor from either the wire spelling or
// the normalized accessor name using the known reading-types table.
func KnownAttribute(name string) (Attribute, bool) {
	if vt, ok := readingTypes[name]; ok {
		return NewAttribute(name, vt), true
	}
	for wire, vt := range readingTypes {
		a := NewAttribute(wire, vt)
		if a.name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// AttributeFor resolves a descriptor from either the wire spelling or the
// normalized accessor name, defaulting the value type from the known
// reading-types table.
func AttributeFor(name string) Attribute {
	if a, ok := KnownAttribute(name); ok {
		return a
	}
	return NewAttribute(name, "null")
}

// AttributeWithType resolves a descriptor like AttributeFor but, when the
// attribute is not in the known table, classifies it with the supplied
// wire value type instead of null.
func AttributeWithType(name, valueType string) Attribute {
	if a, ok := KnownAttribute(name); ok {
		return a
	}
	if vt, ok := readingTypes[valueType]; ok {
		valueType = vt
	}
	return NewAttribute(name, valueType)
}

// WireName returns the attribute name as the cloud spells it.
func (a Attribute) WireName() string { return a.wireName }

// Name returns the normalized accessor name, e.g. "is_on" for "OnOff".
func (a Attribute) Name() string { return a.name }

// Unit returns the normalized unit or value-type label.
func (a Attribute) Unit() string { return a.unit }

// Equal compares two descriptors on their normalized name only.
func (a Attribute) Equal(other Attribute) bool {
	return a.name == other.name
}

func (a Attribute) String() string {
	return a.name
}
