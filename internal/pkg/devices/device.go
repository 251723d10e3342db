package devices

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/etiennebl/hilolink/internal/pkg/logging"
)

// Kind classifies a device's capability family.  It is decided once, at
// creation time, from the cloud type; a device never changes kind.
type Kind string

const (
	KindClimate Kind = "Climate"
	KindLight   Kind = "Light"
	KindSwitch  Kind = "Switch"
	KindSensor  Kind = "Sensor"
)

// deviceKinds maps cloud device types to capability kinds.  Types absent
// from this table are treated as generic sensors rather than rejected.
var deviceKinds = map[string]Kind{
	"ChargingPoint":         KindSensor,
	"ColorBulb":             KindLight,
	"Gateway":               KindSensor,
	"IndoorWeatherStation":  KindSensor,
	"LightDimmer":           KindLight,
	"LightSwitch":           KindLight,
	"Meter":                 KindSensor,
	"OutdoorWeatherStation": KindSensor,
	"Outlet":                KindSwitch,
	"SmokeDetector":         KindSensor,
	"Thermostat":            KindClimate,
	"FloorThermostat":       KindClimate,
	"Ccr":                   KindSwitch,
	"Cee":                   KindSwitch,
	"Thermostat24V":         KindClimate,
	"Tracker":               KindSensor,
}

// KindForType returns the capability kind for a cloud device type,
// defaulting unknown types to the generic sensor kind.
func KindForType(deviceType string) Kind {
	if k, ok := deviceKinds[deviceType]; ok {
		return k
	}
	logging.Logger(nil).Warnf("Unknown device type %s, adding as Sensor", deviceType)
	return KindSensor
}

var providers = map[int]string{
	0: "Integration",
	1: "Hilo",
	2: "Netatmo",
	3: "OneLink",
}

// Jasco-built devices report the Hilo provider but carry Jasco model
// numbers; some of those are outlets, not switches.
var jascoModels = map[string]bool{
	"43082": true, "43078": true, "43100": true, "46199": true,
	"9063": true, "45678": true, "42405": true, "43095": true,
	"45853": true,
}

var jascoOutlets = map[string]bool{
	"42405": true, "43095": true, "43100": true, "45853": true,
}

// Record is one raw device record from a REST snapshot or a "device
// updated" push, keyed by the cloud's field spellings.
type Record map[string]interface{}

// Device is the in-memory model of one smart device.  Identity is the
// numeric id when present, or the cloud-assigned string identifier for
// devices that have not been numbered yet.  Devices are never deleted; a
// disappeared device is flagged unpaired or disconnected by explicit
// attribute pushes.  Snapshot applies arrive on hub goroutines while the
// local API reads the same device, so every mutable field sits behind mu
// and is read through an accessor.
type Device struct {
	mu sync.RWMutex

	id           int64
	identifier   string
	locationID   int64
	typ          string
	kind         Kind
	name         string
	model        string
	manufacturer string
	swVersion    string

	supported []Attribute
	settable  []Attribute

	readings   map[string]Reading
	lastUpdate time.Time
}

// NewDevice builds a device from a raw record, deciding its kind from the
// type lookup table.
func NewDevice(rec Record) *Device {
	d := &Device{
		typ:      "Unknown",
		name:     "Unknown",
		readings: map[string]Reading{},
	}
	d.Apply(rec)
	d.kind = KindForType(d.Type())
	return d
}

// ID returns the numeric device id, 0 while unnumbered.
func (d *Device) ID() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.id
}

// Identifier returns the cloud-assigned string identifier.
func (d *Device) Identifier() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.identifier
}

// LocationID returns the owning location's id.
func (d *Device) LocationID() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.locationID
}

// Type returns the cloud device type, e.g. "Thermostat".
func (d *Device) Type() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.typ
}

// Kind returns the capability family decided at creation.
func (d *Device) Kind() Kind {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.kind
}

// Name returns the user-assigned device name.
func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

// Model returns the hardware model number.
func (d *Device) Model() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.model
}

// Manufacturer returns the resolved manufacturer name.
func (d *Device) Manufacturer() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.manufacturer
}

// SWVersion returns the reported firmware version.
func (d *Device) SWVersion() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.swVersion
}

// Supported returns a snapshot of the supported attribute descriptors.
func (d *Device) Supported() []Attribute {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Attribute, len(d.supported))
	copy(out, d.supported)
	return out
}

// Settable returns a snapshot of the settable attribute descriptors.
func (d *Device) Settable() []Attribute {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Attribute, len(d.settable))
	copy(out, d.settable)
	return out
}

// Tag returns a short log prefix identifying the device.
func (d *Device) Tag() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return fmt.Sprintf("[%s %s (%d)]", d.typ, d.name, d.id)
}

// LastUpdate returns the time of the most recent mutation.
func (d *Device) LastUpdate() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastUpdate
}

// Apply folds a raw device record into the device, updating mutable fields
// and attribute lists in place under the device lock.  Attribute values
// embedded in the record (e.g. a "Disconnected" block) become readings.
func (d *Device) Apply(rec Record) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, val := range rec {
		switch camelToSnake(key) {
		case "id":
			d.id = toInt64(val)
		case "location_id":
			d.locationID = toInt64(val)
		case "type":
			d.typ, _ = val.(string)
		case "name":
			d.name, _ = val.(string)
		case "identifier", "serial", "hilo_id":
			if s, ok := val.(string); ok && s != "" {
				d.identifier = s
			}
		case "model_number":
			d.model, _ = val.(string)
		case "sw_version":
			d.swVersion, _ = val.(string)
		case "provider":
			if name, ok := providers[int(toInt64(val))]; ok {
				d.manufacturer = name
			} else {
				d.manufacturer = fmt.Sprintf("Unknown (%v)", val)
			}
		case "supported_attributes":
			d.supported = parseAttributeList(val)
		case "settable_attributes":
			d.settable = parseAttributeList(val)
		}
	}

	d.model = strings.TrimPrefix(d.model, "Model_")
	if d.model == "" && d.typ == "Thermostat" {
		d.model = "EQ000016"
	}
	if d.manufacturer == "Hilo" && jascoModels[d.model] {
		d.manufacturer = "Jasco Enbrighten"
		if jascoOutlets[d.model] {
			d.typ = "Outlet"
		}
	}

	for key, val := range rec {
		if _, ok := readingTypes[key]; !ok {
			continue
		}
		value := val
		if nested, ok := val.(map[string]interface{}); ok {
			value = nested["value"]
		}
		d.updateReadingLocked(Reading{
			DeviceID:         d.id,
			DeviceIdentifier: d.identifier,
			LocationID:       d.locationID,
			Attribute:        AttributeFor(key),
			Value:            value,
			Timestamp:        time.Now().UTC(),
		})
	}

	d.lastUpdate = time.Now()
}

// parseAttributeList expands a comma separated attribute list from the
// cloud into descriptors.  Some sensors report no attributes at all but
// still push a Disconnected flag, so an empty list gets that descriptor.
func parseAttributeList(val interface{}) []Attribute {
	s, _ := val.(string)
	var attrs []Attribute
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || part == "None" {
			continue
		}
		vt := readingTypes[part]
		attrs = append(attrs, NewAttribute(part, vt))
	}
	if len(attrs) == 0 {
		attrs = append(attrs, NewAttribute("Disconnected", "null"))
	}
	return attrs
}

// UpdateReading stores a reading, replacing any existing reading for the
// same attribute descriptor, and bumps the last-update time.
func (d *Device) UpdateReading(r Reading) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updateReadingLocked(r)
}

func (d *Device) updateReadingLocked(r Reading) {
	d.readings[r.Attribute.Name()] = r
	d.lastUpdate = time.Now()
}

// Reading returns the latest reading for the attribute accessor name.
func (d *Device) Reading(name string) (Reading, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.readings[name]
	return r, ok
}

// Readings returns a snapshot of all current readings.
func (d *Device) Readings() []Reading {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Reading, 0, len(d.readings))
	for _, r := range d.readings {
		out = append(out, r)
	}
	return out
}

// Value returns the raw value of a reading, or nil when absent.
func (d *Device) Value(name string) interface{} {
	r, ok := d.Reading(name)
	if !ok {
		return nil
	}
	return r.Value
}

// HasAttribute reports whether the attribute appears in the supported list.
func (d *Device) HasAttribute(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, a := range d.supported {
		if a.Name() == name {
			return true
		}
	}
	return false
}

// WireAttributes returns the wire spellings of the supported attributes,
// which is what the device hub expects in a subscription payload.
// Humidity is excluded; the hub rejects it.
func (d *Device) WireAttributes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for _, a := range d.supported {
		if a.WireName() == "Humidity" {
			continue
		}
		out = append(out, a.WireName())
	}
	return out
}

// Available reports whether the device is currently reachable.
func (d *Device) Available() bool {
	r, ok := d.Reading("disconnected")
	if !ok {
		return true
	}
	return !r.Bool()
}

// Unpaired reports whether the cloud has flagged the device unpaired.
func (d *Device) Unpaired() bool {
	r, ok := d.Reading("unpaired")
	return ok && r.Bool()
}

func (d *Device) String() string {
	return d.Tag()
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}
