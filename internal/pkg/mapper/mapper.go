// Package mapper translates heterogeneous wire payloads - flat REST or
// websocket attribute records, and nested per-device-type GraphQL objects -
// into normalized device readings.
package mapper

import (
	"strings"
	"time"

	"github.com/etiennebl/hilolink/internal/pkg/devices"
	"github.com/etiennebl/hilolink/internal/pkg/logging"
)

const onState = "on"

// FlatRecord is one attribute record as delivered by REST polling or a raw
// websocket attribute push.
type FlatRecord struct {
	DeviceID     int64       `json:"deviceId"`
	HiloID       string      `json:"hiloId"`
	LocationID   int64       `json:"locationId"`
	Attribute    string      `json:"attribute"`
	ValueType    string      `json:"valueType"`
	Value        interface{} `json:"value"`
	TimeStampUTC string      `json:"timeStampUTC"`
}

// FlatReadings converts a batch of flat attribute records.  A record with
// no attribute name is skipped with a warning; it must not abort the batch.
func FlatReadings(records []FlatRecord) []devices.Reading {
	var readings []devices.Reading
	for _, rec := range records {
		if rec.Attribute == "" {
			logging.Logger(nil).Warnf("Received invalid reading for device %d: no attribute", rec.DeviceID)
			continue
		}
		readings = append(readings, devices.Reading{
			DeviceID:         rec.DeviceID,
			DeviceIdentifier: rec.HiloID,
			LocationID:       rec.LocationID,
			Attribute:        devices.AttributeWithType(rec.Attribute, rec.ValueType),
			Value:            rec.Value,
			Timestamp:        parseTimestamp(rec.TimeStampUTC),
		})
	}
	return readings
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts
	}
	return time.Now().UTC()
}

// Object is one nested GraphQL device object.
type Object map[string]interface{}

// QueryReadings flattens a list of GraphQL device objects, e.g. from a
// getLocation query or a location-updated push frame.
func QueryReadings(objs []Object) []devices.Reading {
	var readings []devices.Reading
	for _, obj := range objs {
		if obj["deviceType"] == nil {
			continue
		}
		readings = append(readings, DeviceReadings(obj)...)
	}
	return readings
}

// DeviceReadings flattens one GraphQL device object into normalized
// readings.  Every device contributes the two baseline attributes
// (Unpaired, Disconnected); an unrecognized device-type variant contributes
// nothing else, which keeps us forward-compatible with new vendor types.
func DeviceReadings(obj Object) []devices.Reading {
	id, _ := obj["hiloId"].(string)
	deviceType, _ := obj["deviceType"].(string)
	if id == "" || deviceType == "" {
		return nil
	}

	b := builder{id: id, obj: obj}
	b.baseline()

	switch strings.ToLower(deviceType) {
	case "tstat":
		b.thermostat()
	case "heatingfloor":
		b.thermostat()
		b.floor()
	case "lowvoltagetstat":
		b.thermostat()
		b.lowVoltage()
	case "cee": // water heater
		b.chargeController()
		b.waterHeater()
	case "ccr":
		b.chargeController()
	case "chargingpoint": // EV charger
		b.chargingPoint()
	case "meter":
		b.smartMeter()
	case "hub": // gateway
		b.gateway()
	case "colorbulb", "whitebulb":
		b.light()
	case "dimmer":
		b.dimmer()
	case "switch":
		b.sswitch()
	default:
		logging.Logger(nil).Debugf("Unhandled GraphQL device type %s for %s", deviceType, id)
	}

	return b.readings
}

type builder struct {
	id       string
	obj      Object
	readings []devices.Reading
}

func (b *builder) add(attribute string, value interface{}) {
	b.readings = append(b.readings, devices.Reading{
		DeviceIdentifier: b.id,
		Attribute:        devices.AttributeFor(attribute),
		Value:            value,
		Timestamp:        time.Now().UTC(),
	})
}

// baseline contributes the two attributes every mapped device gets.
// Unpaired is always false at mapping time; only the registry may later
// flag it true.
func (b *builder) baseline() {
	b.add("Unpaired", false)
	b.add("Disconnected", disconnected(b.obj["connectionStatus"]))
}

// disconnected derives the offline flag from a connectivity field whose
// shape varies by source: a string status for most devices, the numeric
// code 2 for meters and gateways.
func disconnected(v interface{}) bool {
	switch s := v.(type) {
	case string:
		return s == "Disconnected"
	case float64:
		return s == 2
	case int:
		return s == 2
	default:
		return false
	}
}

func (b *builder) thermostat() {
	if v, ok := b.nestedValue("ambientTemperature"); ok {
		b.add("CurrentTemperature", v)
	}
	if v, ok := b.nestedValue("ambientTempSetpoint"); ok {
		b.add("TargetTemperature", v)
	}
	if v, ok := b.obj["heatDemand"]; ok && v != nil {
		b.add("HeatDemand", v)
	}
	b.add("Version", b.obj["version"])
	b.add("ZigbeeVersion", b.obj["zigbeeVersion"])
	b.add("Humidity", orZero(b.obj["ambientHumidity"]))
	if v, ok := b.obj["allowedModes"]; ok && v != nil {
		b.add("ThermostatAllowedModes", v)
	}
	b.power()
	b.heating()
	b.add("ThermostatMode", b.obj["mode"])
	b.gdState()
	if v, ok := b.nestedValue("maxAmbientTempSetpoint"); ok {
		b.add("MaxTempSetpoint", v)
	}
	if v, ok := b.nestedValue("minAmbientTempSetpoint"); ok {
		b.add("MinTempSetpoint", v)
	}
	if v, ok := b.nestedValue("maxAmbientTempSetpointLimit"); ok {
		b.add("MaxTempSetpointLimit", v)
	}
	if v, ok := b.nestedValue("minAmbientTempSetpointLimit"); ok {
		b.add("MinTempSetpointLimit", v)
	}
}

func (b *builder) floor() {
	b.add("FloorMode", b.obj["floorMode"])
	if v, ok := b.nestedValue("floorLimit"); ok {
		b.add("FloorLimit", v)
	}
}

func (b *builder) lowVoltage() {
	if v, ok := b.nestedValue("coolTempSetpoint"); ok {
		b.add("CoolTemperatureSet", v)
	}
	if v, ok := b.nestedValue("minAmbientCoolSetPoint"); ok {
		b.add("MinCoolSetpoint", v)
	}
	if v, ok := b.nestedValue("maxAmbientCoolSetPoint"); ok {
		b.add("MaxCoolSetpoint", v)
	}
	b.add("Thermostat24VAllowedMode", b.obj["allowedModes"])
	b.add("Thermostat24VAllowedFanMode", b.obj["fanAllowedModes"])
	b.add("FanMode", b.obj["fanMode"])
	b.add("Thermostat24VMode", b.obj["mode"])
	b.add("CurrentState", b.obj["currentState"])
	b.add("FanSpeed", b.obj["fanSpeed"])
}

func (b *builder) waterHeater() {
	alerts, _ := b.obj["alerts"].(string)
	// Alert code 30 is the abnormal temperature alarm.
	b.add("AbnormalTemperature", strings.Contains(alerts, "30"))
	if v, ok := b.nestedValue("probeTemp"); ok {
		b.add("CurrentTemperature", v)
	}
	b.heating()
}

func (b *builder) chargeController() {
	b.power()
	b.add("Version", b.obj["version"])
	b.add("ZigbeeVersion", b.obj["zigbeeVersion"])
	b.gdState()
	b.drmsState()
	if v, ok := b.obj["ccrAllowedModes"]; ok && v != nil {
		b.add("CcrAllowedModes", v)
	}
	if v, ok := b.obj["ccrMode"]; ok && v != nil {
		b.add("CcrMode", v)
	}
	b.add("OnOff", b.stateOn())
}

func (b *builder) chargingPoint() {
	status := b.obj["status"]
	switch toFloat(status) {
	case 0, 1: // out of service (0) or available (1): no load
		b.add("Power", float64(0))
	default:
		b.power()
	}
	b.add("Status", status)
}

func (b *builder) smartMeter() {
	if v, ok := b.obj["zigBeeChannel"]; ok && v != nil {
		b.add("ZigbeeChannel", v)
	}
	b.power()
}

func (b *builder) gateway() {
	b.add("LastStatusTime", b.obj["lastConnectionTime"])
	b.add("Version", b.obj["controllerSoftwareVersion"])
	b.add("ZigbeePairingActivated", b.obj["zigBeePairingModeEnhanced"])
	if v, ok := b.obj["zigBeeChannel"]; ok && v != nil {
		b.add("ZigbeeChannel", v)
	}
	b.add("WillBeConnectedToSmartMeter", b.obj["willBeConnectedToSmartMeter"])
	b.add("SmartMeterUnpaired", b.obj["smartMeterPairingStatus"])
}

func (b *builder) light() {
	if v, ok := b.obj["colorTemperature"]; ok && v != nil {
		b.add("ColorTemperature", v)
	}
	b.intensity()
	if lightType, _ := b.obj["lightType"].(string); strings.EqualFold(lightType, "color") {
		b.add("Hue", orZero(b.obj["hue"]))
		b.add("Saturation", orZero(b.obj["saturation"]))
	}
	b.add("OnOff", b.stateOn())
}

func (b *builder) dimmer() {
	b.power()
	b.intensity()
	b.add("OnOff", b.stateOn())
}

func (b *builder) sswitch() {
	b.power()
	b.add("Status", b.stateOn())
	b.add("OnOff", b.stateOn())
}

// intensity scales the cloud's 0-100 level to 0.0-1.0.
func (b *builder) intensity() {
	if v, ok := b.obj["level"]; ok && v != nil {
		b.add("Intensity", toFloat(v)/100)
	}
}

func (b *builder) stateOn() bool {
	state, _ := b.obj["state"].(string)
	return strings.ToLower(state) == onState
}

func (b *builder) gdState() {
	b.add("GdState", b.obj["gDState"] == "Active")
}

func (b *builder) drmsState() {
	b.add("DrmsState", b.obj["gDState"] == "Active")
}

// heating derives the heating flag from power draw.
func (b *builder) heating() {
	if v, ok := b.nestedValue("power"); ok && toFloat(v) > 0 {
		b.add("Heating", 1)
		return
	}
	b.add("Heating", 0)
}

// power contributes the Power attribute in watts; a kilowatt-kind value is
// scaled x1000, any other kind passes through unchanged.  A missing power
// block suppresses the attribute entirely.
func (b *builder) power() {
	block, ok := b.obj["power"].(map[string]interface{})
	if !ok {
		return
	}
	value := orZero(block["value"])
	kind, _ := block["kind"].(string)
	b.add("Power", ScalePower(toFloat(value), kind))
}

// ScalePower converts a power value to watts based on its wire kind.
func ScalePower(value float64, kind string) float64 {
	if strings.ToLower(kind) == "kilowatt" {
		return value * 1000
	}
	return value
}

func (b *builder) nestedValue(key string) (interface{}, bool) {
	block, ok := b.obj[key].(map[string]interface{})
	if !ok {
		return nil, false
	}
	v, ok := block["value"]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func orZero(v interface{}) interface{} {
	if v == nil {
		return float64(0)
	}
	return v
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
