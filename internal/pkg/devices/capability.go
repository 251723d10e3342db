package devices

// Capability views dispatch kind-specific accessors without ever mutating a
// device's type identity.  A view is only handed out when the device's kind
// matches.

// Climate exposes thermostat accessors.
type Climate struct {
	*Device
}

// AsClimate returns a climate view when the device is a thermostat.
func (d *Device) AsClimate() (Climate, bool) {
	if d.Kind() != KindClimate {
		return Climate{}, false
	}
	return Climate{d}, true
}

func (c Climate) CurrentTemperature() float64 {
	r, _ := c.Reading("current_temperature")
	return r.Float()
}

func (c Climate) TargetTemperature() float64 {
	r, _ := c.Reading("target_temperature")
	return r.Float()
}

func (c Climate) Humidity() float64 {
	r, _ := c.Reading("humidity")
	return r.Float()
}

func (c Climate) Heating() bool {
	r, ok := c.Reading("heating")
	return ok && r.Float() > 0
}

func (c Climate) MinSetpoint() float64 {
	r, _ := c.Reading("min_temp_setpoint")
	return r.Float()
}

func (c Climate) MaxSetpoint() float64 {
	r, _ := c.Reading("max_temp_setpoint")
	return r.Float()
}

// Light exposes lamp and dimmer accessors.
type Light struct {
	*Device
}

// AsLight returns a light view when the device is a bulb, dimmer or light
// switch.
func (d *Device) AsLight() (Light, bool) {
	if d.Kind() != KindLight {
		return Light{}, false
	}
	return Light{d}, true
}

func (l Light) IsOn() bool {
	r, ok := l.Reading("is_on")
	return ok && r.Bool()
}

// Brightness is 0.0-1.0.
func (l Light) Brightness() float64 {
	r, _ := l.Reading("intensity")
	return r.Float()
}

func (l Light) Hue() float64 {
	r, _ := l.Reading("hue")
	return r.Float()
}

func (l Light) Saturation() float64 {
	r, _ := l.Reading("saturation")
	return r.Float()
}

func (l Light) ColorTemperature() float64 {
	r, _ := l.Reading("color_temperature")
	return r.Float()
}

// Switch exposes on/off and power accessors.
type Switch struct {
	*Device
}

// AsSwitch returns a switch view when the device is an outlet or charge
// controller.
func (d *Device) AsSwitch() (Switch, bool) {
	if d.Kind() != KindSwitch {
		return Switch{}, false
	}
	return Switch{d}, true
}

func (s Switch) IsOn() bool {
	r, ok := s.Reading("is_on")
	return ok && r.Bool()
}

// Power is in watts.
func (s Switch) Power() float64 {
	r, _ := s.Reading("power")
	return r.Float()
}
