package devices

import (
	"sync"

	"github.com/etiennebl/hilolink/internal/pkg/logging"
)

// Registry owns the authoritative set of devices for one location and
// reconciles incoming attribute readings from every update source against
// it.  Devices are created on first sighting and updated in place ever
// after; they are never removed, because removal could race a transient
// push glitch.  Lookup is dual-keyed: numeric id first, then the cloud
// string identifier for devices that have not been numbered yet.
type Registry struct {
	mu sync.RWMutex

	LocationID         int64
	LocationIdentifier string

	devices []*Device
}

func NewRegistry() *Registry {
	return &Registry{}
}

// All returns the current device list.
func (reg *Registry) All() []*Device {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Device, len(reg.devices))
	copy(out, reg.devices)
	return out
}

// Find locates a device by numeric id.
func (reg *Registry) Find(id int64) *Device {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.findLocked(id, "")
}

// FindByIdentifier locates a device by its cloud string identifier.
func (reg *Registry) FindByIdentifier(identifier string) *Device {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.findLocked(0, identifier)
}

func (reg *Registry) findLocked(id int64, identifier string) *Device {
	if id != 0 {
		for _, d := range reg.devices {
			if d.ID() == id {
				return d
			}
		}
	}
	if identifier != "" {
		for _, d := range reg.devices {
			if d.Identifier() == identifier {
				return d
			}
		}
	}
	return nil
}

// GenerateDevice updates an existing device from the raw record, or
// constructs and registers a new one.  Unknown device types become generic
// sensors rather than errors.
func (reg *Registry) GenerateDevice(rec Record) *Device {
	rec["locationId"] = reg.LocationID

	reg.mu.Lock()
	defer reg.mu.Unlock()

	probe := &Device{readings: map[string]Reading{}}
	probe.Apply(rec)

	if dev := reg.findLocked(probe.ID(), probe.Identifier()); dev != nil {
		dev.Apply(rec)
		return dev
	}

	dev := NewDevice(rec)
	reg.devices = append(reg.devices, dev)
	logging.Logger(nil).Debugf("%s added to registry", dev.Tag())
	return dev
}

// ReconcileSnapshot folds a full device list from a periodic REST poll into
// the registry and returns devices first seen in this snapshot.  Devices
// absent from the snapshot are deliberately left untouched; transient
// omissions are common and only explicit disconnect/unpaired pushes should
// change that status.
func (reg *Registry) ReconcileSnapshot(records []Record) []*Device {
	var added []*Device
	for _, rec := range records {
		id := toInt64(rec["id"])
		ident, _ := rec["identifier"].(string)
		if ident == "" {
			ident, _ = rec["hiloId"].(string)
		}

		reg.mu.RLock()
		existing := reg.findLocked(id, ident)
		reg.mu.RUnlock()

		dev := reg.GenerateDevice(rec)
		if existing == nil && !contains(added, dev) {
			added = append(added, dev)
		}
	}
	return added
}

func contains(list []*Device, dev *Device) bool {
	for _, d := range list {
		if d == dev {
			return true
		}
	}
	return false
}

// ApplyReadings reconciles a batch of streamed readings and returns the
// devices that actually changed.  A reading for an unknown device is
// logged and dropped; the registry never fabricates a device from a bare
// reading.
func (reg *Registry) ApplyReadings(readings []Reading) []*Device {
	var updated []*Device
	for _, r := range readings {
		reg.mu.RLock()
		dev := reg.findLocked(r.DeviceID, r.DeviceIdentifier)
		reg.mu.RUnlock()

		if dev == nil {
			logging.Logger(nil).Warnf("Unable to find device %d/%s for reading %s",
				r.DeviceID, r.DeviceIdentifier, r)
			continue
		}

		dev.UpdateReading(r)
		logging.Logger(nil).Debugf("%s Received %s", dev.Tag(), r)
		if !contains(updated, dev) {
			updated = append(updated, dev)
		}
	}
	return updated
}

// SubscriptionArgs builds the payload the device hub expects when
// subscribing to attribute updates: the location id plus a map of device id
// to wire attribute names.
func (reg *Registry) SubscriptionArgs() []interface{} {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	attrs := map[int64][]string{}
	for _, d := range reg.devices {
		id := d.ID()
		if id <= 1 {
			continue
		}
		if wire := d.WireAttributes(); len(wire) > 0 {
			attrs[id] = wire
		}
	}
	return []interface{}{reg.LocationID, attrs}
}
