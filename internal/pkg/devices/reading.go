package devices

import (
	"fmt"
	"time"
)

// Reading is one normalized observation for a device attribute.  Equality
// is defined on the attribute descriptor only, never on value or time; that
// is what lets "replace the latest reading for this attribute" work as a
// simple keyed store rather than a lookup-and-mutate.
type Reading struct {
	DeviceID         int64
	DeviceIdentifier string
	LocationID       int64
	Attribute        Attribute
	Value            interface{}
	Timestamp        time.Time
}

// Same reports whether two readings describe the same logical attribute.
func (r Reading) Same(other Reading) bool {
	return r.Attribute.Equal(other.Attribute)
}

// Unit returns the reading's unit of measurement; boolean readings have
// none.
func (r Reading) Unit() string {
	if r.Attribute.Unit() == "boolean" {
		return ""
	}
	return r.Attribute.Unit()
}

// Bool coerces the reading value to a boolean.
func (r Reading) Bool() bool {
	switch v := r.Value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case string:
		return v == "true" || v == "True" || v == "1"
	default:
		return false
	}
}

// Float coerces the reading value to a float64, returning 0 for
// non-numeric values.
func (r Reading) Float() float64 {
	switch v := r.Value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func (r Reading) String() string {
	return fmt.Sprintf("<Reading %s %v%s>", r.Attribute.Name(), r.Value, r.Unit())
}
