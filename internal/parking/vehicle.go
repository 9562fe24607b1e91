package parking

import (
	"fmt"
	"strings"
	"time"
)

// VehicleType selects which space pool and hourly rate a vehicle uses.
type VehicleType int

const (
	Car VehicleType = iota
	Motorcycle
)

// String returns the wire token devices send for the type.
func (t VehicleType) String() string {
	switch t {
	case Car:
		return "carro"
	case Motorcycle:
		return "moto"
	default:
		return fmt.Sprintf("VehicleType(%d)", int(t))
	}
}

// ParseVehicleType accepts the device tokens ("carro", "moto") and their
// English spellings, ignoring case and surrounding space.
func ParseVehicleType(raw string) (VehicleType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "carro", "car":
		return Car, nil
	case "moto", "motorcycle":
		return Motorcycle, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidVehicleType, raw)
	}
}

type Vehicle struct {
	Plate     string
	Type      VehicleType
	EnteredAt time.Time
	Space     int
}

func newVehicle(plate string, vehicleType VehicleType, enteredAt time.Time, space int) *Vehicle {
	return &Vehicle{
		Plate:     plate,
		Type:      vehicleType,
		EnteredAt: enteredAt,
		Space:     space,
	}
}

// VehicleInfo is a point-in-time view of an active vehicle.
type VehicleInfo struct {
	Plate      string      `json:"plate"`
	Type       VehicleType `json:"-"`
	TypeName   string      `json:"type"`
	Space      int         `json:"space"`
	EnteredAt  time.Time   `json:"entered_at"`
	CurrentFee float64     `json:"current_fee"`
}
