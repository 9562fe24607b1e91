// Package parking implements the space allocator for a two-class facility.
//
// Lot is a plain state machine: it does no I/O and holds no locks. Callers
// that share a Lot between goroutines must serialize access themselves, or
// go through InstrumentedLot, which does.
package parking

import (
	"fmt"
	"sort"
	"time"
)

const secondsPerHour = 3600

type Option func(*Lot)

// WithClock replaces time.Now as the source of entry and exit instants.
func WithClock(now func() time.Time) Option {
	return func(l *Lot) {
		if now != nil {
			l.now = now
		}
	}
}

type Lot struct {
	pools    map[VehicleType]*spacePool
	vehicles map[string]*Vehicle
	now      func() time.Time
}

func NewLot(carCapacity, motoCapacity int, carRate, motoRate float64, opts ...Option) *Lot {
	l := &Lot{
		pools: map[VehicleType]*spacePool{
			Car:        newSpacePool(carCapacity, carRate),
			Motorcycle: newSpacePool(motoCapacity, motoRate),
		},
		vehicles: make(map[string]*Vehicle),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RegisterEntry parks plate in the lowest free space of its class.
func (l *Lot) RegisterEntry(plate string, vehicleType VehicleType) (int, error) {
	if l.IsPresent(plate) {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateEntry, plate)
	}

	pool, err := l.pool(vehicleType)
	if err != nil {
		return 0, err
	}

	space, ok := pool.claim()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoSpaceAvailable, vehicleType)
	}

	l.vehicles[plate] = newVehicle(plate, vehicleType, l.now(), space)
	return space, nil
}

// RegisterExit releases the vehicle's space and returns the fee owed.
func (l *Lot) RegisterExit(plate string) (float64, error) {
	v, ok := l.vehicles[plate]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, plate)
	}

	fee := l.fee(v, l.now())
	l.pools[v.Type].release(v.Space)
	delete(l.vehicles, plate)
	return fee, nil
}

func (l *Lot) IsPresent(plate string) bool {
	_, ok := l.vehicles[plate]
	return ok
}

func (l *Lot) AvailableSpaces(vehicleType VehicleType) int {
	pool, err := l.pool(vehicleType)
	if err != nil {
		return 0
	}
	return pool.free()
}

func (l *Lot) Capacity(vehicleType VehicleType) int {
	pool, err := l.pool(vehicleType)
	if err != nil {
		return 0
	}
	return pool.capacity()
}

func (l *Lot) Rate(vehicleType VehicleType) float64 {
	pool, err := l.pool(vehicleType)
	if err != nil {
		return 0
	}
	return pool.rate
}

// ActivePlates lists the plates currently inside, sorted.
func (l *Lot) ActivePlates() []string {
	plates := make([]string, 0, len(l.vehicles))
	for plate := range l.vehicles {
		plates = append(plates, plate)
	}
	sort.Strings(plates)
	return plates
}

func (l *Lot) Describe(plate string) (VehicleInfo, error) {
	v, ok := l.vehicles[plate]
	if !ok {
		return VehicleInfo{}, fmt.Errorf("%w: %s", ErrNotFound, plate)
	}
	return VehicleInfo{
		Plate:      v.Plate,
		Type:       v.Type,
		TypeName:   v.Type.String(),
		Space:      v.Space,
		EnteredAt:  v.EnteredAt,
		CurrentFee: l.fee(v, l.now()),
	}, nil
}

// CurrentFee is what RegisterExit would charge now; 0 when plate is absent.
func (l *Lot) CurrentFee(plate string) float64 {
	v, ok := l.vehicles[plate]
	if !ok {
		return 0
	}
	return l.fee(v, l.now())
}

func (l *Lot) fee(v *Vehicle, at time.Time) float64 {
	return float64(BilledHours(v.EnteredAt, at)) * l.pools[v.Type].rate
}

func (l *Lot) pool(vehicleType VehicleType) (*spacePool, error) {
	pool, ok := l.pools[vehicleType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidVehicleType, vehicleType)
	}
	return pool, nil
}

// BilledHours rounds the whole seconds between entry and exit up to hours.
// An exit in the same second as the entry bills zero hours.
func BilledHours(entry, exit time.Time) int64 {
	elapsed := exit.Unix() - entry.Unix()
	if elapsed <= 0 {
		return 0
	}
	return (elapsed + secondsPerHour - 1) / secondsPerHour
}
