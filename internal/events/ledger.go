package events

import (
	"context"
	"sync"
	"time"

	"github.com/Idromerom714/parqueadero/internal/parking"
	"github.com/Idromerom714/parqueadero/internal/protocol"
)

// Record is one stay. A record with no EnteredAt comes from an exit the
// ledger never saw enter.
type Record struct {
	Plate       string     `json:"plate"`
	VehicleType string     `json:"vehicle_type,omitempty"`
	Space       int        `json:"space,omitempty"`
	EnteredAt   *time.Time `json:"entered_at,omitempty"`
	ExitedAt    *time.Time `json:"exited_at,omitempty"`
	Fee         float64    `json:"fee"`
	EntryDevice string     `json:"entry_device,omitempty"`
	ExitDevice  string     `json:"exit_device,omitempty"`
}

type Stats struct {
	ActiveVehicles int     `json:"active_vehicles"`
	Cars           int     `json:"cars"`
	Motorcycles    int     `json:"motorcycles"`
	Revenue        float64 `json:"revenue"`
}

// Ledger keeps the history of accepted entries and exits in memory.
type Ledger struct {
	mu      sync.Mutex
	records []Record
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Observe records successful events and ignores rejected ones. It matches
// the Observer signature.
func (l *Ledger) Observe(_ context.Context, e Event) error {
	if !e.Success {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	at := e.At
	switch e.Command {
	case protocol.Entry:
		vehicleType := e.VehicleClass
		if vehicleType == "" {
			vehicleType = e.VehicleType
		}
		l.records = append(l.records, Record{
			Plate:       e.Plate,
			VehicleType: vehicleType,
			Space:       e.Space,
			EnteredAt:   &at,
			EntryDevice: e.DeviceID,
		})
	case protocol.Exit:
		for i := len(l.records) - 1; i >= 0; i-- {
			rec := &l.records[i]
			if rec.Plate == e.Plate && rec.EnteredAt != nil && rec.ExitedAt == nil {
				rec.ExitedAt = &at
				rec.Fee = e.Fee
				rec.ExitDevice = e.DeviceID
				return nil
			}
		}
		l.records = append(l.records, Record{
			Plate:      e.Plate,
			ExitedAt:   &at,
			Fee:        e.Fee,
			ExitDevice: e.DeviceID,
		})
	}
	return nil
}

// Stats counts open stays, car and motorcycle entries over the whole
// history, and the fees collected.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	var s Stats
	active := make(map[string]struct{})
	for _, rec := range l.records {
		if rec.EnteredAt != nil && rec.ExitedAt == nil {
			active[rec.Plate] = struct{}{}
		}
		s.Revenue += rec.Fee
		vt, err := parking.ParseVehicleType(rec.VehicleType)
		if err != nil {
			continue
		}
		switch vt {
		case parking.Car:
			s.Cars++
		case parking.Motorcycle:
			s.Motorcycles++
		}
	}
	s.ActiveVehicles = len(active)
	return s
}

func (l *Ledger) History() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}
