// Package events carries the outcome of every device entry and exit to
// whoever is listening: the in-memory ledger, a message queue, or both.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Idromerom714/parqueadero/internal/logging"
	"github.com/Idromerom714/parqueadero/internal/protocol"
)

// Event describes one processed entry or exit. VehicleType is the token as
// the device sent it; VehicleClass is its canonical name and stays empty
// when the token is not a known type. Space is set only for accepted
// entries and Fee only for accepted exits.
type Event struct {
	ID           string           `json:"id"`
	Command      protocol.Command `json:"command"`
	Plate        string           `json:"plate"`
	VehicleType  string           `json:"vehicle_type,omitempty"`
	VehicleClass string           `json:"vehicle_class,omitempty"`
	DeviceID     string           `json:"device_id"`
	Success      bool             `json:"success"`
	Space        int              `json:"space,omitempty"`
	Fee          float64          `json:"fee"`
	Reply        string           `json:"reply"`
	At           time.Time        `json:"at"`
}

// Observer receives events synchronously. An error is reported back to the
// emitter, which logs it and carries on.
type Observer func(ctx context.Context, e Event) error

func NewEvent(cmd protocol.Command, plate, vehicleType, deviceID string) Event {
	return Event{
		ID:          NewID(cmd),
		Command:     cmd,
		Plate:       plate,
		VehicleType: vehicleType,
		DeviceID:    deviceID,
		At:          time.Now().UTC(),
	}
}

// NewID returns a time ordered id tagged with the command, e.g. "ENT:<uuidv7>".
func NewID(cmd protocol.Command) string {
	prefix := "EVT:"
	switch cmd {
	case protocol.Entry:
		prefix = "ENT:"
	case protocol.Exit:
		prefix = "EXT:"
	}

	v7, err := uuid.NewV7()
	if err != nil {
		return prefix + uuid.NewString()
	}
	return prefix + v7.String()
}

// Fanout calls every non-nil observer in order. All observers run even when
// one fails; their errors are joined.
func Fanout(observers ...Observer) Observer {
	return func(ctx context.Context, e Event) error {
		var errs []error
		for _, o := range observers {
			if o == nil {
				continue
			}
			if err := o(ctx, e); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// LogObserver logs every event at info level, rejected ones at warn.
func LogObserver(logger *logrus.Logger) Observer {
	return func(ctx context.Context, e Event) error {
		entry := logging.FromContext(ctx, logger).WithFields(logrus.Fields{
			"event_id": e.ID,
			"command":  e.Command.String(),
			"plate":    e.Plate,
			"vehicle":  e.VehicleType,
			"device":   e.DeviceID,
			"success":  e.Success,
		})
		if e.Success {
			entry.Info("parking event")
		} else {
			entry.WithField("reply", e.Reply).Warn("parking event rejected")
		}
		return nil
	}
}
