package device

import (
	"context"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Idromerom714/parqueadero/internal/protocol"
)

// DefaultPlates is the plate pool the simulator draws from.
var DefaultPlates = []string{
	"ABC123", "DEF456", "GHI789", "JKL012", "MNO345",
	"PQR678", "STU901", "VWX234", "YZA567", "BCD890",
	"EFG123", "HIJ456", "KLM789", "NOP012", "QRS345",
	"TUV678", "WXY901", "ZAB234", "CDE567", "FGH890",
}

type SimulationStats struct {
	EntriesAccepted int
	EntriesRejected int
	ExitsAccepted   int
	ExitsRejected   int
	Errors          int
}

// Simulator plays a camera that sees random vehicles arrive and leave. It
// tracks which of its plates it believes are inside so exits are plausible.
type Simulator struct {
	client   *Client
	deviceID string
	plates   []string
	inside   map[string]bool
	rng      *rand.Rand
	logger   *logrus.Logger
	stats    SimulationStats
}

func NewSimulator(client *Client, deviceID string, plates []string, rng *rand.Rand, logger *logrus.Logger) *Simulator {
	if len(plates) == 0 {
		plates = DefaultPlates
	}
	return &Simulator{
		client:   client,
		deviceID: deviceID,
		plates:   plates,
		inside:   make(map[string]bool),
		rng:      rng,
		logger:   logger,
	}
}

func (s *Simulator) Stats() SimulationStats {
	return s.stats
}

// Inside lists the plates the simulator believes are parked, sorted.
func (s *Simulator) Inside() []string {
	out := make([]string, 0, len(s.inside))
	for plate := range s.inside {
		out = append(out, plate)
	}
	sort.Strings(out)
	return out
}

// next picks the following message: entries while nothing is inside, exits
// while every plate is inside, otherwise 60% entries.
func (s *Simulator) next() protocol.Message {
	var free []string
	for _, p := range s.plates {
		if !s.inside[p] {
			free = append(free, p)
		}
	}
	parked := s.Inside()

	entry := len(parked) == 0 || (len(free) > 0 && s.rng.IntN(100) < 60)
	if entry {
		vehicleType := "carro"
		if s.rng.IntN(2) == 1 {
			vehicleType = "moto"
		}
		return protocol.Message{
			Command:     protocol.Entry,
			Plate:       free[s.rng.IntN(len(free))],
			VehicleType: vehicleType,
			DeviceID:    s.deviceID,
		}
	}
	return protocol.Message{
		Command:  protocol.Exit,
		Plate:    parked[s.rng.IntN(len(parked))],
		DeviceID: s.deviceID,
	}
}

// Step sends one simulated event and returns the message and reply.
func (s *Simulator) Step(ctx context.Context) (protocol.Message, string, error) {
	msg := s.next()
	reply, err := s.client.Send(ctx, msg)
	if err != nil {
		s.stats.Errors++
		return msg, "", err
	}

	ok := protocol.IsSuccess(reply)
	switch msg.Command {
	case protocol.Entry:
		if ok {
			s.stats.EntriesAccepted++
			s.inside[msg.Plate] = true
		} else {
			s.stats.EntriesRejected++
		}
	case protocol.Exit:
		if ok {
			s.stats.ExitsAccepted++
		} else {
			s.stats.ExitsRejected++
		}
		delete(s.inside, msg.Plate)
	}

	s.logger.WithFields(logrus.Fields{
		"command": msg.Command.String(),
		"plate":   msg.Plate,
		"type":    msg.VehicleType,
		"reply":   reply,
	}).Info("simulated event")
	return msg, reply, nil
}

// Run sends n events with delay between them, stopping early when ctx is
// done. Transport errors are counted and logged, not returned.
func (s *Simulator) Run(ctx context.Context, n int, delay time.Duration) error {
	for i := 0; i < n; i++ {
		if _, _, err := s.Step(ctx); err != nil {
			s.logger.WithError(err).Warn("simulated event failed")
		}
		if i == n-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}
