package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/Idromerom714/parqueadero/internal/events"
	"github.com/Idromerom714/parqueadero/internal/logging"
	"github.com/Idromerom714/parqueadero/internal/parking"
	"github.com/Idromerom714/parqueadero/internal/protocol"
)

// DeviceID tags events produced by operators through the admin API.
const DeviceID = "admin-http"

// Lot is the view of the parking lot the admin API works on.
// *parking.InstrumentedLot satisfies it.
type Lot interface {
	RegisterEntry(ctx context.Context, plate string, vehicleType parking.VehicleType) (int, error)
	RegisterExit(ctx context.Context, plate string) (float64, error)
	Describe(ctx context.Context, plate string) (parking.VehicleInfo, error)
	CurrentFee(plate string) float64
	IsPresent(plate string) bool
	ActivePlates() []string
	Snapshot() []parking.Occupancy
}

type Handler struct {
	serviceName string
	lot         Lot
	ledger      *events.Ledger
	observer    events.Observer
	logger      *logrus.Logger
}

func NewHandler(serviceName string, lot Lot, ledger *events.Ledger, observer events.Observer, logger *logrus.Logger) *Handler {
	return &Handler{
		serviceName: serviceName,
		lot:         lot,
		ledger:      ledger,
		observer:    observer,
		logger:      logger,
	}
}

func normalizePlate(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: h.serviceName,
		Meta:    extractMeta(r.Context()),
	})
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	plates := h.lot.ActivePlates()
	WriteSuccess(r.Context(), w, "Parking status", StatusResponse{
		Classes:      h.lot.Snapshot(),
		Active:       len(plates),
		ActivePlates: plates,
	})
}

func (h *Handler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plate := normalizePlate(chi.URLParam(r, "plate"))

	info, err := h.lot.Describe(ctx, plate)
	if err != nil {
		WriteError(ctx, w, http.StatusNotFound, protocol.NotFound(plate).Text)
		return
	}
	WriteSuccess(ctx, w, "Vehicle found", info)
}

func (h *Handler) GetFee(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plate := normalizePlate(chi.URLParam(r, "plate"))

	if !h.lot.IsPresent(plate) {
		WriteError(ctx, w, http.StatusNotFound, protocol.NotFound(plate).Text)
		return
	}
	WriteSuccess(ctx, w, "Current fee", FeeResponse{Plate: plate, Fee: h.lot.CurrentFee(plate)})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		WriteError(ctx, w, http.StatusServiceUnavailable, "History is not enabled")
		return
	}

	resp := StatsResponse{Stats: h.ledger.Stats()}
	if r.URL.Query().Get("history") == "true" {
		resp.History = h.ledger.History()
	}
	WriteSuccess(ctx, w, "Parking statistics", resp)
}

func (h *Handler) RegisterEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return
	}

	plate := normalizePlate(req.Plate)
	if plate == "" {
		WriteError(ctx, w, http.StatusBadRequest, "Plate is required")
		return
	}

	event := events.NewEvent(protocol.Entry, plate, req.Type, DeviceID)

	vehicleType, err := parking.ParseVehicleType(req.Type)
	if err != nil {
		reply := protocol.InvalidVehicleType(req.Type)
		h.notify(ctx, event, reply)
		WriteError(ctx, w, http.StatusBadRequest, reply.Text)
		return
	}
	event.VehicleClass = vehicleType.String()

	space, err := h.lot.RegisterEntry(ctx, plate, vehicleType)
	if err != nil {
		var reply protocol.Reply
		status := http.StatusConflict
		switch {
		case errors.Is(err, parking.ErrDuplicateEntry):
			reply = protocol.DuplicateEntry(plate)
		case errors.Is(err, parking.ErrNoSpaceAvailable):
			reply = protocol.NoSpaceAvailable(vehicleType.String())
		default:
			reply = protocol.Error("%v", err)
			status = http.StatusInternalServerError
		}
		h.notify(ctx, event, reply)
		WriteError(ctx, w, status, reply.Text)
		return
	}

	event.Success = true
	event.Space = space
	reply := protocol.EntryAccepted(plate, space)
	h.notify(ctx, event, reply)

	WriteSuccess(ctx, w, reply.Text, EntryResponse{
		Plate: plate,
		Type:  vehicleType.String(),
		Space: space,
	})
}

func (h *Handler) RegisterExit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ExitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return
	}

	plate := normalizePlate(req.Plate)
	if plate == "" {
		WriteError(ctx, w, http.StatusBadRequest, "Plate is required")
		return
	}

	event := events.NewEvent(protocol.Exit, plate, "", DeviceID)

	fee, err := h.lot.RegisterExit(ctx, plate)
	if err != nil {
		reply := protocol.NotFound(plate)
		status := http.StatusNotFound
		if !errors.Is(err, parking.ErrNotFound) {
			reply = protocol.Error("%v", err)
			status = http.StatusInternalServerError
		}
		h.notify(ctx, event, reply)
		WriteError(ctx, w, status, reply.Text)
		return
	}

	event.Success = true
	event.Fee = fee
	reply := protocol.ExitAccepted(plate, fee)
	h.notify(ctx, event, reply)

	WriteSuccess(ctx, w, reply.Text, ExitResponse{Plate: plate, Fee: fee})
}

// notify reports an admin action the same way the device service does.
// Observer failures are logged and do not change the HTTP outcome.
func (h *Handler) notify(ctx context.Context, e events.Event, reply protocol.Reply) {
	if h.observer == nil {
		return
	}
	e.Reply = reply.String()

	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx, h.logger).WithField("panic", r).Error("event observer panicked")
		}
	}()
	if err := h.observer(ctx, e); err != nil {
		logging.FromContext(ctx, h.logger).WithError(err).Error("event observer failed")
	}
}
