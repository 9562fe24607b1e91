package parking

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Idromerom714/parqueadero/internal/telemetry"
)

// InstrumentedLot serializes access to a Lot and records a span and metrics
// for every call. Hosts that touch one Lot from several goroutines (device
// loop, admin API, reporter) share a single InstrumentedLot.
type InstrumentedLot struct {
	mu     sync.Mutex
	lot    *Lot
	tracer trace.Tracer

	entryOperations   metric.Int64Counter
	exitOperations    metric.Int64Counter
	occupancy         metric.Int64UpDownCounter
	revenue           metric.Float64Counter
	operationDuration metric.Float64Histogram
}

func NewInstrumentedLot(lot *Lot, tp *telemetry.Provider) (*InstrumentedLot, error) {
	meter := tp.Meter()

	entryOperations, err := meter.Int64Counter("parking_entry_operations_total",
		metric.WithDescription("Total number of entry registrations"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	exitOperations, err := meter.Int64Counter("parking_exit_operations_total",
		metric.WithDescription("Total number of exit registrations"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	occupancy, err := meter.Int64UpDownCounter("parking_occupancy",
		metric.WithDescription("Current number of occupied spaces"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	revenue, err := meter.Float64Counter("parking_fees_collected",
		metric.WithDescription("Fees charged on exit"),
		metric.WithUnit("{currency}"))
	if err != nil {
		return nil, err
	}

	operationDuration, err := meter.Float64Histogram("parking_operation_duration_seconds",
		metric.WithDescription("Duration of allocator operations"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &InstrumentedLot{
		lot:               lot,
		tracer:            tp.Tracer(),
		entryOperations:   entryOperations,
		exitOperations:    exitOperations,
		occupancy:         occupancy,
		revenue:           revenue,
		operationDuration: operationDuration,
	}, nil
}

func (il *InstrumentedLot) RegisterEntry(ctx context.Context, plate string, vehicleType VehicleType) (int, error) {
	ctx, span := il.tracer.Start(ctx, "parking.register_entry",
		trace.WithAttributes(
			attribute.String("vehicle.plate", plate),
			attribute.String("vehicle.type", vehicleType.String()),
		))
	defer span.End()

	start := time.Now()
	il.mu.Lock()
	space, err := il.lot.RegisterEntry(plate, vehicleType)
	il.mu.Unlock()

	labels := []attribute.KeyValue{
		attribute.String("operation", "entry"),
		attribute.String("vehicle_type", vehicleType.String()),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		labels = append(labels, attribute.String("status", "rejected"))
	} else {
		span.SetAttributes(attribute.Int("parking.space", space))
		labels = append(labels, attribute.String("status", "accepted"))
		il.occupancy.Add(ctx, 1, metric.WithAttributes(attribute.String("vehicle_type", vehicleType.String())))
	}

	il.entryOperations.Add(ctx, 1, metric.WithAttributes(labels...))
	il.operationDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(labels...))
	return space, err
}

func (il *InstrumentedLot) RegisterExit(ctx context.Context, plate string) (float64, error) {
	ctx, span := il.tracer.Start(ctx, "parking.register_exit",
		trace.WithAttributes(attribute.String("vehicle.plate", plate)))
	defer span.End()

	start := time.Now()
	il.mu.Lock()
	vehicleType, known := il.typeOf(plate)
	fee, err := il.lot.RegisterExit(plate)
	il.mu.Unlock()

	labels := []attribute.KeyValue{attribute.String("operation", "exit")}
	if known {
		labels = append(labels, attribute.String("vehicle_type", vehicleType.String()))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		labels = append(labels, attribute.String("status", "rejected"))
	} else {
		span.SetAttributes(attribute.Float64("parking.fee", fee))
		labels = append(labels, attribute.String("status", "accepted"))
		il.occupancy.Add(ctx, -1, metric.WithAttributes(attribute.String("vehicle_type", vehicleType.String())))
		il.revenue.Add(ctx, fee, metric.WithAttributes(attribute.String("vehicle_type", vehicleType.String())))
	}

	il.exitOperations.Add(ctx, 1, metric.WithAttributes(labels...))
	il.operationDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(labels...))
	return fee, err
}

func (il *InstrumentedLot) Describe(ctx context.Context, plate string) (VehicleInfo, error) {
	_, span := il.tracer.Start(ctx, "parking.describe",
		trace.WithAttributes(attribute.String("vehicle.plate", plate)))
	defer span.End()

	il.mu.Lock()
	defer il.mu.Unlock()
	info, err := il.lot.Describe(plate)
	if err != nil {
		span.AddEvent("vehicle_not_found")
	}
	return info, err
}

func (il *InstrumentedLot) IsPresent(plate string) bool {
	il.mu.Lock()
	defer il.mu.Unlock()
	return il.lot.IsPresent(plate)
}

func (il *InstrumentedLot) CurrentFee(plate string) float64 {
	il.mu.Lock()
	defer il.mu.Unlock()
	return il.lot.CurrentFee(plate)
}

func (il *InstrumentedLot) ActivePlates() []string {
	il.mu.Lock()
	defer il.mu.Unlock()
	return il.lot.ActivePlates()
}

// Occupancy is a consistent snapshot of one vehicle class.
type Occupancy struct {
	Type      string  `json:"type"`
	Capacity  int     `json:"capacity"`
	Available int     `json:"available"`
	Occupied  int     `json:"occupied"`
	Rate      float64 `json:"hourly_rate"`
}

// Snapshot reports both classes under a single lock.
func (il *InstrumentedLot) Snapshot() []Occupancy {
	il.mu.Lock()
	defer il.mu.Unlock()

	out := make([]Occupancy, 0, 2)
	for _, vt := range []VehicleType{Car, Motorcycle} {
		capacity := il.lot.Capacity(vt)
		available := il.lot.AvailableSpaces(vt)
		out = append(out, Occupancy{
			Type:      vt.String(),
			Capacity:  capacity,
			Available: available,
			Occupied:  capacity - available,
			Rate:      il.lot.Rate(vt),
		})
	}
	return out
}

func (il *InstrumentedLot) typeOf(plate string) (VehicleType, bool) {
	v, ok := il.lot.vehicles[plate]
	if !ok {
		return 0, false
	}
	return v.Type, true
}
