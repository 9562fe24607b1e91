// Package service runs the device-facing TCP endpoint. Each AcceptOnce call
// serves exactly one connection: one bounded read, one reply, close.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Idromerom714/parqueadero/internal/events"
	"github.com/Idromerom714/parqueadero/internal/logging"
	"github.com/Idromerom714/parqueadero/internal/parking"
	"github.com/Idromerom714/parqueadero/internal/protocol"
)

const (
	DefaultPort           = 8080
	DefaultReadBufferSize = 1024
)

var (
	ErrBind           = errors.New("service: bind failed")
	ErrAccept         = errors.New("service: accept failed")
	ErrReceive        = errors.New("service: receive failed")
	ErrUnknownCommand = errors.New("service: unknown command")
	ErrNotRunning     = errors.New("service: not running")
	ErrAlreadyRunning = errors.New("service: already running")
	ErrObserver       = errors.New("service: observer failed")
)

// Allocator is what the service needs from the parking lot.
// *parking.InstrumentedLot satisfies it.
type Allocator interface {
	RegisterEntry(ctx context.Context, plate string, vehicleType parking.VehicleType) (int, error)
	RegisterExit(ctx context.Context, plate string) (float64, error)
}

type Service struct {
	allocator   Allocator
	host        string
	port        int
	readBuffer  int
	readTimeout time.Duration
	logger      *logrus.Logger
	tracer      trace.Tracer
	metrics     *Metrics

	mu       sync.Mutex
	listener net.Listener
	observer events.Observer
}

type Option func(*Service)

func WithPort(port int) Option {
	return func(s *Service) { s.port = port }
}

func WithHost(host string) Option {
	return func(s *Service) { s.host = host }
}

// WithReadBufferSize bounds the single read of a request. Longer requests
// are truncated.
func WithReadBufferSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.readBuffer = n
		}
	}
}

func WithLogger(l *logrus.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithReadTimeout limits how long a connected client may stay silent. Zero
// means wait forever.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Service) { s.readTimeout = d }
}

func New(allocator Allocator, opts ...Option) *Service {
	s := &Service{
		allocator:  allocator,
		port:       DefaultPort,
		readBuffer: DefaultReadBufferSize,
		logger:     logging.Logger(),
		tracer:     noop.NewTracerProvider().Tracer("parqueadero/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEventCallback registers the observer for processed entries and exits.
// A nil observer disables notification.
func (s *Service) SetEventCallback(o events.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = o
}

func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return ErrAlreadyRunning
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBind, addr, err)
	}
	s.listener = ln

	s.logger.WithField("addr", ln.Addr().String()).Info("parking service listening")
	return nil
}

// Stop closes the listener. Calling it on a stopped service is a no-op.
func (s *Service) Stop() error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	s.logger.Info("parking service stopped")
	return nil
}

func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}

// Addr is the bound address, or nil when stopped.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// AcceptOnce blocks until one client connects and serves it. Business
// rejections are replied to the device and are not errors here. A deadline
// on ctx bounds both the accept and the exchange.
func (s *Service) AcceptOnce(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return ErrNotRunning
	}

	deadline, hasDeadline := ctx.Deadline()
	if dl, ok := ln.(interface{ SetDeadline(time.Time) error }); ok && hasDeadline {
		_ = dl.SetDeadline(deadline)
		defer dl.SetDeadline(time.Time{})
	}

	conn, err := ln.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) || !s.IsRunning() {
			return ErrNotRunning
		}
		s.metrics.failure("accept")
		s.logger.WithError(err).Warn("accept failed")
		return fmt.Errorf("%w: %w", ErrAccept, err)
	}

	return s.serve(ctx, conn)
}

func (s *Service) serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "parking.device_request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("net.peer.addr", conn.RemoteAddr().String())))
	defer span.End()

	log := logging.FromContext(ctx, s.logger).WithFields(logrus.Fields{
		"conn_id": uuid.NewString(),
		"remote":  conn.RemoteAddr().String(),
	})

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if s.readTimeout > 0 {
		readBy := time.Now().Add(s.readTimeout)
		if deadline, ok := ctx.Deadline(); !ok || readBy.Before(deadline) {
			_ = conn.SetReadDeadline(readBy)
		}
	}

	buf := make([]byte, s.readBuffer)
	n, err := conn.Read(buf)
	if n == 0 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		s.metrics.failure("receive")
		span.RecordError(err)
		span.SetStatus(codes.Error, "receive failed")
		log.WithError(err).Warn("no request received")
		return fmt.Errorf("%w: %w", ErrReceive, err)
	}
	if n == len(buf) {
		log.WithField("buffer_size", len(buf)).Warn("request filled the read buffer and may be truncated")
	}

	msg := protocol.Decode(string(buf[:n]))
	span.SetAttributes(
		attribute.String("parking.command", msg.Command.String()),
		attribute.String("vehicle.plate", msg.Plate),
		attribute.String("device.id", msg.DeviceID),
	)
	log = log.WithFields(logrus.Fields{
		"command": msg.Command.String(),
		"plate":   msg.Plate,
		"device":  msg.DeviceID,
	})

	reply, event := s.dispatch(ctx, msg)
	wire := reply.String()

	var sendErr error
	if _, err := conn.Write([]byte(wire)); err != nil {
		sendErr = fmt.Errorf("service: send reply: %w", err)
		s.metrics.failure("send")
		log.WithError(err).Warn("failed to send reply")
	}

	if event != nil {
		event.Reply = wire
		if err := s.notify(ctx, *event); err != nil {
			s.metrics.failure("observer")
			log.WithError(err).Error("event observer failed")
		}
	}

	s.metrics.observe(msg.Command, reply.Success(), time.Since(start))
	log.WithField("reply", wire).Info("device request handled")

	if !reply.Success() {
		span.SetStatus(codes.Error, wire)
	}
	if msg.Command == protocol.Unknown {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Raw)
	}
	return sendErr
}

// dispatch runs the allocator for msg. The event is nil for commands the
// observer must not see.
func (s *Service) dispatch(ctx context.Context, msg protocol.Message) (protocol.Reply, *events.Event) {
	switch msg.Command {
	case protocol.Entry:
		reply, e := s.entry(ctx, msg)
		return reply, &e
	case protocol.Exit:
		reply, e := s.exit(ctx, msg)
		return reply, &e
	default:
		return protocol.UnknownOperation(), nil
	}
}

func (s *Service) entry(ctx context.Context, msg protocol.Message) (protocol.Reply, events.Event) {
	e := events.NewEvent(protocol.Entry, msg.Plate, msg.VehicleType, msg.DeviceID)

	if msg.Plate == "" {
		return protocol.MissingPlate(), e
	}
	vehicleType, err := parking.ParseVehicleType(msg.VehicleType)
	if err != nil {
		return protocol.InvalidVehicleType(msg.VehicleType), e
	}
	e.VehicleClass = vehicleType.String()

	space, err := s.allocator.RegisterEntry(ctx, msg.Plate, vehicleType)
	switch {
	case err == nil:
		e.Success = true
		e.Space = space
		return protocol.EntryAccepted(msg.Plate, space), e
	case errors.Is(err, parking.ErrDuplicateEntry):
		return protocol.DuplicateEntry(msg.Plate), e
	case errors.Is(err, parking.ErrNoSpaceAvailable):
		return protocol.NoSpaceAvailable(vehicleType.String()), e
	default:
		return protocol.Error("%v", err), e
	}
}

func (s *Service) exit(ctx context.Context, msg protocol.Message) (protocol.Reply, events.Event) {
	e := events.NewEvent(protocol.Exit, msg.Plate, msg.VehicleType, msg.DeviceID)
	if vehicleType, err := parking.ParseVehicleType(msg.VehicleType); err == nil {
		e.VehicleClass = vehicleType.String()
	}

	if msg.Plate == "" {
		return protocol.MissingPlate(), e
	}

	fee, err := s.allocator.RegisterExit(ctx, msg.Plate)
	switch {
	case err == nil:
		e.Success = true
		e.Fee = fee
		return protocol.ExitAccepted(msg.Plate, fee), e
	case errors.Is(err, parking.ErrNotFound):
		return protocol.NotFound(msg.Plate), e
	default:
		return protocol.Error("%v", err), e
	}
}

// notify calls the observer and turns both its error and its panic into a
// returned ErrObserver.
func (s *Service) notify(ctx context.Context, e events.Event) (err error) {
	s.mu.Lock()
	observer := s.observer
	s.mu.Unlock()
	if observer == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrObserver, r)
		}
	}()
	if oerr := observer(ctx, e); oerr != nil {
		return fmt.Errorf("%w: %w", ErrObserver, oerr)
	}
	return nil
}
