package service

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Idromerom714/parqueadero/internal/device"
	"github.com/Idromerom714/parqueadero/internal/events"
	"github.com/Idromerom714/parqueadero/internal/parking"
	"github.com/Idromerom714/parqueadero/internal/protocol"
	"github.com/Idromerom714/parqueadero/internal/telemetry"
)

type fixture struct {
	svc    *Service
	lot    *parking.InstrumentedLot
	hook   *test.Hook
	now    time.Time
	events *recorder
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) observe(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func newFixture(t *testing.T, cars, motos int, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		now:    time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		events: &recorder{},
	}

	lot := parking.NewLot(cars, motos, 3000, 2000, parking.WithClock(func() time.Time { return f.now }))
	il, err := parking.NewInstrumentedLot(lot, telemetry.NewNoop())
	require.NoError(t, err)
	f.lot = il

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	f.hook = hook

	base := []Option{WithHost("127.0.0.1"), WithPort(0), WithLogger(logger)}
	f.svc = New(il, append(base, opts...)...)
	f.svc.SetEventCallback(f.events.observe)

	require.NoError(t, f.svc.Start())
	t.Cleanup(func() { _ = f.svc.Stop() })
	return f
}

// exchange serves one connection while a device sends line.
func (f *fixture) exchange(t *testing.T, line string) (string, error) {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- f.svc.AcceptOnce(context.Background()) }()

	reply, err := device.New(f.svc.Addr().String(), device.WithTimeout(2*time.Second)).
		SendLine(context.Background(), line)
	require.NoError(t, err)
	return reply, <-errc
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func TestLifecycle(t *testing.T) {
	svc := New(nil, WithHost("127.0.0.1"), WithPort(0))

	assert.False(t, svc.IsRunning())
	assert.Nil(t, svc.Addr())
	assert.ErrorIs(t, svc.AcceptOnce(context.Background()), ErrNotRunning)

	require.NoError(t, svc.Start())
	assert.True(t, svc.IsRunning())
	assert.NotNil(t, svc.Addr())
	assert.ErrorIs(t, svc.Start(), ErrAlreadyRunning)

	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())
	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())

	done := make(chan error, 1)
	go func() { done <- svc.AcceptOnce(context.Background()) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNotRunning)
	case <-time.After(time.Second):
		t.Fatal("AcceptOnce blocked on a stopped service")
	}
}

func TestStartBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	svc := New(nil, WithHost("127.0.0.1"), WithPort(port))
	err = svc.Start()
	assert.ErrorIs(t, err, ErrBind)
	assert.False(t, svc.IsRunning())
}

func TestEntryAndExit(t *testing.T) {
	f := newFixture(t, 2, 2)

	reply, err := f.exchange(t, "ENTRADA|ABC123|carro|CAM1")
	require.NoError(t, err)
	assert.Equal(t, "OK: vehicle ABC123 parked in space 1", reply)
	assert.True(t, f.lot.IsPresent("ABC123"))

	f.advance(time.Hour + time.Second)

	reply, err = f.exchange(t, "SALIDA|ABC123|carro|CAM2")
	require.NoError(t, err)
	assert.Equal(t, "OK: vehicle ABC123 exited. Fee: $6000", reply)
	assert.False(t, f.lot.IsPresent("ABC123"))

	got := f.events.all()
	require.Len(t, got, 2)

	assert.Equal(t, protocol.Entry, got[0].Command)
	assert.Equal(t, "ABC123", got[0].Plate)
	assert.Equal(t, "carro", got[0].VehicleType)
	assert.Equal(t, "CAM1", got[0].DeviceID)
	assert.True(t, got[0].Success)
	assert.Equal(t, 1, got[0].Space)
	assert.Equal(t, "OK: vehicle ABC123 parked in space 1", got[0].Reply)

	assert.Equal(t, protocol.Exit, got[1].Command)
	assert.Equal(t, "ABC123", got[1].Plate)
	assert.Equal(t, "carro", got[1].VehicleType)
	assert.True(t, got[1].Success)
	assert.Equal(t, 6000.0, got[1].Fee)
	assert.Equal(t, "CAM2", got[1].DeviceID)
}

func TestEventsKeepDeviceVehicleType(t *testing.T) {
	f := newFixture(t, 1, 1)

	_, err := f.exchange(t, "ENTRADA|MOT001|MoTo|CAM1")
	require.NoError(t, err)
	_, err = f.exchange(t, "SALIDA|MOT001|MOTO|CAM2")
	require.NoError(t, err)
	_, err = f.exchange(t, "SALIDA|ZZZ999||CAM2")
	require.NoError(t, err)

	got := f.events.all()
	require.Len(t, got, 3)

	assert.Equal(t, "MoTo", got[0].VehicleType)
	assert.Equal(t, "moto", got[0].VehicleClass)

	assert.Equal(t, "MOTO", got[1].VehicleType)
	assert.Equal(t, "moto", got[1].VehicleClass)
	assert.True(t, got[1].Success)

	assert.Empty(t, got[2].VehicleType)
	assert.Empty(t, got[2].VehicleClass)
	assert.False(t, got[2].Success)
}

func TestSameSecondExitIsFree(t *testing.T) {
	f := newFixture(t, 1, 1)

	_, err := f.exchange(t, "ENTRADA|MOT001|moto|CAM1")
	require.NoError(t, err)

	reply, err := f.exchange(t, "SALIDA|MOT001|moto|CAM2")
	require.NoError(t, err)
	assert.Equal(t, "OK: vehicle MOT001 exited. Fee: $0", reply)
}

func TestRejectionsNotifyWithFailure(t *testing.T) {
	f := newFixture(t, 1, 0)

	_, err := f.exchange(t, "ENTRADA|AAA111|carro|CAM1")
	require.NoError(t, err)

	cases := []struct {
		line  string
		reply string
	}{
		{"ENTRADA|AAA111|carro|CAM1", "ERROR: vehicle AAA111 is already in the facility"},
		{"ENTRADA|BBB222|carro|CAM1", "ERROR: no spaces available for carro"},
		{"ENTRADA|MOT001|moto|CAM1", "ERROR: no spaces available for moto"},
		{"SALIDA|ZZZ999||CAM2", "ERROR: vehicle ZZZ999 is not in the facility"},
		{"ENTRADA|BUS001|bus|CAM1", `ERROR: invalid vehicle type "bus"`},
		{"ENTRADA||carro|CAM1", "ERROR: missing plate"},
	}

	for _, tc := range cases {
		reply, err := f.exchange(t, tc.line)
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.reply, reply, tc.line)
		assert.False(t, protocol.IsSuccess(reply))
	}

	got := f.events.all()
	require.Len(t, got, len(cases)+1)
	for _, e := range got[1:] {
		assert.False(t, e.Success, e.Reply)
	}
	assert.Equal(t, []string{"AAA111"}, f.lot.ActivePlates())
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t, 1, 1)

	for _, line := range []string{"PING|ABC123|carro|CAM1", "entrada|ABC123|carro|CAM1", "garbage"} {
		reply, err := f.exchange(t, line)
		assert.ErrorIs(t, err, ErrUnknownCommand)
		assert.Equal(t, "ERROR: unknown operation", reply)
	}

	assert.Empty(t, f.events.all())
	assert.Empty(t, f.lot.ActivePlates())
	assert.True(t, f.svc.IsRunning())
}

func TestObserverFailureIsContained(t *testing.T) {
	f := newFixture(t, 2, 2)

	f.svc.SetEventCallback(func(context.Context, events.Event) error {
		return errors.New("queue unavailable")
	})
	reply, err := f.exchange(t, "ENTRADA|AAA111|carro|CAM1")
	require.NoError(t, err)
	assert.True(t, protocol.IsSuccess(reply))

	f.svc.SetEventCallback(func(context.Context, events.Event) error {
		panic("observer bug")
	})
	reply, err = f.exchange(t, "ENTRADA|BBB222|carro|CAM1")
	require.NoError(t, err)
	assert.True(t, protocol.IsSuccess(reply))

	var observerErrors []string
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			observerErrors = append(observerErrors, e.Data[logrus.ErrorKey].(error).Error())
		}
	}
	require.Len(t, observerErrors, 2)
	assert.Contains(t, observerErrors[0], "queue unavailable")
	assert.Contains(t, observerErrors[1], "observer bug")

	f.svc.SetEventCallback(nil)
	_, err = f.exchange(t, "SALIDA|AAA111||CAM2")
	require.NoError(t, err)
}

func TestReceiveFailure(t *testing.T) {
	f := newFixture(t, 1, 1)

	errc := make(chan error, 1)
	go func() { errc <- f.svc.AcceptOnce(context.Background()) }()

	conn, err := net.Dial("tcp", f.svc.Addr().String())
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	assert.ErrorIs(t, <-errc, ErrReceive)
	assert.Empty(t, f.events.all())
	assert.True(t, f.svc.IsRunning())
}

func TestReadTimeout(t *testing.T) {
	f := newFixture(t, 1, 1, WithReadTimeout(50*time.Millisecond))

	errc := make(chan error, 1)
	go func() { errc <- f.svc.AcceptOnce(context.Background()) }()

	conn, err := net.Dial("tcp", f.svc.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrReceive)
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("read timeout not applied")
	}
}

func TestTruncationIsLogged(t *testing.T) {
	f := newFixture(t, 1, 1, WithReadBufferSize(16))

	reply, err := f.exchange(t, "ENTRADA|ABCDEFGHIJKLMNOP|carro|CAM1")
	require.NoError(t, err)
	assert.False(t, protocol.IsSuccess(reply))

	var warned bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "truncated") {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestAcceptDeadline(t *testing.T) {
	f := newFixture(t, 1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := f.svc.AcceptOnce(ctx)
	assert.ErrorIs(t, err, ErrAccept)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.True(t, f.svc.IsRunning())

	reply, err := f.exchange(t, "ENTRADA|AAA111|carro|CAM1")
	require.NoError(t, err)
	assert.True(t, protocol.IsSuccess(reply))
}

func TestStopUnblocksAccept(t *testing.T) {
	f := newFixture(t, 1, 1)

	errc := make(chan error, 1)
	go func() { errc <- f.svc.AcceptOnce(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, f.svc.Stop())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrNotRunning)
	case <-time.After(2 * time.Second):
		t.Fatal("AcceptOnce still blocked after Stop")
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	f := newFixture(t, 1, 1, WithMetrics(m))

	_, err = f.exchange(t, "ENTRADA|AAA111|carro|CAM1")
	require.NoError(t, err)
	_, err = f.exchange(t, "ENTRADA|AAA111|carro|CAM1")
	require.NoError(t, err)
	_, _ = f.exchange(t, "PING")

	assert.Equal(t, 1.0, counterValue(t, m.requests.WithLabelValues("ENTRADA", "ok")))
	assert.Equal(t, 1.0, counterValue(t, m.requests.WithLabelValues("ENTRADA", "error")))
	assert.Equal(t, 1.0, counterValue(t, m.requests.WithLabelValues("UNKNOWN", "error")))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "registering twice must fail")
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, c.Write(&pb))
	return pb.GetCounter().GetValue()
}
