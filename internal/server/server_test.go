package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Idromerom714/parqueadero/internal/events"
	"github.com/Idromerom714/parqueadero/internal/parking"
	"github.com/Idromerom714/parqueadero/internal/protocol"
	"github.com/Idromerom714/parqueadero/internal/telemetry"
)

type testAPI struct {
	handler http.Handler
	lot     *parking.InstrumentedLot
	ledger  *events.Ledger
	hook    *test.Hook
}

func newTestAPI(t *testing.T, observer events.Observer) *testAPI {
	t.Helper()
	il, err := parking.NewInstrumentedLot(parking.NewLot(2, 1, 3000, 2000), telemetry.NewNoop())
	require.NoError(t, err)

	ledger := events.NewLedger()
	logger, hook := test.NewNullLogger()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "parqueadero_test_total", Help: "test"}))

	srv := NewServer(Config{
		ServiceName: "parqueadero-test",
		Lot:         il,
		Ledger:      ledger,
		Observer:    events.Fanout(ledger.Observe, observer),
		Gatherer:    reg,
		Logger:      logger,
		Tracer:      telemetry.NewNoop().Tracer(),
	})
	return &testAPI{handler: srv.Handler(), lot: il, ledger: ledger, hook: hook}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)

	var resp Response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, nil)

	rec, _ := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Contains(t, rec.Body.String(), "parqueadero-test")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "parqueadero-test", health.Service)
	require.NotNil(t, health.Meta)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), health.Meta.RequestID)
}

func TestRequestLogCarriesTraceIDs(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	il, err := parking.NewInstrumentedLot(parking.NewLot(1, 1, 3000, 2000), telemetry.NewNoop())
	require.NoError(t, err)
	logger, hook := test.NewNullLogger()

	srv := NewServer(Config{
		ServiceName: "parqueadero-test",
		Lot:         il,
		Logger:      logger,
		Tracer:      tp.Tracer("parqueadero-test"),
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.NotNil(t, health.Meta)
	require.NotEmpty(t, health.Meta.TraceID)

	var entry *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "http request" {
			entry = e
		}
	}
	require.NotNil(t, entry)
	assert.Equal(t, health.Meta.TraceID, entry.Data["trace_id"])
	assert.NotEmpty(t, entry.Data["span_id"])
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t, nil)

	rec, _ := api.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "parqueadero_test_total")
}

func TestEntryExitFlow(t *testing.T) {
	var seen []events.Event
	api := newTestAPI(t, func(_ context.Context, e events.Event) error {
		seen = append(seen, e)
		return nil
	})

	rec, resp := api.do(t, http.MethodPost, "/api/parking/entry", EntryRequest{Plate: " abc123 ", Type: "Carro"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "vehicle ABC123 parked in space 1", resp.Message)
	assert.NotEmpty(t, resp.Meta.RequestID)
	assert.True(t, api.lot.IsPresent("ABC123"))

	rec, resp = api.do(t, http.MethodGet, "/api/parking/vehicles/abc123", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := resp.Data.(map[string]any)
	assert.Equal(t, "ABC123", info["plate"])
	assert.Equal(t, "carro", info["type"])

	rec, resp = api.do(t, http.MethodGet, "/api/parking/fee/ABC123", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ABC123", resp.Data.(map[string]any)["plate"])

	rec, resp = api.do(t, http.MethodPost, "/api/parking/exit", ExitRequest{Plate: "abc123"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(resp.Message, "vehicle ABC123 exited. Fee: $"))
	assert.False(t, api.lot.IsPresent("ABC123"))

	require.Len(t, seen, 2)
	assert.Equal(t, DeviceID, seen[0].DeviceID)
	assert.Equal(t, protocol.Entry, seen[0].Command)
	assert.True(t, seen[0].Success)
	assert.True(t, protocol.IsSuccess(seen[0].Reply))
	assert.Equal(t, protocol.Exit, seen[1].Command)

	rec, resp = api.do(t, http.MethodGet, "/api/parking/stats?history=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := resp.Data.(map[string]any)
	assert.Equal(t, 0.0, stats["active_vehicles"])
	assert.Equal(t, 1.0, stats["cars"])
	assert.Len(t, stats["history"], 1)
}

func TestEntryRejections(t *testing.T) {
	var failures int
	api := newTestAPI(t, func(_ context.Context, e events.Event) error {
		if !e.Success {
			failures++
		}
		return nil
	})

	rec, _ := api.do(t, http.MethodPost, "/api/parking/entry", EntryRequest{Plate: "MOT001", Type: "moto"})
	require.Equal(t, http.StatusOK, rec.Code)

	cases := []struct {
		body   EntryRequest
		status int
		err    string
	}{
		{EntryRequest{Plate: "MOT001", Type: "moto"}, http.StatusConflict, "vehicle MOT001 is already in the facility"},
		{EntryRequest{Plate: "MOT002", Type: "moto"}, http.StatusConflict, "no spaces available for moto"},
		{EntryRequest{Plate: "BUS001", Type: "bus"}, http.StatusBadRequest, `invalid vehicle type "bus"`},
	}
	for _, tc := range cases {
		rec, resp := api.do(t, http.MethodPost, "/api/parking/entry", tc.body)
		assert.Equal(t, tc.status, rec.Code)
		assert.False(t, resp.Success)
		assert.Equal(t, tc.err, resp.Error)
	}
	assert.Equal(t, len(cases), failures)

	rec, resp := api.do(t, http.MethodPost, "/api/parking/entry", EntryRequest{Plate: "  ", Type: "carro"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Plate is required", resp.Error)
	assert.Equal(t, len(cases), failures, "validation errors are not parking events")

	req := httptest.NewRequest(http.MethodPost, "/api/parking/entry", strings.NewReader("{"))
	raw := httptest.NewRecorder()
	api.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestExitAndLookupNotFound(t *testing.T) {
	api := newTestAPI(t, nil)

	rec, resp := api.do(t, http.MethodPost, "/api/parking/exit", ExitRequest{Plate: "ZZZ999"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "vehicle ZZZ999 is not in the facility", resp.Error)

	rec, _ = api.do(t, http.MethodGet, "/api/parking/vehicles/ZZZ999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = api.do(t, http.MethodGet, "/api/parking/fee/ZZZ999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatus(t *testing.T) {
	api := newTestAPI(t, nil)
	_, err := api.lot.RegisterEntry(context.Background(), "AAA111", parking.Car)
	require.NoError(t, err)

	rec, resp := api.do(t, http.MethodGet, "/api/parking/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := resp.Data.(map[string]any)
	assert.Equal(t, 1.0, data["active"])
	assert.Equal(t, []any{"AAA111"}, data["active_plates"])

	classes := data["classes"].([]any)
	require.Len(t, classes, 2)
	car := classes[0].(map[string]any)
	assert.Equal(t, "carro", car["type"])
	assert.Equal(t, 2.0, car["capacity"])
	assert.Equal(t, 1.0, car["available"])
	assert.Equal(t, 3000.0, car["hourly_rate"])
}

func TestObserverFailureDoesNotFailRequest(t *testing.T) {
	api := newTestAPI(t, func(context.Context, events.Event) error {
		return errors.New("broker down")
	})

	rec, resp := api.do(t, http.MethodPost, "/api/parking/entry", EntryRequest{Plate: "AAA111", Type: "carro"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	var logged bool
	for _, e := range api.hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "event observer failed" {
			logged = true
		}
	}
	assert.True(t, logged)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := RequestIDMiddleware(RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal server error")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "panic recovered", hook.LastEntry().Message)
}
