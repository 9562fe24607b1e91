package server

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/Idromerom714/parqueadero/internal/events"
	"github.com/Idromerom714/parqueadero/internal/parking"
)

type Meta struct {
	TraceID   string `json:"trace_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Meta    *Meta  `json:"meta,omitempty"`
}

type EntryRequest struct {
	Plate string `json:"plate"`
	Type  string `json:"type"`
}

type ExitRequest struct {
	Plate string `json:"plate"`
}

type EntryResponse struct {
	Plate string `json:"plate"`
	Type  string `json:"type"`
	Space int    `json:"space"`
}

type ExitResponse struct {
	Plate string  `json:"plate"`
	Fee   float64 `json:"fee"`
}

type FeeResponse struct {
	Plate string  `json:"plate"`
	Fee   float64 `json:"fee"`
}

type StatusResponse struct {
	Classes      []parking.Occupancy `json:"classes"`
	Active       int                 `json:"active"`
	ActivePlates []string            `json:"active_plates"`
}

type StatsResponse struct {
	events.Stats
	History []events.Record `json:"history,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func extractMeta(ctx context.Context) *Meta {
	meta := &Meta{}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		meta.TraceID = span.SpanContext().TraceID().String()
	}

	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		meta.RequestID = reqID
	}

	return meta
}

func WriteSuccess(ctx context.Context, w http.ResponseWriter, message string, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    extractMeta(ctx),
	})
}

func WriteError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Response{
		Success: false,
		Error:   message,
		Meta:    extractMeta(ctx),
	})
}
