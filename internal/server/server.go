package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Idromerom714/parqueadero/internal/events"
	"github.com/Idromerom714/parqueadero/internal/logging"
)

type Config struct {
	Addr        string
	ServiceName string
	Lot         Lot
	Ledger      *events.Ledger
	Observer    events.Observer
	Gatherer    prometheus.Gatherer
	Logger      *logrus.Logger
	Tracer      trace.Tracer
}

type Server struct {
	httpServer *http.Server
	handler    *Handler
	logger     *logrus.Logger
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.Logger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("parqueadero/admin")
	}
	handler := NewHandler(cfg.ServiceName, cfg.Lot, cfg.Ledger, cfg.Observer, cfg.Logger)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(RequestIDMiddleware)
	r.Use(TracingMiddleware(cfg.Tracer))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", handler.HealthCheck)
	r.Get("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}).ServeHTTP)

	r.Route("/api/parking", func(r chi.Router) {
		r.Get("/status", handler.GetStatus)
		r.Get("/stats", handler.GetStats)
		r.Get("/vehicles/{plate}", handler.GetVehicle)
		r.Get("/fee/{plate}", handler.GetFee)
		r.Post("/entry", handler.RegisterEntry)
		r.Post("/exit", handler.RegisterExit)
	})

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		handler:    handler,
		logger:     cfg.Logger,
	}
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve runs the server on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.WithField("addr", ln.Addr().String()).Info("admin API listening")
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down admin API")
	return s.httpServer.Shutdown(ctx)
}
