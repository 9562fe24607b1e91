package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Idromerom714/parqueadero/internal/config"
	"github.com/Idromerom714/parqueadero/internal/console"
	"github.com/Idromerom714/parqueadero/internal/events"
	"github.com/Idromerom714/parqueadero/internal/logging"
	"github.com/Idromerom714/parqueadero/internal/parking"
	"github.com/Idromerom714/parqueadero/internal/report"
	"github.com/Idromerom714/parqueadero/internal/server"
	"github.com/Idromerom714/parqueadero/internal/service"
	"github.com/Idromerom714/parqueadero/internal/telemetry"
)

var (
	mode    = flag.String("mode", "server", "Mode to run: server, console, or both")
	envFile = flag.String("env", "", "Extra .env file to load")
)

type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	lot       *parking.InstrumentedLot
	ledger    *events.Ledger
	publisher *events.Publisher
	service   *service.Service
	admin     *server.Server
	cron      *cron.Cron
}

func main() {
	flag.Parse()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.Init(cfg.Environment, cfg.LogLevel)

	switch *mode {
	case "server", "console", "both":
	default:
		logger.Fatalf("Invalid mode: %s. Must be server, console, or both", *mode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryProvider, err := newTelemetry(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer shutdownTelemetry(telemetryProvider, logger)

	a, err := newApp(cfg, telemetryProvider, logger)
	if err != nil {
		logger.Errorf("Failed to build parking service: %v", err)
		return
	}
	defer a.close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := a.run(ctx, *mode, sigChan); err != nil {
		logger.Errorf("Parking service error: %v", err)
	}
}

func newTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Provider, error) {
	if !cfg.OTelEnabled {
		return telemetry.NewNoop(), nil
	}
	return telemetry.New(ctx, telemetry.Config{
		ServiceName:  cfg.OTelServiceName,
		OTLPEndpoint: cfg.OTelEndpoint,
		Environment:  cfg.Environment,
	})
}

func newApp(cfg *config.Config, tp *telemetry.Provider, logger *logrus.Logger) (*app, error) {
	lot := parking.NewLot(cfg.CarCapacity, cfg.MotoCapacity, cfg.CarRate, cfg.MotoRate)
	il, err := parking.NewInstrumentedLot(lot, tp)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, lot: il, ledger: events.NewLedger()}

	observers := []events.Observer{a.ledger.Observe, events.LogObserver(logger)}
	if cfg.AMQPURL != "" {
		a.publisher, err = events.Dial(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			return nil, err
		}
		observers = append(observers, a.publisher.Observe)
		logger.WithField("queue", cfg.AMQPQueue).Info("publishing parking events")
	}
	observer := events.Fanout(observers...)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := service.NewMetrics(reg)
	if err != nil {
		a.close()
		return nil, err
	}

	a.service = service.New(il,
		service.WithHost(cfg.Host),
		service.WithPort(cfg.Port),
		service.WithReadBufferSize(cfg.ReadBuffer),
		service.WithReadTimeout(cfg.ReadTimeout),
		service.WithLogger(logger),
		service.WithTracer(tp.Tracer()),
		service.WithMetrics(metrics),
	)
	a.service.SetEventCallback(observer)

	if cfg.AdminAddr != "" {
		a.admin = server.NewServer(server.Config{
			Addr:        cfg.AdminAddr,
			ServiceName: cfg.OTelServiceName,
			Lot:         il,
			Ledger:      a.ledger,
			Observer:    observer,
			Gatherer:    reg,
			Logger:      logger,
			Tracer:      tp.Tracer(),
		})
	}

	if cfg.ReportSchedule != "" {
		a.cron = cron.New()
		if _, err := report.NewReporter(il, a.ledger, logger).Schedule(a.cron, cfg.ReportSchedule); err != nil {
			a.close()
			return nil, err
		}
	}

	return a, nil
}

func (a *app) run(ctx context.Context, mode string, sigChan chan os.Signal) error {
	if err := a.service.Start(); err != nil {
		return err
	}
	a.logger.WithFields(logrus.Fields{
		"cars":        a.cfg.CarCapacity,
		"motorcycles": a.cfg.MotoCapacity,
	}).Info("waiting for devices")

	devicesDone := make(chan struct{})
	go func() {
		a.serveDevices()
		close(devicesDone)
	}()

	adminDone := make(chan error, 1)
	if a.admin != nil && mode != "console" {
		go func() { adminDone <- a.admin.Start() }()
	}

	if a.cron != nil {
		a.cron.Start()
	}

	consoleDone := make(chan error, 1)
	if mode == "console" || mode == "both" {
		go func() {
			shell := console.NewShell(a.lot, a.ledger, os.Stdin, os.Stdout)
			consoleDone <- shell.Run(ctx)
		}()
	}

	var runErr error
	select {
	case <-sigChan:
		a.logger.Info("Received shutdown signal...")
	case err := <-consoleDone:
		runErr = err
		a.logger.Info("Console exited")
	case err := <-adminDone:
		runErr = err
	case <-devicesDone:
	}

	a.shutdown()
	<-devicesDone
	return runErr
}

// serveDevices serves one device connection at a time until the service is
// stopped.
func (a *app) serveDevices() {
	for {
		err := a.service.AcceptOnce(context.Background())
		switch {
		case err == nil:
		case errors.Is(err, service.ErrNotRunning):
			return
		case errors.Is(err, service.ErrAccept):
			time.Sleep(100 * time.Millisecond)
		default:
			a.logger.WithError(err).Debug("device request failed")
		}
	}
}

func (a *app) shutdown() {
	if err := a.service.Stop(); err != nil {
		a.logger.Errorf("Device service shutdown error: %v", err)
	}

	if a.admin != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := a.admin.Shutdown(shutdownCtx); err != nil {
			a.logger.Errorf("Admin API shutdown error: %v", err)
		}
	}

	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
}

func (a *app) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warnf("Error closing event publisher: %v", err)
		}
		a.publisher = nil
	}
}

func shutdownTelemetry(telemetryProvider *telemetry.Provider, logger *logrus.Logger) {
	logger.Info("Shutting down telemetry...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error shutting down telemetry: %v", err)
	}
}
