package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Idromerom714/parqueadero/internal/device"
	"github.com/Idromerom714/parqueadero/internal/logging"
	"github.com/Idromerom714/parqueadero/internal/protocol"
)

var (
	addr     = flag.String("addr", "localhost:8080", "Parking service address")
	deviceID = flag.String("device", "CAMARA-01", "Device id sent with every message")
	mode     = flag.String("mode", "interactive", "Mode to run: interactive or auto")
	count    = flag.Int("events", 50, "Number of events in auto mode")
	delay    = flag.Duration("delay", time.Second, "Pause between events in auto mode")
	logLevel = flag.String("log-level", "info", "Log level")
)

func main() {
	flag.Parse()
	logger := logging.Init("development", *logLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := device.New(*addr, device.WithLogger(logger))

	switch *mode {
	case "auto":
		runAuto(ctx, client, logger)
	case "interactive":
		runInteractive(ctx, client)
	default:
		logger.Fatalf("Invalid mode: %s. Must be interactive or auto", *mode)
	}
}

func runAuto(ctx context.Context, client *device.Client, logger *logrus.Logger) {
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	sim := device.NewSimulator(client, *deviceID, nil, rng, logger)

	if err := sim.Run(ctx, *count, *delay); err != nil {
		logger.Warnf("Simulation interrupted: %v", err)
	}

	stats := sim.Stats()
	logger.WithFields(logrus.Fields{
		"entries_accepted": stats.EntriesAccepted,
		"entries_rejected": stats.EntriesRejected,
		"exits_accepted":   stats.ExitsAccepted,
		"exits_rejected":   stats.ExitsRejected,
		"errors":           stats.Errors,
		"inside":           strings.Join(sim.Inside(), ","),
	}).Info("simulation finished")
}

func runInteractive(ctx context.Context, client *device.Client) {
	fmt.Printf("Device %s -> %s\n", *deviceID, client.Addr())
	fmt.Println("Commands: in <plate> <carro|moto>, out <plate>, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for fmt.Print("device> "); scanner.Scan(); fmt.Print("device> ") {
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		var msg protocol.Message
		switch strings.ToLower(parts[0]) {
		case "in":
			if len(parts) != 3 {
				fmt.Println("Usage: in <plate> <carro|moto>")
				continue
			}
			msg = protocol.Message{Command: protocol.Entry, Plate: strings.ToUpper(parts[1]), VehicleType: parts[2]}
		case "out":
			if len(parts) != 2 {
				fmt.Println("Usage: out <plate>")
				continue
			}
			msg = protocol.Message{Command: protocol.Exit, Plate: strings.ToUpper(parts[1])}
		case "quit", "exit":
			return
		default:
			fmt.Printf("Unknown command: %s\n", parts[0])
			continue
		}
		msg.DeviceID = *deviceID

		reply, err := client.Send(ctx, msg)
		if err != nil {
			fmt.Printf("Send failed: %v\n", err)
			continue
		}
		fmt.Println(reply)
	}
}
