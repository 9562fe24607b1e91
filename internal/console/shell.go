package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Idromerom714/parqueadero/internal/events"
	"github.com/Idromerom714/parqueadero/internal/parking"
)

// Lot is the read-only view the operator console needs.
type Lot interface {
	Describe(ctx context.Context, plate string) (parking.VehicleInfo, error)
	CurrentFee(plate string) float64
	IsPresent(plate string) bool
	ActivePlates() []string
	Snapshot() []parking.Occupancy
}

type Shell struct {
	lot     Lot
	ledger  *events.Ledger
	scanner *bufio.Scanner
	out     io.Writer
}

// NewShell reads commands from in and prints to out. ledger may be nil.
func NewShell(lot Lot, ledger *events.Ledger, in io.Reader, out io.Writer) *Shell {
	return &Shell{
		lot:     lot,
		ledger:  ledger,
		scanner: bufio.NewScanner(in),
		out:     out,
	}
}

// Run processes commands until "exit", end of input or ctx is done. ctx is
// checked between lines only.
func (s *Shell) Run(ctx context.Context) error {
	s.prompt()
	for s.scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		input := strings.TrimSpace(s.scanner.Text())
		if input != "" && !s.processCommand(ctx, input) {
			return nil
		}
		s.prompt()
	}
	return s.scanner.Err()
}

func (s *Shell) prompt() {
	fmt.Fprint(s.out, "parking> ")
}

// processCommand reports false when the shell should stop.
func (s *Shell) processCommand(ctx context.Context, input string) bool {
	parts := strings.Fields(input)
	command := strings.ToLower(parts[0])

	switch command {
	case "status":
		s.handleStatus()
	case "vehicles":
		s.handleVehicles()
	case "info":
		s.handleInfo(ctx, parts)
	case "fee":
		s.handleFee(parts)
	case "stats":
		s.handleStats()
	case "help":
		s.handleHelp()
	case "exit", "quit":
		return false
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (try help)\n", command)
	}
	return true
}

func (s *Shell) handleStatus() {
	for _, occ := range s.lot.Snapshot() {
		fmt.Fprintf(s.out, "%-6s %d/%d available  rate $%.0f/h\n", occ.Type, occ.Available, occ.Capacity, occ.Rate)
	}
	fmt.Fprintf(s.out, "Vehicles inside: %d\n", len(s.lot.ActivePlates()))
}

func (s *Shell) handleVehicles() {
	plates := s.lot.ActivePlates()
	if len(plates) == 0 {
		fmt.Fprintln(s.out, "Parking lot is empty")
		return
	}

	fmt.Fprintln(s.out, "Plate\t\tCurrent fee")
	for _, plate := range plates {
		fmt.Fprintf(s.out, "%s\t\t$%.0f\n", plate, s.lot.CurrentFee(plate))
	}
}

func (s *Shell) handleInfo(ctx context.Context, parts []string) {
	if len(parts) != 2 {
		fmt.Fprintln(s.out, "Usage: info <plate>")
		return
	}

	plate := strings.ToUpper(parts[1])
	info, err := s.lot.Describe(ctx, plate)
	if err != nil {
		fmt.Fprintf(s.out, "Vehicle %s not found\n", plate)
		return
	}

	fmt.Fprintf(s.out, "Plate:   %s\n", info.Plate)
	fmt.Fprintf(s.out, "Type:    %s\n", info.TypeName)
	fmt.Fprintf(s.out, "Space:   %d\n", info.Space)
	fmt.Fprintf(s.out, "Entered: %s\n", info.EnteredAt.Format(time.DateTime))
	fmt.Fprintf(s.out, "Fee:     $%.0f\n", info.CurrentFee)
}

func (s *Shell) handleFee(parts []string) {
	if len(parts) != 2 {
		fmt.Fprintln(s.out, "Usage: fee <plate>")
		return
	}

	plate := strings.ToUpper(parts[1])
	if !s.lot.IsPresent(plate) {
		fmt.Fprintf(s.out, "Vehicle %s not found\n", plate)
		return
	}
	fmt.Fprintf(s.out, "$%.0f\n", s.lot.CurrentFee(plate))
}

func (s *Shell) handleStats() {
	if s.ledger == nil {
		fmt.Fprintln(s.out, "History is not enabled")
		return
	}

	stats := s.ledger.Stats()
	fmt.Fprintf(s.out, "Vehicles inside:  %d\n", stats.ActiveVehicles)
	fmt.Fprintf(s.out, "Car entries:      %d\n", stats.Cars)
	fmt.Fprintf(s.out, "Moto entries:     %d\n", stats.Motorcycles)
	fmt.Fprintf(s.out, "Records:          %d\n", len(s.ledger.History()))
	fmt.Fprintf(s.out, "Revenue:          $%.0f\n", stats.Revenue)
}

func (s *Shell) handleHelp() {
	fmt.Fprintln(s.out, "status          availability per vehicle type")
	fmt.Fprintln(s.out, "vehicles        vehicles inside with their current fee")
	fmt.Fprintln(s.out, "info <plate>    details of one vehicle")
	fmt.Fprintln(s.out, "fee <plate>     current fee of one vehicle")
	fmt.Fprintln(s.out, "stats           totals since start")
	fmt.Fprintln(s.out, "exit            leave the console")
}
