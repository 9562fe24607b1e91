// Package protocol holds the device wire format.
//
// A request is one line of four pipe-separated fields:
//
//	COMMAND|PLATE|VEHICLE_TYPE|DEVICE_ID
//
// e.g. "ENTRADA|ABC123|carro|CAMARA-01". A reply is free text whose first
// token is "OK" or "ERROR". Devices decide success by that prefix alone, so
// the prefixes must not change.
package protocol

import (
	"fmt"
	"strings"
)

const (
	fieldSeparator = "|"
	fieldCount     = 4

	TokenEntry = "ENTRADA"
	TokenExit  = "SALIDA"
)

type Command int

const (
	Unknown Command = iota
	Entry
	Exit
)

func (c Command) String() string {
	switch c {
	case Entry:
		return TokenEntry
	case Exit:
		return TokenExit
	default:
		return "UNKNOWN"
	}
}

func (c Command) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Command) UnmarshalText(text []byte) error {
	*c = parseCommand(string(text))
	return nil
}

// Message is one decoded request. VehicleType is the raw token; it is only
// meaningful for Entry.
type Message struct {
	Command     Command
	Raw         string
	Plate       string
	VehicleType string
	DeviceID    string
}

// Decode never fails: missing fields are left empty and fields past the
// fourth are dropped. A single trailing line terminator is ignored.
func Decode(line string) Message {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	var fields [fieldCount]string
	for i, token := range strings.Split(line, fieldSeparator) {
		if i >= fieldCount {
			break
		}
		fields[i] = token
	}

	return Message{
		Command:     parseCommand(fields[0]),
		Raw:         fields[0],
		Plate:       fields[1],
		VehicleType: fields[2],
		DeviceID:    fields[3],
	}
}

func parseCommand(token string) Command {
	switch token {
	case TokenEntry:
		return Entry
	case TokenExit:
		return Exit
	default:
		return Unknown
	}
}

// EncodeMessage renders m as a request line. Unknown commands keep the raw
// token they were decoded from.
func EncodeMessage(m Message) string {
	command := m.Raw
	if m.Command != Unknown {
		command = m.Command.String()
	}
	return strings.Join([]string{command, m.Plate, m.VehicleType, m.DeviceID}, fieldSeparator)
}

type Status int

const (
	StatusOK Status = iota
	StatusError
)

const (
	prefixOK    = "OK"
	prefixError = "ERROR"
)

// Reply is a structured outcome; String is the only place the OK/ERROR
// prefix is produced.
type Reply struct {
	Status Status
	Text   string
}

func OK(format string, args ...any) Reply {
	return Reply{Status: StatusOK, Text: fmt.Sprintf(format, args...)}
}

func Error(format string, args ...any) Reply {
	return Reply{Status: StatusError, Text: fmt.Sprintf(format, args...)}
}

func (r Reply) Success() bool {
	return r.Status == StatusOK
}

func (r Reply) String() string {
	prefix := prefixError
	if r.Success() {
		prefix = prefixOK
	}
	if r.Text == "" {
		return prefix
	}
	return prefix + ": " + r.Text
}

// IsSuccess applies the device-side rule: a reply succeeded when it starts
// with OK.
func IsSuccess(reply string) bool {
	return strings.HasPrefix(strings.TrimSpace(reply), prefixOK)
}

// Replies for the outcomes the service produces.

func EntryAccepted(plate string, space int) Reply {
	return OK("vehicle %s parked in space %d", plate, space)
}

func ExitAccepted(plate string, fee float64) Reply {
	return OK("vehicle %s exited. Fee: $%.0f", plate, fee)
}

func DuplicateEntry(plate string) Reply {
	return Error("vehicle %s is already in the facility", plate)
}

func NoSpaceAvailable(vehicleType string) Reply {
	return Error("no spaces available for %s", vehicleType)
}

func NotFound(plate string) Reply {
	return Error("vehicle %s is not in the facility", plate)
}

func MissingPlate() Reply {
	return Error("missing plate")
}

func InvalidVehicleType(vehicleType string) Reply {
	return Error("invalid vehicle type %q", vehicleType)
}

func UnknownOperation() Reply {
	return Error("unknown operation")
}
