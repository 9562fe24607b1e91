package parking

import "errors"

var (
	ErrDuplicateEntry     = errors.New("parking: vehicle already inside")
	ErrNoSpaceAvailable   = errors.New("parking: no space available")
	ErrNotFound           = errors.New("parking: vehicle not found")
	ErrInvalidVehicleType = errors.New("parking: invalid vehicle type")
)
