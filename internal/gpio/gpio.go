// Package gpio drives the pump and zone relays with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import (
	"errors"
	"fmt"
)

// ErrInvalidActuator is returned for an actuator id outside 0..NumZones.
var ErrInvalidActuator = errors.New("gpio: invalid actuator")

// Bank drives a fixed set of binary outputs: actuator 0 is the pump and
// actuator z+1 is zone z.
type Bank interface {
	// SetActuator switches one output. Out-of-range ids are ignored and
	// reported as ErrInvalidActuator.
	SetActuator(id int, on bool) error

	// States returns the last commanded state of every output.
	States() []bool

	// Close switches every output off and releases GPIO resources.
	Close() error
}

// Pin definitions (BCM numbering) for the default 8-channel relay board.
const (
	DefaultChip    = "gpiochip0"
	DefaultPinPump = 5
)

// DefaultZonePins are the zone relay pins in zone order.
var DefaultZonePins = []int{6, 13, 16, 19, 20, 21, 26}

// Pins maps actuators to GPIO lines.
type Pins struct {
	Chip      string
	Pump      int
	Zones     []int
	ActiveLow bool // relay boards that energize on a low output
}

// Offsets returns the line offsets in actuator order.
func (p Pins) Offsets() []int {
	return append([]int{p.Pump}, p.Zones...)
}

// Validate checks that no pin is used twice.
func (p Pins) Validate() error {
	if len(p.Zones) == 0 {
		return errors.New("gpio: no zone pins configured")
	}
	seen := make(map[int]bool)
	for _, pin := range p.Offsets() {
		if pin < 0 {
			return fmt.Errorf("gpio: negative pin %d", pin)
		}
		if seen[pin] {
			return fmt.Errorf("gpio: pin %d used twice", pin)
		}
		seen[pin] = true
	}
	return nil
}

func checkID(id, n int) error {
	if id < 0 || id >= n {
		return fmt.Errorf("%w: %d (have %d)", ErrInvalidActuator, id, n)
	}
	return nil
}
