//go:build linux

package gpio

import (
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// RealBank drives relays on actual hardware using the Linux GPIO character device.
type RealBank struct {
	mu        sync.Mutex
	chip      *gpiocdev.Chip
	lines     []*gpiocdev.Line
	states    []bool
	activeLow bool
}

// NewRealBank requests every pin as an output, initially off.
func NewRealBank(pins Pins) (*RealBank, error) {
	if err := pins.Validate(); err != nil {
		return nil, err
	}
	name := pins.Chip
	if name == "" {
		name = DefaultChip
	}
	chip, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer("irrigation-controller"))
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	b := &RealBank{chip: chip, activeLow: pins.ActiveLow}
	for i, offset := range pins.Offsets() {
		opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0)}
		if pins.ActiveLow {
			opts = append(opts, gpiocdev.AsActiveLow)
		}
		line, err := chip.RequestLine(offset, opts...)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request actuator %d pin %d: %w", i, offset, err)
		}
		b.lines = append(b.lines, line)
		b.states = append(b.states, false)
	}
	return b, nil
}

// SetActuator writes the logical level of one relay.
func (b *RealBank) SetActuator(id int, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := checkID(id, len(b.lines)); err != nil {
		return err
	}
	v := 0
	if on {
		v = 1
	}
	if err := b.lines[id].SetValue(v); err != nil {
		return fmt.Errorf("set actuator %d: %w", id, err)
	}
	b.states[id] = on
	return nil
}

// States returns the last successfully written level of every relay.
func (b *RealBank) States() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bool(nil), b.states...)
}

// Close switches the pump off first, then the zones, and releases the lines.
// Lines are left as inputs biased to the relay-off level so the board stays
// de-energized while the process is down.
func (b *RealBank) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for id, line := range b.lines {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("switch off actuator %d: %w", id, err))
		}
		b.states[id] = false
	}

	bias := gpiocdev.WithPullDown
	if b.activeLow {
		bias = gpiocdev.WithPullUp
	}
	for id, line := range b.lines {
		if err := line.Reconfigure(gpiocdev.AsInput, bias); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure actuator %d: %w", id, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close actuator %d: %w", id, err))
		}
	}
	b.lines = nil
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		b.chip = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
