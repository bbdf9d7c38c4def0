package gpio

import (
	"fmt"
	"sync"
)

// Write is one recorded SetActuator call.
type Write struct {
	ID int
	On bool
}

func (w Write) String() string {
	return fmt.Sprintf("%d=%v", w.ID, w.On)
}

// FakeBank is a test double that records every write and tracks the worst
// case seen by the mutual-exclusion invariant.
type FakeBank struct {
	mu sync.Mutex

	states []bool
	writes []Write

	// MaxZonesOn is the highest number of zones simultaneously on after any write.
	MaxZonesOn int

	// Fail, if set for an id, is returned by SetActuator for that id and the
	// output is left unchanged.
	Fail map[int]error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeBank creates a FakeBank with a pump and zones outputs, all off.
func NewFakeBank(zones int) *FakeBank {
	return &FakeBank{
		states: make([]bool, zones+1),
		Fail:   make(map[int]error),
	}
}

// SetActuator records the write.
func (f *FakeBank) SetActuator(id int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := checkID(id, len(f.states)); err != nil {
		return err
	}
	f.writes = append(f.writes, Write{ID: id, On: on})
	if err := f.Fail[id]; err != nil {
		return err
	}
	f.states[id] = on

	zones := 0
	for _, v := range f.states[1:] {
		if v {
			zones++
		}
	}
	if zones > f.MaxZonesOn {
		f.MaxZonesOn = zones
	}
	return nil
}

// States returns the current output levels.
func (f *FakeBank) States() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.states...)
}

// Writes returns every recorded write, in order.
func (f *FakeBank) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}

// Pump reports whether the pump output is on.
func (f *FakeBank) Pump() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[0]
}

// ActiveZone returns the zone that is on, or -1.
func (f *FakeBank) ActiveZone() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, v := range f.states[1:] {
		if v {
			return i
		}
	}
	return -1
}

// Close switches everything off and marks the bank as closed.
func (f *FakeBank) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.states {
		f.states[i] = false
	}
	f.Closed = true
	return nil
}

// Reset clears recorded writes.
func (f *FakeBank) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
	f.MaxZonesOn = 0
	f.Closed = false
}
