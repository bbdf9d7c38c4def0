package control

import (
	"fmt"

	"github.com/sweeney/irrigation-controller/internal/logic"
)

// StartZone runs one zone manually.
func StartZone(zone int, minutes uint16) Func {
	return func(e *logic.Engine, nowMs uint32) error {
		return e.StartManualZone(zone, minutes, nowMs)
	}
}

// StartCycle runs a cycle manually.
func StartCycle(idx int) Func {
	return func(e *logic.Engine, nowMs uint32) error {
		return e.StartManualCycle(idx, nowMs)
	}
}

// StopAll stops every output.
func StopAll() Func {
	return func(e *logic.Engine, nowMs uint32) error {
		e.StopAllActivity(nowMs)
		return nil
	}
}

// SetCycle replaces a cycle and stores the resulting schedule in out.
func SetCycle(idx int, c logic.Cycle, out *logic.Schedule) Func {
	return func(e *logic.Engine, nowMs uint32) error {
		if err := e.SetCycle(idx, c); err != nil {
			return fmt.Errorf("set cycle %d: %w", idx, err)
		}
		if out != nil {
			*out = e.Schedule()
		}
		return nil
	}
}

// SetZoneNames replaces the zone names and stores the resulting schedule in out.
func SetZoneNames(names []string, out *logic.Schedule) Func {
	return func(e *logic.Engine, nowMs uint32) error {
		if err := e.SetZoneNames(names); err != nil {
			return fmt.Errorf("set zone names: %w", err)
		}
		if out != nil {
			*out = e.Schedule()
		}
		return nil
	}
}
