// Package logic contains the irrigation execution engine.
// This package has NO I/O dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Durations run on an injected uint32 millisecond counter that is allowed to
// wrap; schedule matching uses an injected wall-clock time.Time.
package logic

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Engine sizing and configuration bounds.
const (
	NumCycles        = 3
	DefaultZoneCount = 7

	MaxZoneDurationMinutes   = 120
	MaxInterZoneDelayMinutes = 60
	MaxCycleNameLen          = 15
	MaxZoneNameLen           = 31

	msPerMinute uint32 = 60 * 1000
)

// ErrInvalidArgument is returned when a zone or cycle index is out of range,
// or a configuration value is outside its allowed bounds. No state is changed.
var ErrInvalidArgument = errors.New("invalid argument")

// TimeOfDay is a wall-clock hour and minute.
type TimeOfDay struct {
	Hour   uint8 `json:"hour"`
	Minute uint8 `json:"minute"`
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// DayMask is a 7-bit weekday set. Bit 0 is Sunday, bit 6 is Saturday.
type DayMask uint8

const (
	Sunday DayMask = 1 << iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday

	Everyday DayMask = 0x7F
)

var dayAbbrev = [7]string{"Su", "Mo", "Tu", "We", "Th", "Fr", "Sa"}

// DayBit returns the mask bit for a weekday.
func DayBit(wd time.Weekday) DayMask {
	return 1 << uint(wd)
}

// Has reports whether wd is in the mask.
func (m DayMask) Has(wd time.Weekday) bool {
	return m&DayBit(wd) != 0
}

// String renders the mask as comma-separated abbreviations, e.g. "Mo,We,Fr".
func (m DayMask) String() string {
	var days []string
	for i, abbr := range dayAbbrev {
		if m&(1<<uint(i)) != 0 {
			days = append(days, abbr)
		}
	}
	return strings.Join(days, ",")
}

// ParseDayMask parses the format produced by DayMask.String.
func ParseDayMask(s string) (DayMask, error) {
	var m DayMask
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		found := false
		for i, abbr := range dayAbbrev {
			if strings.EqualFold(part, abbr) {
				m |= 1 << uint(i)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: unknown day %q", ErrInvalidArgument, part)
		}
	}
	return m, nil
}

// OperationKind identifies what the controller is currently doing.
type OperationKind int

const (
	OpNone OperationKind = iota
	OpManualZone
	OpManualCycle
	OpScheduledCycle
)

func (k OperationKind) String() string {
	switch k {
	case OpNone:
		return "OP_NONE"
	case OpManualZone:
		return "OP_MANUAL_ZONE"
	case OpManualCycle:
		return "OP_MANUAL_CYCLE"
	case OpScheduledCycle:
		return "OP_SCHEDULED_CYCLE"
	}
	return fmt.Sprintf("OP_UNKNOWN(%d)", int(k))
}

// CycleKind distinguishes a cycle started by a user from one started by the scanner.
type CycleKind int

const (
	CycleManual CycleKind = iota
	CycleScheduled
)

func (k CycleKind) op() OperationKind {
	if k == CycleScheduled {
		return OpScheduledCycle
	}
	return OpManualCycle
}

// Phase is the sub-state of a running cycle.
type Phase int

const (
	PhaseRunningZone Phase = iota
	PhaseInterZoneDelay
)

func (p Phase) String() string {
	if p == PhaseInterZoneDelay {
		return "INTER_ZONE_DELAY"
	}
	return "RUNNING_ZONE"
}

// RunState is the single source of truth for which actuators should be on.
// Op selects which fields are meaningful:
//   - OpNone: none.
//   - OpManualZone: Zone, StartedAtMs, DurationMs.
//   - OpManualCycle / OpScheduledCycle: CycleIndex, ZoneIndex, Phase, PhaseStartedAtMs.
type RunState struct {
	Op    OperationKind
	RunID string

	Zone        int
	StartedAtMs uint32
	DurationMs  uint32

	CycleIndex       int
	ZoneIndex        int
	Phase            Phase
	PhaseStartedAtMs uint32
}

// IsIdle reports whether nothing is running.
func (s RunState) IsIdle() bool {
	return s.Op == OpNone
}

// IsCycle reports whether a manual or scheduled cycle is running.
func (s RunState) IsCycle() bool {
	return s.Op == OpManualCycle || s.Op == OpScheduledCycle
}

// ActiveZone returns the zone that should currently be energized, or -1.
func (s RunState) ActiveZone() int {
	switch {
	case s.Op == OpManualZone:
		return s.Zone
	case s.IsCycle() && s.Phase == PhaseRunningZone:
		return s.ZoneIndex
	}
	return -1
}

// Actuator numbering: the pump is actuator 0, zone z is actuator z+1.
const PumpActuator = 0

// ZoneActuator returns the actuator id of a zone.
func ZoneActuator(zone int) int {
	return zone + 1
}

// Actuators drives the physical outputs. Implementations must ignore ids
// outside the configured range and report them as errors.
type Actuators interface {
	SetActuator(id int, on bool) error
}

// EventType represents a run-state transition to be published.
type EventType string

const (
	EventRunStarted    EventType = "RUN_STARTED"
	EventZoneOn        EventType = "ZONE_ON"
	EventZoneOff       EventType = "ZONE_OFF"
	EventDelayStarted  EventType = "DELAY_STARTED"
	EventRunCompleted  EventType = "RUN_COMPLETED"
	EventRunStopped    EventType = "RUN_STOPPED"
	EventActuatorFault EventType = "ACTUATOR_FAULT"
)

// Event describes a transition. Cycle and Zone are -1 when not applicable.
type Event struct {
	Type     EventType
	Op       OperationKind
	RunID    string
	Cycle    int
	Zone     int
	Actuator int
	AtMs     uint32
	Err      error
}
