package logic

import (
	"fmt"

	"github.com/google/uuid"
)

// Runner is the run-state machine. It is the only component that switches
// actuators, and it guarantees that at most one zone is energized and that the
// pump is never left on once the controller is idle.
//
// Runner is not safe for concurrent use; it is driven from the control loop.
type Runner struct {
	act      Actuators
	schedule *Schedule
	state    RunState
	outputs  []bool // desired actuator states, indexed by actuator id
	events   []Event
	newRunID func() string
}

// NewRunner creates an idle Runner over the given actuators and schedule.
// The schedule is read live; edits between ticks take effect immediately.
func NewRunner(act Actuators, schedule *Schedule) *Runner {
	return &Runner{
		act:      act,
		schedule: schedule,
		state:    RunState{Op: OpNone, Zone: -1, CycleIndex: -1},
		outputs:  make([]bool, schedule.ZoneCount()+1),
		newRunID: uuid.NewString,
	}
}

// State returns a copy of the current run state.
func (r *Runner) State() RunState {
	return r.state
}

// Outputs returns the desired actuator states: index 0 is the pump,
// index z+1 is zone z.
func (r *Runner) Outputs() []bool {
	return append([]bool(nil), r.outputs...)
}

// DrainEvents returns the events emitted since the last call.
func (r *Runner) DrainEvents() []Event {
	events := r.events
	r.events = nil
	return events
}

// StartManualZone stops whatever is running and runs one zone for the given
// number of minutes.
func (r *Runner) StartManualZone(zone int, durationMinutes uint16, nowMs uint32) error {
	if zone < 0 || zone >= r.schedule.ZoneCount() {
		return fmt.Errorf("%w: zone %d out of range 0..%d", ErrInvalidArgument, zone, r.schedule.ZoneCount()-1)
	}

	r.StopAllActivity(nowMs)

	r.state = RunState{
		Op:          OpManualZone,
		RunID:       r.newRunID(),
		Zone:        zone,
		StartedAtMs: nowMs,
		DurationMs:  uint32(durationMinutes) * msPerMinute,
		CycleIndex:  -1,
	}
	r.emit(EventRunStarted, -1, zone, nowMs)
	r.energize(zone, nowMs)
	return nil
}

// StartCycleRun stops whatever is running and starts cycle idx at its first
// zone with a non-zero duration. A cycle with no such zone completes
// immediately and leaves the controller idle.
func (r *Runner) StartCycleRun(idx int, kind CycleKind, nowMs uint32) error {
	if idx < 0 || idx >= NumCycles {
		return fmt.Errorf("%w: cycle %d out of range 0..%d", ErrInvalidArgument, idx, NumCycles-1)
	}
	if kind != CycleManual && kind != CycleScheduled {
		return fmt.Errorf("%w: unknown cycle kind %d", ErrInvalidArgument, int(kind))
	}

	r.StopAllActivity(nowMs)

	first := r.schedule.Cycles[idx].nextZone(0)
	if first < 0 {
		return nil
	}

	r.state = RunState{
		Op:               kind.op(),
		RunID:            r.newRunID(),
		Zone:             -1,
		CycleIndex:       idx,
		ZoneIndex:        first,
		Phase:            PhaseRunningZone,
		PhaseStartedAtMs: nowMs,
	}
	r.emit(EventRunStarted, idx, first, nowMs)
	r.energize(first, nowMs)
	return nil
}

// StopAllActivity switches every output off and returns to idle. It is
// unconditional and never fails.
func (r *Runner) StopAllActivity(nowMs uint32) {
	r.halt(EventRunStopped, nowMs)
}

// Tick advances the state machine. It performs at most one transition.
// All elapsed-time checks use unsigned subtraction so they stay correct when
// the millisecond counter wraps.
func (r *Runner) Tick(nowMs uint32) {
	switch {
	case r.state.Op == OpManualZone:
		if nowMs-r.state.StartedAtMs >= r.state.DurationMs {
			r.halt(EventRunCompleted, nowMs)
		}

	case r.state.IsCycle() && r.state.Phase == PhaseRunningZone:
		cycle := &r.schedule.Cycles[r.state.CycleIndex]
		dur := uint32(cycle.duration(r.state.ZoneIndex)) * msPerMinute
		if nowMs-r.state.PhaseStartedAtMs < dur {
			return
		}
		next := cycle.nextZone(r.state.ZoneIndex + 1)
		if next < 0 {
			r.halt(EventRunCompleted, nowMs)
			return
		}
		if cycle.InterZoneDelayMinutes > 0 {
			r.setZone(r.state.ZoneIndex, false, nowMs)
			r.setPump(false, nowMs)
			r.state.Phase = PhaseInterZoneDelay
			r.state.PhaseStartedAtMs = nowMs
			r.emit(EventDelayStarted, r.state.CycleIndex, next, nowMs)
			return
		}
		// Pump stays on across a back-to-back handover.
		r.setZone(r.state.ZoneIndex, false, nowMs)
		r.advanceTo(next, nowMs)

	case r.state.IsCycle() && r.state.Phase == PhaseInterZoneDelay:
		cycle := &r.schedule.Cycles[r.state.CycleIndex]
		delay := uint32(cycle.InterZoneDelayMinutes) * msPerMinute
		if nowMs-r.state.PhaseStartedAtMs < delay {
			return
		}
		next := cycle.nextZone(r.state.ZoneIndex + 1)
		if next < 0 {
			r.halt(EventRunCompleted, nowMs)
			return
		}
		r.advanceTo(next, nowMs)
	}
}

func (r *Runner) advanceTo(zone int, nowMs uint32) {
	r.state.ZoneIndex = zone
	r.state.Phase = PhaseRunningZone
	r.state.PhaseStartedAtMs = nowMs
	r.energize(zone, nowMs)
}

// energize switches a zone on before the pump so the pump is never asserted
// without an open zone.
func (r *Runner) energize(zone int, nowMs uint32) {
	r.setZone(zone, true, nowMs)
	r.setPump(true, nowMs)
}

// halt switches the pump off first, then every zone, and goes idle. If a run
// was active it emits terminal with the run's identity.
func (r *Runner) halt(terminal EventType, nowMs uint32) {
	prev := r.state
	r.setPump(false, nowMs)
	for z := 0; z < r.schedule.ZoneCount(); z++ {
		r.setZone(z, false, nowMs)
	}
	r.state = RunState{Op: OpNone, Zone: -1, CycleIndex: -1}
	if !prev.IsIdle() {
		r.events = append(r.events, Event{
			Type:     terminal,
			Op:       prev.Op,
			RunID:    prev.RunID,
			Cycle:    prev.CycleIndex,
			Zone:     -1,
			Actuator: -1,
			AtMs:     nowMs,
		})
	}
}

func (r *Runner) setPump(on bool, nowMs uint32) {
	r.write(PumpActuator, on, nowMs)
}

func (r *Runner) setZone(zone int, on bool, nowMs uint32) {
	if zone < 0 || zone >= r.schedule.ZoneCount() {
		return
	}
	id := ZoneActuator(zone)
	was := r.outputs[id]
	r.write(id, on, nowMs)
	if was != on {
		typ := EventZoneOff
		if on {
			typ = EventZoneOn
		}
		r.emit(typ, r.state.CycleIndex, zone, nowMs)
	}
}

// write always drives the hardware, even when the desired state is unchanged,
// so a stop re-asserts every output.
func (r *Runner) write(id int, on bool, nowMs uint32) {
	r.outputs[id] = on
	if err := r.act.SetActuator(id, on); err != nil {
		r.events = append(r.events, Event{
			Type:     EventActuatorFault,
			Op:       r.state.Op,
			RunID:    r.state.RunID,
			Cycle:    r.state.CycleIndex,
			Zone:     id - 1,
			Actuator: id,
			AtMs:     nowMs,
			Err:      err,
		})
	}
}

func (r *Runner) emit(typ EventType, cycle, zone int, nowMs uint32) {
	r.events = append(r.events, Event{
		Type:     typ,
		Op:       r.state.Op,
		RunID:    r.state.RunID,
		Cycle:    cycle,
		Zone:     zone,
		Actuator: -1,
		AtMs:     nowMs,
	})
}
