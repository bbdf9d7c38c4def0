package logic

import "time"

// Engine owns the controller state: the schedule, the run-state machine, the
// trigger scanner and the telemetry history. It replaces process-wide globals
// with a single value driven from the control loop.
type Engine struct {
	schedule *Schedule
	runner   *Runner
	scanner  *Scanner
	history  *History

	// commanded is set when a command changed the run state since the last Step.
	commanded bool
}

// NewEngine creates an idle engine. The schedule is copied.
func NewEngine(act Actuators, schedule Schedule) *Engine {
	s := schedule.Clone()
	return &Engine{
		schedule: &s,
		runner:   NewRunner(act, &s),
		scanner:  NewScanner(&s),
		history:  NewHistory(),
	}
}

// StepResult reports what happened during one control-loop iteration.
type StepResult struct {
	Scan    ScanResult
	Entry   HistoryEntry
	Outcome SampleOutcome
	Events  []Event

	// Deferred is set when the scanner and tick were skipped because a
	// command already changed the run state this iteration.
	Deferred bool
}

// Step runs one control-loop iteration: the scanner, then the runner tick,
// then the telemetry sampler. At most one run-state transition happens per
// iteration: if the scanner starts a run the tick is skipped, and if a command
// applied since the last Step changed the run state both are skipped. The
// scanner has not evaluated the minute in that case, so it does so on the
// next iteration.
func (e *Engine) Step(wall time.Time, nowMs uint32, read SampleFunc) StepResult {
	var res StepResult
	if e.commanded {
		e.commanded = false
		res.Scan = ScanResult{Cycle: -1}
		res.Deferred = true
	} else {
		res.Scan = e.scanner.Check(wall, e.runner, nowMs)
		if !res.Scan.Fired {
			e.runner.Tick(nowMs)
		}
	}
	if read != nil {
		res.Entry, res.Outcome = e.history.Sample(nowMs, wall, read)
	}
	res.Events = e.runner.DrainEvents()
	return res
}

// StartManualZone runs one zone for durationMinutes, pre-empting any run.
func (e *Engine) StartManualZone(zone int, durationMinutes uint16, nowMs uint32) error {
	if err := e.runner.StartManualZone(zone, durationMinutes, nowMs); err != nil {
		return err
	}
	e.commanded = true
	return nil
}

// StartManualCycle runs cycle idx now, pre-empting any run.
func (e *Engine) StartManualCycle(idx int, nowMs uint32) error {
	if err := e.runner.StartCycleRun(idx, CycleManual, nowMs); err != nil {
		return err
	}
	e.commanded = true
	return nil
}

// StopAllActivity switches everything off.
func (e *Engine) StopAllActivity(nowMs uint32) {
	e.runner.StopAllActivity(nowMs)
	e.commanded = true
}

// SetCycle validates and replaces cycle idx. A running cycle picks up the new
// durations on its next tick.
func (e *Engine) SetCycle(idx int, c Cycle) error {
	return e.schedule.SetCycle(idx, c)
}

// SetZoneNames replaces the zone display names.
func (e *Engine) SetZoneNames(names []string) error {
	return e.schedule.SetZoneNames(names)
}

// Schedule returns a deep copy of the schedule.
func (e *Engine) Schedule() Schedule {
	return e.schedule.Clone()
}

// State returns the current run state.
func (e *Engine) State() RunState {
	return e.runner.State()
}

// Progress describes the current run.
func (e *Engine) Progress(nowMs uint32) Progress {
	return e.runner.Progress(nowMs)
}

// Outputs returns the desired actuator states.
func (e *Engine) Outputs() []bool {
	return e.runner.Outputs()
}

// DrainEvents returns events emitted outside Step, e.g. by manual commands.
func (e *Engine) DrainEvents() []Event {
	return e.runner.DrainEvents()
}

// Trace returns a snapshot of the telemetry history.
func (e *Engine) Trace() Trace {
	return e.history.Trace()
}
