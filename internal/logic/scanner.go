package logic

import "time"

// ScanResult reports what the scanner did for one call to Check.
// Cycle is -1 when nothing matched.
type ScanResult struct {
	Cycle   int
	Fired   bool
	Skipped bool // a cycle matched but the controller was busy
}

type minuteKey struct {
	year, yday, hour, minute int
}

// Scanner raises at most one scheduled run per wall-clock minute.
type Scanner struct {
	schedule  *Schedule
	last      minuteKey
	evaluated bool
}

// NewScanner creates a Scanner over the given schedule.
func NewScanner(schedule *Schedule) *Scanner {
	return &Scanner{schedule: schedule}
}

// Match returns the lowest-indexed enabled cycle whose start time and day mask
// match now, or -1.
func (s *Scanner) Match(now time.Time) int {
	for i := range s.schedule.Cycles {
		c := &s.schedule.Cycles[i]
		if !c.Enabled || !c.DaysActive.Has(now.Weekday()) {
			continue
		}
		if int(c.StartTime.Hour) == now.Hour() && int(c.StartTime.Minute) == now.Minute() {
			return i
		}
	}
	return -1
}

// Check evaluates the schedule once per minute transition. A match while the
// runner is busy is skipped for that minute; it is never queued.
func (s *Scanner) Check(now time.Time, runner *Runner, nowMs uint32) ScanResult {
	res := ScanResult{Cycle: -1}

	key := minuteKey{now.Year(), now.YearDay(), now.Hour(), now.Minute()}
	if s.evaluated && key == s.last {
		return res
	}
	s.last = key
	s.evaluated = true

	idx := s.Match(now)
	if idx < 0 {
		return res
	}
	res.Cycle = idx
	if !runner.State().IsIdle() {
		res.Skipped = true
		return res
	}
	if err := runner.StartCycleRun(idx, CycleScheduled, nowMs); err != nil {
		return res
	}
	res.Fired = true
	return res
}
