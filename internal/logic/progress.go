package logic

import "fmt"

// Progress is a display-oriented view of the current run, used by the status
// page, the HTTP API and MQTT heartbeats.
type Progress struct {
	Op               OperationKind
	RunID            string
	Description      string
	CycleIndex       int
	ActiveZone       int
	ElapsedSeconds   uint32
	TotalSeconds     uint32
	RemainingSeconds uint32
	IsDelay          bool
}

// Progress describes the current run as of nowMs.
func (r *Runner) Progress(nowMs uint32) Progress {
	s := r.state
	p := Progress{
		Op:          s.Op,
		RunID:       s.RunID,
		Description: "Idle",
		CycleIndex:  -1,
		ActiveZone:  s.ActiveZone(),
	}

	var startedAt, totalMs uint32
	switch {
	case s.Op == OpManualZone:
		p.Description = "Manual Zone Running: " + r.schedule.ZoneName(s.Zone)
		startedAt, totalMs = s.StartedAtMs, s.DurationMs

	case s.IsCycle():
		cycle := &r.schedule.Cycles[s.CycleIndex]
		p.CycleIndex = s.CycleIndex
		startedAt = s.PhaseStartedAtMs
		if s.Phase == PhaseInterZoneDelay {
			p.IsDelay = true
			totalMs = uint32(cycle.InterZoneDelayMinutes) * msPerMinute
			if next := cycle.nextZone(s.ZoneIndex + 1); next >= 0 {
				p.Description = fmt.Sprintf("%s: Delaying %s", cycle.Name, r.schedule.ZoneName(next))
			} else {
				p.Description = fmt.Sprintf("%s: Delaying cycle end", cycle.Name)
			}
		} else {
			totalMs = uint32(cycle.duration(s.ZoneIndex)) * msPerMinute
			p.Description = fmt.Sprintf("%s: Running %s", cycle.Name, r.schedule.ZoneName(s.ZoneIndex))
		}

	default:
		return p
	}

	elapsed := (nowMs - startedAt) / 1000
	total := totalMs / 1000
	if elapsed > total {
		elapsed = total
	}
	p.ElapsedSeconds = elapsed
	p.TotalSeconds = total
	p.RemainingSeconds = total - elapsed
	return p
}
