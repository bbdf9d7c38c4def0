package logic

import (
	"fmt"
	"unicode/utf8"
)

// Cycle is a named, schedulable sequence of per-zone watering durations.
// ZoneDurations has one entry per zone, in minutes; 0 skips the zone.
type Cycle struct {
	Name                  string    `json:"name"`
	Enabled               bool      `json:"enabled"`
	StartTime             TimeOfDay `json:"startTime"`
	DaysActive            DayMask   `json:"daysActive"`
	InterZoneDelayMinutes uint8     `json:"interZoneDelay"`
	ZoneDurations         []uint16  `json:"zoneDurations"`
}

// Clone returns a deep copy.
func (c Cycle) Clone() Cycle {
	out := c
	out.ZoneDurations = append([]uint16(nil), c.ZoneDurations...)
	return out
}

// duration returns the zone duration in minutes, 0 for zones beyond the slice.
func (c Cycle) duration(zone int) uint16 {
	if zone < 0 || zone >= len(c.ZoneDurations) {
		return 0
	}
	return c.ZoneDurations[zone]
}

// nextZone returns the first zone >= from with a non-zero duration, or -1.
func (c Cycle) nextZone(from int) int {
	if from < 0 {
		from = 0
	}
	for z := from; z < len(c.ZoneDurations); z++ {
		if c.ZoneDurations[z] > 0 {
			return z
		}
	}
	return -1
}

// TotalMinutes is the sum of zone durations plus the delays between them.
func (c Cycle) TotalMinutes() int {
	total := 0
	runs := 0
	for _, d := range c.ZoneDurations {
		if d > 0 {
			total += int(d)
			runs++
		}
	}
	if runs > 1 {
		total += (runs - 1) * int(c.InterZoneDelayMinutes)
	}
	return total
}

// ValidateCycle checks a cycle against the configuration bounds. Callers at the
// HTTP, MQTT and persistence boundaries use it before writing to a Schedule.
func ValidateCycle(c Cycle, zoneCount int) error {
	if utf8.RuneCountInString(c.Name) > MaxCycleNameLen {
		return fmt.Errorf("%w: cycle name longer than %d characters", ErrInvalidArgument, MaxCycleNameLen)
	}
	if c.StartTime.Hour > 23 {
		return fmt.Errorf("%w: hour %d out of range 0..23", ErrInvalidArgument, c.StartTime.Hour)
	}
	if c.StartTime.Minute > 59 {
		return fmt.Errorf("%w: minute %d out of range 0..59", ErrInvalidArgument, c.StartTime.Minute)
	}
	if c.DaysActive > Everyday {
		return fmt.Errorf("%w: days mask 0x%02x has bits outside 0x7f", ErrInvalidArgument, uint8(c.DaysActive))
	}
	if c.InterZoneDelayMinutes > MaxInterZoneDelayMinutes {
		return fmt.Errorf("%w: inter-zone delay %d out of range 0..%d", ErrInvalidArgument, c.InterZoneDelayMinutes, MaxInterZoneDelayMinutes)
	}
	if len(c.ZoneDurations) != zoneCount {
		return fmt.Errorf("%w: %d zone durations, want %d", ErrInvalidArgument, len(c.ZoneDurations), zoneCount)
	}
	for i, d := range c.ZoneDurations {
		if d > MaxZoneDurationMinutes {
			return fmt.Errorf("%w: zone %d duration %d out of range 0..%d", ErrInvalidArgument, i+1, d, MaxZoneDurationMinutes)
		}
	}
	return nil
}

// Schedule is the in-memory Schedule Store: the fixed set of cycles plus the
// zone names. The zone count is len(ZoneNames) and never changes at runtime.
type Schedule struct {
	Cycles    [NumCycles]Cycle
	ZoneNames []string
}

// DefaultSchedule returns the factory configuration: Cycle A enabled at 06:00
// on Monday, Wednesday and Friday; B and C identical but disabled.
func DefaultSchedule(zoneCount int) Schedule {
	var s Schedule
	s.ZoneNames = make([]string, zoneCount)
	for i := range s.ZoneNames {
		s.ZoneNames[i] = fmt.Sprintf("Zone %d", i+1)
	}
	for i := range s.Cycles {
		durations := make([]uint16, zoneCount)
		for z := range durations {
			durations[z] = 5
		}
		s.Cycles[i] = Cycle{
			Name:                  fmt.Sprintf("Cycle %c", 'A'+i),
			Enabled:               i == 0,
			StartTime:             TimeOfDay{Hour: 6, Minute: 0},
			DaysActive:            Monday | Wednesday | Friday,
			InterZoneDelayMinutes: 1,
			ZoneDurations:         durations,
		}
	}
	return s
}

// ZoneCount returns the number of configured zones.
func (s *Schedule) ZoneCount() int {
	return len(s.ZoneNames)
}

// ZoneName returns the display name of a zone.
func (s *Schedule) ZoneName(zone int) string {
	if zone < 0 || zone >= len(s.ZoneNames) {
		return fmt.Sprintf("Zone %d", zone+1)
	}
	return s.ZoneNames[zone]
}

// Cycle returns a copy of cycle idx.
func (s *Schedule) Cycle(idx int) (Cycle, error) {
	if idx < 0 || idx >= NumCycles {
		return Cycle{}, fmt.Errorf("%w: cycle %d out of range 0..%d", ErrInvalidArgument, idx, NumCycles-1)
	}
	return s.Cycles[idx].Clone(), nil
}

// SetCycle validates and replaces cycle idx.
func (s *Schedule) SetCycle(idx int, c Cycle) error {
	if idx < 0 || idx >= NumCycles {
		return fmt.Errorf("%w: cycle %d out of range 0..%d", ErrInvalidArgument, idx, NumCycles-1)
	}
	if err := ValidateCycle(c, s.ZoneCount()); err != nil {
		return err
	}
	s.Cycles[idx] = c.Clone()
	return nil
}

// SetZoneNames replaces all zone names. The count must match the zone count.
func (s *Schedule) SetZoneNames(names []string) error {
	if len(names) != s.ZoneCount() {
		return fmt.Errorf("%w: %d zone names, want %d", ErrInvalidArgument, len(names), s.ZoneCount())
	}
	for i, n := range names {
		if utf8.RuneCountInString(n) > MaxZoneNameLen {
			return fmt.Errorf("%w: zone %d name longer than %d characters", ErrInvalidArgument, i+1, MaxZoneNameLen)
		}
	}
	s.ZoneNames = append([]string(nil), names...)
	return nil
}

// Clone returns a deep copy.
func (s *Schedule) Clone() Schedule {
	out := Schedule{ZoneNames: append([]string(nil), s.ZoneNames...)}
	for i := range s.Cycles {
		out.Cycles[i] = s.Cycles[i].Clone()
	}
	return out
}
