// Package status provides a thread-safe status tracker for the irrigation
// controller. The control loop writes it; HTTP handlers and MQTT heartbeats
// read value snapshots.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/irrigation-controller/internal/logic"
)

// NetworkInfo contains network state as reported by the host.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	Timezone    string
	Zones       int
}

// EventCounts tallies run events since startup.
type EventCounts struct {
	RunsStarted      int
	RunsCompleted    int
	RunsStopped      int
	ActuatorFaults   int
	ScheduledSkipped int
}

// Snapshot is a point-in-time view of controller state.
// It is a value type: slices are copies, safe to use after the lock is released.
type Snapshot struct {
	Progress      logic.Progress
	Outputs       []bool
	Schedule      logic.Schedule
	Trace         logic.Trace
	Counts        EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Pump reports whether the pump output is commanded on.
func (s Snapshot) Pump() bool {
	return len(s.Outputs) > 0 && s.Outputs[logic.PumpActuator]
}

// ZoneOn reports whether zone z is commanded on.
func (s Snapshot) ZoneOn(z int) bool {
	id := logic.ZoneActuator(z)
	return id > 0 && id < len(s.Outputs) && s.Outputs[id]
}

// LastCurrent returns the most recent history entry.
func (s Snapshot) LastCurrent() (logic.HistoryEntry, bool) {
	if len(s.Trace) == 0 {
		return logic.HistoryEntry{}, false
	}
	return s.Trace[len(s.Trace)-1], true
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time, config and initial schedule.
func NewTracker(startTime time.Time, cfg Config, schedule logic.Schedule) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Progress:  logic.Progress{Description: "Idle", CycleIndex: -1, ActiveZone: -1},
			Schedule:  schedule.Clone(),
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// Update sets the run progress and commanded outputs.
// Called from runLoop on every tick.
func (t *Tracker) Update(p logic.Progress, outputs []bool) {
	out := append([]bool(nil), outputs...)
	t.mu.Lock()
	t.snap.Progress = p
	t.snap.Outputs = out
	t.mu.Unlock()
}

// SetSchedule replaces the published schedule after an accepted edit.
func (t *Tracker) SetSchedule(s logic.Schedule) {
	c := s.Clone()
	t.mu.Lock()
	t.snap.Schedule = c
	t.mu.Unlock()
}

// SetTrace replaces the published telemetry history.
func (t *Tracker) SetTrace(tr logic.Trace) {
	c := append(logic.Trace(nil), tr...)
	t.mu.Lock()
	t.snap.Trace = c
	t.mu.Unlock()
}

// RecordEvents updates the event counters.
func (t *Tracker) RecordEvents(events []logic.Event) {
	if len(events) == 0 {
		return
	}
	t.mu.Lock()
	for _, e := range events {
		switch e.Type {
		case logic.EventRunStarted:
			t.snap.Counts.RunsStarted++
		case logic.EventRunCompleted:
			t.snap.Counts.RunsCompleted++
		case logic.EventRunStopped:
			t.snap.Counts.RunsStopped++
		case logic.EventActuatorFault:
			t.snap.Counts.ActuatorFaults++
		}
	}
	t.mu.Unlock()
}

// RecordSkip counts a scheduled start skipped because the controller was busy.
func (t *Tracker) RecordSkip() {
	t.mu.Lock()
	t.snap.Counts.ScheduledSkipped++
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Outputs = append([]bool(nil), t.snap.Outputs...)
	s.Schedule = t.snap.Schedule.Clone()
	s.Trace = append(logic.Trace(nil), t.snap.Trace...)
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
