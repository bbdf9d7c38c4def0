package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/irrigation-controller/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event            string       `json:"event,omitempty"`
	Reason           string       `json:"reason,omitempty"`
	Operation        string       `json:"operation"`
	Description      string       `json:"description"`
	RunID            string       `json:"run_id,omitempty"`
	Cycle            *int         `json:"cycle,omitempty"`
	ActiveZone       int          `json:"active_zone"` // 1-based, 0 when none
	IsDelay          bool         `json:"is_delay"`
	ElapsedSeconds   uint32       `json:"elapsed_seconds"`
	TotalSeconds     uint32       `json:"total_seconds"`
	RemainingSeconds uint32       `json:"remaining_seconds"`
	Pump             bool         `json:"pump"`
	Zones            []ZoneJSON   `json:"zones"`
	PumpCurrent      *float64     `json:"pump_current,omitempty"`
	UptimeSeconds    int64        `json:"uptime_seconds"`
	StartTime        string       `json:"start_time"`
	Timestamp        string       `json:"timestamp"`
	MQTT             MQTTStatus   `json:"mqtt"`
	Counts           CountsJSON   `json:"event_counts"`
	Network          *NetworkJSON `json:"network,omitempty"`
	Config           ConfigJSON   `json:"config"`
}

// ZoneJSON is one zone output.
type ZoneJSON struct {
	Zone int    `json:"zone"` // 1-based
	Name string `json:"name"`
	On   bool   `json:"on"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	RunsStarted      int `json:"runs_started"`
	RunsCompleted    int `json:"runs_completed"`
	RunsStopped      int `json:"runs_stopped"`
	ActuatorFaults   int `json:"actuator_faults"`
	ScheduledSkipped int `json:"scheduled_skipped"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	Timezone    string `json:"timezone"`
	Zones       int    `json:"zones"`
}

func buildInner(snap Snapshot) StatusInner {
	p := snap.Progress
	inner := StatusInner{
		Operation:        p.Op.String(),
		Description:      p.Description,
		RunID:            p.RunID,
		ActiveZone:       p.ActiveZone + 1,
		IsDelay:          p.IsDelay,
		ElapsedSeconds:   p.ElapsedSeconds,
		TotalSeconds:     p.TotalSeconds,
		RemainingSeconds: p.RemainingSeconds,
		Pump:             snap.Pump(),
		UptimeSeconds:    int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:        snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:        snap.Now.UTC().Format(time.RFC3339),
		MQTT:             MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			RunsStarted:      snap.Counts.RunsStarted,
			RunsCompleted:    snap.Counts.RunsCompleted,
			RunsStopped:      snap.Counts.RunsStopped,
			ActuatorFaults:   snap.Counts.ActuatorFaults,
			ScheduledSkipped: snap.Counts.ScheduledSkipped,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Timezone:    snap.Config.Timezone,
			Zones:       snap.Config.Zones,
		},
	}
	if p.CycleIndex >= 0 {
		c := p.CycleIndex
		inner.Cycle = &c
	}
	inner.Zones = make([]ZoneJSON, snap.Schedule.ZoneCount())
	for z := range inner.Zones {
		inner.Zones[z] = ZoneJSON{Zone: z + 1, Name: snap.Schedule.ZoneName(z), On: snap.ZoneOn(z)}
	}
	if e, ok := snap.LastCurrent(); ok {
		amps := e.Current
		inner.PumpCurrent = &amps
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// CycleJSON is the API representation of one cycle.
type CycleJSON struct {
	Index          int             `json:"cycleIndex"`
	Name           string          `json:"name"`
	Enabled        bool            `json:"enabled"`
	StartTime      logic.TimeOfDay `json:"startTime"`
	DaysActive     logic.DayMask   `json:"daysActive"`
	Days           string          `json:"days"`
	InterZoneDelay uint8           `json:"interZoneDelay"`
	ZoneDurations  []uint16        `json:"zoneDurations"`
	TotalMinutes   int             `json:"totalMinutes"`
}

// CyclesJSON is the response of the cycles endpoint.
type CyclesJSON struct {
	Cycles    []CycleJSON `json:"cycles"`
	ZoneNames []string    `json:"zoneNames"`
}

// FormatCycles returns the schedule as JSON.
func FormatCycles(s logic.Schedule) []byte {
	out := CyclesJSON{ZoneNames: append([]string(nil), s.ZoneNames...)}
	for i, c := range s.Cycles {
		out.Cycles = append(out.Cycles, CycleJSON{
			Index:          i,
			Name:           c.Name,
			Enabled:        c.Enabled,
			StartTime:      c.StartTime,
			DaysActive:     c.DaysActive,
			Days:           c.DaysActive.String(),
			InterZoneDelay: c.InterZoneDelayMinutes,
			ZoneDurations:  append([]uint16(nil), c.ZoneDurations...),
			TotalMinutes:   c.TotalMinutes(),
		})
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return data
}
