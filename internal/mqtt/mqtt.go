// Package mqtt provides MQTT publishing and command subscription with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/sweeney/irrigation-controller/internal/logic"
)

// Topics used by the controller.
const (
	TopicEvents    = "irrigation/controller/events"
	TopicSystem    = "irrigation/controller/system"
	TopicTelemetry = "irrigation/controller/telemetry"
	TopicCommand   = "irrigation/controller/command"
)

// ErrNotConnected is returned when the broker is unreachable and the message
// could not be held for later delivery.
var ErrNotConnected = errors.New("mqtt: not connected")

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a run event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event RunEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// PublishTelemetry sends one recorded pump current sample.
	PublishTelemetry(entry logic.HistoryEntry) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// CommandHandler receives the payload of a message on TopicCommand.
type CommandHandler func(payload []byte) error

// RunEvent is a logic.Event resolved against the wall clock and the
// schedule's display names.
type RunEvent struct {
	logic.Event
	Timestamp time.Time
	CycleName string
	ZoneName  string
}

// NewRunEvent fills in the names of the event's cycle and zone.
func NewRunEvent(ev logic.Event, at time.Time, s *logic.Schedule) RunEvent {
	re := RunEvent{Event: ev, Timestamp: at}
	if s != nil {
		if ev.Cycle >= 0 && ev.Cycle < logic.NumCycles {
			re.CycleName = s.Cycles[ev.Cycle].Name
		}
		if ev.Zone >= 0 {
			re.ZoneName = s.ZoneName(ev.Zone)
		}
	}
	return re
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Irrigation EventPayload `json:"irrigation"`
}

// EventPayload contains the run event details.
type EventPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Operation string `json:"operation"`
	RunID     string `json:"run_id,omitempty"`
	Cycle     *int   `json:"cycle,omitempty"`
	CycleName string `json:"cycle_name,omitempty"`
	Zone      int    `json:"zone,omitempty"` // 1-based
	ZoneName  string `json:"zone_name,omitempty"`
	Actuator  *int   `json:"actuator,omitempty"`
	UptimeMs  uint32 `json:"uptime_ms"`
	Error     string `json:"error,omitempty"`
}

// FormatPayload creates the JSON payload for a run event.
func FormatPayload(event RunEvent) ([]byte, error) {
	p := EventPayload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     string(event.Type),
		Operation: event.Op.String(),
		RunID:     event.RunID,
		CycleName: event.CycleName,
		ZoneName:  event.ZoneName,
		UptimeMs:  event.AtMs,
	}
	if event.Cycle >= 0 {
		c := event.Cycle
		p.Cycle = &c
	}
	if event.Zone >= 0 {
		p.Zone = event.Zone + 1
	}
	if event.Type == logic.EventActuatorFault {
		a := event.Actuator
		p.Actuator = &a
	}
	if event.Err != nil {
		p.Error = event.Err.Error()
	}
	return json.Marshal(Payload{Irrigation: p})
}

// TelemetryPayload is published for each recorded history entry.
type TelemetryPayload struct {
	Telemetry TelemetryInner `json:"telemetry"`
}

// TelemetryInner contains one pump current sample.
type TelemetryInner struct {
	Timestamp   string  `json:"timestamp"`
	TimestampMs int64   `json:"timestamp_ms"`
	Current     float64 `json:"current"`
}

// FormatTelemetryPayload creates the JSON payload for a history entry.
func FormatTelemetryPayload(entry logic.HistoryEntry) ([]byte, error) {
	return json.Marshal(TelemetryPayload{Telemetry: TelemetryInner{
		Timestamp:   entry.Time().UTC().Format(time.RFC3339),
		TimestampMs: entry.TimestampMs,
		Current:     entry.Current,
	}})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
