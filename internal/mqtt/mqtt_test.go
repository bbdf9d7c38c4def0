package mqtt

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/irrigation-controller/internal/logic"
)

var ts = time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC)

func TestFormatPayload(t *testing.T) {
	s := logic.DefaultSchedule(3)
	s.ZoneNames[1] = "Veg Beds"
	ev := logic.Event{
		Type:     logic.EventZoneOn,
		Op:       logic.OpScheduledCycle,
		RunID:    "run-1",
		Cycle:    0,
		Zone:     1,
		Actuator: -1,
		AtMs:     12345,
	}

	payload, err := FormatPayload(NewRunEvent(ev, ts, &s))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	p := parsed.Irrigation
	if p.Timestamp != "2026-05-04T06:00:00Z" {
		t.Errorf("unexpected timestamp: %s", p.Timestamp)
	}
	if p.Event != "ZONE_ON" || p.Operation != "OP_SCHEDULED_CYCLE" || p.RunID != "run-1" {
		t.Errorf("unexpected payload: %+v", p)
	}
	if p.Cycle == nil || *p.Cycle != 0 || p.CycleName != "Cycle A" {
		t.Errorf("cycle: %v %q", p.Cycle, p.CycleName)
	}
	if p.Zone != 2 || p.ZoneName != "Veg Beds" {
		t.Errorf("zone: %d %q", p.Zone, p.ZoneName)
	}
	if p.Actuator != nil {
		t.Error("actuator should only be set on faults")
	}
	if p.UptimeMs != 12345 {
		t.Errorf("uptime_ms = %d", p.UptimeMs)
	}
}

func TestFormatPayloadExactJSON(t *testing.T) {
	ev := logic.Event{Type: logic.EventRunStopped, Op: logic.OpManualZone, RunID: "r", Cycle: -1, Zone: -1, Actuator: -1, AtMs: 7}

	payload, err := FormatPayload(NewRunEvent(ev, ts, nil))
	if err != nil {
		t.Fatal(err)
	}
	expected := `{"irrigation":{"timestamp":"2026-05-04T06:00:00Z","event":"RUN_STOPPED","operation":"OP_MANUAL_ZONE","run_id":"r","uptime_ms":7}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatPayloadFault(t *testing.T) {
	ev := logic.Event{
		Type:     logic.EventActuatorFault,
		Op:       logic.OpManualZone,
		Cycle:    -1,
		Zone:     -1,
		Actuator: 0,
		Err:      errors.New("line busy"),
	}
	payload, err := FormatPayload(NewRunEvent(ev, ts, nil))
	if err != nil {
		t.Fatal(err)
	}
	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatal(err)
	}
	p := parsed.Irrigation
	if p.Actuator == nil || *p.Actuator != 0 {
		t.Errorf("pump fault should report actuator 0, got %v", p.Actuator)
	}
	if p.Error != "line busy" || p.Zone != 0 {
		t.Errorf("unexpected payload: %+v", p)
	}
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	loc, _ := time.LoadLocation("America/New_York")
	localTime := time.Date(2026, 2, 3, 10, 30, 0, 0, loc) // 10:30 EST = 15:30 UTC

	payload, err := FormatPayload(RunEvent{Event: logic.Event{Type: logic.EventRunStarted, Cycle: -1, Zone: -1}, Timestamp: localTime})
	if err != nil {
		t.Fatal(err)
	}
	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed.Irrigation.Timestamp != "2026-02-03T15:30:00Z" {
		t.Errorf("expected UTC timestamp 2026-02-03T15:30:00Z, got %s", parsed.Irrigation.Timestamp)
	}
}

func TestFormatTelemetryPayload(t *testing.T) {
	entry := logic.HistoryEntry{TimestampMs: ts.UnixMilli(), Current: 3.25}
	payload, err := FormatTelemetryPayload(entry)
	if err != nil {
		t.Fatal(err)
	}
	expected := `{"telemetry":{"timestamp":"2026-05-04T06:00:00Z","timestamp_ms":1777874400000,"current":3.25}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestTopics(t *testing.T) {
	tests := []struct{ got, want string }{
		{TopicEvents, "irrigation/controller/events"},
		{TopicSystem, "irrigation/controller/system"},
		{TopicTelemetry, "irrigation/controller/telemetry"},
		{TopicCommand, "irrigation/controller/command"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic: got %s, want %s", tt.got, tt.want)
		}
	}
}

func TestFormatSystemPayloadExactJSON(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 3, 10, 30, 45, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-03T10:30:45Z","event":"SHUTDOWN","reason":"SIGTERM"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", string(payload), expected)
	}
}

func TestFormatSystemPayloadOmitsReason(t *testing.T) {
	payload, err := FormatSystemPayload(SystemEvent{Timestamp: ts, Event: "RECONNECTED"})
	if err != nil {
		t.Fatal(err)
	}
	var parsed map[string]map[string]interface{}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if _, exists := parsed["system"]["reason"]; exists {
		t.Error("reason field should be omitted when empty")
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"status":{"event":"HEARTBEAT"}}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "HEARTBEAT", RawPayload: raw})
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != string(raw) {
		t.Errorf("raw payload should pass through, got %s", payload)
	}
}

func TestNewRunEventNames(t *testing.T) {
	s := logic.DefaultSchedule(2)
	tests := []struct {
		name      string
		ev        logic.Event
		wantCycle string
		wantZone  string
	}{
		{"manual zone", logic.Event{Cycle: -1, Zone: 1}, "", "Zone 2"},
		{"cycle end", logic.Event{Cycle: 2, Zone: -1}, "Cycle C", ""},
		{"cycle zone", logic.Event{Cycle: 1, Zone: 0}, "Cycle B", "Zone 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := NewRunEvent(tt.ev, ts, &s)
			if re.CycleName != tt.wantCycle || re.ZoneName != tt.wantZone {
				t.Errorf("got (%q, %q), want (%q, %q)", re.CycleName, re.ZoneName, tt.wantCycle, tt.wantZone)
			}
		})
	}
}

// TestFakePublisherImplementsPublisher verifies interface compliance at compile time.
var (
	_ Publisher        = (*FakePublisher)(nil)
	_ ConnectionStatus = (*FakePublisher)(nil)
)

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	if err := f.Publish(RunEvent{Event: logic.Event{Type: logic.EventRunStarted, Cycle: -1, Zone: 0}, Timestamp: ts}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.PublishTelemetry(logic.HistoryEntry{TimestampMs: 1, Current: 2}); err != nil {
		t.Fatal(err)
	}
	if err := f.PublishSystem(SystemEvent{Timestamp: ts, Event: "SHUTDOWN", Reason: "SIGINT"}); err != nil {
		t.Fatal(err)
	}

	if len(f.Events) != 1 || f.Events[0].Type != logic.EventRunStarted {
		t.Fatalf("events = %+v", f.Events)
	}
	if len(f.Payloads) != 1 || len(f.SystemPayloads) != 1 || len(f.Telemetry) != 1 {
		t.Errorf("payloads=%d system=%d telemetry=%d", len(f.Payloads), len(f.SystemPayloads), len(f.Telemetry))
	}
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("simulated error")
	f.PublishSystemError = errors.New("simulated error")

	if err := f.Publish(RunEvent{}); err == nil {
		t.Error("expected error")
	}
	if err := f.PublishTelemetry(logic.HistoryEntry{}); err == nil {
		t.Error("expected error")
	}
	if err := f.PublishSystem(SystemEvent{}); err == nil {
		t.Error("expected error")
	}
	if len(f.Events) != 0 || len(f.Telemetry) != 0 || len(f.SystemEvents) != 0 {
		t.Error("nothing should be recorded on error")
	}
}

func TestFakePublisherCommand(t *testing.T) {
	f := NewFakePublisher()
	if err := f.Command([]byte(`{}`)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected without handler, got %v", err)
	}

	var got string
	f.OnCommand = func(p []byte) error {
		got = string(p)
		return nil
	}
	if err := f.Command([]byte(`{"action":"stop_all"}`)); err != nil {
		t.Fatal(err)
	}
	if got != `{"action":"stop_all"}` {
		t.Errorf("handler got %q", got)
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.Publish(RunEvent{})
	f.PublishSystem(SystemEvent{Event: "STARTUP"})
	f.PublishTelemetry(logic.HistoryEntry{})
	f.Close()
	f.Connected = true
	f.PublishError = errors.New("error")

	f.Reset()

	if len(f.Events) != 0 || len(f.Payloads) != 0 || len(f.SystemEvents) != 0 || len(f.Telemetry) != 0 {
		t.Error("recorded messages should be cleared")
	}
	if f.Closed || f.Connected || f.PublishError != nil {
		t.Error("flags should be reset")
	}
}

func TestClientOptionsWill(t *testing.T) {
	p := &RealPublisher{opts: Options{Broker: "tcp://localhost:1883", ClientID: "irrigation", Username: "u", Password: "pw"}, log: zerolog.Nop()}
	opts := p.clientOptions()

	if !opts.WillEnabled || opts.WillTopic != TopicSystem {
		t.Fatalf("will: enabled %v topic %q", opts.WillEnabled, opts.WillTopic)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will must be retained at QoS 1, got retained %v qos %d", opts.WillRetained, opts.WillQos)
	}
	var will SystemPayload
	if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if will.System.Event != "OFFLINE" || will.System.Reason != "CONNECTION_LOST" {
		t.Errorf("will payload = %+v", will.System)
	}
	if opts.ClientID != "irrigation" || opts.Username != "u" || !opts.AutoReconnect {
		t.Errorf("options = client %q user %q reconnect %v", opts.ClientID, opts.Username, opts.AutoReconnect)
	}
}
