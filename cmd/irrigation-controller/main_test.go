package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/sweeney/irrigation-controller/internal/control"
	"github.com/sweeney/irrigation-controller/internal/gpio"
	"github.com/sweeney/irrigation-controller/internal/logic"
	"github.com/sweeney/irrigation-controller/internal/metrics"
	"github.com/sweeney/irrigation-controller/internal/mqtt"
	"github.com/sweeney/irrigation-controller/internal/sensor"
	"github.com/sweeney/irrigation-controller/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfo(t *testing.T) {
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}

	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "Garden")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	if info.Type != "wifi" || info.IP != "192.168.1.100" || info.SSID != "Garden" || info.Gateway != "" {
		t.Errorf("info = %+v", info)
	}
}

// --- runLoop tests ---

// Monday 2026-01-05, one minute before Cycle A's default 06:00 start.
var monday0559 = time.Date(2026, 1, 5, 5, 59, 0, 0, time.UTC)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

type fakeRunLog struct {
	events []logic.Event
}

func (f *fakeRunLog) LogEvent(_ context.Context, e logic.Event) error {
	f.events = append(f.events, e)
	return nil
}

type harness struct {
	loop  *loop
	bank  *gpio.FakeBank
	pub   *mqtt.FakePublisher
	queue *control.Queue
	runs  *fakeRunLog
	logs  *bytes.Buffer

	tick chan time.Time
	sig  chan os.Signal
	errc chan error
}

func newHarness(zones int, reader sensor.Reader, heartbeat time.Duration) *harness {
	sched := logic.DefaultSchedule(zones)
	bank := gpio.NewFakeBank(zones)
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	q := control.NewQueue(4)
	runs := &fakeRunLog{}
	logs := &bytes.Buffer{}
	return &harness{
		loop: &loop{
			engine:     logic.NewEngine(bank, sched),
			queue:      q,
			tracker:    status.NewTracker(monday0559, status.Config{Zones: zones}, sched),
			reader:     reader,
			publisher:  pub,
			mqttStatus: pub,
			runLog:     runs,
			heartbeat:  heartbeat,
			log:        zerolog.New(logs),
		},
		bank:  bank,
		pub:   pub,
		queue: q,
		runs:  runs,
		logs:  logs,
		tick:  make(chan time.Time),
		sig:   make(chan os.Signal, 1),
		errc:  make(chan error, 1),
	}
}

func (h *harness) start(clock func() time.Time) {
	go func() {
		h.errc <- h.loop.runLoop(clock, h.tick, h.sig)
	}()
}

func (h *harness) ticks(n int) {
	for i := 0; i < n; i++ {
		h.tick <- time.Time{}
	}
}

// submit sends fn through the queue, ticking until the loop applies it.
func (h *harness) submit(t *testing.T, name string, fn control.Func) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.queue.Submit(context.Background(), name, fn) }()
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			return
		case h.tick <- time.Time{}:
		}
	}
}

func (h *harness) stop(t *testing.T, s os.Signal) {
	t.Helper()
	h.sig <- s
	if err := <-h.errc; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func eventTypes(events []mqtt.RunEvent) []string {
	var out []string
	for _, e := range events {
		out = append(out, string(e.Type))
	}
	return out
}

func TestRunLoopIdleShutdown(t *testing.T) {
	h := newHarness(3, nil, 0)
	h.start(fakeClock(monday0559.Add(-time.Hour), 100*time.Millisecond))
	h.ticks(5)
	h.stop(t, syscall.SIGTERM)

	if len(h.pub.Events) != 0 {
		t.Errorf("expected no run events, got %v", eventTypes(h.pub.Events))
	}
	if len(h.pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(h.pub.SystemEvents))
	}
	se := h.pub.SystemEvents[0]
	if se.Event != "SHUTDOWN" || se.Reason != "SIGTERM" || !se.Retained {
		t.Errorf("system event = %+v", se)
	}
	var payload status.StatusJSON
	if err := json.Unmarshal(h.pub.SystemPayloads[0], &payload); err != nil {
		t.Fatalf("invalid shutdown payload: %v", err)
	}
	if payload.Status.Event != "SHUTDOWN" || payload.Status.Description != "Idle" {
		t.Errorf("payload = %+v", payload.Status)
	}
}

func TestRunLoopScheduledCycle(t *testing.T) {
	h := newHarness(3, sensor.NewFakeReader(0, 3.1), 0)
	h.start(fakeClock(monday0559, 30*time.Second))
	// 5+1+5+1+5 minutes from 06:00, plus margin.
	h.ticks(45)
	h.stop(t, syscall.SIGTERM)

	types := eventTypes(h.pub.Events)
	if len(types) == 0 || types[0] != "RUN_STARTED" || types[len(types)-1] != "RUN_COMPLETED" {
		t.Fatalf("events = %v", types)
	}
	if n := strings.Count(strings.Join(types, ","), "ZONE_ON"); n != 3 {
		t.Errorf("expected 3 ZONE_ON events, got %d: %v", n, types)
	}
	if h.pub.Events[0].Op != logic.OpScheduledCycle || h.pub.Events[0].CycleName != "Cycle A" {
		t.Errorf("first event = %+v", h.pub.Events[0])
	}
	if h.bank.MaxZonesOn != 1 {
		t.Errorf("MaxZonesOn = %d, want 1", h.bank.MaxZonesOn)
	}
	if h.bank.Pump() || h.bank.ActiveZone() != -1 {
		t.Error("outputs should be off after the cycle completes")
	}
	if len(h.pub.Telemetry) < 2 {
		t.Errorf("expected the 0 A and 3.1 A readings to be recorded, got %d", len(h.pub.Telemetry))
	}
	if len(h.runs.events) != len(h.pub.Events) {
		t.Errorf("run log got %d events, MQTT got %d", len(h.runs.events), len(h.pub.Events))
	}

	snap := h.loop.tracker.Snapshot()
	if snap.Counts.RunsStarted != 1 || snap.Counts.RunsCompleted != 1 {
		t.Errorf("counts = %+v", snap.Counts)
	}
	if !snap.MQTTConnected {
		t.Error("tracker should mirror the MQTT connection state")
	}
}

func TestRunLoopBusySkipsSchedule(t *testing.T) {
	h := newHarness(2, nil, 0)
	h.start(fakeClock(monday0559, 10*time.Second))
	h.submit(t, "start_zone", control.StartZone(1, 30))
	h.ticks(12) // through 06:00
	h.stop(t, syscall.SIGTERM)

	for _, e := range h.pub.Events {
		if e.Op == logic.OpScheduledCycle {
			t.Fatalf("scheduled cycle must not pre-empt a manual run: %+v", e)
		}
	}
	if got := h.loop.tracker.Snapshot().Counts.ScheduledSkipped; got != 1 {
		t.Errorf("ScheduledSkipped = %d, want 1", got)
	}
}

func TestRunLoopShutdownStopsActiveRun(t *testing.T) {
	h := newHarness(3, nil, 0)
	h.start(fakeClock(monday0559.Add(-time.Hour), 100*time.Millisecond))
	h.submit(t, "start_zone", control.StartZone(2, 10))
	if h.bank.ActiveZone() != 2 || !h.bank.Pump() {
		t.Fatalf("zone 2 should be running, got zone %d pump %v", h.bank.ActiveZone(), h.bank.Pump())
	}
	h.ticks(3)
	h.stop(t, syscall.SIGINT)

	if h.bank.Pump() || h.bank.ActiveZone() != -1 {
		t.Error("shutdown must switch every output off")
	}
	types := eventTypes(h.pub.Events)
	if types[len(types)-1] != "RUN_STOPPED" {
		t.Errorf("expected RUN_STOPPED last, got %v", types)
	}
	last := h.pub.SystemEvents[len(h.pub.SystemEvents)-1]
	if last.Event != "SHUTDOWN" || last.Reason != "SIGINT" {
		t.Errorf("system event = %+v", last)
	}
	if err := h.queue.Submit(context.Background(), "stop_all", control.StopAll()); !errors.Is(err, control.ErrQueueClosed) {
		t.Errorf("queue should be closed after shutdown, got %v", err)
	}
}

func TestRunLoopShutdownCountsFinalEvents(t *testing.T) {
	h := newHarness(3, nil, 0)
	reg := prometheus.NewRegistry()
	h.loop.metrics = metrics.New(reg)
	h.start(fakeClock(monday0559.Add(-time.Hour), 100*time.Millisecond))
	h.submit(t, "start_zone", control.StartZone(2, 10))
	h.ticks(2)
	h.stop(t, syscall.SIGTERM)

	want := `
# HELP irrigation_run_events_total Run-state transitions by event type.
# TYPE irrigation_run_events_total counter
irrigation_run_events_total{event="RUN_STARTED"} 1
irrigation_run_events_total{event="RUN_STOPPED"} 1
irrigation_run_events_total{event="ZONE_OFF"} 1
irrigation_run_events_total{event="ZONE_ON"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "irrigation_run_events_total"); err != nil {
		t.Error(err)
	}
}

func TestRunLoopMQTTCommand(t *testing.T) {
	h := newHarness(3, nil, 0)
	h.pub.OnCommand = commandHandler(h.queue, h.loop.tracker, nil)
	h.start(fakeClock(monday0559.Add(-time.Hour), 100*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- h.pub.Command([]byte(`{"action":"start_zone","zone":1,"duration":2}`)) }()
	for applied := false; !applied; {
		select {
		case err := <-done:
			if err != nil {
				t.Fatal(err)
			}
			applied = true
		case h.tick <- time.Time{}:
		}
	}
	if h.bank.ActiveZone() != 0 {
		t.Errorf("zone 1 should map to index 0, got %d", h.bank.ActiveZone())
	}

	// Rejected before reaching the queue.
	if err := h.pub.Command([]byte(`{"action":"start_zone","zone":1,"duration":0}`)); !errors.Is(err, logic.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	h.stop(t, syscall.SIGTERM)
}

func TestRunLoopHeartbeat(t *testing.T) {
	h := newHarness(2, nil, 15*time.Minute)
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "10.0.0.7")

	// clock calls: start, then +5m per tick; fires at +15m only.
	h.start(fakeClock(monday0559.Add(-2*time.Hour), 5*time.Minute))
	h.ticks(4)
	h.stop(t, syscall.SIGTERM)

	var heartbeats int
	for i, se := range h.pub.SystemEvents {
		if se.Event != "HEARTBEAT" {
			continue
		}
		heartbeats++
		if se.Retained {
			t.Error("heartbeats should not be retained")
		}
		var payload status.StatusJSON
		if err := json.Unmarshal(h.pub.SystemPayloads[i], &payload); err != nil {
			t.Fatal(err)
		}
		if payload.Status.Event != "HEARTBEAT" || payload.Status.UptimeSeconds <= 0 {
			t.Errorf("heartbeat payload = %+v", payload.Status)
		}
		if payload.Status.Network == nil || payload.Status.Network.IP != "10.0.0.7" {
			t.Errorf("heartbeat should carry network info, got %+v", payload.Status.Network)
		}
	}
	if heartbeats != 1 {
		t.Errorf("expected 1 HEARTBEAT, got %d", heartbeats)
	}
}

func TestRunLoopPublishError(t *testing.T) {
	h := newHarness(2, sensor.NewFakeReader(2), 0)
	h.pub.PublishError = errors.New("broker gone")
	h.start(fakeClock(monday0559.Add(-time.Hour), time.Second))
	h.submit(t, "start_cycle", control.StartCycle(0))
	h.ticks(3)
	h.stop(t, syscall.SIGTERM)

	if len(h.pub.Events) != 0 {
		t.Error("nothing should be recorded when publishing fails")
	}
	if len(h.runs.events) == 0 {
		t.Error("run log should still be written")
	}
	if h.loop.tracker.Snapshot().Counts.RunsStarted != 1 {
		t.Error("tracker should still count the run")
	}
}

func TestRunLoopSensorFault(t *testing.T) {
	reader := sensor.NewFakeReader(1)
	reader.ReadError = errors.New("adc timeout")
	h := newHarness(2, reader, 0)
	h.start(fakeClock(monday0559.Add(-time.Hour), time.Second))
	h.ticks(5)
	h.stop(t, syscall.SIGTERM)

	if len(h.pub.Telemetry) != 0 {
		t.Errorf("faulty readings must not be recorded, got %d", len(h.pub.Telemetry))
	}
	if len(h.loop.tracker.Snapshot().Trace) != 0 {
		t.Error("trace should be empty")
	}
}

func TestRunLoopActuatorFault(t *testing.T) {
	h := newHarness(2, nil, 0)
	h.bank.Fail[1] = errors.New("line busy")
	h.start(fakeClock(monday0559.Add(-time.Hour), time.Second))
	h.submit(t, "start_zone", control.StartZone(0, 5))
	h.ticks(2)
	h.stop(t, syscall.SIGTERM)

	var faults int
	for _, e := range h.pub.Events {
		if e.Type == logic.EventActuatorFault {
			faults++
		}
	}
	if faults == 0 {
		t.Errorf("expected ACTUATOR_FAULT, got %v", eventTypes(h.pub.Events))
	}
	if h.loop.tracker.Snapshot().Counts.ActuatorFaults != faults {
		t.Error("tracker fault count mismatch")
	}
	if !strings.Contains(h.logs.String(), "line busy") {
		t.Error("fault should be logged with its cause")
	}
}

func TestMonotonicCounterWraps(t *testing.T) {
	// The first tick lands one second before the millisecond counter wraps.
	first := monday0559.Add(-time.Hour)
	start := first.Add(-time.Duration(1<<32-1000) * time.Millisecond)
	clock := func() func() time.Time {
		n := 0
		return func() time.Time {
			defer func() { n++ }()
			if n == 0 {
				return start
			}
			return first.Add(time.Duration(n-1) * time.Second)
		}
	}()

	h := newHarness(2, nil, 0)
	h.start(clock)
	h.submit(t, "start_zone", control.StartZone(0, 1))
	h.ticks(30)
	if h.bank.ActiveZone() != 0 {
		t.Fatal("zone should still be running 30s into a 1 minute run across the wrap")
	}
	h.ticks(40)
	h.stop(t, syscall.SIGTERM)

	types := eventTypes(h.pub.Events)
	if types[len(types)-1] != "RUN_COMPLETED" {
		t.Errorf("run should complete across the wrap, got %v", types)
	}
}
