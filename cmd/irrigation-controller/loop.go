package main

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/irrigation-controller/internal/control"
	"github.com/sweeney/irrigation-controller/internal/influx"
	"github.com/sweeney/irrigation-controller/internal/logic"
	"github.com/sweeney/irrigation-controller/internal/metrics"
	"github.com/sweeney/irrigation-controller/internal/mqtt"
	"github.com/sweeney/irrigation-controller/internal/sensor"
	"github.com/sweeney/irrigation-controller/internal/status"
)

// runLogger stores run lifecycle events.
type runLogger interface {
	LogEvent(ctx context.Context, e logic.Event) error
}

// loop holds the collaborators of the control loop. Only engine, queue and
// tracker are required.
type loop struct {
	engine     *logic.Engine
	queue      *control.Queue
	tracker    *status.Tracker
	reader     sensor.Reader
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	metrics    *metrics.Metrics
	influx     *influx.Exporter
	runLog     runLogger
	heartbeat  time.Duration
	log        zerolog.Logger
}

// runLoop drives the engine from tick until a signal arrives. The monotonic
// millisecond counter is derived from now and wraps after about 49.7 days.
func (l *loop) runLoop(now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	startTime := now()
	lastHeartbeat := startTime
	millis := func(t time.Time) uint32 {
		return uint32(t.Sub(startTime).Milliseconds())
	}

	var read logic.SampleFunc
	if l.reader != nil {
		read = l.reader.ReadCurrent
	}

	for {
		select {
		case s := <-sig:
			t := now()
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			l.log.Info().Str("signal", signalName).Msg("shutting down")

			l.queue.Close()
			nowMs := millis(t)
			l.engine.StopAllActivity(nowMs)
			events := l.engine.DrainEvents()
			l.metrics.ObserveEvents(events)
			l.handleEvents(t, events)
			l.refresh(nowMs)

			l.publishSystem(t, "SHUTDOWN", signalName)
			return nil

		case <-tick:
			t := now()
			nowMs := millis(t)
			begin := time.Now()

			for _, a := range l.queue.Drain(l.engine, nowMs) {
				if a.Err != nil {
					l.log.Warn().Err(a.Err).Str("command", a.Name).Msg("command rejected")
				} else {
					l.log.Debug().Str("command", a.Name).Msg("command applied")
				}
			}

			res := l.engine.Step(t, nowMs, read)
			switch {
			case res.Scan.Fired:
				l.log.Info().Int("cycle", res.Scan.Cycle).Msg("scheduled cycle started")
			case res.Scan.Skipped:
				l.log.Info().Int("cycle", res.Scan.Cycle).Msg("scheduled cycle skipped, controller busy")
				l.tracker.RecordSkip()
			}

			switch res.Outcome {
			case logic.OutcomeRecorded:
				l.tracker.SetTrace(l.engine.Trace())
				l.influx.WriteSample(res.Entry)
				if l.publisher != nil {
					if err := l.publisher.PublishTelemetry(res.Entry); err != nil {
						l.log.Debug().Err(err).Msg("telemetry publish error")
					}
				}
			case logic.OutcomeFault:
				l.log.Debug().Msg("current sensor read failed")
			}

			l.handleEvents(t, res.Events)
			l.metrics.ObserveStep(res, time.Since(begin))
			l.refresh(nowMs)

			if l.heartbeat > 0 && t.Sub(lastHeartbeat) >= l.heartbeat {
				lastHeartbeat = t
				if net := readNetworkInfo(); net != nil {
					l.tracker.SetNetwork(net)
				}
				snap := l.tracker.Snapshot()
				l.log.Info().
					Dur("uptime", snap.Uptime()).
					Str("activity", snap.Progress.Description).
					Int("runs_started", snap.Counts.RunsStarted).
					Int("runs_completed", snap.Counts.RunsCompleted).
					Msg("heartbeat")
				l.publishSystem(t, "HEARTBEAT", "")
			}
		}
	}
}

// handleEvents fans run events out to the log, MQTT, InfluxDB and the run log.
func (l *loop) handleEvents(t time.Time, events []logic.Event) {
	if len(events) == 0 {
		return
	}
	l.tracker.RecordEvents(events)
	sched := l.engine.Schedule()
	for _, ev := range events {
		entry := l.log.Info()
		if ev.Type == logic.EventActuatorFault {
			entry = l.log.Error().Err(ev.Err).Int("actuator", ev.Actuator)
		}
		entry.Str("event", string(ev.Type)).
			Str("op", ev.Op.String()).
			Str("run_id", ev.RunID).
			Int("cycle", ev.Cycle).
			Int("zone", ev.Zone).
			Msg("run event")

		if l.publisher != nil {
			if err := l.publisher.Publish(mqtt.NewRunEvent(ev, t, &sched)); err != nil {
				l.log.Warn().Err(err).Msg("publish error")
			}
		}
		l.influx.WriteEvent(ev, t)
		if l.runLog != nil {
			if err := l.runLog.LogEvent(context.Background(), ev); err != nil {
				l.log.Warn().Err(err).Msg("run log write failed")
			}
		}
	}
}

// refresh publishes the engine state to the status tracker and metrics.
func (l *loop) refresh(nowMs uint32) {
	outputs := l.engine.Outputs()
	l.tracker.Update(l.engine.Progress(nowMs), outputs)
	l.metrics.SetOutputs(outputs)
	if l.mqttStatus != nil {
		connected := l.mqttStatus.IsConnected()
		l.tracker.SetMQTTConnected(connected)
		l.metrics.SetMQTTConnected(connected)
	}
}

// publishSystem sends a lifecycle event carrying a full status snapshot.
func (l *loop) publishSystem(t time.Time, event, reason string) {
	if l.publisher == nil {
		return
	}
	snap := l.tracker.Snapshot()
	err := l.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  t,
		Event:      event,
		Reason:     reason,
		Retained:   event != "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		l.log.Warn().Err(err).Str("event", event).Msg("system event publish error")
		return
	}
	l.log.Debug().Str("event", event).Msg("published system event")
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
