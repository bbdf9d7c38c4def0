// Package metrics exposes controller state and activity to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/irrigation-controller/internal/logic"
)

// Metrics holds the controller collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	runEvents      *prometheus.CounterVec
	actuatorFaults *prometheus.CounterVec
	actuatorOn     *prometheus.GaugeVec
	scans          *prometheus.CounterVec
	samples        *prometheus.CounterVec
	pumpCurrent    prometheus.Gauge
	commands       *prometheus.CounterVec
	loopDuration   prometheus.Histogram
	mqttConnected  prometheus.Gauge

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates and registers the collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		runEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_run_events_total",
			Help: "Run-state transitions by event type.",
		}, []string{"event"}),
		actuatorFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_actuator_faults_total",
			Help: "Failed actuator writes by actuator id (0 is the pump).",
		}, []string{"actuator"}),
		actuatorOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "irrigation_actuator_on",
			Help: "Commanded actuator state (1 on, 0 off) by actuator id.",
		}, []string{"actuator"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_schedule_matches_total",
			Help: "Scheduled cycle matches by result (fired or skipped).",
		}, []string{"result"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_current_samples_total",
			Help: "Pump current sampler outcomes.",
		}, []string{"outcome"}),
		pumpCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "irrigation_pump_current_amps",
			Help: "Most recently recorded pump current.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "irrigation_commands_total",
			Help: "Commands applied by the control loop by name and result.",
		}, []string{"command", "result"}),
		loopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "irrigation_loop_duration_seconds",
			Help:    "Time spent in one control-loop iteration.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}),
		mqttConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "irrigation_mqtt_connected",
			Help: "MQTT connection state (1 connected).",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.runEvents,
		m.actuatorFaults,
		m.actuatorOn,
		m.scans,
		m.samples,
		m.pumpCurrent,
		m.commands,
		m.loopDuration,
		m.mqttConnected,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

// ObserveStep records one control-loop iteration.
func (m *Metrics) ObserveStep(res logic.StepResult, took time.Duration) {
	if m == nil {
		return
	}
	m.loopDuration.Observe(took.Seconds())
	switch {
	case res.Scan.Fired:
		m.scans.WithLabelValues("fired").Inc()
	case res.Scan.Skipped:
		m.scans.WithLabelValues("skipped").Inc()
	}
	if res.Outcome != logic.OutcomeThrottled {
		m.samples.WithLabelValues(res.Outcome.String()).Inc()
	}
	if res.Outcome == logic.OutcomeRecorded {
		m.pumpCurrent.Set(res.Entry.Current)
	}
	m.ObserveEvents(res.Events)
}

// ObserveEvents counts run events and actuator faults.
func (m *Metrics) ObserveEvents(events []logic.Event) {
	if m == nil {
		return
	}
	for _, e := range events {
		m.runEvents.WithLabelValues(string(e.Type)).Inc()
		if e.Type == logic.EventActuatorFault {
			m.actuatorFaults.WithLabelValues(strconv.Itoa(e.Actuator)).Inc()
		}
	}
}

// SetOutputs records the commanded actuator states.
func (m *Metrics) SetOutputs(outputs []bool) {
	if m == nil {
		return
	}
	for id, on := range outputs {
		v := 0.0
		if on {
			v = 1
		}
		m.actuatorOn.WithLabelValues(strconv.Itoa(id)).Set(v)
	}
}

// Command records one applied command.
func (m *Metrics) Command(name string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commands.WithLabelValues(name, result).Inc()
}

// SetMQTTConnected records the broker connection state.
func (m *Metrics) SetMQTTConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.mqttConnected.Set(1)
	} else {
		m.mqttConnected.Set(0)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and observes latency for route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
