// Package influx exports recorded pump current samples and run events to
// InfluxDB for long-term storage. Writes are batched and asynchronous.
package influx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/sweeney/irrigation-controller/internal/logic"
)

var (
	// ErrDisabled is returned by Connect when export is turned off.
	ErrDisabled = errors.New("influx: disabled")

	// ErrConnectionFailed is returned when the server cannot be reached.
	ErrConnectionFailed = errors.New("influx: connection failed")
)

const (
	defaultConnectTimeout = 10 * time.Second

	measurementCurrent = "pump_current"
	measurementEvents  = "run_events"
)

// Config contains connection settings.
type Config struct {
	Enabled       bool
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     int
	FlushInterval time.Duration
	Controller    string // value of the "controller" tag
}

// pointWriter is the subset of api.WriteAPI the exporter uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Exporter writes controller telemetry to InfluxDB.
type Exporter struct {
	client     influxdb2.Client
	writer     pointWriter
	controller string

	mu      sync.RWMutex
	onError func(err error)
}

// Connect pings the server and returns an Exporter. It returns ErrDisabled
// when cfg.Enabled is false.
func Connect(ctx context.Context, cfg Config) (*Exporter, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = 10 * time.Second
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flush.Milliseconds())))

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	e := newExporter(writeAPI, cfg.Controller)
	e.client = client
	go e.handleWriteErrors(writeAPI.Errors())
	return e, nil
}

func newExporter(w pointWriter, controller string) *Exporter {
	if controller == "" {
		controller = "irrigation-controller"
	}
	return &Exporter{writer: w, controller: controller}
}

func (e *Exporter) handleWriteErrors(errs <-chan error) {
	for err := range errs {
		e.mu.RLock()
		cb := e.onError
		e.mu.RUnlock()
		if cb != nil {
			cb(err)
		}
	}
}

// SetOnError installs a callback for asynchronous write failures.
func (e *Exporter) SetOnError(cb func(err error)) {
	e.mu.Lock()
	e.onError = cb
	e.mu.Unlock()
}

// WriteSample records one pump current history entry.
func (e *Exporter) WriteSample(entry logic.HistoryEntry) {
	if e == nil {
		return
	}
	e.writer.WritePoint(write.NewPoint(
		measurementCurrent,
		map[string]string{"controller": e.controller},
		map[string]interface{}{"amps": entry.Current},
		entry.Time(),
	))
}

// WriteEvent records one run event at wall time at.
func (e *Exporter) WriteEvent(ev logic.Event, at time.Time) {
	if e == nil {
		return
	}
	tags := map[string]string{
		"controller": e.controller,
		"event":      string(ev.Type),
		"op":         ev.Op.String(),
	}
	if ev.Cycle >= 0 {
		tags["cycle"] = strconv.Itoa(ev.Cycle)
	}
	if ev.Zone >= 0 {
		tags["zone"] = strconv.Itoa(ev.Zone + 1)
	}
	fields := map[string]interface{}{"run_id": ev.RunID}
	if ev.Err != nil {
		fields["error"] = ev.Err.Error()
	}
	e.writer.WritePoint(write.NewPoint(measurementEvents, tags, fields, at))
}

// Close flushes pending writes and closes the client.
func (e *Exporter) Close() error {
	if e == nil {
		return nil
	}
	e.writer.Flush()
	if e.client != nil {
		e.client.Close()
	}
	return nil
}
