package logic

import (
	"iter"
	"math"
	"time"
)

// Telemetry history tuning.
const (
	HistoryCapacity   = 200
	MinSampleInterval = 500    // ms between raw reads
	MinTimeInterval   = 900000 // ms, heartbeat (15 minutes)
	COVThreshold      = 0.2    // amps
)

// HistoryEntry is one recorded pump current sample. TimestampMs is Unix epoch
// milliseconds taken from the wall clock at recording time.
type HistoryEntry struct {
	TimestampMs int64   `json:"timestamp"`
	Current     float64 `json:"current"`
}

// Time returns the entry timestamp as a time.Time.
func (e HistoryEntry) Time() time.Time {
	return time.UnixMilli(e.TimestampMs)
}

// SampleOutcome describes what happened to one call to History.Sample.
type SampleOutcome int

const (
	OutcomeThrottled SampleOutcome = iota // sampling gate closed, nothing read
	OutcomeFault                          // reading failed or was non-finite, discarded
	OutcomeUnchanged                      // read, but neither COV nor heartbeat triggered
	OutcomeRecorded                       // appended to the trace
)

func (o SampleOutcome) String() string {
	switch o {
	case OutcomeThrottled:
		return "throttled"
	case OutcomeFault:
		return "fault"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeRecorded:
		return "recorded"
	}
	return "unknown"
}

// SampleFunc takes one raw current reading in amps.
type SampleFunc func() (float64, error)

// History is a bounded, change-of-value trace of pump current draw.
// Gates run on the monotonic millisecond counter; timestamps come from the
// wall clock.
type History struct {
	entries []HistoryEntry

	sampled      bool
	lastSampleMs uint32

	recorded       bool
	lastRecordMs   uint32
	lastRecordedAm float64
}

// NewHistory creates an empty History.
func NewHistory() *History {
	return &History{entries: make([]HistoryEntry, 0, HistoryCapacity)}
}

// Sample runs the sampling gate and, if open, reads the sensor and applies the
// retention gate. The returned entry is meaningful only for OutcomeRecorded.
func (h *History) Sample(nowMs uint32, wall time.Time, read SampleFunc) (HistoryEntry, SampleOutcome) {
	if h.sampled && nowMs-h.lastSampleMs < MinSampleInterval {
		return HistoryEntry{}, OutcomeThrottled
	}
	h.sampled = true
	h.lastSampleMs = nowMs

	amps, err := read()
	if err != nil || math.IsNaN(amps) || math.IsInf(amps, 0) {
		return HistoryEntry{}, OutcomeFault
	}

	if h.recorded &&
		math.Abs(amps-h.lastRecordedAm) <= COVThreshold &&
		nowMs-h.lastRecordMs <= MinTimeInterval {
		return HistoryEntry{}, OutcomeUnchanged
	}

	e := HistoryEntry{TimestampMs: wall.UnixMilli(), Current: amps}
	h.append(e)
	h.recorded = true
	h.lastRecordMs = nowMs
	h.lastRecordedAm = amps
	return e, OutcomeRecorded
}

func (h *History) append(e HistoryEntry) {
	if len(h.entries) >= HistoryCapacity {
		// Drop index 0 and shift; order is preserved.
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, e)
}

// Len returns the number of recorded entries.
func (h *History) Len() int {
	return len(h.entries)
}

// Entries returns a copy of the trace, oldest first.
func (h *History) Entries() []HistoryEntry {
	return append([]HistoryEntry(nil), h.entries...)
}

// Trace is an immutable copy of the history that can be queried repeatedly.
type Trace []HistoryEntry

// Trace returns a snapshot of the current entries.
func (h *History) Trace() Trace {
	return Trace(h.Entries())
}

// Since yields every entry with a timestamp strictly after sinceMs, in order.
// The sequence can be ranged over any number of times.
func (t Trace) Since(sinceMs int64) iter.Seq[HistoryEntry] {
	return func(yield func(HistoryEntry) bool) {
		for _, e := range t {
			if e.TimestampMs <= sinceMs {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// Since queries the live history. See Trace.Since.
func (h *History) Since(sinceMs int64) iter.Seq[HistoryEntry] {
	return Trace(h.entries).Since(sinceMs)
}
