package sensor

import "errors"

// FakeReader is a test double that returns scripted current readings.
type FakeReader struct {
	// Samples contains scripted readings in amps.
	// Each call to ReadCurrent consumes the next sample.
	Samples []float64

	index int

	// ReadError, if set, will be returned by ReadCurrent.
	ReadError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples ...float64) *FakeReader {
	return &FakeReader{Samples: samples}
}

// ReadCurrent returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) ReadCurrent() (float64, error) {
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if len(f.Samples) == 0 {
		return 0, errors.New("no samples configured")
	}
	v := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return v, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}
