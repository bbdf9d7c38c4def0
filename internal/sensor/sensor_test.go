package sensor

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestCalibrationAmps(t *testing.T) {
	tests := []struct {
		volts float64
		want  float64
	}{
		{1.632, 0},
		{1.733, 10},
		{1.531, -10},
	}
	for _, tt := range tests {
		got := WCS1800.Amps(tt.volts)
		if math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("Amps(%v) = %v, want %v", tt.volts, got, tt.want)
		}
	}

	zero := Calibration{ZeroVolts: 1}
	if v := zero.Amps(2); !math.IsInf(v, 1) {
		t.Errorf("zero sensitivity = %v, want +Inf", v)
	}
}

func writeAttr(t *testing.T, dir, name, value string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(value+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIIOReader(t *testing.T) {
	dir := t.TempDir()
	writeAttr(t, dir, "in_voltage_scale", "0.5")
	writeAttr(t, dir, "in_voltage1_raw", "3466") // 1733 mV

	r, err := NewIIOReader(dir, 1, WCS1800)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Close()

	amps, err := r.ReadCurrent()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(amps-10) > 1e-6 {
		t.Errorf("amps = %v, want 10", amps)
	}

	writeAttr(t, dir, "in_voltage1_raw", "garbage")
	if _, err := r.ReadCurrent(); err == nil {
		t.Error("expected parse error")
	}
}

func TestIIOReaderChannelScale(t *testing.T) {
	dir := t.TempDir()
	writeAttr(t, dir, "in_voltage_scale", "100")
	writeAttr(t, dir, "in_voltage0_scale", "1")
	writeAttr(t, dir, "in_voltage0_raw", "1632")

	r, err := NewIIOReader(dir, 0, WCS1800)
	if err != nil {
		t.Fatal(err)
	}
	amps, _ := r.ReadCurrent()
	if math.Abs(amps) > 1e-6 {
		t.Errorf("amps = %v, want 0 (per-channel scale should win)", amps)
	}
}

func TestIIOReaderMissing(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewIIOReader(dir, 0, WCS1800); err == nil {
		t.Error("expected error for missing channel")
	}
	writeAttr(t, dir, "in_voltage0_raw", "1")
	if _, err := NewIIOReader(dir, 0, WCS1800); err == nil {
		t.Error("expected error for missing scale")
	}
}

func TestFakeReader(t *testing.T) {
	f := NewFakeReader(1, 2)
	for _, want := range []float64{1, 2, 2} {
		got, err := f.ReadCurrent()
		if err != nil || got != want {
			t.Fatalf("got %v, %v; want %v", got, err, want)
		}
	}

	f.ReadError = errors.New("simulated error")
	if _, err := f.ReadCurrent(); err == nil {
		t.Error("expected error")
	}

	if _, err := NewFakeReader().ReadCurrent(); err == nil {
		t.Error("expected error with no samples")
	}

	f.Close()
	if !f.Closed {
		t.Error("should be closed after Close()")
	}
}
