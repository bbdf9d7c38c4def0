package sensor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultDevice is the first IIO device, typically an ADS1115 or MCP3008 on a Pi.
const DefaultDevice = "/sys/bus/iio/devices/iio:device0"

// IIOReader reads one voltage channel of a Linux Industrial I/O ADC.
type IIOReader struct {
	rawPath string
	scale   float64 // millivolts per LSB
	cal     Calibration
}

// NewIIOReader opens channel ch of the IIO device directory dev. The channel
// scale is read once; the raw value is read on every call.
func NewIIOReader(dev string, ch int, cal Calibration) (*IIOReader, error) {
	if dev == "" {
		dev = DefaultDevice
	}
	rawPath := filepath.Join(dev, fmt.Sprintf("in_voltage%d_raw", ch))
	if _, err := os.Stat(rawPath); err != nil {
		return nil, fmt.Errorf("open iio channel: %w", err)
	}

	scale, err := readScale(dev, ch)
	if err != nil {
		return nil, err
	}
	return &IIOReader{rawPath: rawPath, scale: scale, cal: cal}, nil
}

// readScale prefers the per-channel scale and falls back to the shared one.
func readScale(dev string, ch int) (float64, error) {
	candidates := []string{
		filepath.Join(dev, fmt.Sprintf("in_voltage%d_scale", ch)),
		filepath.Join(dev, "in_voltage_scale"),
	}
	for _, p := range candidates {
		v, err := readFloat(p)
		if err == nil {
			return v, nil
		}
		if !os.IsNotExist(err) {
			return 0, fmt.Errorf("read iio scale: %w", err)
		}
	}
	return 0, fmt.Errorf("read iio scale: no scale attribute for channel %d", ch)
}

// ReadCurrent converts the raw ADC count to amps.
func (r *IIOReader) ReadCurrent() (float64, error) {
	raw, err := readFloat(r.rawPath)
	if err != nil {
		return 0, fmt.Errorf("read iio raw: %w", err)
	}
	volts := raw * r.scale / 1000
	return r.cal.Amps(volts), nil
}

// Close is a no-op; sysfs attributes are opened per read.
func (r *IIOReader) Close() error {
	return nil
}

func readFloat(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return v, nil
}
