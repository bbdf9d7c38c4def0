// Package sensor reads pump current draw with hardware abstraction.
// The real implementation reads a Linux IIO ADC channel through sysfs.
// The fake implementation allows testing without hardware.
package sensor

// Reader returns the pump current in amps.
type Reader interface {
	// ReadCurrent takes one reading. A non-finite value or an error is a
	// sensor fault; callers discard it.
	ReadCurrent() (float64, error)

	// Close releases sensor resources.
	Close() error
}

// Calibration converts a sensor output voltage to amps:
// amps = (volts - ZeroVolts) / VoltsPerAmp.
type Calibration struct {
	ZeroVolts   float64
	VoltsPerAmp float64
}

// WCS1800 is the bench calibration of the WCS1800 Hall-effect sensor on the
// controller board.
var WCS1800 = Calibration{ZeroVolts: 1.632, VoltsPerAmp: 0.0101}

// Amps applies the calibration. A zero sensitivity yields ±Inf or NaN, which
// the history discards as a fault.
func (c Calibration) Amps(volts float64) float64 {
	return (volts - c.ZeroVolts) / c.VoltsPerAmp
}
