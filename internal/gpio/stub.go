//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealBank is not available on non-Linux platforms.
type RealBank struct{}

// NewRealBank returns an error on non-Linux platforms.
func NewRealBank(pins Pins) (*RealBank, error) {
	return nil, errUnsupported
}

// SetActuator is not implemented on non-Linux platforms.
func (b *RealBank) SetActuator(id int, on bool) error {
	return errUnsupported
}

// States is not implemented on non-Linux platforms.
func (b *RealBank) States() []bool {
	return nil
}

// Close is not implemented on non-Linux platforms.
func (b *RealBank) Close() error {
	return nil
}
