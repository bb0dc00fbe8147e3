//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealOutputs is not available on non-Linux platforms.
type RealOutputs struct{}

// NewRealOutputs returns an error on non-Linux platforms.
func NewRealOutputs(Bank) (*RealOutputs, error) { return nil, errUnsupported }

// Set is not implemented on non-Linux platforms.
func (o *RealOutputs) Set(int, bool) error { return errUnsupported }

// Count returns zero.
func (o *RealOutputs) Count() int { return 0 }

// Close is a no-op.
func (o *RealOutputs) Close() error { return nil }

// RealInputs is not available on non-Linux platforms.
type RealInputs struct{}

// NewRealInputs returns an error on non-Linux platforms.
func NewRealInputs(Bank) (*RealInputs, error) { return nil, errUnsupported }

// Read is not implemented on non-Linux platforms.
func (in *RealInputs) Read() ([]bool, error) { return nil, errUnsupported }

// Close is a no-op.
func (in *RealInputs) Close() error { return nil }
