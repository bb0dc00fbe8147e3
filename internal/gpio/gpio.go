// Package gpio drives and samples banks of GPIO lines.
// The real implementation uses the Linux GPIO character device.
// The fakes allow testing without hardware.
package gpio

import "errors"

// ErrChannel is returned for a channel outside the bank.
var ErrChannel = errors.New("gpio: channel out of range")

// Outputs drives a bank of output lines addressed by channel index.
type Outputs interface {
	// Set drives channel ch to its logical on or off level.
	Set(ch int, on bool) error

	// Count returns the number of channels in the bank.
	Count() int

	// Close releases the lines.
	Close() error
}

// Inputs samples a bank of input lines.
type Inputs interface {
	// Read returns the logical level of every channel, in channel order.
	Read() ([]bool, error)

	// Close releases the lines.
	Close() error
}

// Bank describes the lines of one module.
type Bank struct {
	Chip      string
	Lines     []int
	ActiveLow bool
}

// DefaultChip is the GPIO chip used when a bank names none.
const DefaultChip = "gpiochip0"
