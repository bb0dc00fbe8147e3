// Package codec holds the stateless helpers shared by every command decoder:
// duration and channel decoding, checksum verification and a payload cursor.
//
// Every command payload has the shape <letter><command><fields...><sum>. The
// trailing sum digit must equal the sum of all preceding numeric fields modulo
// 10, where multi-digit numbers contribute each digit and a duration
// contributes its digit rather than its expanded number of seconds.
package codec

import (
	"errors"
	"fmt"
)

// Decode errors.
var (
	ErrShortPayload = errors.New("payload too short")
	ErrNotDigit     = errors.New("not a digit")
	ErrOutOfRange   = errors.New("field out of range")
	ErrChecksum     = errors.New("checksum mismatch")
)

// Scale letters accepted by DecodeDuration.
const (
	ScaleSeconds     = 'S'
	ScaleMinutes     = 'M'
	ScaleTenMinutes  = 'T'
	ScaleHours       = 'H'
	MaxChannelNumber = 35
)

// DecodeDuration converts a digit and a scale letter into seconds.
// A digit outside 0..9 or an unknown scale yields 0.
func DecodeDuration(digit int, scale byte) uint32 {
	if digit < 0 || digit > 9 {
		return 0
	}
	n := uint32(digit)
	switch scale {
	case ScaleSeconds:
		return n
	case ScaleMinutes:
		return 60 * n
	case ScaleTenMinutes:
		return 10 * 60 * n
	case ScaleHours:
		return 60 * 60 * n
	default:
		return 0
	}
}

// DecodeChannel converts a channel character into 0..35:
// '0'..'9' map to themselves, 'A'..'Z' map to 10..35.
func DecodeChannel(c byte) (uint8, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'A' && c <= 'Z':
		return 10 + (c - 'A'), nil
	}
	return 0, fmt.Errorf("channel %q: %w", c, ErrOutOfRange)
}

// Digit converts an ASCII digit into its value.
func Digit(c byte) (int, error) {
	if c < '0' || c > '9' {
		return 0, fmt.Errorf("%q: %w", c, ErrNotDigit)
	}
	return int(c - '0'), nil
}

// Checksum returns the expected sum digit for the given numeric fields.
func Checksum(fields ...int) uint8 {
	total := 0
	for _, f := range fields {
		total += f
	}
	total %= 10
	if total < 0 {
		total += 10
	}
	return uint8(total)
}

// VerifySum reports ErrChecksum if sum does not match the fields.
func VerifySum(sum uint8, fields ...int) error {
	if want := Checksum(fields...); sum != want {
		return fmt.Errorf("got %d, want %d: %w", sum, want, ErrChecksum)
	}
	return nil
}
