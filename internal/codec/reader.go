package codec

import "fmt"

// Reader walks a command payload field by field. Pos reports how many bytes
// were consumed, which lets nested commands account for their own length.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the number of bytes consumed so far.
func (r *Reader) Pos() int { return r.pos }

// Rest returns the unread part of the payload.
func (r *Reader) Rest() []byte { return r.buf[r.pos:] }

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) error {
	if r.pos+n > len(r.buf) {
		return ErrShortPayload
	}
	r.pos += n
	return nil
}

// Byte returns the next raw byte.
func (r *Reader) Byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrShortPayload
	}
	c := r.buf[r.pos]
	r.pos++
	return c, nil
}

// Digit reads one decimal digit.
func (r *Reader) Digit() (int, error) {
	c, err := r.Byte()
	if err != nil {
		return 0, err
	}
	return Digit(c)
}

// Channel reads one channel character (0-9, A-Z).
func (r *Reader) Channel() (uint8, error) {
	c, err := r.Byte()
	if err != nil {
		return 0, err
	}
	return DecodeChannel(c)
}

// Number reads n decimal digits as one number. The individual digits are
// returned as well since they take part in the checksum.
func (r *Reader) Number(n int) (int, []int, error) {
	value := 0
	digits := make([]int, 0, n)
	for i := 0; i < n; i++ {
		d, err := r.Digit()
		if err != nil {
			return 0, nil, err
		}
		value = value*10 + d
		digits = append(digits, d)
	}
	return value, digits, nil
}

// Duration reads a digit followed by a scale letter. It returns the digit
// (for the checksum) and the decoded number of seconds.
func (r *Reader) Duration() (int, uint32, error) {
	d, err := r.Digit()
	if err != nil {
		return 0, 0, err
	}
	scale, err := r.Byte()
	if err != nil {
		return 0, 0, err
	}
	switch scale {
	case ScaleSeconds, ScaleMinutes, ScaleTenMinutes, ScaleHours:
	default:
		return 0, 0, fmt.Errorf("scale %q: %w", scale, ErrOutOfRange)
	}
	return d, DecodeDuration(d, scale), nil
}

// Sum reads the trailing checksum digit and verifies it against fields.
func (r *Reader) Sum(fields ...int) (uint8, error) {
	d, err := r.Digit()
	if err != nil {
		return 0, err
	}
	sum := uint8(d)
	return sum, VerifySum(sum, fields...)
}
