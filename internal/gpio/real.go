//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"
)

type lineBank struct {
	chip  *gpiocdev.Chip
	lines []*gpiocdev.Line
}

func openBank(b Bank, opts ...gpiocdev.LineReqOption) (*lineBank, error) {
	name := b.Chip
	if name == "" {
		name = DefaultChip
	}
	chip, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", name, err)
	}

	if b.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	lb := &lineBank{chip: chip}
	for _, offset := range b.Lines {
		l, err := chip.RequestLine(offset, opts...)
		if err != nil {
			lb.Close()
			return nil, fmt.Errorf("request line %d: %w", offset, err)
		}
		lb.lines = append(lb.lines, l)
	}
	return lb, nil
}

// Close reconfigures every line to input with pull-down, matching the Pi boot
// defaults, before releasing it.
func (lb *lineBank) Close() error {
	var errs error
	for i, l := range lb.lines {
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reconfigure channel %d: %w", i, err))
		}
		if err := l.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close channel %d: %w", i, err))
		}
	}
	lb.lines = nil
	if lb.chip != nil {
		if err := lb.chip.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close chip: %w", err))
		}
		lb.chip = nil
	}
	return errs
}

// RealOutputs drives output lines on actual hardware.
type RealOutputs struct {
	bank *lineBank
}

// NewRealOutputs requests every line of b as an output driven to its
// logical off level.
func NewRealOutputs(b Bank) (*RealOutputs, error) {
	lb, err := openBank(b, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, err
	}
	return &RealOutputs{bank: lb}, nil
}

// Set drives channel ch on or off.
func (o *RealOutputs) Set(ch int, on bool) error {
	if ch < 0 || ch >= len(o.bank.lines) {
		return fmt.Errorf("set %d: %w", ch, ErrChannel)
	}
	v := 0
	if on {
		v = 1
	}
	if err := o.bank.lines[ch].SetValue(v); err != nil {
		return fmt.Errorf("set channel %d: %w", ch, err)
	}
	return nil
}

// Count returns the number of channels.
func (o *RealOutputs) Count() int { return len(o.bank.lines) }

// Close releases the lines.
func (o *RealOutputs) Close() error { return o.bank.Close() }

// RealInputs samples input lines on actual hardware.
type RealInputs struct {
	bank *lineBank
}

// NewRealInputs requests every line of b as an input with pull-down.
func NewRealInputs(b Bank) (*RealInputs, error) {
	lb, err := openBank(b, gpiocdev.AsInput, gpiocdev.WithPullDown)
	if err != nil {
		return nil, err
	}
	return &RealInputs{bank: lb}, nil
}

// Read returns the logical level of every line.
func (in *RealInputs) Read() ([]bool, error) {
	out := make([]bool, len(in.bank.lines))
	for i, l := range in.bank.lines {
		v, err := l.Value()
		if err != nil {
			return nil, fmt.Errorf("read channel %d: %w", i, err)
		}
		out[i] = v != 0
	}
	return out, nil
}

// Close releases the lines.
func (in *RealInputs) Close() error { return in.bank.Close() }
