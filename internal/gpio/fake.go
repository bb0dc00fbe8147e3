package gpio

import (
	"errors"
	"fmt"
)

// Write records one call to FakeOutputs.Set.
type Write struct {
	Channel int
	On      bool
}

// FakeOutputs is a test double that records every write.
type FakeOutputs struct {
	// States holds the current level of every channel.
	States []bool

	// Writes lists every Set call in order.
	Writes []Write

	// SetError, if set, will be returned by Set()
	SetError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeOutputs creates a bank of n channels, all off.
func NewFakeOutputs(n int) *FakeOutputs {
	return &FakeOutputs{States: make([]bool, n)}
}

// Set records the write and updates States.
func (f *FakeOutputs) Set(ch int, on bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	if ch < 0 || ch >= len(f.States) {
		return fmt.Errorf("set %d: %w", ch, ErrChannel)
	}
	f.States[ch] = on
	f.Writes = append(f.Writes, Write{Channel: ch, On: on})
	return nil
}

// Count returns the number of channels.
func (f *FakeOutputs) Count() int { return len(f.States) }

// Close marks the bank as closed.
func (f *FakeOutputs) Close() error {
	f.Closed = true
	return nil
}

// Reset clears recorded writes and turns every channel off.
func (f *FakeOutputs) Reset() {
	f.Writes = nil
	for i := range f.States {
		f.States[i] = false
	}
}

// FakeInputs is a test double that returns scripted samples.
type FakeInputs struct {
	// Samples contains scripted readings to return.
	// Each call to Read() consumes the next sample.
	Samples [][]bool

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeInputs creates a FakeInputs with the given samples.
func NewFakeInputs(samples ...[]bool) *FakeInputs {
	return &FakeInputs{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeInputs) Read() ([]bool, error) {
	if f.ReadError != nil {
		return nil, f.ReadError
	}
	if len(f.Samples) == 0 {
		return nil, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	out := make([]bool, len(sample))
	copy(out, sample)
	return out, nil
}

// Push appends a sample and makes it the next one returned.
func (f *FakeInputs) Push(sample []bool) {
	f.Samples = append(f.Samples, sample)
	f.index = len(f.Samples) - 1
}

// Close marks the bank as closed.
func (f *FakeInputs) Close() error {
	f.Closed = true
	return nil
}
