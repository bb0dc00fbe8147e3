// Package binin samples binary inputs, debounces them and reports changes.
//
// Commands have the form I<cmd><sum>:
//
//	I0 - publish the state of every input
//	I1 - forget the debounced states and re-establish a baseline
package binin

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/homectl/internal/cmnd"
	"github.com/sweeney/homectl/internal/codec"
	"github.com/sweeney/homectl/internal/gpio"
	"github.com/sweeney/homectl/internal/logic"
	"github.com/sweeney/homectl/internal/modules"
	"github.com/sweeney/homectl/internal/pins"
	"go.uber.org/zap"
)

const (
	Letter = 'I'
	Name   = "BIN_IN"
)

const (
	cmdPublish = iota
	cmdRebaseline
)

// ErrNotReady is returned while the inputs have no debounced baseline yet.
var ErrNotReady = errors.New("inputs not baselined")

// Trigger receives every debounced change. value is 1 for OPENED, 0 for CLOSED.
type Trigger interface {
	Trigger(letter byte, ch, value int)
}

type Module struct {
	env     modules.Env
	in      gpio.Inputs
	deb     *logic.Debouncer
	pins    *pins.Registry
	lines   []int
	trigger Trigger

	readErr bool
}

func New(env modules.Env, in gpio.Inputs, reg *pins.Registry, lines []int, debounce time.Duration) *Module {
	return &Module{
		env:   env.Named("binin"),
		in:    in,
		deb:   logic.NewDebouncer(len(lines), debounce),
		pins:  reg,
		lines: lines,
	}
}

// SetTrigger routes debounced changes to t.
func (m *Module) SetTrigger(t Trigger) { m.trigger = t }

func (m *Module) Descriptor() cmnd.Descriptor {
	return cmnd.Descriptor{
		Name:     Name,
		Letter:   Letter,
		Channels: len(m.lines),
		Init:     m.Init,
		Decode:   m.Decode,
		Execute:  m.Execute,
	}
}

func (m *Module) Init() error {
	if m.pins == nil {
		return nil
	}
	return m.pins.Register(Name, m.lines...)
}

func (m *Module) Decode(payload []byte) (cmnd.State, int, error) {
	r := codec.NewReader(payload)

	cmd, err := r.Digit()
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	if cmd > cmdRebaseline {
		return cmnd.State{}, r.Pos(), fmt.Errorf("command %d: %w", cmd, codec.ErrOutOfRange)
	}
	sum, err := r.Sum(cmd)
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	return cmnd.State{Command: uint8(cmd), Sum: sum}, r.Pos(), nil
}

func (m *Module) Execute(s cmnd.State) error {
	switch s.Command {
	case cmdPublish:
		if !m.deb.IsBaselined() {
			return ErrNotReady
		}
		m.publishAll()
		return nil
	case cmdRebaseline:
		m.deb.Rebaseline()
		m.env.Log.Info("inputs rebaselined")
		return nil
	}
	return modules.UnknownCommand(s)
}

// Poll samples the inputs once and reports debounced changes.
func (m *Module) Poll(now time.Time) []logic.Event {
	levels, err := m.in.Read()
	if err != nil {
		if !m.readErr {
			m.env.Log.Error("read inputs", zap.Error(err))
		}
		m.readErr = true
		return nil
	}
	if m.readErr {
		m.env.Log.Info("inputs readable again")
		m.readErr = false
	}

	events := m.deb.Process(logic.Input{Levels: levels, Time: now})
	if len(events) == 0 {
		return nil
	}

	for _, ev := range events {
		m.env.Log.Info("input changed",
			zap.Int("channel", ev.Channel),
			zap.String("state", string(ev.State)))
		if m.trigger != nil {
			m.trigger.Trigger(Letter, ev.Channel, value(ev.State))
		}
		m.env.Publish(m.env.Topics.BinInChannel(ev.Channel), string(ev.State))
	}
	last := events[len(events)-1]
	m.env.Publish(m.env.Topics.BinInState(), Summary(last.Mask, last.Changed))
	return events
}

// States returns the debounced state of every input and whether a baseline
// exists.
func (m *Module) States() ([]logic.State, bool) {
	return m.deb.Current(), m.deb.IsBaselined()
}

func (m *Module) publishAll() {
	current := m.deb.Current()
	for ch, st := range current {
		m.env.Publish(m.env.Topics.BinInChannel(ch), string(st))
	}
	m.env.Publish(m.env.Topics.BinInState(), Summary(current, nil))
}

// Summary renders states as "Current: 0101, Diff: 0100", one digit per
// channel, 1 meaning OPENED or changed.
func Summary(states []logic.State, changed []bool) string {
	var cur, diff strings.Builder
	for i, st := range states {
		if st == logic.StateOpened {
			cur.WriteByte('1')
		} else {
			cur.WriteByte('0')
		}
		if i < len(changed) && changed[i] {
			diff.WriteByte('1')
		} else {
			diff.WriteByte('0')
		}
	}
	return "Current: " + cur.String() + ", Diff: " + diff.String()
}

func value(st logic.State) int {
	if st == logic.StateOpened {
		return 1
	}
	return 0
}
