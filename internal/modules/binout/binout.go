// Package binout switches binary outputs (relays) on for a bounded time.
//
// Commands have the form B<cmd><channel><n><scale><sum>:
//
//	B0 - channel on for the duration; a zero duration switches it off now
//	B1 - reset the channel
//	B2 - reset every channel
package binout

import (
	"fmt"

	"github.com/sweeney/homectl/internal/cmnd"
	"github.com/sweeney/homectl/internal/codec"
	"github.com/sweeney/homectl/internal/gpio"
	"github.com/sweeney/homectl/internal/modules"
	"github.com/sweeney/homectl/internal/pins"
	"github.com/sweeney/homectl/internal/timer"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	Letter = 'B'
	Name   = "BIN_OUT"
)

const (
	cmdOnFor = iota
	cmdReset
	cmdResetAll
)

type Module struct {
	env   modules.Env
	out   gpio.Outputs
	pins  *pins.Registry
	lines []int
}

// New creates the module. lines are the GPIO offsets behind out, one per
// channel, claimed in pins at init.
func New(env modules.Env, out gpio.Outputs, reg *pins.Registry, lines []int) *Module {
	return &Module{
		env:   env.Named("binout"),
		out:   out,
		pins:  reg,
		lines: lines,
	}
}

func (m *Module) Descriptor() cmnd.Descriptor {
	return cmnd.Descriptor{
		Name:     Name,
		Letter:   Letter,
		Channels: m.out.Count(),
		Init:     m.Init,
		Decode:   m.Decode,
		Execute:  m.Execute,
	}
}

// Init claims the lines and drives every channel off.
func (m *Module) Init() error {
	if m.pins != nil {
		if err := m.pins.Register(Name, m.lines...); err != nil {
			return err
		}
	}
	return m.allOff()
}

func (m *Module) Decode(payload []byte) (cmnd.State, int, error) {
	r := codec.NewReader(payload)

	cmd, err := r.Digit()
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	if cmd > cmdResetAll {
		return cmnd.State{}, r.Pos(), fmt.Errorf("command %d: %w", cmd, codec.ErrOutOfRange)
	}
	ch, err := r.Channel()
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	if int(ch) >= m.out.Count() {
		return cmnd.State{}, r.Pos(), fmt.Errorf("channel %d of %d: %w", ch, m.out.Count(), codec.ErrOutOfRange)
	}
	n, secs, err := r.Duration()
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	sum, err := r.Sum(cmd, int(ch), n)
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}

	s := cmnd.State{
		Command: uint8(cmd),
		Channel: ch,
		Count:   secs,
		Sum:     sum,
	}
	if int(ch) < len(m.lines) {
		s.Pin = uint16(m.lines[ch])
	}
	return s, r.Pos(), nil
}

func (m *Module) Execute(s cmnd.State) error {
	slot, err := m.env.Sched.SlotFor(s)
	if err != nil {
		return err
	}

	switch s.Command {
	case cmdOnFor:
		if s.Count == 0 {
			var errs error
			if m.env.Sched.IsSlotActive(slot) {
				errs = m.env.Sched.ResetSlot(slot)
			}
			return multierr.Append(errs, m.set(int(s.Channel), false))
		}
		ctx := timer.Context{Var1: uint16(s.Channel), Var2: s.Pin}
		return m.env.Sched.ScheduleAction(s, timer.Actions{Start: m.turnOn, Stop: m.turnOff}, &ctx)

	case cmdReset:
		return multierr.Append(m.env.Sched.ResetSlot(slot), m.set(int(s.Channel), false))

	case cmdResetAll:
		return multierr.Append(m.env.Sched.ResetAllSlotsForModule(Letter), m.allOff())
	}
	return modules.UnknownCommand(s)
}

func (m *Module) turnOn(ctx *timer.Context) {
	m.env.Log.Debug("on", zap.Uint16("channel", ctx.Var1), zap.Uint16("pin", ctx.Var2), zap.Int("slot", ctx.Slot))
	if err := m.set(int(ctx.Var1), true); err != nil {
		m.env.Log.Error("turn on", zap.Error(err))
	}
}

func (m *Module) turnOff(ctx *timer.Context) {
	m.env.Log.Debug("off", zap.Uint16("channel", ctx.Var1), zap.Uint16("pin", ctx.Var2), zap.Int("slot", ctx.Slot))
	if err := m.set(int(ctx.Var1), false); err != nil {
		m.env.Log.Error("turn off", zap.Error(err))
	}
}

func (m *Module) set(ch int, on bool) error {
	if err := m.out.Set(ch, on); err != nil {
		m.env.Debugf("BIN: channel %d: %v", ch, err)
		return fmt.Errorf("channel %d: %w", ch, err)
	}
	return nil
}

func (m *Module) allOff() error {
	var errs error
	for ch := 0; ch < m.out.Count(); ch++ {
		errs = multierr.Append(errs, m.set(ch, false))
	}
	return errs
}
