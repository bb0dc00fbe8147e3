// Package pwm drives dimmable outputs.
//
// Commands have the form P<cmd><channel><ppp><n><scale><sum>, where ppp is a
// percentage 000..100:
//
//	P0 - channel fully on for the duration
//	P1 - fade in, then fade out when the duration ends
//	P2 - set the percentage now, without a timer
//	P3 - channel on at the percentage for the duration
//	P4 - reset the channel
//	P5 - reset every channel
package pwm

import (
	"fmt"
	"time"

	"github.com/sweeney/homectl/internal/cmnd"
	"github.com/sweeney/homectl/internal/codec"
	"github.com/sweeney/homectl/internal/modules"
	"github.com/sweeney/homectl/internal/timer"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	Letter = 'P'
	Name   = "PWM"
)

const (
	cmdOnFor = iota
	cmdFade
	cmdSet
	cmdOnAtFor
	cmdReset
	cmdResetAll
)

// fadeOutStep is how often a fading channel steps down once its time is up.
const fadeOutStep = time.Second

type Module struct {
	env  modules.Env
	drv  Driver
	step int

	// fadingOut marks channels whose fade has passed its deadline. An early
	// tick during fade-out must not step the duty back up.
	fadingOut []bool
}

// New creates the module. step is the fade increment in percent per second.
func New(env modules.Env, drv Driver, step int) *Module {
	if step <= 0 {
		step = 10
	}
	return &Module{
		env:       env.Named("pwm"),
		drv:       drv,
		step:      step,
		fadingOut: make([]bool, drv.Channels()),
	}
}

func (m *Module) Descriptor() cmnd.Descriptor {
	return cmnd.Descriptor{
		Name:     Name,
		Letter:   Letter,
		Channels: m.drv.Channels(),
		Init:     m.drv.Open,
		Decode:   m.Decode,
		Execute:  m.Execute,
	}
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
	if int(ch) >= m.drv.Channels() {
		return cmnd.State{}, r.Pos(), fmt.Errorf("channel %d of %d: %w", ch, m.drv.Channels(), codec.ErrOutOfRange)
	}
	pct, digits, err := r.Number(3)
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	if pct > 100 {
		return cmnd.State{}, r.Pos(), fmt.Errorf("percentage %d: %w", pct, codec.ErrOutOfRange)
	}
	n, secs, err := r.Duration()
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}

	fields := append([]int{cmd, int(ch)}, digits...)
	sum, err := r.Sum(append(fields, n)...)
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}

	return cmnd.State{
		Command: uint8(cmd),
		Channel: ch,
		Value:   uint16(pct),
		Count:   secs,
		Sum:     sum,
	}, r.Pos(), nil
}

func (m *Module) Execute(s cmnd.State) error {
	slot, err := m.env.Sched.SlotFor(s)
	if err != nil {
		return err
	}
	ch := int(s.Channel)

	switch s.Command {
	case cmdOnFor:
		ctx := timer.Context{Var1: uint16(ch), Var2: 100}
		return m.env.Sched.ScheduleAction(s, timer.Actions{Start: m.on, Stop: m.off}, &ctx)

	case cmdOnAtFor:
		ctx := timer.Context{Var1: uint16(ch), Var2: s.Value}
		return m.env.Sched.ScheduleAction(s, timer.Actions{Start: m.on, Stop: m.off}, &ctx)

	case cmdFade:
		m.fadingOut[ch] = false
		ctx := timer.Context{Var1: uint16(ch), Var2: uint16(m.drv.Duty(ch))}
		return m.env.Sched.ScheduleRepeating(s, timer.Actions{Start: m.fadeIn, Stop: m.fadeOut}, &ctx)

	case cmdSet:
		return m.set(ch, int(s.Value))

	case cmdReset:
		return multierr.Append(m.env.Sched.ResetSlot(slot), m.set(ch, 0))

	case cmdResetAll:
		errs := m.env.Sched.ResetAllSlotsForModule(Letter)
		for c := 0; c < m.drv.Channels(); c++ {
			errs = multierr.Append(errs, m.set(c, 0))
		}
		return errs
	}
	return modules.UnknownCommand(s)
}

// Var1 holds the channel, Var2 the current duty in percent.

func (m *Module) on(ctx *timer.Context) {
	m.apply(ctx, int(ctx.Var2))
}

func (m *Module) off(ctx *timer.Context) {
	m.apply(ctx, 0)
}

func (m *Module) fadeIn(ctx *timer.Context) {
	if m.fadingOut[ctx.Var1] || ctx.Var2 >= 100 {
		return
	}
	m.apply(ctx, int(ctx.Var2)+m.step)
}

// fadeOut steps the duty down and keeps the timer alive until it reaches 0.
func (m *Module) fadeOut(ctx *timer.Context) {
	ch := int(ctx.Var1)
	m.fadingOut[ch] = true
	m.apply(ctx, int(ctx.Var2)-m.step)
	if ctx.Var2 == 0 {
		m.fadingOut[ch] = false
		return
	}
	if err := m.env.Sched.Restart(ctx.Timer, fadeOutStep); err != nil {
		m.env.Log.Error("fade out", zap.Int("timer", int(ctx.Timer)), zap.Error(err))
		m.fadingOut[ch] = false
		m.apply(ctx, 0)
	}
}

func (m *Module) apply(ctx *timer.Context, percent int) {
	percent = clamp(percent)
	if err := m.set(int(ctx.Var1), percent); err != nil {
		m.env.Log.Error("set duty", zap.Uint16("channel", ctx.Var1), zap.Error(err))
		return
	}
	ctx.Var2 = uint16(percent)
}

func (m *Module) set(ch, percent int) error {
	if err := m.drv.SetDuty(ch, percent); err != nil {
		m.env.Debugf("PWM: channel %d: %v", ch, err)
		return fmt.Errorf("channel %d: %w", ch, err)
	}
	return nil
}
