// Package hyst keeps heaters between two temperatures for a bounded time.
//
// Commands:
//
//	H0<ch><sum>                 - stop every channel
//	H1<ch><LL><HH><n><scale><sum> - heat channel between LL and HH °C for the duration
//	H3<ch><sum>                 - stop the channel
//
// A heating session runs on a short slot timer that re-arms itself from its
// stop action until the session's finish time; each expiry re-checks the
// temperature. Reissuing H1 on a running channel moves the finish time and
// replaces the limits.
package hyst

import (
	"errors"
	"fmt"
	"time"

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
	Letter = 'H'
	Name   = "HYST"
)

const (
	cmdStopAll = 0
	cmdHeat    = 1
	cmdStop    = 3
)

// Limits accepted by H1, and the reading above which every heater is cut.
const (
	MinCelsius      = 10
	MaxCelsius      = 30
	CutoffCelsius   = 35
	DefaultSlotSpan = 20 * time.Second
)

// ErrOverheat is returned when a probe reads above CutoffCelsius.
var ErrOverheat = errors.New("hyst: temperature above cutoff")

// Thermometer reads the probe of a heater.
type Thermometer interface {
	Celsius(probe int) (float64, error)
}

type session struct {
	active    bool
	low, high int
	finish    time.Time
}

type Module struct {
	env      modules.Env
	relays   gpio.Outputs
	thermo   Thermometer
	probes   []int
	pins     *pins.Registry
	lines    []int
	span     time.Duration
	sessions []session
}

// New creates the module. probes[i] is the probe heater i follows; span is
// the re-check interval of a running session.
func New(env modules.Env, relays gpio.Outputs, thermo Thermometer, probes []int, reg *pins.Registry, lines []int, span time.Duration) *Module {
	if span <= 0 {
		span = DefaultSlotSpan
	}
	return &Module{
		env:      env.Named("hyst"),
		relays:   relays,
		thermo:   thermo,
		probes:   probes,
		pins:     reg,
		lines:    lines,
		span:     span,
		sessions: make([]session, relays.Count()),
	}
}

func (m *Module) Descriptor() cmnd.Descriptor {
	return cmnd.Descriptor{
		Name:     Name,
		Letter:   Letter,
		Channels: m.relays.Count(),
		Init:     m.Init,
		Decode:   m.Decode,
		Execute:  m.Execute,
		Shutdown: m.stopAll,
	}
}

func (m *Module) Init() error {
	if m.pins != nil {
		if err := m.pins.Register(Name, m.lines...); err != nil {
			return err
		}
	}
	return m.shutdownAll()
}

func (m *Module) Decode(payload []byte) (cmnd.State, int, error) {
	r := codec.NewReader(payload)

	cmd, err := r.Digit()
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	ch, err := r.Channel()
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	if int(ch) >= m.relays.Count() {
		return cmnd.State{}, r.Pos(), fmt.Errorf("channel %d of %d: %w", ch, m.relays.Count(), codec.ErrOutOfRange)
	}
	s := cmnd.State{Command: uint8(cmd), Channel: ch}

	switch cmd {
	case cmdStopAll, cmdStop:
		if s.Sum, err = r.Sum(cmd, int(ch)); err != nil {
			return cmnd.State{}, r.Pos(), err
		}
		return s, r.Pos(), nil
	case cmdHeat:
	default:
		return cmnd.State{}, r.Pos(), fmt.Errorf("command %d: %w", cmd, codec.ErrOutOfRange)
	}

	low, lowDigits, err := r.Number(2)
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	high, highDigits, err := r.Number(2)
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	if low < MinCelsius || high > MaxCelsius || low >= high {
		return cmnd.State{}, r.Pos(), fmt.Errorf("limits %d..%d: %w", low, high, codec.ErrOutOfRange)
	}
	n, secs, err := r.Duration()
	if err != nil {
		return cmnd.State{}, r.Pos(), err
	}

	fields := []int{cmd, int(ch)}
	fields = append(fields, lowDigits...)
	fields = append(fields, highDigits...)
	if s.Sum, err = r.Sum(append(fields, n)...); err != nil {
		return cmnd.State{}, r.Pos(), err
	}
	s.Low, s.High, s.Count = uint8(low), uint8(high), secs
	return s, r.Pos(), nil
}

func (m *Module) Execute(s cmnd.State) error {
	ch := int(s.Channel)

	switch s.Command {
	case cmdStopAll:
		return m.stopAll()

	case cmdStop:
		return m.end(ch)

	case cmdHeat:
		if s.Count == 0 {
			return m.end(ch)
		}
		if m.sessions[ch].active {
			return m.retrigger(s)
		}
		return m.start(s)
	}
	return modules.UnknownCommand(s)
}

func (m *Module) start(s cmnd.State) error {
	ch := int(s.Channel)
	m.sessions[ch] = session{
		active: true,
		low:    int(s.Low),
		high:   int(s.High),
		finish: m.env.Now().Add(s.Duration()),
	}

	slotted := s
	slotted.Count = uint32(m.span / time.Second)
	ctx := timer.Context{Var1: uint16(ch)}
	if err := m.env.Sched.ScheduleAction(slotted, timer.Actions{Start: m.check, Stop: m.expire}, &ctx); err != nil {
		m.sessions[ch] = session{}
		return err
	}
	m.env.Log.Info("heating",
		zap.Int("channel", ch),
		zap.Int("low", int(s.Low)),
		zap.Int("high", int(s.High)),
		zap.Duration("for", s.Duration()))
	return nil
}

func (m *Module) retrigger(s cmnd.State) error {
	ch := int(s.Channel)
	ses := &m.sessions[ch]
	ses.low, ses.high = int(s.Low), int(s.High)
	ses.finish = m.env.Now().Add(s.Duration())
	m.env.Log.Info("heating extended", zap.Int("channel", ch), zap.Time("until", ses.finish))
	return m.control(ch)
}

func (m *Module) stopAll() error {
	var errs error
	for ch := range m.sessions {
		errs = multierr.Append(errs, m.end(ch))
	}
	return multierr.Append(errs, m.shutdownAll())
}

// end finishes the session on ch, if any, and switches the heater off.
func (m *Module) end(ch int) error {
	if m.sessions[ch].active {
		// The stop action sees an elapsed session and winds it down.
		m.sessions[ch].finish = time.Time{}
		slot, err := m.env.Sched.SlotFor(cmnd.State{Action: Letter, Channel: uint8(ch)})
		if err != nil {
			return err
		}
		err = m.env.Sched.ResetSlot(slot)
		m.sessions[ch] = session{}
		if err != nil {
			return multierr.Append(err, m.heat(ch, false))
		}
	}
	return m.heat(ch, false)
}

func (m *Module) check(ctx *timer.Context) {
	if err := m.control(int(ctx.Var1)); err != nil {
		m.env.Log.Error("control", zap.Uint16("channel", ctx.Var1), zap.Error(err))
	}
}

func (m *Module) expire(ctx *timer.Context) {
	ch := int(ctx.Var1)
	ses := &m.sessions[ch]
	if !ses.active {
		m.env.Log.Error("expiry on idle channel", zap.Int("channel", ch))
		_ = m.shutdownAll()
		return
	}

	if !m.env.Now().Before(ses.finish) {
		*ses = session{}
		if err := m.heat(ch, false); err != nil {
			m.env.Log.Error("switch off", zap.Int("channel", ch), zap.Error(err))
			_ = m.shutdownAll()
		}
		m.env.Log.Info("heating finished", zap.Int("channel", ch))
		return
	}

	if err := m.control(ch); err != nil {
		m.env.Log.Error("control, session ended", zap.Int("channel", ch), zap.Error(err))
		*ses = session{}
		return
	}
	if err := m.env.Sched.Restart(ctx.Timer, m.span); err != nil {
		m.env.Log.Error("re-arm", zap.Int("channel", ch), zap.Error(err))
		*ses = session{}
		_ = m.shutdownAll()
	}
}

// control switches the heater of ch according to its probe. Any failure to
// read a sane temperature cuts every heater.
func (m *Module) control(ch int) error {
	ses := m.sessions[ch]
	if !ses.active {
		_ = m.shutdownAll()
		return fmt.Errorf("channel %d not heating", ch)
	}

	probe := ch
	if ch < len(m.probes) {
		probe = m.probes[ch]
	}
	t, err := m.thermo.Celsius(probe)
	if err != nil {
		m.env.Debugf("HYST: channel %d: %v", ch, err)
		return multierr.Append(err, m.shutdownAll())
	}
	m.env.Debugf("HYST: channel %d: %.1f in %d..%d", ch, t, ses.low, ses.high)

	switch {
	case t > CutoffCelsius:
		m.env.Debugf("HYST: channel %d: %.1f above cutoff", ch, t)
		return multierr.Append(fmt.Errorf("channel %d at %.1f: %w", ch, t, ErrOverheat), m.shutdownAll())
	case t >= float64(ses.high):
		return m.heat(ch, false)
	case t < float64(ses.low):
		return m.heat(ch, true)
	}
	return nil
}

func (m *Module) heat(ch int, on bool) error {
	if err := m.relays.Set(ch, on); err != nil {
		return fmt.Errorf("heater %d: %w", ch, err)
	}
	return nil
}

func (m *Module) shutdownAll() error {
	var errs error
	for ch := 0; ch < m.relays.Count(); ch++ {
		errs = multierr.Append(errs, m.heat(ch, false))
	}
	return errs
}
