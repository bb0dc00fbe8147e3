// Package slots maps every module's logical channels onto one flat slot-id
// space and brokers timed actions for them.
//
// A slot is the scheduling unit. Scheduling an action on an idle slot starts a
// timer whose callbacks are routed through the slot; scheduling on a busy slot
// only extends that timer's deadline, so a repeated "on for N seconds" never
// toggles the hardware.
package slots

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/homectl/internal/cmnd"
	"github.com/sweeney/homectl/internal/timer"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Slot errors.
var (
	ErrSlotTableFull = errors.New("slot table full")
	ErrNoSlot        = errors.New("no slot for channel")
	ErrInconsistent  = errors.New("slot bound to an inactive timer")
)

// DefaultTableSize is the slot table size used when none is configured.
const DefaultTableSize = 64

// Timers is the part of the timer engine the manager drives.
type Timers interface {
	Start(actions timer.Actions, ctx timer.Context, d time.Duration, kind timer.Kind) (timer.ID, error)
	Restart(id timer.ID, d time.Duration) error
	Stop(id timer.ID) error
	ResetSilently(id timer.ID) error
	IsActive(id timer.ID) bool
	Context(id timer.ID) *timer.Context
}

type slot struct {
	// bound is the timer driving this slot, or timer.None when idle.
	bound   timer.ID
	actions timer.Actions
}

type module struct {
	letter byte
	base   int
	count  int
}

// Manager owns the slot table.
type Manager struct {
	slots   []slot
	modules []module
	next    int
	timers  Timers
	log     *zap.Logger
}

// New creates a manager with size slots backed by timers.
func New(size int, timers Timers, log *zap.Logger) *Manager {
	if size <= 0 {
		size = DefaultTableSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		slots:  make([]slot, size),
		timers: timers,
		log:    log,
	}
	for i := range m.slots {
		m.slots[i].bound = timer.None
	}
	return m
}

// RegisterModule reserves count consecutive slots for the module and returns
// the first of them. Bases follow registration order.
func (m *Manager) RegisterModule(letter byte, count int) (int, error) {
	if count < 0 {
		count = 0
	}
	if m.next+count > len(m.slots) {
		return -1, fmt.Errorf("module %q needs %d slots, %d left: %w",
			letter, count, len(m.slots)-m.next, ErrSlotTableFull)
	}
	if _, ok := m.module(letter); ok {
		return -1, fmt.Errorf("slots for %q: %w", letter, cmnd.ErrDuplicateModule)
	}

	base := m.next
	m.modules = append(m.modules, module{letter: letter, base: base, count: count})
	m.next += count

	m.log.Info("slots reserved",
		zap.String("letter", string(letter)),
		zap.Int("first", base),
		zap.Int("count", count))
	return base, nil
}

// SlotOf returns the slot of channel ch of the module with the given letter.
func (m *Manager) SlotOf(letter byte, ch int) (int, error) {
	mod, ok := m.module(letter)
	if !ok {
		return -1, fmt.Errorf("slot of %q: %w", letter, cmnd.ErrUnknownModule)
	}
	if ch < 0 || ch >= mod.count {
		return -1, fmt.Errorf("%q channel %d of %d: %w", letter, ch, mod.count, ErrNoSlot)
	}
	return mod.base + ch, nil
}

// SlotFor returns the slot addressed by a decoded command.
func (m *Manager) SlotFor(s cmnd.State) (int, error) {
	return m.SlotOf(s.Action, int(s.Channel))
}

// Base returns the first slot and the slot count of a module.
func (m *Manager) Base(letter byte) (base, count int, ok bool) {
	mod, ok := m.module(letter)
	return mod.base, mod.count, ok
}

// IsSlotActive reports whether a timer is driving slot id.
func (m *Manager) IsSlotActive(id int) bool {
	if id < 0 || id >= len(m.slots) {
		return false
	}
	return m.slots[id].bound != timer.None
}

// ScheduleAction runs actions on the slot addressed by s for s.Count seconds.
// On an idle slot the start action runs now and the stop action at the
// deadline. On an active slot only the deadline is moved.
//
// ctx.Slot and ctx.Timer are filled in on success.
func (m *Manager) ScheduleAction(s cmnd.State, actions timer.Actions, ctx *timer.Context) error {
	return m.schedule(s, actions, ctx, timer.Once)
}

// ScheduleRepeating is ScheduleAction with the start action also called on
// every tick until the deadline.
func (m *Manager) ScheduleRepeating(s cmnd.State, actions timer.Actions, ctx *timer.Context) error {
	return m.schedule(s, actions, ctx, timer.Repeating)
}

func (m *Manager) schedule(s cmnd.State, actions timer.Actions, ctx *timer.Context, kind timer.Kind) error {
	id, err := m.SlotFor(s)
	if err != nil {
		m.log.Warn("schedule: no slot", zap.Error(err))
		return err
	}

	m.log.Debug("schedule",
		zap.String("letter", string(s.Action)),
		zap.Int("slot", id),
		zap.Uint32("count", s.Count))

	sl := &m.slots[id]
	d := s.Duration()

	if sl.bound != timer.None {
		if err := m.timers.Restart(sl.bound, d); err != nil {
			m.log.Error("retrigger failed, resetting slot", zap.Int("slot", id), zap.Error(err))
			m.forceIdle(id)
			return fmt.Errorf("retrigger slot %d: %w", id, err)
		}
		m.log.Debug("slot extended", zap.Int("slot", id), zap.Duration("span", d))
		if ctx != nil {
			ctx.Slot = id
			ctx.Timer = sl.bound
		}
		return nil
	}

	var c timer.Context
	if ctx != nil {
		c = *ctx
	}
	c.Slot = id
	sl.actions = actions

	tid, err := m.timers.Start(m.wrapped(), c, d, kind)
	if err != nil {
		m.forceIdle(id)
		return fmt.Errorf("schedule slot %d: %w", id, err)
	}

	if ctx != nil {
		ctx.Slot = id
		ctx.Timer = tid
	}
	return nil
}

// wrapped returns the callbacks handed to the timer engine. They keep the
// slot binding in step with the timer and dispatch to the slot's own actions.
func (m *Manager) wrapped() timer.Actions {
	return timer.Actions{Start: m.startWrapper, Stop: m.stopWrapper}
}

func (m *Manager) startWrapper(ctx *timer.Context) {
	if ctx.Slot < 0 || ctx.Slot >= len(m.slots) {
		m.log.Error("start for unknown slot", zap.Int("slot", ctx.Slot))
		return
	}
	sl := &m.slots[ctx.Slot]
	sl.bound = ctx.Timer

	if sl.actions.Start == nil {
		m.log.Error("slot has no start action", zap.Int("slot", ctx.Slot))
		return
	}
	sl.actions.Start(ctx)
}

func (m *Manager) stopWrapper(ctx *timer.Context) {
	if ctx.Slot < 0 || ctx.Slot >= len(m.slots) {
		m.log.Error("stop for unknown slot", zap.Int("slot", ctx.Slot))
		return
	}
	id := ctx.Timer
	sl := &m.slots[ctx.Slot]

	if err := m.timers.ResetSilently(id); err != nil {
		m.log.Error("stop: reset timer", zap.Int("timer", int(id)), zap.Error(err))
	}

	if sl.actions.Stop != nil {
		sl.actions.Stop(ctx)
	} else {
		m.log.Error("slot has no stop action", zap.Int("slot", ctx.Slot))
	}

	if !m.timers.IsActive(id) {
		m.release(ctx.Slot)
	}
}

// ResetSlot stops whatever runs on slot id and leaves it idle. The stop
// action runs, so the hardware is switched off. Resetting an idle slot is a
// no-op.
func (m *Manager) ResetSlot(id int) error {
	if id < 0 || id >= len(m.slots) {
		return fmt.Errorf("reset slot %d: %w", id, ErrNoSlot)
	}

	sl := &m.slots[id]
	tid := sl.bound
	if tid == timer.None {
		return nil
	}

	if !m.timers.IsActive(tid) {
		m.log.Error("slot bound to inactive timer", zap.Int("slot", id), zap.Int("timer", int(tid)))
		m.forceIdle(id)
		return fmt.Errorf("reset slot %d: %w", id, ErrInconsistent)
	}

	if err := m.timers.Stop(tid); err != nil {
		m.log.Error("reset slot: stop timer", zap.Int("slot", id), zap.Error(err))
		m.forceIdle(id)
		return fmt.Errorf("reset slot %d: %w", id, err)
	}

	if m.timers.IsActive(tid) {
		// re-armed by its own stop action
		_ = m.timers.ResetSilently(tid)
	}
	m.release(id)
	return nil
}

// ResetAllSlotsForModule resets every slot of the module. It carries on past
// failures and returns them all.
func (m *Manager) ResetAllSlotsForModule(letter byte) error {
	mod, ok := m.module(letter)
	if !ok {
		return fmt.Errorf("reset %q: %w", letter, cmnd.ErrUnknownModule)
	}

	var errs error
	for id := mod.base; id < mod.base+mod.count; id++ {
		errs = multierr.Append(errs, m.ResetSlot(id))
	}
	return errs
}

// Context returns the action context of the timer bound to slot id, or nil
// when the slot is idle.
func (m *Manager) Context(id int) *timer.Context {
	if !m.IsSlotActive(id) {
		return nil
	}
	return m.timers.Context(m.slots[id].bound)
}

// Info describes one slot.
type Info struct {
	Slot    int
	Letter  byte
	Channel int
	Active  bool
	Timer   timer.ID
}

// Snapshot lists every reserved slot.
func (m *Manager) Snapshot() []Info {
	out := make([]Info, 0, m.next)
	for _, mod := range m.modules {
		for ch := 0; ch < mod.count; ch++ {
			id := mod.base + ch
			out = append(out, Info{
				Slot:    id,
				Letter:  mod.letter,
				Channel: ch,
				Active:  m.slots[id].bound != timer.None,
				Timer:   m.slots[id].bound,
			})
		}
	}
	return out
}

func (m *Manager) module(letter byte) (module, bool) {
	for _, mod := range m.modules {
		if mod.letter == letter {
			return mod, true
		}
	}
	return module{}, false
}

func (m *Manager) release(id int) {
	m.slots[id].bound = timer.None
	m.slots[id].actions = timer.Actions{}
}

func (m *Manager) forceIdle(id int) {
	if tid := m.slots[id].bound; tid != timer.None && m.timers.IsActive(tid) {
		_ = m.timers.ResetSilently(tid)
	}
	m.release(id)
}
