// Package timer implements the fixed-size timer pool that backs every timed
// hardware action.
//
// A timer invokes its start action synchronously when started and its stop
// action once its deadline has passed (or when stopped explicitly). Timers are
// swept by Tick, which the main loop calls once per wall-clock second. The
// engine is not safe for concurrent use: it is owned by the single scheduler
// goroutine.
package timer

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Timer errors.
var (
	ErrPoolExhausted  = errors.New("timer pool exhausted")
	ErrInvalidTimer   = errors.New("invalid timer id")
	ErrTimerNotActive = errors.New("timer not active")
	ErrNoStopAction   = errors.New("timer has no stop action")
)

// ID identifies a timer in the pool.
type ID int

// None is the ID of no timer.
const None ID = -1

// DefaultPoolSize is the pool size used when none is configured.
const DefaultPoolSize = 16

// Kind selects what a timer does while its window is open.
type Kind uint8

const (
	// Once calls the start action when started and the stop action at the deadline.
	Once Kind = iota
	// Repeating additionally calls the start action on every tick before the deadline.
	Repeating
)

func (k Kind) String() string {
	switch k {
	case Once:
		return "once"
	case Repeating:
		return "repeating"
	default:
		return "unknown"
	}
}

// Context is handed to start and stop actions. Var1 and Var2 belong to the
// module that scheduled the action; the engine never interprets them.
type Context struct {
	Var1  uint16
	Var2  uint16
	Slot  int
	Timer ID
}

// Action is a start or stop callback. It receives the timer's own context, so
// changes to Var1/Var2 persist across calls.
type Action func(ctx *Context)

// Actions pairs the start and stop callbacks of a timer.
type Actions struct {
	Start Action
	Stop  Action
}

type state uint8

const (
	stateFree state = iota
	stateActive
	// stateStopping marks a timer whose stop action is running. It is not
	// active, but the stop action may still re-arm it with Restart.
	stateStopping
)

type timer struct {
	state   state
	kind    Kind
	start   time.Time
	stop    time.Time
	span    time.Duration
	actions Actions
	ctx     Context
	pass    uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithOpenEndedRepeat makes Repeating timers re-arm for their original span
// when the deadline is reached, instead of stopping. They then run until
// stopped explicitly.
func WithOpenEndedRepeat() Option {
	return func(e *Engine) { e.openEnded = true }
}

// Engine is a fixed pool of timers.
type Engine struct {
	timers    []timer
	now       func() time.Time
	log       *zap.Logger
	openEnded bool
	pass      uint64
}

// New creates an engine with size timers. now is the time source; only its
// monotonicity within a session matters.
func New(size int, now func() time.Time, log *zap.Logger, opts ...Option) *Engine {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		timers: make([]timer, size),
		now:    now,
		log:    log,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Size returns the pool size.
func (e *Engine) Size() int { return len(e.timers) }

// Free returns the number of free timers.
func (e *Engine) Free() int {
	n := 0
	for i := range e.timers {
		if e.timers[i].state == stateFree {
			n++
		}
	}
	return n
}

// IsActive reports whether id refers to an active timer.
func (e *Engine) IsActive(id ID) bool {
	if !e.valid(id) {
		return false
	}
	return e.timers[id].state == stateActive
}

// Context returns the context stored with timer id, or nil for a bad id.
func (e *Engine) Context(id ID) *Context {
	if !e.valid(id) {
		return nil
	}
	return &e.timers[id].ctx
}

// Start allocates the first free timer, arms it for d and calls the start
// action before returning. ctx.Timer is set to the new id before any action
// runs.
func (e *Engine) Start(actions Actions, ctx Context, d time.Duration, kind Kind) (ID, error) {
	id := e.firstFree()
	if id == None {
		e.log.Warn("no free timer", zap.Int("pool", len(e.timers)))
		return None, ErrPoolExhausted
	}

	now := e.now()
	t := &e.timers[id]
	*t = timer{
		state:   stateActive,
		kind:    kind,
		start:   now,
		stop:    now.Add(d),
		span:    d,
		actions: actions,
		ctx:     ctx,
		pass:    e.pass,
	}
	t.ctx.Timer = id

	e.log.Debug("timer start",
		zap.Int("timer", int(id)),
		zap.Int("slot", t.ctx.Slot),
		zap.Duration("span", d),
		zap.Stringer("kind", kind))

	if t.actions.Start != nil {
		t.actions.Start(&t.ctx)
	}
	return id, nil
}

// Restart re-arms timer id for d from now. It does not call any action. It is
// valid on an active timer and on a timer whose stop action is running.
func (e *Engine) Restart(id ID, d time.Duration) error {
	if !e.valid(id) || e.timers[id].state == stateFree {
		e.log.Error("restart of bad timer", zap.Int("timer", int(id)))
		return fmt.Errorf("restart %d: %w", id, ErrInvalidTimer)
	}

	now := e.now()
	t := &e.timers[id]
	t.start = now
	t.stop = now.Add(d)
	t.span = d
	t.state = stateActive
	t.pass = e.pass
	return nil
}

// Stop deactivates timer id and calls its stop action. The stop action may
// re-arm the timer with Restart; otherwise the timer returns to the pool.
func (e *Engine) Stop(id ID) error {
	if !e.valid(id) {
		e.log.Error("stop of bad timer", zap.Int("timer", int(id)))
		return fmt.Errorf("stop %d: %w", id, ErrInvalidTimer)
	}

	t := &e.timers[id]
	if t.state != stateActive {
		e.log.Error("stop of inactive timer", zap.Int("timer", int(id)))
		return fmt.Errorf("stop %d: %w", id, ErrTimerNotActive)
	}

	e.log.Debug("timer stop",
		zap.Int("timer", int(id)),
		zap.Uint16("var1", t.ctx.Var1),
		zap.Uint16("var2", t.ctx.Var2),
		zap.Int("slot", t.ctx.Slot))

	t.state = stateStopping
	if t.actions.Stop == nil {
		t.state = stateFree
		e.log.Error("active timer without stop action", zap.Int("timer", int(id)))
		return fmt.Errorf("stop %d: %w", id, ErrNoStopAction)
	}

	t.actions.Stop(&t.ctx)

	if t.state == stateActive {
		e.log.Debug("timer re-armed by its stop action", zap.Int("timer", int(id)))
		return nil
	}
	t.state = stateFree
	return nil
}

// ResetSilently deactivates timer id without calling its stop action.
func (e *Engine) ResetSilently(id ID) error {
	if !e.valid(id) {
		e.log.Error("reset of bad timer", zap.Int("timer", int(id)))
		return fmt.Errorf("reset %d: %w", id, ErrInvalidTimer)
	}

	t := &e.timers[id]
	switch t.state {
	case stateActive:
		t.state = stateFree
	case stateStopping:
		// Stop frees it once the stop action returns, unless re-armed.
	}
	return nil
}

// Tick sweeps all timers in ascending id order. Expired timers are stopped;
// repeating timers that have not expired get their start action called again.
// A timer armed during this sweep is not looked at again until the next one.
func (e *Engine) Tick() {
	e.pass++
	now := e.now()

	for i := range e.timers {
		t := &e.timers[i]
		if t.state != stateActive || t.pass == e.pass {
			continue
		}

		if !now.Before(t.stop) {
			if t.kind == Repeating && e.openEnded {
				t.start = now
				t.stop = now.Add(t.span)
				continue
			}
			if err := e.Stop(ID(i)); err != nil {
				e.log.Error("expire timer", zap.Int("timer", i), zap.Error(err))
			}
			continue
		}

		if t.kind == Repeating && t.actions.Start != nil {
			t.actions.Start(&t.ctx)
		}
	}
}

// Info describes an active timer.
type Info struct {
	ID        ID
	Kind      Kind
	Slot      int
	Var1      uint16
	Var2      uint16
	Remaining time.Duration
}

// Snapshot lists the active timers.
func (e *Engine) Snapshot() []Info {
	now := e.now()
	var out []Info
	for i := range e.timers {
		t := &e.timers[i]
		if t.state != stateActive {
			continue
		}
		out = append(out, Info{
			ID:        ID(i),
			Kind:      t.kind,
			Slot:      t.ctx.Slot,
			Var1:      t.ctx.Var1,
			Var2:      t.ctx.Var2,
			Remaining: t.stop.Sub(now),
		})
	}
	return out
}

func (e *Engine) valid(id ID) bool {
	return id >= 0 && int(id) < len(e.timers)
}

func (e *Engine) firstFree() ID {
	for i := range e.timers {
		if e.timers[i].state == stateFree {
			return ID(i)
		}
	}
	return None
}
