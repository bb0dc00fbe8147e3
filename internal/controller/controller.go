// Package controller is the scheduler context: it owns the module registry,
// the slot table and the timer pool, and turns command payloads into
// executed actions. Everything here runs on the daemon's single loop
// goroutine.
package controller

import (
	"fmt"
	"time"

	"github.com/sweeney/homectl/internal/cmnd"
	"github.com/sweeney/homectl/internal/mqtt"
	"github.com/sweeney/homectl/internal/slots"
	"github.com/sweeney/homectl/internal/status"
	"github.com/sweeney/homectl/internal/timer"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options sizes the scheduler.
type Options struct {
	Topics          mqtt.Topics
	PoolSize        int
	SlotTableSize   int
	MaxModules      int
	OpenEndedRepeat bool
	Now             func() time.Time
}

// Periodic is implemented by modules with background work, called once per
// second from Tick.
type Periodic interface {
	Periodic(now time.Time)
}

type Controller struct {
	registry *cmnd.Registry
	slots    *slots.Manager
	timers   *timer.Engine
	periodic []Periodic

	pub     mqtt.Publisher
	topics  mqtt.Topics
	tracker *status.Tracker
	now     func() time.Time
	log     *zap.Logger
}

// New builds an empty controller. tracker may be nil.
func New(opts Options, pub mqtt.Publisher, tracker *status.Tracker, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	var topts []timer.Option
	if opts.OpenEndedRepeat {
		topts = append(topts, timer.WithOpenEndedRepeat())
	}
	timers := timer.New(opts.PoolSize, now, log.Named("timer"), topts...)

	return &Controller{
		registry: cmnd.NewRegistry(opts.MaxModules, log.Named("registry")),
		slots:    slots.New(opts.SlotTableSize, timers, log.Named("slots")),
		timers:   timers,
		pub:      pub,
		topics:   opts.Topics,
		tracker:  tracker,
		now:      now,
		log:      log,
	}
}

// Register adds a module and reserves its slots. If the slots cannot be
// reserved the module is removed again and never sees a command.
func (c *Controller) Register(d cmnd.Descriptor) error {
	if err := c.registry.Register(d); err != nil {
		c.log.Error("register module", zap.String("module", d.Name), zap.Error(err))
		return err
	}
	if _, err := c.slots.RegisterModule(d.Letter, d.Channels); err != nil {
		c.registry.Unregister(d.Letter)
		c.log.Error("reserve slots", zap.String("module", d.Name), zap.Error(err))
		return err
	}
	return nil
}

// AddPeriodic adds p to the work done on every Tick.
func (c *Controller) AddPeriodic(p Periodic) {
	c.periodic = append(c.periodic, p)
}

// Boot initialises every registered module. Modules that fail to initialise
// are reported and the rest keep running.
func (c *Controller) Boot() error {
	err := c.registry.InitAll()
	if err != nil {
		c.log.Error("module init", zap.Error(err))
	}
	if c.tracker != nil {
		c.tracker.SetModules(c.Modules())
		c.publishScheduler()
	}
	return err
}

// HandleMessage takes one delivery from the broker. Only the commands topic is
// acted on.
func (c *Controller) HandleMessage(topic string, payload []byte) {
	if topic != c.topics.Commands {
		c.log.Debug("ignoring message", zap.String("topic", topic))
		return
	}
	_ = c.Launch(payload)
}

// Launch decodes and executes one command. Decode failures never reach an
// executor. The outcome is logged, counted and errors are echoed on the
// debug topic.
func (c *Controller) Launch(payload []byte) error {
	text := string(payload)

	s, n, err := c.registry.Decode(payload)
	if err != nil {
		c.log.Warn("command rejected", zap.String("payload", text), zap.Error(err))
		c.debugf("REJECTED %s: %v", text, err)
		c.record(text, true, err)
		return fmt.Errorf("decode %q: %w", text, err)
	}
	if n < len(payload) {
		c.log.Debug("trailing bytes ignored",
			zap.String("payload", text),
			zap.Int("consumed", n))
	}

	if err := c.registry.Execute(s); err != nil {
		c.log.Warn("command failed", zap.String("payload", text), zap.Error(err))
		c.debugf("FAILED %s: %v", text, err)
		c.record(text, false, err)
		return fmt.Errorf("execute %q: %w", text, err)
	}

	c.log.Info("command executed",
		zap.String("payload", text),
		zap.String("module", string(s.Action)),
		zap.Uint8("command", s.Command),
		zap.Uint8("channel", s.Channel))
	c.record(text, false, nil)
	c.publishScheduler()
	return nil
}

// Decode decodes a command without executing it. Modules that embed commands
// use it to validate them.
func (c *Controller) Decode(payload []byte) (cmnd.State, int, error) {
	return c.registry.Decode(payload)
}

// Tick advances the timer pool and runs periodic module work. Call it once per
// second.
func (c *Controller) Tick() {
	c.timers.Tick()
	now := c.now()
	for _, p := range c.periodic {
		p.Periodic(now)
	}
	c.publishScheduler()
}

// Shutdown runs the modules' shutdown hooks and resets every slot so outputs
// are switched off.
func (c *Controller) Shutdown() error {
	var errs error
	for _, d := range c.registry.Modules() {
		if d.Shutdown != nil {
			errs = multierr.Append(errs, d.Shutdown())
		}
		if d.Channels == 0 {
			continue
		}
		errs = multierr.Append(errs, c.slots.ResetAllSlotsForModule(d.Letter))
	}
	c.publishScheduler()
	return errs
}

// Scheduler operations handed to modules.

func (c *Controller) SlotFor(s cmnd.State) (int, error) { return c.slots.SlotFor(s) }

func (c *Controller) IsSlotActive(id int) bool { return c.slots.IsSlotActive(id) }

func (c *Controller) ScheduleAction(s cmnd.State, actions timer.Actions, ctx *timer.Context) error {
	return c.slots.ScheduleAction(s, actions, ctx)
}

func (c *Controller) ScheduleRepeating(s cmnd.State, actions timer.Actions, ctx *timer.Context) error {
	return c.slots.ScheduleRepeating(s, actions, ctx)
}

func (c *Controller) ResetSlot(id int) error { return c.slots.ResetSlot(id) }

func (c *Controller) ResetAllSlotsForModule(letter byte) error {
	return c.slots.ResetAllSlotsForModule(letter)
}

func (c *Controller) SlotContext(id int) *timer.Context { return c.slots.Context(id) }

// Restart re-arms a running timer, typically from its own stop action.
func (c *Controller) Restart(id timer.ID, d time.Duration) error {
	return c.timers.Restart(id, d)
}

// TimersFree returns the number of idle timers.
func (c *Controller) TimersFree() int { return c.timers.Free() }

// Modules lists the registered modules for status display.
func (c *Controller) Modules() []status.Module {
	var out []status.Module
	for _, d := range c.registry.Modules() {
		base, _, ok := c.slots.Base(d.Letter)
		if !ok {
			base = -1
		}
		out = append(out, status.Module{
			Name:      d.Name,
			Letter:    string(d.Letter),
			Channels:  d.Channels,
			FirstSlot: base,
		})
	}
	return out
}

// Slots lists the slot table for status display.
func (c *Controller) Slots() []status.Slot {
	infos := c.slots.Snapshot()
	out := make([]status.Slot, 0, len(infos))
	for _, in := range infos {
		out = append(out, status.Slot{
			Slot:    in.Slot,
			Module:  string(in.Letter),
			Channel: in.Channel,
			Active:  in.Active,
			Timer:   int(in.Timer),
		})
	}
	return out
}

func (c *Controller) publishScheduler() {
	if c.tracker == nil {
		return
	}
	c.tracker.SetScheduler(c.Slots(), c.timers.Free())
}

func (c *Controller) record(payload string, rejected bool, err error) {
	if c.tracker != nil {
		c.tracker.RecordCommand(payload, rejected, err)
	}
}

func (c *Controller) debugf(format string, args ...any) {
	if c.pub == nil {
		return
	}
	if err := c.pub.Publish(c.topics.Debug, []byte(fmt.Sprintf(format, args...))); err != nil {
		c.log.Warn("debug publish failed", zap.Error(err))
	}
}
