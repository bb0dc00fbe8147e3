// Package modules holds what the hardware modules share: the scheduler they
// drive and the environment they publish through. Each module lives in its
// own sub-package and exposes a cmnd.Descriptor.
package modules

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/homectl/internal/cmnd"
	"github.com/sweeney/homectl/internal/mqtt"
	"github.com/sweeney/homectl/internal/timer"
	"go.uber.org/zap"
)

// Module errors.
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrHardware       = errors.New("hardware failure")
)

// Scheduler is the part of the controller a module drives.
type Scheduler interface {
	SlotFor(s cmnd.State) (int, error)
	IsSlotActive(id int) bool
	ScheduleAction(s cmnd.State, actions timer.Actions, ctx *timer.Context) error
	ScheduleRepeating(s cmnd.State, actions timer.Actions, ctx *timer.Context) error
	ResetSlot(id int) error
	ResetAllSlotsForModule(letter byte) error
	Restart(id timer.ID, d time.Duration) error
}

// Env bundles a module's collaborators.
type Env struct {
	Sched  Scheduler
	Pub    mqtt.Publisher
	Topics mqtt.Topics
	Now    func() time.Time
	Log    *zap.Logger
}

// Named returns a copy of e logging under name, with defaults filled in.
func (e Env) Named(name string) Env {
	if e.Log == nil {
		e.Log = zap.NewNop()
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	e.Log = e.Log.Named(name)
	return e
}

// Publish sends payload on topic and logs a failure.
func (e Env) Publish(topic, payload string) {
	if e.Pub == nil {
		return
	}
	if err := e.Pub.Publish(topic, []byte(payload)); err != nil {
		e.Log.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// Debugf publishes a line on the debug topic.
func (e Env) Debugf(format string, args ...any) {
	e.Publish(e.Topics.Debug, fmt.Sprintf(format, args...))
}

// UnknownCommand is the error executors return for a command digit they do
// not handle.
func UnknownCommand(s cmnd.State) error {
	return fmt.Errorf("%c%d: %w", s.Action, s.Command, ErrUnknownCommand)
}
