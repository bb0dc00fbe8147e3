// Package modtest builds a controller with a fake clock and a fake broker for
// module tests.
package modtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sweeney/homectl/internal/cmnd"
	"github.com/sweeney/homectl/internal/codec"
	"github.com/sweeney/homectl/internal/controller"
	"github.com/sweeney/homectl/internal/modules"
	"github.com/sweeney/homectl/internal/mqtt"
	"go.uber.org/zap/zaptest"
)

// Clock is a manually advanced time source.
type Clock struct{ T time.Time }

func (c *Clock) Now() time.Time          { return c.T }
func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// Rig is a controller wired to fakes.
type Rig struct {
	Clock  *Clock
	Ctrl   *controller.Controller
	MQTT   *mqtt.FakeClient
	Topics mqtt.Topics
	Env    modules.Env
}

// New creates a rig with a pool of poolSize timers.
func New(t *testing.T, poolSize int) *Rig {
	t.Helper()
	clk := &Clock{T: time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)}
	log := zaptest.NewLogger(t)
	fc := mqtt.NewFakeClient()
	topics := mqtt.NewTopics("ard", "test")

	ctrl := controller.New(controller.Options{
		Topics:        topics,
		PoolSize:      poolSize,
		SlotTableSize: 64,
		MaxModules:    16,
		Now:           clk.Now,
	}, fc, nil, log)

	return &Rig{
		Clock:  clk,
		Ctrl:   ctrl,
		MQTT:   fc,
		Topics: topics,
		Env: modules.Env{
			Sched:  ctrl,
			Pub:    fc,
			Topics: topics,
			Now:    clk.Now,
			Log:    log,
		},
	}
}

// Register registers d and boots the controller.
func (r *Rig) Register(t *testing.T, ds ...cmnd.Descriptor) {
	t.Helper()
	for _, d := range ds {
		require.NoError(t, r.Ctrl.Register(d))
	}
	require.NoError(t, r.Ctrl.Boot())
}

// Tick advances the clock one second at a time, ticking the controller.
func (r *Rig) Tick(n int) {
	for i := 0; i < n; i++ {
		r.Clock.Advance(time.Second)
		r.Ctrl.Tick()
	}
}

// Send runs a command through the controller.
func (r *Rig) Send(payload string) error {
	return r.Ctrl.Launch([]byte(payload))
}

// Cmd appends the checksum digit of the given numeric fields to body.
func Cmd(body string, fields ...int) string {
	return body + string(rune('0'+codec.Checksum(fields...)))
}
