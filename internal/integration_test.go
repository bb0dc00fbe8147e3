package internal

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweeney/homectl/internal/cmnd"
	"github.com/sweeney/homectl/internal/codec"
	"github.com/sweeney/homectl/internal/controller"
	"github.com/sweeney/homectl/internal/gpio"
	"github.com/sweeney/homectl/internal/modules"
	"github.com/sweeney/homectl/internal/modules/binin"
	"github.com/sweeney/homectl/internal/modules/binout"
	"github.com/sweeney/homectl/internal/modules/hyst"
	"github.com/sweeney/homectl/internal/modules/pwm"
	"github.com/sweeney/homectl/internal/modules/qa"
	"github.com/sweeney/homectl/internal/modules/temp"
	"github.com/sweeney/homectl/internal/mqtt"
	"github.com/sweeney/homectl/internal/pins"
	"github.com/sweeney/homectl/internal/status"
	"github.com/sweeney/homectl/internal/timer"
	"github.com/sweeney/homectl/internal/web"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type stack struct {
	now     time.Time
	client  *mqtt.FakeClient
	topics  mqtt.Topics
	tracker *status.Tracker
	ctrl    *controller.Controller
	outputs *gpio.FakeOutputs
	inputs  *gpio.FakeInputs
	heaters *gpio.FakeOutputs
	pwm     *pwm.Fake
	probes  *temp.Fake
	binIn   *binin.Module
}

// newStack wires every module to fakes the way the daemon wires them to
// hardware, with commands arriving through the broker subscription.
func newStack(t *testing.T, poolSize int) *stack {
	t.Helper()
	log := zaptest.NewLogger(t)
	s := &stack{
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		client:  mqtt.NewFakeClient(),
		topics:  mqtt.NewTopics("ard", "integration"),
		outputs: gpio.NewFakeOutputs(4),
		inputs:  gpio.NewFakeInputs([]bool{false, false}),
		heaters: gpio.NewFakeOutputs(1),
		pwm:     pwm.NewFake(2),
		probes: &temp.Fake{
			Probes:   []string{"28-000001", "28-000002"},
			Readings: []float64{16.5, 40},
		},
	}
	clock := func() time.Time { return s.now }
	s.tracker = status.NewTracker(s.now, "integration", status.Config{Name: "integration", PoolSize: poolSize})

	s.ctrl = controller.New(controller.Options{
		Topics:        s.topics,
		PoolSize:      poolSize,
		SlotTableSize: 64,
		MaxModules:    16,
		Now:           clock,
	}, s.client, s.tracker, log)
	env := modules.Env{Sched: s.ctrl, Pub: s.client, Topics: s.topics, Now: clock, Log: log}
	reg := pins.NewRegistry(zap.NewNop())

	s.binIn = binin.New(env, s.inputs, reg, []int{26, 16}, 250*time.Millisecond)
	thermo := temp.New(env, s.probes, 2, 5*time.Second, 0)
	rules := qa.New(env, s.ctrl, &qa.MemStore{}, map[byte]int{binin.Letter: 2}, 0)
	s.binIn.SetTrigger(rules)

	for _, d := range []cmnd.Descriptor{
		binout.New(env, s.outputs, reg, []int{17, 18, 27, 22}).Descriptor(),
		s.binIn.Descriptor(),
		pwm.New(env, s.pwm, 25).Descriptor(),
		thermo.Descriptor(),
		hyst.New(env, s.heaters, thermo, []int{0}, reg, []int{23}, 20*time.Second).Descriptor(),
		rules.Descriptor(),
	} {
		require.NoError(t, s.ctrl.Register(d))
	}
	require.NoError(t, s.ctrl.Boot())
	require.NoError(t, s.client.Subscribe(s.topics.Commands, s.ctrl.HandleMessage))

	s.outputs.Reset()
	s.heaters.Reset()
	s.client.Reset()
	return s
}

// deliver sends payload with its checksum digit appended.
func (s *stack) deliver(t *testing.T, body string, fields ...int) {
	t.Helper()
	payload := body + string(rune('0'+codec.Checksum(fields...)))
	require.True(t, s.client.Deliver(s.topics.Commands, []byte(payload)))
}

func (s *stack) seconds(n int) {
	for i := 0; i < n; i++ {
		s.now = s.now.Add(time.Second)
		s.ctrl.Tick()
	}
}

func (s *stack) polls(n int) {
	for i := 0; i < n; i++ {
		s.now = s.now.Add(100 * time.Millisecond)
		s.binIn.Poll(s.now)
	}
}

func TestIntegrationModulesShareThePool(t *testing.T) {
	s := newStack(t, 16)

	s.deliver(t, "B025S", 0, 2, 5)
	s.deliver(t, "P310255S", 3, 1, 0, 2, 5, 5)
	s.deliver(t, "T10", 1, 0)
	s.deliver(t, "H1018225M", 1, 0, 1, 8, 2, 2, 5)
	assert.Equal(t, 12, s.ctrl.TimersFree())

	assert.True(t, s.outputs.States[2])
	assert.Equal(t, 25, s.pwm.Duties[1])
	assert.True(t, s.heaters.States[0], "16.5 is below 18")

	s.seconds(5)
	assert.False(t, s.outputs.States[2])
	assert.Equal(t, []string{"16.50"}, s.client.On(s.topics.TempProbe(0)))
	assert.Equal(t, []string{"40.00"}, s.client.On(s.topics.TempProbe(1)))

	s.probes.Readings[0] = 22.5
	s.seconds(15)
	assert.False(t, s.heaters.States[0], "22.5 is above 22")
	assert.Equal(t, 0, s.pwm.Duties[1])

	s.seconds(280)
	assert.Equal(t, 16, s.ctrl.TimersFree())
	for _, sl := range s.ctrl.Slots() {
		assert.False(t, sl.Active, "slot %d", sl.Slot)
	}
}

func TestIntegrationQuickAction(t *testing.T) {
	s := newStack(t, 4)

	// I0 OPENED switches B1 on for a minute
	nested := "B011M" + string(rune('0'+codec.Checksum(0, 1, 1)))
	s.deliver(t, "Q0I01"+nested, 0, 0, 1)

	s.polls(5)
	assert.Empty(t, s.client.On(s.topics.BinInChannel(0)), "no events while baselining")

	s.inputs.Push([]bool{true, false})
	s.polls(5)
	assert.Equal(t, []string{"OPENED"}, s.client.On(s.topics.BinInChannel(0)))
	assert.Equal(t, []string{"Current: 10, Diff: 10"}, s.client.On(s.topics.BinInState()))
	assert.True(t, s.outputs.States[1])

	s.seconds(60)
	assert.False(t, s.outputs.States[1])
}

func TestIntegrationPoolExhaustion(t *testing.T) {
	s := newStack(t, 2)

	s.deliver(t, "B005M", 0, 0, 5)
	s.deliver(t, "B015M", 0, 1, 5)
	s.deliver(t, "B025M", 0, 2, 5)

	assert.Equal(t, []bool{true, true, false, false}, s.outputs.States)
	debug := s.client.On(s.topics.Debug)
	require.Len(t, debug, 1)
	assert.True(t, strings.HasPrefix(debug[0], "FAILED B025M"), debug[0])
	assert.Contains(t, debug[0], timer.ErrPoolExhausted.Error())

	// the first two keep running
	s.seconds(300)
	assert.Equal(t, []bool{false, false, false, false}, s.outputs.States)
	assert.Equal(t, 2, s.ctrl.TimersFree())
}

func TestIntegrationRejectedCommandsNeverExecute(t *testing.T) {
	s := newStack(t, 4)

	for _, payload := range []string{"B025S0", "X00", "", "B9", "P100005S9"} {
		require.True(t, s.client.Deliver(s.topics.Commands, []byte(payload)))
	}
	assert.Empty(t, s.outputs.Writes)
	assert.Equal(t, []int{0, 0}, s.pwm.Duties)
	assert.Len(t, s.client.On(s.topics.Debug), 5)

	snap := s.tracker.Snapshot()
	assert.Equal(t, 5, snap.Counters.Received)
	assert.Equal(t, 5, snap.Counters.Rejected)
}

func TestIntegrationShutdownSwitchesEverythingOff(t *testing.T) {
	s := newStack(t, 16)

	s.deliver(t, "B005H", 0, 0, 5)
	s.deliver(t, "B035H", 0, 3, 5)
	s.deliver(t, "P000005H", 0, 0, 0, 0, 0, 5)
	s.deliver(t, "H1018225H", 1, 0, 1, 8, 2, 2, 5)

	require.NoError(t, s.ctrl.Shutdown())
	assert.Equal(t, []bool{false, false, false, false}, s.outputs.States)
	assert.Equal(t, 0, s.pwm.Duties[0])
	assert.False(t, s.heaters.States[0])
	assert.Equal(t, 16, s.ctrl.TimersFree())
}

func TestIntegrationStatusOverHTTP(t *testing.T) {
	s := newStack(t, 4)
	s.deliver(t, "B025M", 0, 2, 5)
	s.deliver(t, "B025M", 0, 2, 6)
	s.polls(5)
	s.tracker.SetInputs(s.binIn.States())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := web.New("", s.tracker)
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	resp, err := http.Get("http://" + ln.Addr().String() + "/index.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var got status.StatusJSON
	require.NoError(t, json.Unmarshal(body, &got))

	var letters []string
	for _, m := range got.Status.Modules {
		letters = append(letters, m.Letter)
	}
	assert.Equal(t, []string{"B", "I", "P", "T", "H", "Q"}, letters)
	require.Len(t, got.Status.Slots, 1)
	assert.Equal(t, "B", got.Status.Slots[0].Module)
	assert.Equal(t, 2, got.Status.Slots[0].Channel)
	assert.Equal(t, 3, got.Status.Timers.Free)
	assert.Equal(t, 2, got.Status.Commands.Received)
	assert.Equal(t, 1, got.Status.Commands.Rejected)
	assert.Equal(t, []string{"CLOSED", "CLOSED"}, got.Status.Inputs.States)
	assert.True(t, got.Status.Inputs.Ready)
}
