package binin

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweeney/homectl/internal/codec"
	"github.com/sweeney/homectl/internal/gpio"
	"github.com/sweeney/homectl/internal/logic"
	"github.com/sweeney/homectl/internal/modules/modtest"
)

type hit struct {
	letter    byte
	ch, value int
}

type recorder struct{ hits []hit }

func (r *recorder) Trigger(letter byte, ch, value int) {
	r.hits = append(r.hits, hit{letter, ch, value})
}

func setup(t *testing.T, initial []bool) (*modtest.Rig, *Module, *gpio.FakeInputs, *recorder) {
	t.Helper()
	rig := modtest.New(t, 2)
	in := gpio.NewFakeInputs(initial)
	m := New(rig.Env, in, nil, []int{26, 16}, 0)
	rec := &recorder{}
	m.SetTrigger(rec)
	rig.Register(t, m.Descriptor())
	return rig, m, in, rec
}

func poll(rig *modtest.Rig, m *Module, n int) []logic.Event {
	var all []logic.Event
	for i := 0; i < n; i++ {
		rig.Clock.Advance(100 * time.Millisecond)
		all = append(all, m.Poll(rig.Clock.Now())...)
	}
	return all
}

func TestDecode(t *testing.T) {
	m := New(modtest.New(t, 1).Env, gpio.NewFakeInputs(), nil, []int{1}, 0)

	s, n, err := m.Decode([]byte("11"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint8(1), s.Command)

	_, _, err = m.Decode([]byte("12"))
	assert.ErrorIs(t, err, codec.ErrChecksum)
	_, _, err = m.Decode([]byte("22"))
	assert.ErrorIs(t, err, codec.ErrOutOfRange)
}

func TestChangePublishedAndTriggered(t *testing.T) {
	rig, m, in, rec := setup(t, []bool{false, false})

	assert.Empty(t, poll(rig, m, 2), "baseline reports nothing")

	in.Push([]bool{false, true})
	events := poll(rig, m, 2)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Channel)

	assert.Equal(t, []string{"OPENED"}, rig.MQTT.On(rig.Topics.BinInChannel(1)))
	assert.Equal(t, []string{"Current: 01, Diff: 01"}, rig.MQTT.On(rig.Topics.BinInState()))
	assert.Equal(t, []hit{{'I', 1, 1}}, rec.hits)

	in.Push([]bool{true, false})
	poll(rig, m, 2)
	assert.Equal(t, []hit{{'I', 1, 1}, {'I', 0, 1}, {'I', 1, 0}}, rec.hits)
	assert.Equal(t, "Current: 10, Diff: 11", rig.MQTT.On(rig.Topics.BinInState())[1])
}

func TestPublishAllCommand(t *testing.T) {
	rig, m, _, _ := setup(t, []bool{true, false})

	err := rig.Send(modtest.Cmd("I0", 0))
	assert.ErrorIs(t, err, ErrNotReady)

	poll(rig, m, 2)
	rig.MQTT.Reset()

	require.NoError(t, rig.Send(modtest.Cmd("I0", 0)))
	assert.Equal(t, []string{"OPENED"}, rig.MQTT.On(rig.Topics.BinInChannel(0)))
	assert.Equal(t, []string{"CLOSED"}, rig.MQTT.On(rig.Topics.BinInChannel(1)))
	assert.Equal(t, []string{"Current: 10, Diff: 00"}, rig.MQTT.On(rig.Topics.BinInState()))
}

func TestRebaseline(t *testing.T) {
	rig, m, in, rec := setup(t, []bool{false, false})
	poll(rig, m, 2)

	require.NoError(t, rig.Send(modtest.Cmd("I1", 1)))
	states, ready := m.States()
	assert.False(t, ready)
	assert.Equal(t, []logic.State{"", ""}, states)

	in.Push([]bool{true, true})
	assert.Empty(t, poll(rig, m, 3))
	assert.Empty(t, rec.hits)

	states, ready = m.States()
	assert.True(t, ready)
	assert.Equal(t, []logic.State{logic.StateOpened, logic.StateOpened}, states)
}

func TestReadErrorSkipsSample(t *testing.T) {
	rig, m, in, _ := setup(t, []bool{false, false})
	in.ReadError = errors.New("chip gone")

	assert.Nil(t, poll(rig, m, 3))
	_, ready := m.States()
	assert.False(t, ready)

	in.ReadError = nil
	poll(rig, m, 2)
	_, ready = m.States()
	assert.True(t, ready)
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "Current: 0101, Diff: 0100",
		Summary([]logic.State{logic.StateClosed, logic.StateOpened, logic.StateClosed, logic.StateOpened},
			[]bool{false, true, false, false}))
	assert.Equal(t, "Current: , Diff: ", Summary(nil, nil))
}
