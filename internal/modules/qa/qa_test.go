package qa

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sweeney/homectl/internal/codec"
	"github.com/sweeney/homectl/internal/gpio"
	"github.com/sweeney/homectl/internal/modules/binout"
	"github.com/sweeney/homectl/internal/modules/modtest"
)

// binOn is B0<ch>5S with its checksum: switch ch on for five seconds.
func binOn(ch int) string {
	return modtest.Cmd("B0"+string(rune('0'+ch))+"5S", 0, ch, 5)
}

// add builds Q0 for input I/ch reporting v.
func add(ch, v int, command string) string {
	return modtest.Cmd("Q0I"+string(rune('0'+ch))+string(rune('0'+v))+command, 0, ch, v)
}

func setup(t *testing.T, store Store, maxRules int) (*modtest.Rig, *Module, *gpio.FakeOutputs) {
	t.Helper()
	rig := modtest.New(t, 4)
	out := gpio.NewFakeOutputs(4)
	q := New(rig.Env, rig.Ctrl, store, map[byte]int{'I': 2}, maxRules)
	rig.Register(t,
		binout.New(rig.Env, out, nil, []int{17, 18, 27, 22}).Descriptor(),
		q.Descriptor())
	out.Reset()
	return rig, q, out
}

func TestAddAndTrigger(t *testing.T) {
	store := &MemStore{}
	rig, q, out := setup(t, store, 0)

	require.NoError(t, rig.Send(add(1, 1, binOn(2))))
	require.Len(t, q.Rules(), 1)
	assert.Equal(t, Rule{Letter: 'I', Channel: 1, Value: 1, Command: []byte(binOn(2))}, q.Rules()[0])
	assert.Equal(t, 1, store.Saves)

	q.Trigger('I', 1, 0)
	q.Trigger('I', 0, 1)
	assert.False(t, out.States[2])

	q.Trigger('I', 1, 1)
	assert.True(t, out.States[2])

	rig.Tick(5)
	assert.False(t, out.States[2])
}

func TestDecodeRejects(t *testing.T) {
	rig, _, _ := setup(t, &MemStore{}, 0)

	cases := map[string]struct {
		payload string
		want    error
	}{
		"unknown trigger module": {modtest.Cmd("Q0X11"+binOn(0), 0, 1, 1), codec.ErrOutOfRange},
		"trigger channel":        {add(2, 1, binOn(0)), codec.ErrOutOfRange},
		"trigger value":          {add(1, 2, binOn(0)), codec.ErrOutOfRange},
		"nested quick action":    {add(1, 1, modtest.Cmd("Q2", 2)), codec.ErrOutOfRange},
		"nested checksum":        {add(1, 1, "B025S8"), codec.ErrChecksum},
		"outer checksum":         {"Q0I11" + binOn(0) + "9", codec.ErrChecksum},
		"no command":             {"Q0I11", codec.ErrShortPayload},
		"command digit":          {modtest.Cmd("Q5", 5), codec.ErrOutOfRange},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := rig.Send(tc.payload)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestTableLimit(t *testing.T) {
	rig, q, _ := setup(t, &MemStore{}, 2)

	require.NoError(t, rig.Send(add(0, 0, binOn(0))))
	require.NoError(t, rig.Send(add(0, 1, binOn(1))))
	assert.ErrorIs(t, rig.Send(add(1, 1, binOn(2))), ErrTableFull)

	// same trigger replaces the command
	require.NoError(t, rig.Send(add(0, 1, binOn(3))))
	require.Len(t, q.Rules(), 2)
	assert.Equal(t, []byte(binOn(3)), q.Rules()[1].Command)
}

func TestRemoveAndClear(t *testing.T) {
	store := &MemStore{}
	rig, q, _ := setup(t, store, 0)

	require.NoError(t, rig.Send(add(0, 0, binOn(0))))
	require.NoError(t, rig.Send(add(1, 1, binOn(1))))

	require.NoError(t, rig.Send(modtest.Cmd("Q1I00", 1, 0, 0)))
	require.Len(t, q.Rules(), 1)
	assert.Equal(t, uint8(1), q.Rules()[0].Channel)

	assert.ErrorIs(t, rig.Send(modtest.Cmd("Q1I00", 1, 0, 0)), ErrNoRule)

	require.NoError(t, rig.Send(modtest.Cmd("Q2", 2)))
	assert.Empty(t, q.Rules())
	assert.Empty(t, store.Rules)
}

func TestPauseResume(t *testing.T) {
	rig, q, out := setup(t, &MemStore{}, 0)
	require.NoError(t, rig.Send(add(0, 1, binOn(0))))

	require.NoError(t, rig.Send(modtest.Cmd("Q3", 3)))
	assert.True(t, q.Paused())
	q.Trigger('I', 0, 1)
	assert.False(t, out.States[0])

	require.NoError(t, rig.Send(modtest.Cmd("Q4", 4)))
	q.Trigger('I', 0, 1)
	assert.True(t, out.States[0])
}

func TestInitLoadsStoredRules(t *testing.T) {
	store := &MemStore{Rules: []Rule{
		{Letter: 'I', Channel: 0, Value: 1, Command: []byte(binOn(1))},
		{Letter: 'I', Channel: 1, Value: 1, Command: []byte("B9")},
	}}
	_, q, out := setup(t, store, 0)

	require.Len(t, q.Rules(), 1, "undecodable rule dropped")
	q.Trigger('I', 0, 1)
	assert.True(t, out.States[1])
}

func TestInitSurvivesBrokenStore(t *testing.T) {
	_, q, _ := setup(t, &MemStore{Err: errors.New("disk gone")}, 0)
	assert.Empty(t, q.Rules())
}

func TestSaveFailureReported(t *testing.T) {
	store := &MemStore{}
	rig, q, out := setup(t, store, 0)
	store.Err = errors.New("read-only")

	assert.Error(t, rig.Send(add(0, 1, binOn(0))))
	assert.Empty(t, q.Rules())
	q.Trigger('I', 0, 1)
	assert.False(t, out.States[0])
}

func TestSaveFailureKeepsRules(t *testing.T) {
	store := &MemStore{}
	rig, q, out := setup(t, store, 0)
	require.NoError(t, rig.Send(add(0, 1, binOn(0))))
	want := q.Rules()
	store.Err = errors.New("read-only")

	assert.Error(t, rig.Send(add(0, 1, binOn(3))), "replace")
	assert.Error(t, rig.Send(add(1, 1, binOn(1))), "append")
	assert.Error(t, rig.Send(modtest.Cmd("Q1I01", 1, 0, 1)), "remove")
	assert.Error(t, rig.Send(modtest.Cmd("Q2", 2)), "clear")
	assert.Equal(t, want, q.Rules())
	assert.Equal(t, want, store.Rules)

	q.Trigger('I', 0, 1)
	assert.Equal(t, []bool{true, false, false, false}, out.States)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "rules.cbor")
	fs := NewFileStore(path)

	rules, err := fs.Load()
	require.NoError(t, err)
	assert.Empty(t, rules, "missing file")

	want := []Rule{
		{Letter: 'I', Channel: 1, Value: 0, Command: []byte("B025S7")},
		{Letter: 'I', Channel: 0, Value: 1, Command: []byte("P000005S5")},
	}
	require.NoError(t, fs.Save(want))
	got, err := NewFileStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, os.WriteFile(path, []byte{0xff, 0x00}, 0o644))
	_, err = fs.Load()
	assert.Error(t, err)
}
