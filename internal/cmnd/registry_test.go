package cmnd

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"
)

func twoByteDecoder(payload []byte) (State, int, error) {
	if len(payload) < 2 {
		return State{}, 0, errors.New("short")
	}
	return State{Command: payload[0] - '0', Channel: payload[1] - '0'}, 2, nil
}

func TestRegisterRejectsDuplicatesAndOverflow(t *testing.T) {
	r := NewRegistry(2, zaptest.NewLogger(t))

	require.NoError(t, r.Register(Descriptor{Name: "bin_out", Letter: 'B'}))
	assert.ErrorIs(t, r.Register(Descriptor{Name: "other", Letter: 'B'}), ErrDuplicateModule)
	require.NoError(t, r.Register(Descriptor{Name: "pwm", Letter: 'P'}))
	assert.ErrorIs(t, r.Register(Descriptor{Name: "temp", Letter: 'T'}), ErrTableFull)

	i, ok := r.Resolve('P')
	assert.True(t, ok)
	assert.Equal(t, 1, i)

	_, ok = r.Resolve('X')
	assert.False(t, ok)
}

func TestDecodeForwardsToModule(t *testing.T) {
	r := NewRegistry(0, zaptest.NewLogger(t))
	require.NoError(t, r.Register(Descriptor{Name: "bin_out", Letter: 'B', Decode: twoByteDecoder}))

	s, n, err := r.Decode([]byte("B13rest"))
	require.NoError(t, err)
	assert.Equal(t, 3, n, "consumed includes the letter")
	assert.Equal(t, byte('B'), s.Action)
	assert.Equal(t, uint8(1), s.Command)
	assert.Equal(t, uint8(3), s.Channel)
}

func TestDecodeErrors(t *testing.T) {
	r := NewRegistry(0, zaptest.NewLogger(t))
	require.NoError(t, r.Register(Descriptor{Name: "analog", Letter: 'A'}))
	require.NoError(t, r.Register(Descriptor{Name: "bin_out", Letter: 'B', Decode: twoByteDecoder}))

	_, _, err := r.Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyCommand)

	_, _, err = r.Decode([]byte("Z00"))
	assert.ErrorIs(t, err, ErrUnknownModule)

	_, _, err = r.Decode([]byte("A00"))
	assert.ErrorIs(t, err, ErrNoDecoder)

	_, n, err := r.Decode([]byte("B1"))
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestExecute(t *testing.T) {
	r := NewRegistry(0, zaptest.NewLogger(t))

	var got []State
	require.NoError(t, r.Register(Descriptor{
		Name:    "bin_out",
		Letter:  'B',
		Execute: func(s State) error { got = append(got, s); return nil },
	}))
	require.NoError(t, r.Register(Descriptor{Name: "sensor", Letter: 'S'}))

	require.NoError(t, r.Execute(State{Action: 'B', Channel: 2}))
	require.Len(t, got, 1)
	assert.Equal(t, uint8(2), got[0].Channel)

	assert.NoError(t, r.Execute(State{Action: 'S'}), "decode-only module is a no-op")
	assert.ErrorIs(t, r.Execute(State{Action: 'Q'}), ErrUnknownModule)
}

func TestInitAllIsBestEffort(t *testing.T) {
	r := NewRegistry(0, zaptest.NewLogger(t))

	var order []string
	boom := errors.New("boom")
	require.NoError(t, r.Register(Descriptor{Name: "a", Letter: 'A', Init: func() error {
		order = append(order, "a")
		return boom
	}}))
	require.NoError(t, r.Register(Descriptor{Name: "b", Letter: 'B'}))
	require.NoError(t, r.Register(Descriptor{Name: "c", Letter: 'C', Init: func() error {
		order = append(order, "c")
		return nil
	}}))

	err := r.InitAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrNoInit)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, []string{"a", "c"}, order)
}

func TestUnregister(t *testing.T) {
	r := NewRegistry(2, zaptest.NewLogger(t))
	require.NoError(t, r.Register(Descriptor{Name: "bin_out", Letter: 'B'}))
	require.NoError(t, r.Register(Descriptor{Name: "pwm", Letter: 'P'}))

	assert.True(t, r.Unregister('B'))
	assert.False(t, r.Unregister('B'))
	_, ok := r.Resolve('B')
	assert.False(t, ok)
	i, _ := r.Resolve('P')
	assert.Equal(t, 0, i)

	// the freed entry counts toward the table size again
	require.NoError(t, r.Register(Descriptor{Name: "temp", Letter: 'T'}))
}
