package pins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegisterDetectsOverlap(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	require.NoError(t, r.Register("bin_out", 17, 18, 27, 22))
	require.NoError(t, r.Register("bin_in", 5, 6))

	err := r.Register("hyst", 23, 22)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "bin_out")

	// nothing from the failed claim is kept
	require.NoError(t, r.Register("pwm", 23))

	assert.ErrorIs(t, r.Register("dup", 40, 40), ErrConflict)
}

func TestAssignmentsSorted(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("b", 9, 3))
	require.NoError(t, r.Register("a", 5))

	assert.Equal(t, []Assignment{
		{Line: 3, Owner: "b"},
		{Line: 5, Owner: "a"},
		{Line: 9, Owner: "b"},
	}, r.Assignments())
}
