package ptrace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStacks(t *testing.T) {
	s := NewStacks()
	assert.Equal(t, 0, s.Depth(0))
	assert.False(t, s.Top(0).Set())

	s.Push(0, Frame{Kind: RegionParallel, Start: 1, TeamSize: 4})
	s.Push(0, Frame{Kind: RegionImplicitTask, Start: 2, TeamSize: 4})
	s.Push(1, Frame{Kind: RegionParallel, Start: 3})
	assert.Equal(t, 2, s.Depth(0))
	assert.Equal(t, 1, s.Depth(1))
	assert.Equal(t, RegionImplicitTask, s.Top(0).MustGet().Kind)

	f, err := s.Pop(0, RegionImplicitTask)
	require.NoError(t, err)
	assert.Equal(t, Frame{Kind: RegionImplicitTask, Start: 2, TeamSize: 4}, f)

	// Thread 1's frames are unaffected by thread 0.
	assert.Equal(t, 1, s.Depth(1))

	f, err = s.Pop(0, RegionParallel)
	require.NoError(t, err)
	assert.Equal(t, RegionParallel, f.Kind)
	assert.Equal(t, 0, s.Depth(0))
}

func TestStacksUnbalanced(t *testing.T) {
	s := NewStacks()

	_, err := s.Pop(3, RegionParallel)
	var uerr *UnbalancedRegionError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 3, uerr.Thread)
	assert.Equal(t, RegionParallel, uerr.Want)
	assert.False(t, uerr.Top.Set())
	assert.Equal(t, 0, uerr.Depth)

	s.Push(3, Frame{Kind: RegionParallel, Start: 7})
	_, err = s.Pop(3, RegionImplicitTask)
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, RegionParallel, uerr.Top.MustGet().Kind)
	assert.Equal(t, 1, uerr.Depth)
	// A failed pop leaves the stack alone.
	assert.Equal(t, 1, s.Depth(3))
}
