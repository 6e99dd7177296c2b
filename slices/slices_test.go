package slices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPop(t *testing.T) {
	s := []int{1, 2, 3}
	e, s, ok := Pop(s)
	assert.True(t, ok)
	assert.Equal(t, 3, e)
	assert.Equal(t, []int{1, 2}, s)

	e, s, ok = Pop(s[:0])
	assert.False(t, ok)
	assert.Zero(t, e)
	assert.Empty(t, s)
}

func TestLast(t *testing.T) {
	e, ok := Last([]string{"a", "b"})
	assert.True(t, ok)
	assert.Equal(t, "b", e)

	_, ok = Last([]string(nil))
	assert.False(t, ok)
}
