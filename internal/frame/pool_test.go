package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolReusesFramesBySize(t *testing.T) {
	p := NewPool(2)

	a, err := p.Get(4, 3)
	require.NoError(t, err)
	require.True(t, p.Put(a))

	b, err := p.Get(4, 3)
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := p.Get(5, 3)
	require.NoError(t, err)
	assert.NotSame(t, a, c)

	s := p.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(2), s.Misses)
}

func TestPoolIsBoundedPerSize(t *testing.T) {
	p := NewPool(1)

	a, _ := p.Get(2, 2)
	b, _ := p.Get(2, 2)
	assert.True(t, p.Put(a))
	assert.False(t, p.Put(b))
	assert.False(t, p.Put(nil))

	s := p.Stats()
	assert.Equal(t, int64(1), s.Discarded)
	assert.Equal(t, 1, s.Idle)
	assert.Equal(t, 1, p.Cleanup())
	assert.Equal(t, 0, p.Stats().Idle)
}
