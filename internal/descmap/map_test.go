package descmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapGetOrCreate(t *testing.T) {
	m := NewMap()
	d1 := m.GetOrCreate(0, false)
	require.False(t, d1.Listening())

	d2 := m.GetOrCreate(0, false)
	require.Same(t, d1, d2, "fd 0 must not collide with the map's zero key")

	l := m.GetOrCreate(3, true)
	require.True(t, l.Listening())
	require.Equal(t, 2, m.Len())

	m.Remove(0)
	require.Equal(t, 1, m.Len())
	_, ok := m.Get(0)
	require.False(t, ok)
}
