package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/momentics/iodispatch/internal/handle"
)

func TestCloseSafeUntrackedFdIsAlwaysSafe(t *testing.T) {
	r := New()
	h := handle.New(42, true)
	require.True(t, r.CloseSafe(h))
}

func TestCloseSafeWaitsForAllReferents(t *testing.T) {
	r := New()
	h := handle.New(7, true)
	r.Track(h.FD())
	r.Track(h.FD())
	r.Track(h.FD())

	require.False(t, r.CloseSafe(h))
	require.False(t, r.CloseSafe(h))
	require.True(t, r.CloseSafe(h), "the last referent must observe safe=true")
}

func TestCloseSafeIsPerFD(t *testing.T) {
	r := New()
	a := handle.New(1, true)
	b := handle.New(2, true)
	r.Track(a.FD())
	r.Track(a.FD())
	r.Track(b.FD())

	require.False(t, r.CloseSafe(a))
	require.True(t, r.CloseSafe(b), "fd 2 has only one referent and should close immediately")
	require.True(t, r.CloseSafe(a), "fd 1's second referent should now be safe")
}
