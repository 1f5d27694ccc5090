//go:build linux
// +build linux

package handle

import (
	"golang.org/x/sys/unix"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func newPipeHandle(t *testing.T) (*Handle, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return New(r.Fd(), false), r
}

func TestHandleReleaseClosesAtZero(t *testing.T) {
	h, r := newPipeHandle(t)
	h.Retain() // refs=2

	h.Release() // refs=1, still open
	_, err := unix.FcntlInt(r.Fd(), unix.F_GETFD, 0)
	require.NoError(t, err, "fd should still be open with one reference outstanding")

	h.Release() // refs=0, closed
	_, err = unix.FcntlInt(r.Fd(), unix.F_GETFD, 0)
	require.Error(t, err, "fd should be closed once references reach zero")
}

func TestHandleCloseIsIdempotentAndImmediate(t *testing.T) {
	h, r := newPipeHandle(t)
	h.Retain() // refs=2, but Close ignores the count

	require.NoError(t, h.Close())
	_, err := unix.FcntlInt(r.Fd(), unix.F_GETFD, 0)
	require.Error(t, err)

	// Idempotent: a second Close, or a Release racing behind it, must not panic
	// or attempt to close the fd (and its number) a second time.
	require.NoError(t, h.Close())
	h.Release()
}

func TestHandleFDAndListening(t *testing.T) {
	h, _ := newPipeHandle(t)
	require.False(t, h.Listening())
	require.NotZero(t, h.FD())
}
