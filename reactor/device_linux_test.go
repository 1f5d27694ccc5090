//go:build linux
// +build linux

package reactor

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/iodispatch/api"
)

// TestDeviceWaitDecodesEachEventInAMultiEventBatch registers two distinct
// fds and makes both readable before a single Wait call, so epoll_wait
// returns them together in one batch (n=2). Each event's UserData must
// resolve back to the fd it was registered with — the class of bug a
// single-event batch can never exercise, since a corrupting read past the
// end of one event's data union only ever touches a following event's
// bytes when more than one is present in the same []unix.EpollEvent batch.
func TestDeviceWaitDecodesEachEventInAMultiEventBatch(t *testing.T) {
	d, err := NewDevice()
	require.NoError(t, err)
	defer d.Close()

	r1, w1, err := os.Pipe()
	require.NoError(t, err)
	defer r1.Close()
	defer w1.Close()

	r2, w2, err := os.Pipe()
	require.NoError(t, err)
	defer r2.Close()
	defer w2.Close()

	require.NoError(t, d.Update(r1.Fd(), 0, api.EventIn, false, r1.Fd()+1))
	require.NoError(t, d.Update(r2.Fd(), 0, api.EventIn, false, r2.Fd()+1))

	_, err = w1.Write([]byte("a"))
	require.NoError(t, err)
	_, err = w2.Write([]byte("b"))
	require.NoError(t, err)

	// Both fds are already readable, so a single Wait call returns both
	// in one batch as long as the event buffer has room for more than one.
	events := make([]api.ReadinessEvent, 8)
	n, err := waitUntilN(d, events, 2)
	require.NoError(t, err)
	require.Equal(t, 2, n, "expected both readable pipes in a single batch")

	seen := map[uintptr]bool{}
	for _, ev := range events[:n] {
		require.True(t, ev.Readable, "event for fd %d not marked readable", ev.Fd)
		switch ev.Fd {
		case r1.Fd():
			require.Equal(t, r1.Fd()+1, ev.UserData)
		case r2.Fd():
			require.Equal(t, r2.Fd()+1, ev.UserData)
		default:
			t.Fatalf("event decoded to unexpected fd %d (userData=%d)", ev.Fd, ev.UserData)
		}
		seen[ev.Fd] = true
	}
	require.True(t, seen[r1.Fd()], "fd1 missing from batch")
	require.True(t, seen[r2.Fd()], "fd2 missing from batch")
}

func waitUntilN(d api.Device, events []api.ReadinessEvent, want int) (int, error) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := d.Wait(events, 200)
		if err != nil {
			return 0, err
		}
		if n >= want {
			return n, nil
		}
	}
	return 0, nil
}
