//go:build linux
// +build linux

package worker

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/momentics/iodispatch/api"
	"github.com/momentics/iodispatch/internal/handle"
	"github.com/momentics/iodispatch/internal/wakeup"
)

// fakeDevice is a scripted api.Device: each Wait call blocks until the test
// feeds it the next batch over a channel, and every Update call is recorded
// for assertion.
type fakeDevice struct {
	batches chan []api.ReadinessEvent
	updates chan updateCall
	failFD  uintptr // Update fails for this fd, once
	failed  bool
}

type updateCall struct {
	fd               uintptr
	old, new         api.EventMask
	listening        bool
	userData         uintptr
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		batches: make(chan []api.ReadinessEvent),
		updates: make(chan updateCall, 16),
	}
}

func (d *fakeDevice) Update(fd uintptr, old, new api.EventMask, listening bool, userData uintptr) error {
	d.updates <- updateCall{fd, old, new, listening, userData}
	if d.failFD != 0 && fd == d.failFD && !d.failed {
		d.failed = true
		return api.ErrInvalidArgument
	}
	return nil
}

func (d *fakeDevice) Wait(events []api.ReadinessEvent, timeoutMs int) (int, error) {
	batch := <-d.batches
	n := copy(events, batch)
	return n, nil
}

func (d *fakeDevice) Close() error { return nil }

type recordingSink struct {
	posts chan int32
}

func (s *recordingSink) PostInt32(port int64, value int32) { s.posts <- value }
func (s *recordingSink) PostNull(port int64)                { s.posts <- -1 }

func newTestWorker(t *testing.T, device *fakeDevice) (*Worker, *wakeup.Channel, *recordingSink) {
	t.Helper()
	log := zap.NewNop()
	wake, err := wakeup.New(log)
	require.NoError(t, err)
	sink := &recordingSink{posts: make(chan int32, 16)}
	w := New(Config{MaxEventsPerPoll: 8, PipeDrainBatch: 8, PinCPU: -1}, device, wake, sink, nil, nil, log)
	return w, wake, sink
}

func waitUpdate(t *testing.T, d *fakeDevice) updateCall {
	t.Helper()
	select {
	case u := <-d.updates:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for device.Update call")
		return updateCall{}
	}
}

func TestWorkerDeliversReadinessAndCloses(t *testing.T) {
	device := newFakeDevice()
	w, wake, sink := newTestWorker(t, device)

	r, wr, err := os.Pipe()
	require.NoError(t, err)
	defer wr.Close()
	h := handle.New(r.Fd(), false)
	id := int64(1)
	w.TrackHandle(id, h)

	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	// Run's startup registers the wakeup fd itself (UserData 0).
	startup := waitUpdate(t, device)
	require.Equal(t, uintptr(0), startup.userData)

	// SET_MASK id=1 port=100 events=IN, delivered via the wakeup channel.
	wake.Wake(api.InterruptMessage{ID: id, Port: 100, Data: api.PackCommand(api.CommandWord{
		Command: api.CommandSetMask, Events: api.EventIn,
	})})
	device.batches <- []api.ReadinessEvent{{UserData: 0}} // wake fd readable

	setMask := waitUpdate(t, device)
	require.Equal(t, r.Fd(), setMask.fd)
	require.Equal(t, api.EventIn, setMask.new)

	// Kernel reports the fd readable.
	device.batches <- []api.ReadinessEvent{{Fd: r.Fd(), UserData: r.Fd() + 1, Readable: true}}
	require.Equal(t, int32(api.EventIn), <-sink.posts)

	// Since the effective mask is unchanged, no further Update call is made
	// for this readiness batch; drain the next registration only after the
	// CLOSE command triggers one. h started with one reference, already
	// consumed by the SET_MASK message above; a second in-flight message
	// needs its own retain, the same contract Dispatcher.SendData upholds
	// in production.
	h.Retain()
	wake.Wake(api.InterruptMessage{ID: id, Port: 100, Data: api.PackCommand(api.CommandWord{
		Command: api.CommandClose,
	})})
	device.batches <- []api.ReadinessEvent{{UserData: 0}}

	closeUpdate := waitUpdate(t, device)
	require.Equal(t, r.Fd(), closeUpdate.fd)
	require.Equal(t, api.EventMask(0), closeUpdate.new)
	require.Equal(t, int32(api.EventDestroyed), <-sink.posts)
	require.Zero(t, w.DescriptorCount())

	wake.Wake(api.InterruptMessage{ID: api.ShutdownID})
	device.batches <- []api.ReadinessEvent{{UserData: 0}}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not shut down")
	}
}

func TestWorkerReprogramFailureSynthesizesClose(t *testing.T) {
	r, wr, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer wr.Close()

	device := newFakeDevice()
	device.failFD = r.Fd()
	w, wake, sink := newTestWorker(t, device)

	h := handle.New(r.Fd(), false)
	w.TrackHandle(2, h)

	go func() { _ = w.Run() }()
	waitUpdate(t, device) // wakeup-fd registration

	wake.Wake(api.InterruptMessage{ID: 2, Port: 200, Data: api.PackCommand(api.CommandWord{
		Command: api.CommandSetMask, Events: api.EventIn,
	})})
	device.batches <- []api.ReadinessEvent{{UserData: 0}}

	waitUpdate(t, device) // the failing ADD call

	// The kernel rejected registration: the worker must synthesize a CLOSE
	// notification to the lone subscriber rather than propagate the error.
	require.Equal(t, int32(api.EventClose), <-sink.posts)
	require.Zero(t, w.DescriptorCount())

	wake.Wake(api.InterruptMessage{ID: api.ShutdownID})
	device.batches <- []api.ReadinessEvent{{UserData: 0}}
}
