// File: internal/descmap/multiple.go
// Author: momentics <momentics@gmail.com>
//
// multipleDescriptor backs a shared listening fd with N subscribers,
// dispatched round-robin and throttled by per-subscriber tokens, the
// back-pressure mechanism this kind of descriptor exists for. The
// round-robin ring is github.com/eapache/queue.Queue, a ring-buffer-backed
// FIFO that avoids eager compaction on removal in favor of cheap, amortized
// cleanup: a removed port is simply skipped the next time it is scanned off
// the front, rather than spliced out immediately.

package descmap

import (
	"github.com/eapache/queue"

	"github.com/momentics/iodispatch/api"
)

type subscriberState struct {
	mask   api.EventMask
	tokens uint16
}

type multipleDescriptor struct {
	fd      uintptr
	tracked bool
	subs    map[int64]*subscriberState
	ring    *queue.Queue
}

// NewMultiple constructs a Descriptor for a shared listening fd.
func NewMultiple(fd uintptr) Descriptor {
	return &multipleDescriptor{
		fd:   fd,
		subs: make(map[int64]*subscriberState),
		ring: queue.New(),
	}
}

func (d *multipleDescriptor) FD() uintptr       { return d.fd }
func (d *multipleDescriptor) Listening() bool   { return true }
func (d *multipleDescriptor) Tracked() bool     { return d.tracked }
func (d *multipleDescriptor) SetTracked(t bool) { d.tracked = t }

func (d *multipleDescriptor) EffectiveMask() api.EventMask {
	var m api.EventMask
	for _, s := range d.subs {
		if s.tokens > 0 {
			m |= s.mask & (api.EventIn | api.EventOut)
		}
	}
	return m
}

func (d *multipleDescriptor) SetPortAndMask(port int64, mask api.EventMask) {
	s, ok := d.subs[port]
	if !ok {
		s = &subscriberState{}
		d.subs[port] = s
		d.ring.Add(port)
	}
	s.mask = mask
}

func (d *multipleDescriptor) ReturnTokens(port int64, n uint16) {
	s, ok := d.subs[port]
	if !ok {
		return
	}
	s.tokens += n
}

func (d *multipleDescriptor) RemovePort(port int64) bool {
	delete(d.subs, port)
	// The ring entry is dropped lazily by NextNotifyPort's scan; it is
	// harmless dead weight until then since every scan checks membership.
	return len(d.subs) == 0
}

// NextNotifyPort scans at most one full rotation of the ring, discarding
// stale (removed) entries and skipping ineligible ones, rotating eligible
// but currently-exhausted subscribers to the back so later scans still
// reach subscribers behind them.
func (d *multipleDescriptor) NextNotifyPort(mask api.EventMask) (int64, bool) {
	n := d.ring.Length()
	for i := 0; i < n; i++ {
		port := d.ring.Peek().(int64)
		d.ring.Remove()

		s, ok := d.subs[port]
		if !ok {
			continue // removed since it was enqueued; drop it
		}
		if s.mask&mask == 0 || s.tokens == 0 {
			d.ring.Add(port) // still relevant, just not eligible now
			continue
		}
		s.tokens--
		d.ring.Add(port) // round-robin: goes to the back after being chosen
		return port, true
	}
	return 0, false
}

func (d *multipleDescriptor) NotifyAll() []int64 {
	ports := d.Ports()
	d.subs = make(map[int64]*subscriberState)
	d.ring = queue.New()
	return ports
}

func (d *multipleDescriptor) Ports() []int64 {
	out := make([]int64, 0, len(d.subs))
	for p := range d.subs {
		out = append(out, p)
	}
	return out
}
