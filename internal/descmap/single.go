// File: internal/descmap/single.go
// Author: momentics <momentics@gmail.com>
//
// singleDescriptor backs a fd with exactly one subscriber. Single DIs are
// not throttled by tokens, so no token balance is kept: ReturnTokens is a
// no-op present only to satisfy the Descriptor interface uniformly with
// multipleDescriptor, and NextNotifyPort never rejects on token balance.

package descmap

import "github.com/momentics/iodispatch/api"

type singleDescriptor struct {
	fd      uintptr
	port    int64
	mask    api.EventMask
	hasPort bool
	tracked bool
}

// NewSingle constructs a Descriptor for a non-shared fd.
func NewSingle(fd uintptr) Descriptor {
	return &singleDescriptor{fd: fd}
}

func (d *singleDescriptor) FD() uintptr      { return d.fd }
func (d *singleDescriptor) Listening() bool  { return false }
func (d *singleDescriptor) Tracked() bool    { return d.tracked }
func (d *singleDescriptor) SetTracked(t bool) { d.tracked = t }

func (d *singleDescriptor) EffectiveMask() api.EventMask {
	if !d.hasPort {
		return 0
	}
	return d.mask & (api.EventIn | api.EventOut)
}

func (d *singleDescriptor) SetPortAndMask(port int64, mask api.EventMask) {
	d.port = port
	d.mask = mask
	d.hasPort = true
}

func (d *singleDescriptor) ReturnTokens(port int64, n uint16) {
	// not throttled; no-op
}

func (d *singleDescriptor) RemovePort(port int64) bool {
	if d.hasPort && d.port == port {
		d.hasPort = false
		d.mask = 0
	}
	return !d.hasPort
}

func (d *singleDescriptor) NextNotifyPort(mask api.EventMask) (int64, bool) {
	if !d.hasPort || d.mask&mask == 0 {
		return 0, false
	}
	return d.port, true
}

func (d *singleDescriptor) NotifyAll() []int64 {
	if !d.hasPort {
		return nil
	}
	p := d.port
	d.hasPort = false
	d.mask = 0
	return []int64{p}
}

func (d *singleDescriptor) Ports() []int64 {
	if !d.hasPort {
		return nil
	}
	return []int64{d.port}
}
