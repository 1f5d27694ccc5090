// File: internal/handle/handle.go
// Author: momentics <momentics@gmail.com>
//
// Handle is the default api.SocketHandle: an atomically reference-counted
// wrapper around a raw fd, closed exactly once via sync.Once. Grounded on
// a reference-counted, once-closed lifetime, generalized here to
// the cyclic socket<->descriptor lifetime this module's design calls for:
// each in-flight interrupt message holds one reference that the worker
// releases on receipt, so the handle survives at least until its message
// is processed.

package handle

import (
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/momentics/iodispatch/api"
)

// Handle is a reference-counted, close-once file descriptor.
type Handle struct {
	fd        uintptr
	listening bool
	refs      int64
	closeOnce sync.Once
	closeErr  error
}

// New constructs a Handle with an initial reference count of one, held by
// the caller. Registering the handle does not take that reference; each
// in-flight interrupt message addressed to it holds an additional one.
func New(fd uintptr, listening bool) *Handle {
	return &Handle{fd: fd, listening: listening, refs: 1}
}

func (h *Handle) FD() uintptr     { return h.fd }
func (h *Handle) Listening() bool { return h.listening }

// Retain takes one additional reference, called when an interrupt message
// addressed to this handle's id is enqueued.
func (h *Handle) Retain() {
	atomic.AddInt64(&h.refs, 1)
}

// Release drops one reference. When the count reaches zero the underlying
// fd is closed.
func (h *Handle) Release() {
	if atomic.AddInt64(&h.refs, -1) == 0 {
		h.doClose()
	}
}

// Close closes the underlying fd immediately, regardless of outstanding
// references. Called by the worker on the DI-destruction path; idempotent
// with Release via sync.Once.
func (h *Handle) Close() error {
	h.doClose()
	return h.closeErr
}

func (h *Handle) doClose() {
	h.closeOnce.Do(func() {
		h.closeErr = syscall.Close(int(h.fd))
	})
}

var _ api.SocketHandle = (*Handle)(nil)
