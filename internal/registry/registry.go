// File: internal/registry/registry.go
// Author: momentics <momentics@gmail.com>
//
// ListeningSocketRegistry default implementation: a mutex-guarded per-fd
// referent count with a single CloseSafe query, handed to the worker as an
// injected collaborator. It is not a singleton: each iodispatch.Dispatcher
// constructs its own instance with New, so coordination covers the
// subscribers of that one dispatcher.

package registry

import (
	"sync"

	"github.com/momentics/iodispatch/api"
)

// Registry tracks how many independent referents still need a shared
// listening fd open.
type Registry struct {
	mu   sync.Mutex
	refs map[uintptr]int
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{refs: make(map[uintptr]int)}
}

// Track registers one referent for fd, called when a listening handle is
// first shared across subscribers.
func (r *Registry) Track(fd uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[fd]++
}

// CloseSafe drops one referent for the handle's fd and reports whether the
// count has reached zero, meaning it is now safe to close it.
func (r *Registry) CloseSafe(h api.SocketHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	fd := h.FD()
	n, ok := r.refs[fd]
	if !ok || n <= 0 {
		return true
	}
	n--
	if n <= 0 {
		delete(r.refs, fd)
		return true
	}
	r.refs[fd] = n
	return false
}

var _ api.ListeningSocketRegistry = (*Registry)(nil)
