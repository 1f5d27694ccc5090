// File: api/collaborators.go
// Author: momentics <momentics@gmail.com>
//
// External collaborators the dispatcher core depends on but does not own:
// the reference-counted socket handle, the listening-socket registry, the
// signal-handler clearer, and the application-side port sink.

package api

// SocketHandle is the opaque, reference-counted subscriber object a caller
// registers before it can be addressed as the id of a send_data call. The
// worker releases exactly one reference per interrupt message it receives
// for that id, so the handle survives at least until its message is
// processed even if the application drops its own reference concurrently.
type SocketHandle interface {
	// FD returns the underlying file descriptor.
	FD() uintptr

	// Listening reports whether this handle names a shared listening
	// descriptor (DI kind "multiple") versus a single-subscriber one.
	Listening() bool

	// Retain increments the reference count by one. The caller of
	// send_data holds one before enqueuing a message, matching the
	// single Release the worker issues on that message's receipt.
	Retain()

	// Release decrements the reference count by one. Implementations close
	// the underlying resource when the count reaches zero.
	Release()

	// Close closes the underlying fd. Called by the worker exactly once,
	// on the path that destroys the descriptor's DI.
	Close() error
}

// ListeningSocketRegistry coordinates shared listening descriptors across
// multiple dispatcher instances (or multiple subscribers of one instance).
// The worker calls CloseSafe without holding a lock of its own; the
// default implementation (internal/registry) takes its own lock inside it.
type ListeningSocketRegistry interface {
	// CloseSafe reports whether it is safe to unregister and close the
	// given handle's fd now, i.e. no other referent still needs it.
	CloseSafe(h SocketHandle) bool
}

// SignalHandlerClearer mirrors Process::ClearSignalHandlerByFD from the
// host runtime this dispatcher serves; invoked on CLOSE when the
// SIGNAL_SOCKET flag is set, before the subscriber's port is removed.
type SignalHandlerClearer interface {
	ClearSignalHandlerByFD(fd uintptr, port int64)
}

// PortSink delivers integers to application-owned ports. PostInt32 backs
// post_i32; PostNull backs the "null" sentinel timers post.
type PortSink interface {
	PostInt32(port int64, value int32)
	PostNull(port int64)
}
