//go:build windows
// +build windows

// File: reactor/device_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows has no readiness-style multiplexer matching kqueue/epoll's
// change-record/event-record shape; IOCP is completion-based (it reports
// finished I/O, not "you may now read/write without blocking"), so it
// cannot implement api.Device without an internal overlapped-I/O shim this
// dispatcher does not own. NewDevice therefore reports ErrNotSupported
// here rather than pretending to a semantics Windows does not have.

package reactor

import "github.com/momentics/iodispatch/api"

// NewDevice reports that no readiness-style device is available on Windows.
func NewDevice() (api.Device, error) {
	return nil, api.ErrNotSupported
}
