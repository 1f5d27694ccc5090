// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides platform implementations of api.Device, the
// readiness multiplexer the worker loop polls: epoll on Linux, with stubs
// elsewhere (see device_windows.go for why Windows cannot implement the
// same contract via IOCP).
package reactor
