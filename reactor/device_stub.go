//go:build !linux && !windows
// +build !linux,!windows

// File: reactor/device_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for platforms without a supported readiness device.

package reactor

import "github.com/momentics/iodispatch/api"

// NewDevice returns an error for unsupported platforms.
func NewDevice() (api.Device, error) {
	return nil, api.ErrNotSupported
}
