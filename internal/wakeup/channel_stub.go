//go:build !linux
// +build !linux

// File: internal/wakeup/channel_stub.go
// Author: momentics <momentics@gmail.com>
//
// The dispatcher's worker loop is Linux-only for now (see reactor's
// device_windows.go for why); this stub keeps the package importable
// elsewhere so callers can still build against api.ErrNotSupported.

package wakeup

import (
	"go.uber.org/zap"

	"github.com/momentics/iodispatch/api"
)

// Channel is an unusable placeholder on unsupported platforms.
type Channel struct{}

// New always fails on unsupported platforms.
func New(log *zap.Logger) (*Channel, error) {
	return nil, api.ErrNotSupported
}

func (c *Channel) FD() uintptr                           { return 0 }
func (c *Channel) Wake(msg api.InterruptMessage)         {}
func (c *Channel) Drain(batch int) []api.InterruptMessage { return nil }
func (c *Channel) Close() error                          { return nil }
