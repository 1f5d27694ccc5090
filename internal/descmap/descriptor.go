// File: internal/descmap/descriptor.go
// Author: momentics <momentics@gmail.com>
//
// Descriptor is the capability set this module's design calls for in place
// of inheriting single-vs-multiple DI behavior: two concrete types
// (single.go, multiple.go) implement the same small interface, and the
// worker never type-switches on kind beyond choosing which constructor to
// call at insertion time (see map.go).

package descmap

import "github.com/momentics/iodispatch/api"

// Descriptor is per-fd state (C3): interest mask, subscriber ports, token
// balances, and the kernel-registration flag. All methods are worker-only;
// no internal locking is performed.
type Descriptor interface {
	// FD returns the descriptor's file descriptor.
	FD() uintptr

	// Listening reports whether this is a shared listening descriptor.
	Listening() bool

	// Tracked reports whether the descriptor is currently registered with
	// the kernel readiness device.
	Tracked() bool

	// SetTracked updates the tracked flag; called by the worker immediately
	// after a successful kernel registration update.
	SetTracked(tracked bool)

	// EffectiveMask is the bitwise OR, restricted to IN|OUT, over
	// subscribers whose token balance is positive.
	EffectiveMask() api.EventMask

	// SetPortAndMask upserts a subscriber's requested interest bits.
	SetPortAndMask(port int64, mask api.EventMask)

	// ReturnTokens credits a subscriber's token balance. If the balance
	// was zero and becomes positive, the subscriber's bits re-enter the
	// effective mask.
	ReturnTokens(port int64, n uint16)

	// RemovePort deletes a subscriber entry and reports whether the
	// descriptor now has no subscribers left.
	RemovePort(port int64) (empty bool)

	// NextNotifyPort selects the subscriber to notify for a readiness
	// event carrying the given mask, decrementing its token balance by
	// one and removing its interest bits until tokens are returned. It
	// reports false if no eligible subscriber exists.
	NextNotifyPort(mask api.EventMask) (port int64, ok bool)

	// NotifyAll returns every current subscriber port and clears all
	// interest (used for fatal error/close notification).
	NotifyAll() []int64

	// Ports lists all current subscriber ports, for teardown/inspection.
	Ports() []int64
}
