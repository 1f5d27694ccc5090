//go:build linux
// +build linux

// File: reactor/device_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based api.Device. Registers non-listening fds edge-triggered
// (EPOLLET) and listening fds level-triggered, folding the kqueue
// add/delete-then-add transition table onto epoll's single-mask-per-fd
// model via EPOLL_CTL_ADD/MOD/DEL.

package reactor

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/iodispatch/api"
)

type epollDevice struct {
	epfd int
}

// NewDevice constructs a Linux epoll-backed api.Device.
func NewDevice() (api.Device, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &epollDevice{epfd: epfd}, nil
}

func epollInterestBits(mask api.EventMask, listening bool) uint32 {
	var bits uint32
	if mask&api.EventIn != 0 {
		bits |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if mask&api.EventOut != 0 {
		bits |= unix.EPOLLOUT
	}
	if !listening {
		bits |= unix.EPOLLET
	}
	return bits
}

func (d *epollDevice) Update(fd uintptr, old, new api.EventMask, listening bool, userData uintptr) error {
	switch {
	case old == 0 && new == 0:
		return nil
	case old == 0 && new != 0:
		ev := &unix.EpollEvent{Events: epollInterestBits(new, listening)}
		setUserData(ev, userData)
		return errors.Wrapf(unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, int(fd), ev), "epoll_ctl(ADD, fd=%d)", fd)
	case old != 0 && new == 0:
		return errors.Wrapf(unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, int(fd), nil), "epoll_ctl(DEL, fd=%d)", fd)
	default:
		ev := &unix.EpollEvent{Events: epollInterestBits(new, listening)}
		setUserData(ev, userData)
		return errors.Wrapf(unix.EpollCtl(d.epfd, unix.EPOLL_CTL_MOD, int(fd), ev), "epoll_ctl(MOD, fd=%d)", fd)
	}
}

// setUserData/getUserData reinterpret the epoll_event data union as a
// uintptr. That union occupies the 8 bytes starting at Fd, not Pad: Pad
// is only the union's upper 4 bytes on every arch this targets (amd64,
// arm64), so the anchor must be &ev.Fd. Anchoring at &ev.Pad instead
// reads/writes 4 bytes past Pad, which on a write silently truncates
// userData to 32 bits and on a read (in a []EpollEvent batch) pulls in
// the next slot's Events field whenever more than one event is pending.
func setUserData(ev *unix.EpollEvent, userData uintptr) {
	*(*uintptr)(unsafe.Pointer(&ev.Fd)) = uintptr(userData)
}

func getUserData(ev *unix.EpollEvent) uintptr {
	return *(*uintptr)(unsafe.Pointer(&ev.Fd))
}

func (d *epollDevice) Wait(events []api.ReadinessEvent, timeoutMs int) (int, error) {
	raw := make([]unix.EpollEvent, len(events))
	n, err := unix.EpollWait(d.epfd, raw, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, errors.Wrap(err, "epoll_wait")
	}
	for i := 0; i < n; i++ {
		ev := raw[i]
		userData := getUserData(&ev)
		// The real fd lives only in userData (fd+1, 0 for the wakeup
		// channel itself): setUserData overwrites the whole Fd+Pad union,
		// so ev.Fd no longer holds a usable value once userData has been
		// stored.
		var fd uintptr
		if userData != 0 {
			fd = userData - 1
		}
		re := api.ReadinessEvent{
			Fd:       fd,
			UserData: userData,
			Readable: ev.Events&unix.EPOLLIN != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			EOF:      ev.Events&(unix.EPOLLRDHUP|unix.EPOLLHUP) != 0,
		}
		if ev.Events&unix.EPOLLERR != 0 {
			// epoll folds the socket-level error into the fd's SO_ERROR
			// rather than a per-filter fflags word; fetch it so the
			// worker's event decoding can tell an EOF-with-error apart
			// from a clean half-close, matching kqueue's EOF+fflags rule.
			if soerr, gerr := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR); gerr == nil {
				re.Fflags = int32(soerr)
			} else {
				re.Fflags = -1
			}
			re.EOF = true
		}
		events[i] = re
	}
	return n, nil
}

func (d *epollDevice) Close() error {
	return unix.Close(d.epfd)
}
