//go:build linux
// +build linux

// File: internal/wakeup/channel.go
// Author: momentics <momentics@gmail.com>
//
// The wakeup channel (C1): a close-on-exec, non-blocking-read byte pipe
// carrying fixed-size api.InterruptMessage records from arbitrary threads
// into the worker. Grounded on eventhandler_macos.cc's WakeupHandler /
// HandleInterruptFd: writers post exactly sizeof(InterruptMessage) bytes,
// which the OS guarantees to land atomically because the message is
// strictly smaller than PIPE_BUF, so no user-space lock is needed among
// writers; the worker drains in bounded batches and aborts on any short
// read, since a partial message would desynchronize the stream forever.

package wakeup

import (
	"encoding/binary"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/iodispatch/api"
)

// Channel is the worker-facing wakeup pipe.
type Channel struct {
	readFD  int
	writeFD int
	log     *zap.Logger
}

// New creates the pipe. A pipe2 failure is returned to the caller; New
// does not end the process.
func New(log *zap.Logger) (*Channel, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, err
	}
	return &Channel{readFD: fds[0], writeFD: fds[1], log: log}, nil
}

// FD returns the read end, the fd the worker registers with the device
// under a nil (zero) user_data value.
func (c *Channel) FD() uintptr { return uintptr(c.readFD) }

// Wake enqueues one interrupt message. Callable from any thread. A short
// write is unrecoverable so this aborts the process
// rather than returning a recoverable error.
func (c *Channel) Wake(msg api.InterruptMessage) {
	buf := marshal(msg)
	n, err := unix.Write(c.writeFD, buf)
	if err != nil || n != len(buf) {
		c.log.Fatal("wakeup: short or failed write, pipe desynchronized",
			zap.Int("wrote", n), zap.Error(err))
	}
}

// Drain reads up to batch messages in one syscall and returns them. It
// aborts the process if the byte count read is not an exact multiple of
// api.InterruptMessageSize, since that can only mean the stream has
// desynchronized.
func (c *Channel) Drain(batch int) []api.InterruptMessage {
	buf := make([]byte, batch*api.InterruptMessageSize)
	n, err := unix.Read(c.readFD, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		c.log.Fatal("wakeup: read failed", zap.Error(err))
	}
	if n == 0 {
		return nil
	}
	if n%api.InterruptMessageSize != 0 {
		c.log.Fatal("wakeup: short read desynchronized the message stream",
			zap.Int("bytes", n))
	}
	count := n / api.InterruptMessageSize
	out := make([]api.InterruptMessage, count)
	for i := 0; i < count; i++ {
		out[i] = unmarshal(buf[i*api.InterruptMessageSize:])
	}
	return out
}

// Close closes both pipe ends.
func (c *Channel) Close() error {
	err1 := unix.Close(c.readFD)
	err2 := unix.Close(c.writeFD)
	if err1 != nil {
		return err1
	}
	return err2
}

func marshal(msg api.InterruptMessage) []byte {
	buf := make([]byte, api.InterruptMessageSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(msg.ID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(msg.Port))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(msg.Data))
	return buf
}

func unmarshal(buf []byte) api.InterruptMessage {
	return api.InterruptMessage{
		ID:   int64(binary.LittleEndian.Uint64(buf[0:8])),
		Port: int64(binary.LittleEndian.Uint64(buf[8:16])),
		Data: int64(binary.LittleEndian.Uint64(buf[16:24])),
	}
}
