//go:build linux
// +build linux

// File: internal/worker/worker.go
// Author: momentics <momentics@gmail.com>
//
// Worker is the single-threaded main loop (C6): compute a timeout from the
// timer queue, block in the readiness device, run HandleTimeout then
// HandleEvents (readiness strictly before interrupts within one iteration,
// so a CLOSE interrupt never deletes state a readiness entry from the same
// batch still refers to), then drain and apply interrupt commands.

package worker

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/momentics/iodispatch/affinity"
	"github.com/momentics/iodispatch/api"
	"github.com/momentics/iodispatch/control"
	"github.com/momentics/iodispatch/internal/descmap"
	"github.com/momentics/iodispatch/internal/timerqueue"
	"github.com/momentics/iodispatch/internal/wakeup"
)

var processStart = time.Now()

// NowMs returns milliseconds elapsed since process start, the monotonic
// clock timer deadlines are expressed against.
func NowMs() int64 {
	return time.Since(processStart).Milliseconds()
}

// Config tunes the worker loop's batch sizes and optional CPU pin.
type Config struct {
	MaxEventsPerPoll int // events drained per readiness-device Wait call
	PipeDrainBatch   int // K
	PinCPU           int // -1 disables affinity pinning
}

// Worker owns C2 (descriptor map), C5 (timer queue), and drives C4 (kernel
// registration) and C1 (wakeup channel) drain/apply.
type Worker struct {
	cfg    Config
	device api.Device
	wake   *wakeup.Channel
	descs  *descmap.Map
	timers *timerqueue.Queue
	sink   api.PortSink

	handlesMu sync.Mutex // guards handles: written by Dispatcher.Register/handleClose from any goroutine
	handles   map[int64]api.SocketHandle

	regMask map[uintptr]api.EventMask

	registry api.ListeningSocketRegistry
	signals  api.SignalHandlerClearer

	log      *zap.Logger
	metrics  *control.DispatcherMetrics
	snapshot *control.MetricsRegistry

	descCount atomic.Int64 // written by the worker goroutine, read by debug probes

	shutdownDone chan struct{}
}

// SetMetrics attaches a prometheus metric set; nil disables instrumentation.
func (w *Worker) SetMetrics(m *control.DispatcherMetrics) { w.metrics = m }

// SetSnapshot attaches a free-form last-activity registry, used by the
// debug probe surface rather than a scrape endpoint; nil disables it.
func (w *Worker) SetSnapshot(r *control.MetricsRegistry) { w.snapshot = r }

// DescriptorCount reports the live descriptor-info count. Safe to call
// from any goroutine; backs the "dispatcher.descriptors" debug probe.
func (w *Worker) DescriptorCount() int64 { return w.descCount.Load() }

// New constructs a Worker. registry and signals may be nil if the host
// never registers listening or signal-flagged sockets.
func New(cfg Config, device api.Device, wake *wakeup.Channel, sink api.PortSink,
	registry api.ListeningSocketRegistry, signals api.SignalHandlerClearer, log *zap.Logger) *Worker {
	return &Worker{
		cfg:          cfg,
		device:       device,
		wake:         wake,
		descs:        descmap.NewMap(),
		timers:       timerqueue.New(),
		sink:         sink,
		handles:      make(map[int64]api.SocketHandle),
		regMask:      make(map[uintptr]api.EventMask),
		registry:     registry,
		signals:      signals,
		log:          log,
		shutdownDone: make(chan struct{}),
	}
}

// TrackHandle records the SocketHandle for id, so applyCommand can resolve
// its fd and release the reference an in-flight message holds. Callable
// from any goroutine; handles is otherwise only touched by the worker
// goroutine itself via lookupHandle/handleClose.
func (w *Worker) TrackHandle(id int64, h api.SocketHandle) {
	w.handlesMu.Lock()
	w.handles[id] = h
	w.handlesMu.Unlock()
}

func (w *Worker) lookupHandle(id int64) (api.SocketHandle, bool) {
	w.handlesMu.Lock()
	h, ok := w.handles[id]
	w.handlesMu.Unlock()
	return h, ok
}

func (w *Worker) forgetHandle(id int64) {
	w.handlesMu.Lock()
	delete(w.handles, id)
	w.handlesMu.Unlock()
}

// ShutdownDone is closed when Run returns: after processing SHUTDOWN_ID, or
// after failing to register the wakeup channel with the device.
func (w *Worker) ShutdownDone() <-chan struct{} { return w.shutdownDone }

// Run is the worker loop. It locks the calling goroutine to its OS thread,
// registers the wakeup channel's read end with the device (nil/zero
// user_data) and blocks until a SHUTDOWN_ID interrupt is processed. Run
// does not unregister or close the descriptors still in the map when it
// returns.
func (w *Worker) Run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if w.cfg.PinCPU >= 0 {
		if err := affinity.SetAffinity(w.cfg.PinCPU); err != nil {
			w.log.Warn("worker: cpu affinity pin failed", zap.Error(err))
		}
	}

	if err := w.device.Update(w.wake.FD(), 0, api.EventIn, false, 0); err != nil {
		close(w.shutdownDone)
		return err
	}

	events := make([]api.ReadinessEvent, w.cfg.MaxEventsPerPoll)
	for {
		timeout := w.computeTimeoutMs()

		n, err := w.device.Wait(events, timeout)
		if err != nil {
			w.log.Fatal("worker: readiness device failed", zap.Error(err))
		}

		w.handleTimeout()

		interruptSeen := w.handleEvents(events[:n])

		if interruptSeen {
			if w.drainInterrupts() {
				close(w.shutdownDone)
				return nil
			}
		}
	}
}

func (w *Worker) computeTimeoutMs() int {
	deadline, _, ok := w.timers.Earliest()
	if !ok {
		return -1
	}
	remaining := deadline - NowMs()
	if remaining < 0 {
		remaining = 0
	}
	if remaining > math.MaxInt32 {
		remaining = math.MaxInt32
	}
	return int(remaining)
}

func (w *Worker) handleTimeout() {
	now := NowMs()
	for {
		port, ok := w.timers.PopIfDue(now)
		if !ok {
			return
		}
		w.sink.PostNull(port)
		if w.metrics != nil {
			w.metrics.TimersFired.Inc()
			w.metrics.EventsDelivered.Inc()
		}
	}
}

// filterKind distinguishes the READ and WRITE virtual filters the
// kqueue-derived model treats as separate events; epoll reports one
// combined event per fd per Wait call, so handleEvents expands it into up
// to two filter events, matching the per-filter decode/dispatch rules
// exactly at this layer while keeping the device epoll-idiomatic.
type filterKind uint8

const (
	filterRead filterKind = iota
	filterWrite
)

type filterEvent struct {
	interrupt bool
	fd        uintptr
	filter    filterKind
	eof       bool
	fflags    int32
}

func (w *Worker) expand(raw []api.ReadinessEvent) []filterEvent {
	out := make([]filterEvent, 0, len(raw)*2)
	for _, ev := range raw {
		if ev.KernelError {
			// Fatal; kept for portability even
			// though the Linux epoll device never sets this bit itself
			// (a failed epoll_wait is surfaced as a Wait() error instead).
			w.log.Fatal("worker: kernel error flag on event", zap.Uintptr("fd", ev.Fd))
		}
		if ev.UserData == 0 {
			out = append(out, filterEvent{interrupt: true})
			continue
		}
		fd := ev.UserData - 1
		if ev.Readable || ev.EOF {
			out = append(out, filterEvent{fd: fd, filter: filterRead, eof: ev.EOF, fflags: ev.Fflags})
		}
		if ev.Writable {
			out = append(out, filterEvent{fd: fd, filter: filterWrite, eof: ev.EOF, fflags: ev.Fflags})
		}
	}
	return out
}

func decodeEventMask(listening bool, filter filterKind, eof bool, fflags int32) api.EventMask {
	if listening {
		// Only the READ filter is ever registered for a listening fd.
		if eof && fflags != 0 {
			return api.EventError
		}
		if eof {
			return api.EventClose
		}
		return api.EventIn
	}
	switch filter {
	case filterRead:
		if eof && fflags != 0 {
			return api.EventError
		}
		mask := api.EventIn
		if eof {
			mask |= api.EventClose
		}
		return mask
	case filterWrite:
		if eof && fflags != 0 {
			return api.EventError
		}
		return api.EventOut
	}
	return 0
}

// handleEvents processes one readiness batch, applying it entirely before
// any interrupt observed in it, and reports whether the wakeup channel's
// fd fired.
func (w *Worker) handleEvents(raw []api.ReadinessEvent) (interruptSeen bool) {
	for _, fe := range w.expand(raw) {
		if fe.interrupt {
			interruptSeen = true
			continue
		}
		desc, ok := w.descs.Get(fe.fd)
		if !ok {
			continue // stale event for an already-destroyed descriptor
		}
		mask := decodeEventMask(desc.Listening(), fe.filter, fe.eof, fe.fflags)
		if mask&api.EventError != 0 {
			ports := desc.NotifyAll()
			for _, p := range ports {
				w.sink.PostInt32(p, int32(mask))
			}
			if w.metrics != nil && len(ports) > 0 {
				w.metrics.EventsDelivered.Add(float64(len(ports)))
			}
		} else if port, ok := desc.NextNotifyPort(mask); ok {
			w.sink.PostInt32(port, int32(mask))
			if w.metrics != nil {
				w.metrics.EventsDelivered.Inc()
			}
		} else if w.metrics != nil {
			w.metrics.TokensExhausted.Inc()
		}
		if w.snapshot != nil {
			w.snapshot.Set("last_event_fd", fe.fd)
			w.snapshot.Set("last_event_mask", mask.String())
		}
		_ = w.reprogram(desc)
	}
	return interruptSeen
}

// reprogram re-runs the kernel update step for desc if its effective mask
// changed since the last successful registration, returning the raw
// device error (nil on success or no-op) so callers that need to
// aggregate it with other teardown errors (handleClose) can do so. If the
// kernel rejects the fd on an ADD, the DI synthesizes a CLOSE to all
// subscribers rather than propagating the error to readiness-batch callers.
func (w *Worker) reprogram(desc descmap.Descriptor) error {
	fd := desc.FD()
	old := w.regMask[fd]
	newMask := desc.EffectiveMask()
	if old == newMask {
		return nil
	}
	if err := w.device.Update(fd, old, newMask, desc.Listening(), fd+1); err != nil {
		for _, p := range desc.NotifyAll() {
			w.sink.PostInt32(p, int32(api.EventClose))
		}
		delete(w.regMask, fd)
		w.descs.Remove(fd)
		w.reportDescriptorCount()
		return err
	}
	desc.SetTracked(newMask != 0)
	if newMask == 0 {
		delete(w.regMask, fd)
	} else {
		w.regMask[fd] = newMask
	}
	return nil
}

func (w *Worker) drainInterrupts() (shutdown bool) {
	for _, m := range w.wake.Drain(w.cfg.PipeDrainBatch) {
		switch m.ID {
		case api.TimerID:
			w.timers.Update(m.Port, m.Data)
		case api.ShutdownID:
			shutdown = true
		default:
			w.applyCommand(m)
		}
	}
	return shutdown
}

func (w *Worker) applyCommand(m api.InterruptMessage) {
	h, ok := w.lookupHandle(m.ID)
	if !ok {
		return
	}
	defer h.Release()

	cw := api.UnpackCommand(m.Data)
	fd := h.FD()

	switch cw.Command {
	case api.CommandSetMask:
		desc := w.descs.GetOrCreate(fd, cw.Listening)
		desc.SetPortAndMask(m.Port, cw.Events)
		_ = w.reprogram(desc)
		w.reportDescriptorCount()

	case api.CommandReturnToken:
		if desc, ok := w.descs.Get(fd); ok {
			desc.ReturnTokens(m.Port, cw.Tokens)
			_ = w.reprogram(desc)
		}

	case api.CommandShutdownRead:
		_ = syscall.Shutdown(int(fd), syscall.SHUT_RD)

	case api.CommandShutdownWrite:
		_ = syscall.Shutdown(int(fd), syscall.SHUT_WR)

	case api.CommandClose:
		w.handleClose(m.ID, h, fd, m.Port, cw)
	}
}

func (w *Worker) handleClose(id int64, h api.SocketHandle, fd uintptr, port int64, cw api.CommandWord) {
	desc, ok := w.descs.Get(fd)
	if !ok {
		return
	}
	if cw.SignalSocket && w.signals != nil {
		w.signals.ClearSignalHandlerByFD(fd, port)
	}
	desc.RemovePort(port)
	unregisterErr := w.reprogram(desc)

	if desc.EffectiveMask() != 0 {
		return // other subscribers remain; nothing more to do
	}

	safe := true
	if desc.Listening() && w.registry != nil {
		safe = w.registry.CloseSafe(h)
	}
	if !safe {
		return // listening, not yet safe: DI stays parked, unregistered
	}

	w.descs.Remove(fd)
	delete(w.regMask, fd)
	w.forgetHandle(id)
	w.reportDescriptorCount()

	closeErr := h.Close()
	if err := multierr.Append(unregisterErr, closeErr); err != nil {
		w.log.Warn("worker: descriptor teardown had errors", zap.Uintptr("fd", fd), zap.Error(err))
	}
	w.sink.PostInt32(port, int32(api.EventDestroyed))
	if w.metrics != nil {
		w.metrics.EventsDelivered.Inc()
	}
	if w.snapshot != nil {
		w.snapshot.Set("last_closed_fd", fd)
	}
}

func (w *Worker) reportDescriptorCount() {
	n := w.descs.Len()
	w.descCount.Store(int64(n))
	if w.metrics != nil {
		w.metrics.DescriptorCount.Set(float64(n))
	}
}
