//go:build linux
// +build linux

// File: dispatcher.go
// Author: momentics <momentics@gmail.com>
//
// Package iodispatch is the controller façade (C7): a thread-safe start,
// shutdown, send_data surface any goroutine can call, backed by the
// single-threaded worker in internal/worker, using golang.org/x/sync/errgroup
// to manage the worker goroutine's lifecycle instead of an ad hoc
// sync.WaitGroup.

package iodispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/iodispatch/api"
	"github.com/momentics/iodispatch/control"
	"github.com/momentics/iodispatch/internal/registry"
	"github.com/momentics/iodispatch/internal/wakeup"
	"github.com/momentics/iodispatch/internal/worker"
	"github.com/momentics/iodispatch/reactor"
)

// Dispatcher is the process-wide I/O event dispatcher.
type Dispatcher struct {
	log     *zap.Logger
	cfg     *control.DispatcherConfig
	device  api.Device
	wake    *wakeup.Channel
	worker  *worker.Worker
	reg     *registry.Registry
	metrics *control.DispatcherMetrics
	debug   *control.DebugProbes
	config  *control.ConfigStore

	// handlesMu guards handles, the Dispatcher's own id->handle table used
	// solely to Retain() a reference on the calling thread before a
	// message referencing that id is queued for the worker. The worker
	// keeps its own copy (populated by Register via TrackHandle) for
	// worker-thread-only lookups; the two tables exist because Retain
	// must happen here, on the caller's goroutine, before the message
	// reaches the worker's Release.
	handlesMu sync.Mutex
	handles   map[int64]api.SocketHandle

	group   *errgroup.Group
	nextID  int64
	started int32
}

// New constructs a Dispatcher against the given sink and optional signal
// clearer. It does not start the worker goroutine; call Start for that.
func New(cfg *control.DispatcherConfig, sink api.PortSink, signals api.SignalHandlerClearer, log *zap.Logger) (*Dispatcher, error) {
	device, err := reactor.NewDevice()
	if err != nil {
		return nil, err
	}
	wake, err := wakeup.New(log)
	if err != nil {
		device.Close()
		return nil, err
	}

	reg := registry.New()
	metrics := control.NewDispatcherMetrics()
	snapshot := control.NewMetricsRegistry()
	w := worker.New(worker.Config{
		MaxEventsPerPoll: cfg.MaxEventsPerPoll,
		PipeDrainBatch:   cfg.PipeDrainBatch,
		PinCPU:           cfg.WorkerCPU,
	}, device, wake, sink, reg, signals, log)
	w.SetMetrics(metrics)
	w.SetSnapshot(snapshot)

	debug := control.NewDebugProbes()
	debug.RegisterProbe("dispatcher.descriptors", func() any { return w.DescriptorCount() })
	debug.RegisterProbe("dispatcher.last_activity", func() any { return snapshot.GetSnapshot() })
	control.RegisterPlatformProbes(debug)

	cs := control.NewConfigStore()
	cs.SetConfig(map[string]any{
		"max_events_per_poll": cfg.MaxEventsPerPoll,
		"pipe_drain_batch":    cfg.PipeDrainBatch,
		"worker_cpu":          cfg.WorkerCPU,
	})
	cs.OnReload(func() {
		log.Info("dispatcher: config snapshot changed", zap.Any("snapshot", cs.GetSnapshot()))
	})
	control.RegisterReloadHook(func() {
		log.Info("dispatcher: cross-component hot-reload triggered")
	})

	return &Dispatcher{
		log:     log,
		cfg:     cfg,
		device:  device,
		wake:    wake,
		worker:  w,
		reg:     reg,
		metrics: metrics,
		debug:   debug,
		config:  cs,
		handles: make(map[int64]api.SocketHandle),
	}, nil
}

// DebugState returns a snapshot of every registered debug probe, e.g. for
// an operator inspection endpoint.
func (d *Dispatcher) DebugState() map[string]any { return d.debug.DumpState() }

// ConfigSnapshot returns the dispatcher's live configuration values.
func (d *Dispatcher) ConfigSnapshot() map[string]any { return d.config.GetSnapshot() }

// ReloadConfig merges newValues into the live config snapshot (notifying
// this dispatcher's own listener) and fires the process-wide hot-reload
// hook set, for operators pushing a config change without a restart.
func (d *Dispatcher) ReloadConfig(newValues map[string]any) {
	d.config.SetConfig(newValues)
	control.TriggerHotReload()
}

// Metrics exposes the dispatcher's prometheus metric set, e.g. to register
// it on an HTTP handler or push it periodically.
func (d *Dispatcher) Metrics() *control.DispatcherMetrics { return d.metrics }

// Start spawns the worker goroutine. Failure to construct the device or the
// wakeup channel is returned by New, not here. If the worker cannot register
// the wakeup channel, Run returns that error and Shutdown reports it; a
// readiness-device failure inside Run's loop is logged at Fatal level,
// which ends the process.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&d.started, 0, 1) {
		return api.ErrAlreadyExists
	}
	d.group, _ = errgroup.WithContext(ctx)
	d.group.Go(func() error {
		return d.worker.Run()
	})
	if d.cfg.MetricsPushURL != "" {
		d.group.Go(func() error {
			d.pushMetricsLoop(ctx)
			return nil
		})
	}
	return nil
}

func (d *Dispatcher) pushMetricsLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.worker.ShutdownDone():
			return
		case <-ticker.C:
			if err := d.metrics.Push(d.cfg.MetricsPushURL, "iodispatch"); err != nil {
				d.log.Warn("dispatcher: metrics push failed", zap.Error(err))
			}
		}
	}
}

// Shutdown enqueues SHUTDOWN_ID and waits for the worker's shutdown-done
// signal before returning.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if atomic.LoadInt32(&d.started) == 0 {
		return nil
	}
	d.wake.Wake(api.InterruptMessage{ID: api.ShutdownID})
	select {
	case <-d.worker.ShutdownDone():
	case <-ctx.Done():
		return ctx.Err()
	}
	err := d.group.Wait()
	d.device.Close()
	d.wake.Close()
	return err
}

// Register assigns an opaque id to h, returning it for use as the id
// argument to SendData. Registration itself does not consume a reference;
// SendData retains one on h's behalf for every message it subsequently
// enqueues for this id, matching the single Release the worker issues
// per message it applies.
func (d *Dispatcher) Register(h api.SocketHandle) int64 {
	id := atomic.AddInt64(&d.nextID, 1)
	d.handlesMu.Lock()
	d.handles[id] = h
	d.handlesMu.Unlock()
	d.worker.TrackHandle(id, h)
	return id
}

// TrackListening registers fd with the listening-socket registry so a
// later CLOSE from any subscriber correctly coordinates with the others.
func (d *Dispatcher) TrackListening(fd uintptr) {
	d.reg.Track(fd)
}

// SendData enqueues one interrupt message. Safe to call from any thread;
// a short write on the wakeup channel is fatal and
// handled inside wakeup.Channel.Wake. The message carries a reference on
// id's handle that the worker releases once it applies the command
// (internal/worker.applyCommand's deferred Release), so every enqueue here
// must retain exactly once first.
func (d *Dispatcher) SendData(id, port, data int64) {
	cw := api.UnpackCommand(data)

	d.handlesMu.Lock()
	h, ok := d.handles[id]
	if ok && cw.Command == api.CommandClose {
		delete(d.handles, id)
	}
	d.handlesMu.Unlock()

	if ok {
		h.Retain()
	}
	d.wake.Wake(api.InterruptMessage{ID: id, Port: port, Data: data})
}

// SendTimer schedules or cancels a timer for port; deadlineMs <= 0 cancels
// it.
func (d *Dispatcher) SendTimer(port int64, deadlineMs int64) {
	d.wake.Wake(api.InterruptMessage{ID: api.TimerID, Port: port, Data: deadlineMs})
}
