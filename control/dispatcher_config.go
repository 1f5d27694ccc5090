// control/dispatcher_config.go
// Author: momentics <momentics@gmail.com>
//
// DispatcherConfig loads the worker's tunables through viper, with defaults
// set once at construction and overridable from file, env, or flags.

package control

import "github.com/spf13/viper"

// DispatcherConfig holds the worker loop's tunable knobs.
type DispatcherConfig struct {
	MaxEventsPerPoll int    // E: events per readiness-device Wait call
	PipeDrainBatch   int    // K: interrupt messages drained per wakeup
	ShutdownTimeoutMs int   // bound on Dispatcher.Shutdown's wait
	WorkerCPU        int    // pinned logical CPU, -1 disables pinning
	MetricsPushURL   string // optional prometheus push-gateway URL
}

// NewDispatcherConfig builds a DispatcherConfig from v, falling back to
// defaults for any key v does not set. Passing nil uses viper.GetViper().
func NewDispatcherConfig(v *viper.Viper) *DispatcherConfig {
	if v == nil {
		v = viper.GetViper()
	}
	v.SetDefault("dispatcher.max_events_per_poll", 16)
	v.SetDefault("dispatcher.pipe_drain_batch", 64)
	v.SetDefault("dispatcher.shutdown_timeout_ms", 5000)
	v.SetDefault("dispatcher.worker_cpu", -1)
	v.SetDefault("dispatcher.metrics_push_url", "")

	return &DispatcherConfig{
		MaxEventsPerPoll:  v.GetInt("dispatcher.max_events_per_poll"),
		PipeDrainBatch:    v.GetInt("dispatcher.pipe_drain_batch"),
		ShutdownTimeoutMs: v.GetInt("dispatcher.shutdown_timeout_ms"),
		WorkerCPU:         v.GetInt("dispatcher.worker_cpu"),
		MetricsPushURL:    v.GetString("dispatcher.metrics_push_url"),
	}
}
