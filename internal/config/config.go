// Package config binds the engine's tuning knobs through flags, a
// config file, and defaults, in that precedence order, using the same
// viper+pflag layering the rest of the Go CLI ecosystem uses.
package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Engine holds every tunable of the streaming execution runtime. None
// of these affect correctness (the invariants in spec.md §8 hold for
// any positive value); they trade memory for throughput and latency.
type Engine struct {
	// SliceSize is the global slice width S used to derive slice
	// indices from event-time timestamps.
	SliceSize time.Duration `mapstructure:"slice_size"`
	// PartitionCount is P, the number of hash partitions per slice.
	PartitionCount int `mapstructure:"partition_count"`
	// WorkerCount is W, the number of worker threads; also the
	// contribution-list size a global slice must reach to be complete.
	WorkerCount int `mapstructure:"worker_count"`
	// AllowedLateness is the default allowed lateness applied to
	// window definitions that don't override it.
	AllowedLateness time.Duration `mapstructure:"allowed_lateness"`
	// PooledBufferSize is the fixed payload capacity, in bytes, of a
	// pooled tuple buffer.
	PooledBufferSize int `mapstructure:"pooled_buffer_size"`
	// PooledBufferCount is the number of buffers the pool pre-allocates.
	PooledBufferCount int `mapstructure:"pooled_buffer_count"`
	// TaskQueueCapacity is the capacity of each worker's local task
	// queue and of the shared overflow queue.
	TaskQueueCapacity int `mapstructure:"task_queue_capacity"`
	// WatermarkLogCapacity bounds the lock-free watermark processor's
	// per-origin observation log.
	WatermarkLogCapacity int `mapstructure:"watermark_log_capacity"`
}

// Default returns the engine's default configuration.
func Default() Engine {
	return Engine{
		SliceSize:            10 * time.Second,
		PartitionCount:       8,
		WorkerCount:          4,
		AllowedLateness:      0,
		PooledBufferSize:     64 * 1024,
		PooledBufferCount:    256,
		TaskQueueCapacity:    1024,
		WatermarkLogCapacity: 4096,
	}
}

// BindFlags registers the engine's knobs on fs using Default() as the
// flag default, for command-line overrides.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.Duration("slice-size", d.SliceSize, "window slice width")
	fs.Int("partition-count", d.PartitionCount, "hash partitions per slice")
	fs.Int("worker-count", d.WorkerCount, "worker pool size")
	fs.Duration("allowed-lateness", d.AllowedLateness, "default allowed lateness")
	fs.Int("pooled-buffer-size", d.PooledBufferSize, "pooled tuple buffer payload size, bytes")
	fs.Int("pooled-buffer-count", d.PooledBufferCount, "number of pooled tuple buffers")
	fs.Int("task-queue-capacity", d.TaskQueueCapacity, "per-worker task queue capacity")
	fs.Int("watermark-log-capacity", d.WatermarkLogCapacity, "per-origin watermark log capacity")
}

// Load reads configuration from an optional file (searched by v) and
// overlays any flags bound with BindFlags, falling back to Default()
// for anything unset.
func Load(v *viper.Viper, fs *pflag.FlagSet) (Engine, error) {
	cfg := Default()
	if v == nil {
		v = viper.New()
	}
	v.SetConfigName("nebula-core")
	v.AddConfigPath(".")
	v.SetEnvPrefix("NEBULA")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
	}
	if fs != nil {
		// Flags are dash-named; bind them under the underscore keys the
		// mapstructure tags use so Unmarshal picks them up.
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return cfg, bindErr
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
