package engine

import (
	"log/slog"
	"runtime"

	"github.com/dshills/shardflow/engine/emit"
)

// Option is a functional option for configuring a Processor or Coordinator.
//
// Options are applied in order by NewProcessor and NewCoordinator; a later
// option overrides an earlier one. An option that rejects its value returns an
// *EngineError, and construction fails with it.
//
// Without options a coordinator runs runtime.NumCPU() shards, logs through
// slog.Default(), emits nothing and records no metrics.
//
// Example:
//
//	c, err := engine.NewCoordinator(deps,
//	    engine.WithShardCount(16),
//	    engine.WithLogger(logger),
//	    engine.WithMetrics(engine.NewPrometheusMetrics(registry)),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied.
type engineConfig struct {
	shardCount int
	logger     *slog.Logger
	emitter    emit.Emitter
	metrics    *PrometheusMetrics
}

func newEngineConfig(opts []Option) (*engineConfig, error) {
	cfg := &engineConfig{
		shardCount: runtime.NumCPU(),
		logger:     slog.Default(),
		emitter:    emit.NewNullEmitter(),
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// WithShardCount sets the number of shard processors owned by a Coordinator.
//
// Default: runtime.NumCPU(). Values below 1 are rejected with an *EngineError
// coded "INVALID_SHARD_COUNT". Ignored by NewProcessor.
func WithShardCount(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 1 {
			return invalidShardCount(n)
		}
		cfg.shardCount = n
		return nil
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
//
// Each processor derives a child logger carrying a "shard" attribute.
// Recovery-path failures are logged at Error level, events dropped after Stop
// at Warn and lifecycle changes at Info and Debug. A nil logger keeps the
// default.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		if logger != nil {
			cfg.logger = logger
		}
		return nil
	}
}

// WithEmitter sets the observability emitter. Default: emit.NullEmitter.
//
// The emitter is shared by every shard and must be safe for concurrent use.
// Combine several sinks with emit.Multi. A nil emitter keeps the default.
//
// Example:
//
//	engine.WithEmitter(emit.Multi{
//	    emit.NewLogEmitter(os.Stdout, true),
//	    emit.NewOTelEmitter(tp, "shardflow"),
//	})
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		if e != nil {
			cfg.emitter = e
		}
		return nil
	}
}

// WithMetrics enables Prometheus metrics. Nil disables them.
//
// The metrics are registered once by NewPrometheusMetrics. One instance may be
// shared by several coordinators, in which case their series add up.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := engine.NewPrometheusMetrics(registry)
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}
