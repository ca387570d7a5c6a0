package flow

import "time"

// Options contains engine-wide execution configuration. Zero values are
// valid; the engine applies the documented defaults.
type Options struct {
	// DefaultNodeTimeout bounds a node attempt when the execution request
	// does not set its own timeout. Default: 30s. Zero after options are
	// applied means unlimited.
	DefaultNodeTimeout time.Duration

	// MaxConcurrent caps how many nodes of one layer run at the same time in
	// parallel mode. Default: 8.
	MaxConcurrent int

	// WallClockBudget bounds the whole Execute call. A node attempt's
	// timeout is never extended beyond the remaining budget. Zero disables
	// the budget.
	WallClockBudget time.Duration

	// Retry shapes the delay between retry attempts. The zero policy retries
	// immediately.
	Retry RetryPolicy

	// Metrics receives Prometheus observations when non-nil.
	Metrics *Metrics
}

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	engine := flow.New(registry, st, emitter,
//	    flow.WithDefaultNodeTimeout(10*time.Second),
//	    flow.WithMaxConcurrent(16),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before they are applied, allowing validation
// during New.
type engineConfig struct {
	opts Options
}

// WithDefaultNodeTimeout sets the per-attempt timeout used when an execution
// request does not specify one. Default: 30s.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.DefaultNodeTimeout = d
		return nil
	}
}

// WithMaxConcurrent sets the maximum number of nodes executing concurrently
// within one parallel layer. Default: 8.
//
// Tuning guidance: CPU-bound handlers want runtime.NumCPU(); I/O-bound
// handlers tolerate 10-50 depending on downstream service limits.
func WithMaxConcurrent(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "MaxConcurrent cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.MaxConcurrent = n
		return nil
	}
}

// WithWallClockBudget sets the maximum total duration for one Execute call.
// When the budget runs out, in-flight node timeouts are clipped to the
// remaining budget and the run finishes with a timeout failure unless an
// error branch absorbs it. Zero disables the budget.
func WithWallClockBudget(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.WallClockBudget = d
		return nil
	}
}

// WithRetryPolicy sets the backoff applied between node retry attempts.
// The attempt count itself comes from each execution request's maxRetries.
func WithRetryPolicy(rp RetryPolicy) Option {
	return func(cfg *engineConfig) error {
		if err := rp.Validate(); err != nil {
			return err
		}
		cfg.opts.Retry = rp
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewMetrics(registry)
//	engine := flow.New(handlers, st, emitter, flow.WithMetrics(metrics))
//
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func WithMetrics(m *Metrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = m
		return nil
	}
}
