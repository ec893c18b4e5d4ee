// Package obs carries the runtime's ambient observability surface:
// structured logging and the Prometheus metrics the lifecycle manager
// exposes to operators. No package-level logger is kept; callers own a
// *zap.Logger and pass it down through engine.Options.
package obs

import "go.uber.org/zap"

// NewLogger builds the engine's default production logger. Callers
// embedded in a larger service should build their own *zap.Logger and
// pass it to engine.Options instead of calling this.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// NewNopLogger returns a logger that discards everything, used as the
// default when no logger is supplied and in tests.
func NewNopLogger() *zap.Logger {
	return zap.NewNop()
}
