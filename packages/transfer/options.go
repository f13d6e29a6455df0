package transfer

import (
	"io"
	"log/slog"
)

type Option func(*Engine)

// WithPolicy sets the transfer policy. Zero fields take their defaults.
func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithConcurrency sets how many transfers may run at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		e.concurrency = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithNativeInit replaces the native engine's global initialization. Tests
// use it to simulate an engine that cannot start.
func WithNativeInit(fn func() error) Option {
	return func(e *Engine) {
		if fn != nil {
			e.nativeInit = fn
		}
	}
}

// WithForceFallback routes every request to the fallback engine.
func WithForceFallback(force bool) Option {
	return func(e *Engine) {
		e.forceFallback = force
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
