package concurrency

import (
	"go.opentelemetry.io/otel/trace"
)

// Option configures the collaborators of a ThreadPoolExecutor.
type Option func(*options)

type options struct {
	logger         Logger
	rejection      RejectionPolicy
	observers      []Observer
	tracerProvider trace.TracerProvider
	factory        *ThreadFactory
}

// WithLogger sets the structured logger. Defaults to a zap production logger.
func WithLogger(l Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRejectionPolicy sets the saturation policy. Defaults to a
// ResubmitPolicy that re-enters the rejecting executor.
func WithRejectionPolicy(p RejectionPolicy) Option {
	return func(o *options) {
		o.rejection = p
	}
}

// WithObservers appends lifecycle event observers.
func WithObservers(obs ...Observer) Option {
	return func(o *options) {
		for _, ob := range obs {
			if ob != nil {
				o.observers = append(o.observers, ob)
			}
		}
	}
}

// WithTracerProvider sets where task spans go. Defaults to the global
// OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithThreadFactory replaces the factory built from PoolConfig.NamePrefix.
func WithThreadFactory(f *ThreadFactory) Option {
	return func(o *options) {
		o.factory = f
	}
}
