package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core).Sugar(), logs
}

// eventLog records every event a pool emits
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Observe(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) count(kind EventKind, match func(Event) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.events {
		if e.Kind == kind && (match == nil || match(e)) {
			n++
		}
	}
	return n
}

func (l *eventLog) all(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	for _, e := range l.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func newTestExecutor(t *testing.T, cfg PoolConfig, opts ...Option) *ThreadPoolExecutor {
	t.Helper()

	logger, _ := newObservedLogger()
	opts = append([]Option{WithLogger(logger)}, opts...)

	executor, err := NewThreadPoolExecutor(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("NewThreadPoolExecutor() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = executor.Stop(ctx)
	})
	return executor
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, what)
}

// blockingTask signals started and then waits for release
func blockingTask(name string, started chan<- string, release <-chan struct{}) Task {
	return NewNamedTask(name, func(ctx context.Context) error {
		if started != nil {
			started <- name
		}
		<-release
		return nil
	})
}

func testConfig(core, max, queue int) PoolConfig {
	return PoolConfig{
		CoreSize:      core,
		MaxSize:       max,
		QueueCapacity: queue,
		IdleTimeout:   DefaultIdleTimeout,
		NamePrefix:    "test",
	}
}
