package concurrency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewThreadPoolExecutor(t *testing.T) {
	executor := newTestExecutor(t, testConfig(2, 4, 2))

	stats := executor.Stats()
	if stats.State != StateRunning {
		t.Errorf("Stats().State = %v, want %v", stats.State, StateRunning)
	}
	if stats.PoolSize != 0 {
		t.Errorf("Stats().PoolSize = %d, want 0 (workers are lazy)", stats.PoolSize)
	}
	if stats.CorePoolSize != 2 || stats.MaxPoolSize != 4 {
		t.Errorf("Stats() core/max = %d/%d, want 2/4", stats.CorePoolSize, stats.MaxPoolSize)
	}
	if stats.QueueCapacity != 2 {
		t.Errorf("Stats().QueueCapacity = %d, want 2", stats.QueueCapacity)
	}
	if !strings.HasPrefix(executor.Name(), "test-t-") {
		t.Errorf("Name() = %q, want prefix test-t-", executor.Name())
	}
}

func TestNewThreadPoolExecutor_WithThreadFactory(t *testing.T) {
	factory := NewThreadFactory("custom")
	executor := newTestExecutor(t, testConfig(1, 1, 1), WithThreadFactory(factory))

	if executor.Name() != factory.NamePrefix() {
		t.Errorf("Name() = %q, want %q", executor.Name(), factory.NamePrefix())
	}

	done := make(chan struct{})
	executor.Submit(func() { close(done) })
	<-done

	if factory.Created() != 1 {
		t.Errorf("factory Created() = %d, want 1", factory.Created())
	}
	names := executor.Workers()
	if len(names) != 1 || !strings.HasPrefix(names[0], "custom-t-") {
		t.Errorf("Workers() = %v, want one custom-t- worker", names)
	}
}

func TestNewThreadPoolExecutor_InvalidConfig(t *testing.T) {
	_, err := NewThreadPoolExecutor(context.Background(), testConfig(4, 2, 2))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewThreadPoolExecutor() error = %v, want ErrInvalidConfig", err)
	}
}

func TestExecutor_ExecuteNil(t *testing.T) {
	executor := newTestExecutor(t, testConfig(1, 1, 1))

	if err := executor.Execute(nil); !errors.Is(err, ErrNilTask) {
		t.Errorf("Execute(nil) error = %v, want ErrNilTask", err)
	}
	if err := executor.Submit(nil); !errors.Is(err, ErrNilTask) {
		t.Errorf("Submit(nil) error = %v, want ErrNilTask", err)
	}
}

func TestExecutor_CoreWorkersRunWithoutQueueing(t *testing.T) {
	executor := newTestExecutor(t, testConfig(2, 4, 2))
	started := make(chan string, 2)
	release := make(chan struct{})
	defer close(release)

	for i := 0; i < 2; i++ {
		if err := executor.Execute(blockingTask(fmt.Sprintf("core-%d", i), started, release)); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("core task did not start")
		}
	}

	stats := executor.Stats()
	if stats.PoolSize != 2 {
		t.Errorf("Stats().PoolSize = %d, want 2", stats.PoolSize)
	}
	if stats.QueuedTasks != 0 {
		t.Errorf("Stats().QueuedTasks = %d, want 0", stats.QueuedTasks)
	}
}

func TestExecutor_QueueIsFIFO(t *testing.T) {
	executor := newTestExecutor(t, testConfig(1, 1, 5))
	started := make(chan string, 1)
	release := make(chan struct{})

	executor.Execute(blockingTask("blocker", started, release))
	<-started

	var (
		mu    sync.Mutex
		order []int
	)
	for i := 0; i < 5; i++ {
		n := i
		executor.Submit(func() {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		})
	}
	if got := executor.Stats().QueuedTasks; got != 5 {
		t.Errorf("Stats().QueuedTasks = %d, want 5", got)
	}

	close(release)
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	}, "queued tasks")

	for i, n := range order {
		if n != i {
			t.Fatalf("execution order = %v, want FIFO", order)
		}
	}
}

func TestExecutor_OverflowWorkerWhenQueueFull(t *testing.T) {
	executor := newTestExecutor(t, testConfig(1, 2, 1))
	started := make(chan string, 3)
	release := make(chan struct{})
	defer close(release)

	executor.Execute(blockingTask("core", started, release))
	executor.Execute(blockingTask("queued", started, release))
	executor.Execute(blockingTask("overflow", started, release))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case name := <-started:
			got[name] = true
		case <-time.After(time.Second):
			t.Fatal("expected two running tasks")
		}
	}

	if !got["core"] || !got["overflow"] {
		t.Errorf("running tasks = %v, want core and overflow", got)
	}
	stats := executor.Stats()
	if stats.PoolSize != 2 {
		t.Errorf("Stats().PoolSize = %d, want 2", stats.PoolSize)
	}
	if stats.QueuedTasks != 1 {
		t.Errorf("Stats().QueuedTasks = %d, want 1", stats.QueuedTasks)
	}
}

func TestExecutor_SaturationResubmitsThroughSharedPool(t *testing.T) {
	logger, logs := newObservedLogger()
	events := &eventLog{}
	provider := NewProvider(context.Background(), testConfig(2, 4, 2),
		WithLogger(logger),
		WithObservers(events),
	)
	pool := provider.Pool()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Stop(ctx)
	})

	release := make(chan struct{})
	var ran atomic.Int64
	for i := 0; i < 10; i++ {
		err := pool.Execute(NewNamedTask(fmt.Sprintf("task-%d", i), func(ctx context.Context) error {
			<-release
			ran.Add(1)
			return nil
		}))
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}

	// 2 core + 2 queued + 2 overflow; the remaining 4 hit the policy once each
	stats := pool.Stats()
	if stats.PoolSize != 4 {
		t.Errorf("Stats().PoolSize = %d, want 4", stats.PoolSize)
	}
	if stats.QueuedTasks != 2 {
		t.Errorf("Stats().QueuedTasks = %d, want 2", stats.QueuedTasks)
	}
	if n := events.count(EventWorkerStarted, nil); n != 4 {
		t.Errorf("worker_started events = %d, want 4", n)
	}
	firstRejections := events.count(EventTaskRejected, func(e Event) bool { return e.Attempt == 0 })
	if firstRejections != 4 {
		t.Errorf("first-attempt rejections = %d, want 4", firstRejections)
	}
	if n := events.count(EventTaskResubmitted, func(e Event) bool { return e.Attempt == 1 }); n != 4 {
		t.Errorf("resubmissions = %d, want 4", n)
	}

	logged := 0
	for _, entry := range logs.FilterMessage("task rejected, resubmitting to shared pool").All() {
		if entry.ContextMap()["attempt"] == int64(0) {
			logged++
		}
	}
	if logged != 4 {
		t.Errorf("rejection log lines for first attempts = %d, want 4", logged)
	}

	close(release)
	waitFor(t, 5*time.Second, func() bool { return ran.Load() == 10 }, "all 10 tasks")

	if dropped := pool.Stats().DroppedTasks; dropped != 0 {
		t.Errorf("Stats().DroppedTasks = %d, want 0", dropped)
	}
}

func TestExecutor_ConcurrentSubmissionsRespectBounds(t *testing.T) {
	executor := newTestExecutor(t, testConfig(2, 4, 2), WithRejectionPolicy(DiscardPolicy{}))
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			executor.Execute(blockingTask(fmt.Sprintf("t-%d", i), nil, release))
		}(i)
	}
	wg.Wait()

	stats := executor.Stats()
	if stats.LargestPoolSize != 4 {
		t.Errorf("Stats().LargestPoolSize = %d, want 4", stats.LargestPoolSize)
	}
	if stats.QueuedTasks != 2 {
		t.Errorf("Stats().QueuedTasks = %d, want 2", stats.QueuedTasks)
	}
	if stats.DroppedTasks != 44 {
		t.Errorf("Stats().DroppedTasks = %d, want 44", stats.DroppedTasks)
	}
	close(release)
}

func TestExecutor_TaskFailureDoesNotAffectPool(t *testing.T) {
	logger, logs := newObservedLogger()
	executor := newTestExecutor(t, testConfig(1, 1, 10), WithLogger(logger))

	executor.Execute(NewNamedTask("returns-error", func(ctx context.Context) error {
		return errors.New("boom")
	}))
	executor.Execute(NewNamedTask("panics", func(ctx context.Context) error {
		panic("kaboom")
	}))

	done := make(chan struct{})
	executor.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task after failures did not run")
	}

	waitFor(t, time.Second, func() bool { return executor.Stats().CompletedTasks == 3 }, "completed tasks")

	if failed := executor.Stats().FailedTasks; failed != 2 {
		t.Errorf("Stats().FailedTasks = %d, want 2", failed)
	}
	if n := logs.FilterMessage("task failed").Len(); n != 2 {
		t.Errorf("task failed log lines = %d, want 2", n)
	}
	if n := logs.FilterMessage("worker started").Len(); n != 1 {
		t.Errorf("worker started log lines = %d, want 1 (same worker reused)", n)
	}

	var panicked bool
	for _, entry := range logs.FilterMessage("task failed").All() {
		if err, ok := entry.ContextMap()["error"].(string); ok && strings.Contains(err, "kaboom") {
			panicked = true
		}
	}
	if !panicked {
		t.Error("panic value was not logged")
	}
}

func TestExecutor_IdleOverflowWorkersAreReclaimed(t *testing.T) {
	logger, logs := newObservedLogger()
	cfg := testConfig(1, 3, 1)
	cfg.IdleTimeout = 50 * time.Millisecond
	executor := newTestExecutor(t, cfg, WithLogger(logger))

	started := make(chan string, 4)
	release := make(chan struct{})
	for i := 0; i < 4; i++ {
		executor.Execute(blockingTask(fmt.Sprintf("t-%d", i), started, release))
	}
	if size := executor.Stats().PoolSize; size != 3 {
		t.Fatalf("Stats().PoolSize = %d, want 3", size)
	}

	close(release)
	waitFor(t, 2*time.Second, func() bool { return executor.Stats().CompletedTasks == 4 }, "tasks to finish")
	waitFor(t, 2*time.Second, func() bool { return executor.Stats().PoolSize == 1 }, "overflow reclamation")

	// the core worker stays through further idle periods
	time.Sleep(4 * cfg.IdleTimeout)
	if size := executor.Stats().PoolSize; size != 1 {
		t.Errorf("Stats().PoolSize = %d, want 1", size)
	}
	if n := len(executor.Workers()); n != 1 {
		t.Errorf("Workers() = %d names, want 1", n)
	}

	idle := 0
	for _, entry := range logs.FilterMessage("worker stopped").All() {
		if entry.ContextMap()["reason"] == exitIdle {
			idle++
		}
	}
	if idle != 2 {
		t.Errorf("idle reclamations logged = %d, want 2", idle)
	}
}

func TestExecutor_WorkerNamesAreUnique(t *testing.T) {
	events := &eventLog{}
	cfg := testConfig(2, 4, 2)
	cfg.IdleTimeout = 10 * time.Millisecond
	executor := newTestExecutor(t, cfg, WithObservers(events))

	var (
		ran atomic.Int64
		wg  sync.WaitGroup
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			executor.Submit(func() {
				time.Sleep(2 * time.Millisecond)
				ran.Add(1)
			})
		}()
	}
	wg.Wait()
	waitFor(t, 10*time.Second, func() bool { return ran.Load() == 64 }, "all tasks")

	seen := map[string]bool{}
	for _, e := range events.all(EventWorkerStarted) {
		if seen[e.Worker] {
			t.Errorf("duplicate worker name %q", e.Worker)
		}
		seen[e.Worker] = true
		if !strings.HasPrefix(e.Worker, executor.Name()+"-") {
			t.Errorf("worker name %q lacks pool prefix %q", e.Worker, executor.Name())
		}
	}
	if len(seen) < cfg.CoreSize {
		t.Errorf("workers started = %d, want >= %d", len(seen), cfg.CoreSize)
	}
}

func TestExecutor_ShutdownDrainsQueuedTasks(t *testing.T) {
	executor := newTestExecutor(t, testConfig(1, 1, 3))
	started := make(chan string, 1)
	release := make(chan struct{})

	executor.Execute(blockingTask("running", started, release))
	<-started

	var ran atomic.Int64
	for i := 0; i < 3; i++ {
		executor.Submit(func() { ran.Add(1) })
	}

	executor.Shutdown()
	if executor.State() != StateShuttingDown {
		t.Errorf("State() = %v, want %v", executor.State(), StateShuttingDown)
	}
	if err := executor.Submit(func() {}); !errors.Is(err, ErrExecutorShutdown) {
		t.Errorf("Submit() after Shutdown error = %v, want ErrExecutorShutdown", err)
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := executor.AwaitTermination(ctx); err != nil {
		t.Fatalf("AwaitTermination() error = %v", err)
	}

	if ran.Load() != 3 {
		t.Errorf("queued tasks run = %d, want 3", ran.Load())
	}
	if !executor.IsTerminated() {
		t.Errorf("State() = %v, want %v", executor.State(), StateTerminated)
	}
	if size := executor.Stats().PoolSize; size != 0 {
		t.Errorf("Stats().PoolSize = %d, want 0", size)
	}
}

func TestExecutor_ShutdownWaitsForPendingResubmission(t *testing.T) {
	events := &eventLog{}
	executor := newTestExecutor(t, testConfig(1, 1, 1),
		WithObservers(events),
		WithRejectionPolicy(&ResubmitPolicy{BaseBackoff: 100 * time.Millisecond}),
	)
	release := make(chan struct{})
	saturate(t, executor, release)

	var ran atomic.Int64
	if err := executor.Submit(func() { ran.Add(1) }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	// rejected, retried at once, rejected again: now waiting on its backoff
	if got := executor.Stats().PendingRetries; got != 1 {
		t.Fatalf("Stats().PendingRetries = %d, want 1", got)
	}

	executor.Shutdown()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := executor.AwaitTermination(ctx); err != nil {
		t.Fatalf("AwaitTermination() error = %v", err)
	}

	if ran.Load() != 1 {
		t.Errorf("resubmitted task runs = %d, want 1", ran.Load())
	}
	stats := executor.Stats()
	if stats.DroppedTasks != 0 {
		t.Errorf("Stats().DroppedTasks = %d, want 0", stats.DroppedTasks)
	}
	if stats.PendingRetries != 0 {
		t.Errorf("Stats().PendingRetries = %d, want 0", stats.PendingRetries)
	}
	if n := events.count(EventTaskCompleted, nil); n != 3 {
		t.Errorf("task_completed events = %d, want 3", n)
	}

	events.mu.Lock()
	last := events.events[len(events.events)-1]
	events.mu.Unlock()
	if last.Kind != EventPoolTerminated {
		t.Errorf("last event = %s, want %s", last.Kind, EventPoolTerminated)
	}
}

func TestExecutor_StopTimeout(t *testing.T) {
	executor := newTestExecutor(t, testConfig(1, 1, 1))
	started := make(chan string, 1)
	release := make(chan struct{})

	executor.Execute(blockingTask("slow", started, release))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := executor.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() error = %v, want deadline exceeded", err)
	}

	close(release)
	if err := executor.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestExecutor_ShutdownWithoutWorkersTerminates(t *testing.T) {
	events := &eventLog{}
	executor := newTestExecutor(t, testConfig(1, 1, 1), WithObservers(events))

	executor.Shutdown()
	executor.Shutdown()

	if !executor.IsTerminated() {
		t.Errorf("State() = %v, want %v", executor.State(), StateTerminated)
	}
	if n := events.count(EventPoolTerminated, nil); n != 1 {
		t.Errorf("pool_terminated events = %d, want 1", n)
	}
}

func TestExecutor_ContextCancelShutsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	logger, _ := newObservedLogger()
	executor, err := NewThreadPoolExecutor(ctx, testConfig(1, 1, 1), WithLogger(logger))
	if err != nil {
		t.Fatalf("NewThreadPoolExecutor() error = %v", err)
	}

	executor.Submit(func() {})
	cancel()

	waitFor(t, 2*time.Second, executor.IsTerminated, "termination after cancel")
}

func TestExecutor_TracesTasks(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	executor := newTestExecutor(t, testConfig(1, 1, 4), WithTracerProvider(tp))

	executor.Execute(NewNamedTask("ok", func(ctx context.Context) error { return nil }))
	executor.Execute(NewNamedTask("bad", func(ctx context.Context) error { return errors.New("bad") }))

	waitFor(t, 2*time.Second, func() bool { return len(recorder.Ended()) == 2 }, "two spans")

	var errored int
	for _, span := range recorder.Ended() {
		if span.Name() != "threadpool.task" {
			t.Errorf("span name = %q, want threadpool.task", span.Name())
		}
		if span.Status().Code == codes.Error {
			errored++
		}
	}
	if errored != 1 {
		t.Errorf("error spans = %d, want 1", errored)
	}
}

func TestState_String(t *testing.T) {
	if StateRunning.String() != "running" || StateShuttingDown.String() != "shutting_down" || StateTerminated.String() != "terminated" {
		t.Error("State.String() mismatch")
	}
}
