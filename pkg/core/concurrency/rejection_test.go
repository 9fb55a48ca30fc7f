package concurrency

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// saturate fills a 1/1/1 pool: one running task and one queued task
func saturate(t *testing.T, e *ThreadPoolExecutor, release <-chan struct{}) {
	t.Helper()

	started := make(chan string, 2)
	if err := e.Execute(blockingTask("running", started, release)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	<-started
	if err := e.Execute(blockingTask("queued", started, release)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestResubmitPolicy_Backoff(t *testing.T) {
	p := &ResubmitPolicy{}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{7, 640 * time.Millisecond},
		{8, time.Second},
		{60, time.Second},
	}
	for _, tt := range tests {
		if got := p.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	custom := &ResubmitPolicy{BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	if got := custom.backoff(4); got != 5*time.Millisecond {
		t.Errorf("backoff(4) = %v, want 5ms", got)
	}
}

func TestResubmitPolicy_DropsAfterMaxAttempts(t *testing.T) {
	logger, logs := newObservedLogger()
	events := &eventLog{}
	executor := newTestExecutor(t, testConfig(1, 1, 1),
		WithLogger(logger),
		WithObservers(events),
		WithRejectionPolicy(&ResubmitPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond}),
	)
	release := make(chan struct{})
	defer close(release)
	saturate(t, executor, release)

	executor.Submit(func() {})

	waitFor(t, 2*time.Second, func() bool { return executor.Stats().DroppedTasks == 1 }, "drop")

	if n := events.count(EventTaskRejected, nil); n != 4 {
		t.Errorf("task_rejected events = %d, want 4 (attempts 0..3)", n)
	}
	if n := logs.FilterMessage("task dropped after repeated rejection").Len(); n != 1 {
		t.Errorf("drop log lines = %d, want 1", n)
	}
	dropped := events.all(EventTaskDropped)
	if len(dropped) != 1 || dropped[0].Attempt != 3 {
		t.Errorf("task_dropped events = %+v, want one at attempt 3", dropped)
	}
}

func TestResubmitPolicy_ResubmitsIntoTarget(t *testing.T) {
	target := newTestExecutor(t, testConfig(1, 1, 4))
	source := newTestExecutor(t, testConfig(1, 1, 1),
		WithRejectionPolicy(&ResubmitPolicy{Target: func() *ThreadPoolExecutor { return target }}),
	)
	release := make(chan struct{})
	defer close(release)
	saturate(t, source, release)

	done := make(chan struct{})
	source.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rejected task did not run on target pool")
	}
	if got := source.Stats().RejectedTasks; got != 1 {
		t.Errorf("source RejectedTasks = %d, want 1", got)
	}
}

func TestResubmitPolicy_ShutdownTargetDrops(t *testing.T) {
	logger, logs := newObservedLogger()
	events := &eventLog{}

	target := newTestExecutor(t, testConfig(1, 1, 1))
	target.Shutdown()

	source := newTestExecutor(t, testConfig(1, 1, 1),
		WithLogger(logger),
		WithObservers(events),
		WithRejectionPolicy(&ResubmitPolicy{Target: func() *ThreadPoolExecutor { return target }}),
	)
	release := make(chan struct{})
	defer close(release)
	saturate(t, source, release)

	if err := source.Submit(func() {}); err != nil {
		t.Fatalf("Submit() error = %v, rejection is not a submit error", err)
	}

	if got := source.Stats().DroppedTasks; got != 1 {
		t.Errorf("DroppedTasks = %d, want 1", got)
	}
	if n := logs.FilterMessage("task dropped, resubmission failed").Len(); n != 1 {
		t.Errorf("resubmission failure log lines = %d, want 1", n)
	}
	dropped := events.all(EventTaskDropped)
	if len(dropped) != 1 || dropped[0].Error != ErrExecutorShutdown.Error() {
		t.Errorf("task_dropped events = %+v, want one carrying %q", dropped, ErrExecutorShutdown)
	}
}

func TestDiscardPolicy(t *testing.T) {
	logger, logs := newObservedLogger()
	executor := newTestExecutor(t, testConfig(1, 1, 1),
		WithLogger(logger),
		WithRejectionPolicy(DiscardPolicy{}),
	)
	release := make(chan struct{})
	defer close(release)
	saturate(t, executor, release)

	var ran atomic.Bool
	executor.Submit(func() { ran.Store(true) })

	stats := executor.Stats()
	if stats.RejectedTasks != 1 || stats.DroppedTasks != 1 {
		t.Errorf("rejected/dropped = %d/%d, want 1/1", stats.RejectedTasks, stats.DroppedTasks)
	}
	if n := logs.FilterMessage("task rejected, discarding").Len(); n != 1 {
		t.Errorf("discard log lines = %d, want 1", n)
	}
	if ran.Load() {
		t.Error("discarded task ran")
	}
}

func TestCallerRunsPolicy(t *testing.T) {
	executor := newTestExecutor(t, testConfig(1, 1, 1), WithRejectionPolicy(CallerRunsPolicy{}))
	release := make(chan struct{})
	defer close(release)
	saturate(t, executor, release)

	var ran atomic.Bool
	executor.Execute(NewNamedTask("caller", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}))

	if !ran.Load() {
		t.Error("CallerRunsPolicy did not run the task on the submitting goroutine")
	}
}

func TestRejectionFunc(t *testing.T) {
	var got Rejection
	executor := newTestExecutor(t, testConfig(1, 1, 1),
		WithRejectionPolicy(RejectionFunc(func(r Rejection, e *ThreadPoolExecutor) {
			got = r
		})),
	)
	release := make(chan struct{})
	defer close(release)
	saturate(t, executor, release)

	executor.Execute(NewNamedTask("custom", func(ctx context.Context) error { return nil }))

	if got.Task == nil || got.Task.Name() != "custom" {
		t.Errorf("RejectionFunc got %+v, want task named custom", got)
	}
	if got.ID == "" || got.Attempt != 0 {
		t.Errorf("Rejection ID/Attempt = %q/%d, want non-empty/0", got.ID, got.Attempt)
	}
}
