package concurrency

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/fluxorio/threadpool/pkg/core/concurrency"

// ThreadPoolExecutor runs tasks on between CoreSize and MaxSize workers,
// buffering up to QueueCapacity tasks once the core workers exist.
type ThreadPoolExecutor struct {
	name      string
	cfg       PoolConfig
	factory   *ThreadFactory
	queue     *BoundedQueue[*submission]
	rejection RejectionPolicy
	logger    Logger
	observers []Observer
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the submission sequence, state transitions and the worker set
	mu              sync.Mutex
	state           atomic.Int32
	workers         map[string]WorkerInfo
	poolSize        int
	largestPoolSize int

	// pendingRetries counts rejected tasks a policy still holds, e.g. on a
	// backoff timer. Termination waits for it to reach zero.
	pendingRetries int

	shutdownCh   chan struct{}
	terminatedCh chan struct{}

	// Metrics (atomic for thread-safety)
	activeWorkers  atomic.Int64
	submittedTasks atomic.Int64
	completedTasks atomic.Int64
	failedTasks    atomic.Int64
	rejectedTasks  atomic.Int64
	droppedTasks   atomic.Int64
}

// NewThreadPoolExecutor validates cfg and creates a running executor with no
// workers; workers are started on demand. Cancelling ctx initiates Shutdown.
func NewThreadPoolExecutor(ctx context.Context, cfg PoolConfig, opts ...Option) (*ThreadPoolExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	factory := o.factory
	if factory == nil {
		factory = NewThreadFactory(cfg.NamePrefix)
	}
	name := factory.NamePrefix()

	if o.logger == nil {
		o.logger = newDefaultLogger(name)
	}
	if o.rejection == nil {
		o.rejection = &ResubmitPolicy{}
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}

	ctx, cancel := context.WithCancel(ctx)

	e := &ThreadPoolExecutor{
		name:         name,
		cfg:          cfg,
		factory:      factory,
		queue:        NewBoundedQueue[*submission](cfg.QueueCapacity),
		rejection:    o.rejection,
		logger:       o.logger,
		observers:    o.observers,
		tracer:       o.tracerProvider.Tracer(instrumentationName),
		ctx:          ctx,
		cancel:       cancel,
		workers:      make(map[string]WorkerInfo),
		shutdownCh:   make(chan struct{}),
		terminatedCh: make(chan struct{}),
	}
	e.state.Store(int32(StateRunning))
	context.AfterFunc(ctx, e.Shutdown)

	return e, nil
}

// Name returns the pool lineage name, "<prefix>-t-<poolSeq>"
func (e *ThreadPoolExecutor) Name() string {
	return e.name
}

// Config returns the immutable pool configuration
func (e *ThreadPoolExecutor) Config() PoolConfig {
	return e.cfg
}

// Logger returns the executor's logger, for rejection policies
func (e *ThreadPoolExecutor) Logger() Logger {
	return e.logger
}

// State returns the current lifecycle state
func (e *ThreadPoolExecutor) State() State {
	return State(e.state.Load())
}

// IsShutdown reports whether Shutdown has been called
func (e *ThreadPoolExecutor) IsShutdown() bool {
	return e.State() != StateRunning
}

// IsTerminated reports whether all work has drained after Shutdown
func (e *ThreadPoolExecutor) IsTerminated() bool {
	return e.State() == StateTerminated
}

// Execute implements Executor interface
func (e *ThreadPoolExecutor) Execute(task Task) error {
	if task == nil {
		return ErrNilTask
	}
	if err := e.execute(&submission{task: task, id: uuid.NewString()}, false); err != nil {
		return err
	}
	e.submittedTasks.Add(1)
	return nil
}

// Submit implements Executor interface
func (e *ThreadPoolExecutor) Submit(fn func()) error {
	if fn == nil {
		return ErrNilTask
	}
	return e.Execute(Runnable(fn))
}

// Resubmit re-enters a rejected task with its attempt counter advanced.
// Used by rejection policies; it runs the normal submission sequence. The
// task was already accepted, so it is still taken while the pool shuts down;
// only a terminated pool refuses it.
func (e *ThreadPoolExecutor) Resubmit(r Rejection) error {
	if r.Task == nil {
		return ErrNilTask
	}
	s := &submission{task: r.Task, id: r.ID, attempt: r.Attempt + 1}
	if s.id == "" {
		s.id = uuid.NewString()
	}

	ev := e.event(EventTaskResubmitted)
	ev.TaskID = s.id
	ev.TaskName = s.task.Name()
	ev.Attempt = s.attempt
	e.emit(ev)

	return e.execute(s, true)
}

// execute is the submission sequence. Worker-count checks and the queue
// offer happen under one lock so concurrent submitters cannot both grow the
// pool past a bound.
func (e *ThreadPoolExecutor) execute(s *submission, accepted bool) error {
	e.mu.Lock()
	switch state := e.State(); {
	case state == StateTerminated, state == StateShuttingDown && !accepted:
		e.mu.Unlock()
		return ErrExecutorShutdown
	}

	// 1. below core: new worker runs the task directly
	if e.poolSize < e.cfg.CoreSize {
		w, size := e.addWorkerLocked()
		e.mu.Unlock()
		e.startWorker(w, s, true, size)
		return nil
	}

	// 2. queue for the next free worker
	if e.queue.Offer(s) {
		size := e.poolSize
		e.mu.Unlock()
		e.logger.Debugw("task queued", "pool", e.name, "task", s.task.Name(), "task_id", s.id, "queued", e.queue.Size())
		ev := e.event(EventTaskQueued)
		ev.TaskID = s.id
		ev.TaskName = s.task.Name()
		ev.Attempt = s.attempt
		ev.PoolSize = size
		e.emit(ev)
		return nil
	}

	// 3. queue full: overflow worker up to max
	if e.poolSize < e.cfg.MaxSize {
		w, size := e.addWorkerLocked()
		e.mu.Unlock()
		e.startWorker(w, s, false, size)
		return nil
	}

	// 4. saturated; the task is held until the policy returns
	e.pendingRetries++
	e.mu.Unlock()
	e.reject(s)
	e.release()
	return nil
}

func (e *ThreadPoolExecutor) addWorkerLocked() (WorkerInfo, int) {
	w := e.factory.NewWorker()
	e.workers[w.Name] = w
	e.poolSize++
	if e.poolSize > e.largestPoolSize {
		e.largestPoolSize = e.poolSize
	}
	return w, e.poolSize
}

func (e *ThreadPoolExecutor) startWorker(w WorkerInfo, first *submission, core bool, size int) {
	e.logger.Infow("worker started",
		"pool", e.name,
		"worker", w.Name,
		"core", core,
		"pool_size", size,
		"priority", w.Priority.String(),
		"keep_alive", w.KeepAlive,
	)
	ev := e.event(EventWorkerStarted)
	ev.Worker = w.Name
	ev.PoolSize = size
	e.emit(ev)

	go e.runWorker(w, first) // Hidden: goroutine creation
}

func (e *ThreadPoolExecutor) reject(s *submission) {
	e.rejectedTasks.Add(1)

	ev := e.event(EventTaskRejected)
	ev.TaskID = s.id
	ev.TaskName = s.task.Name()
	ev.Attempt = s.attempt
	e.emit(ev)

	e.rejection.Rejected(Rejection{Task: s.task, ID: s.id, Attempt: s.attempt}, e)
}

// hold keeps the pool from terminating while a policy still owns a
// rejected task. Every hold is paired with a release.
func (e *ThreadPoolExecutor) hold() {
	e.mu.Lock()
	e.pendingRetries++
	e.mu.Unlock()
}

func (e *ThreadPoolExecutor) release() {
	e.mu.Lock()
	e.pendingRetries--
	terminated := e.tryTerminateLocked()
	e.mu.Unlock()

	if terminated {
		e.onTerminated()
	}
}

// drop records that a policy gave up on a task
func (e *ThreadPoolExecutor) drop(r Rejection, cause error) {
	e.droppedTasks.Add(1)

	ev := e.event(EventTaskDropped)
	ev.TaskID = r.ID
	ev.TaskName = r.Task.Name()
	ev.Attempt = r.Attempt
	if cause != nil {
		ev.Error = cause.Error()
	}
	e.emit(ev)
}

// Shutdown implements Executor interface
func (e *ThreadPoolExecutor) Shutdown() {
	e.mu.Lock()
	if e.State() != StateRunning {
		e.mu.Unlock()
		return
	}
	e.state.Store(int32(StateShuttingDown))
	close(e.shutdownCh)
	size := e.poolSize
	queued := e.queue.Size()
	terminated := e.tryTerminateLocked()
	e.mu.Unlock()

	e.logger.Infow("pool shutting down", "pool", e.name, "pool_size", size, "queued", queued)
	ev := e.event(EventPoolShutdown)
	ev.PoolSize = size
	e.emit(ev)

	if terminated {
		e.onTerminated()
	}
}

func (e *ThreadPoolExecutor) tryTerminateLocked() bool {
	if e.State() != StateShuttingDown || e.poolSize != 0 || e.pendingRetries != 0 {
		return false
	}
	e.state.Store(int32(StateTerminated))
	return true
}

func (e *ThreadPoolExecutor) onTerminated() {
	e.cancel()

	e.logger.Infow("pool terminated",
		"pool", e.name,
		"completed", e.completedTasks.Load(),
		"largest_pool_size", e.Stats().LargestPoolSize,
	)
	e.emit(e.event(EventPoolTerminated))

	// last, so waiters observe every event the pool emitted
	close(e.terminatedCh)
}

// AwaitTermination implements Executor interface
func (e *ThreadPoolExecutor) AwaitTermination(ctx context.Context) error {
	select {
	case <-e.terminatedCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

// Stop implements Executor interface
func (e *ThreadPoolExecutor) Stop(ctx context.Context) error {
	e.Shutdown()
	return e.AwaitTermination(ctx)
}

// Terminated is closed once the executor reaches StateTerminated
func (e *ThreadPoolExecutor) Terminated() <-chan struct{} {
	return e.terminatedCh
}

// Workers returns the names of the live workers
func (e *ThreadPoolExecutor) Workers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.workers))
	for name := range e.workers {
		names = append(names, name)
	}
	return names
}

// Stats implements Executor interface
func (e *ThreadPoolExecutor) Stats() ExecutorStats {
	e.mu.Lock()
	poolSize := e.poolSize
	largest := e.largestPoolSize
	pending := e.pendingRetries
	e.mu.Unlock()

	queued := e.queue.Size()
	queueUtilization := float64(queued) / float64(e.queue.Capacity()) * 100.0
	if queueUtilization > 100.0 {
		queueUtilization = 100.0
	}

	return ExecutorStats{
		State:            e.State(),
		PoolSize:         poolSize,
		CorePoolSize:     e.cfg.CoreSize,
		MaxPoolSize:      e.cfg.MaxSize,
		LargestPoolSize:  largest,
		ActiveWorkers:    int(e.activeWorkers.Load()),
		QueuedTasks:      queued,
		QueueCapacity:    e.queue.Capacity(),
		QueueUtilization: queueUtilization,
		SubmittedTasks:   e.submittedTasks.Load(),
		CompletedTasks:   e.completedTasks.Load(),
		FailedTasks:      e.failedTasks.Load(),
		RejectedTasks:    e.rejectedTasks.Load(),
		DroppedTasks:     e.droppedTasks.Load(),
		PendingRetries:   pending,
	}
}

func (e *ThreadPoolExecutor) event(kind EventKind) Event {
	ev := newEvent(kind, e.name)
	ev.QueueSize = e.queue.Size()
	return ev
}

func (e *ThreadPoolExecutor) emit(ev Event) {
	for _, o := range e.observers {
		o.Observe(ev)
	}
}
