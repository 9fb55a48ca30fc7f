package concurrency

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Reasons a worker leaves the pool
const (
	exitIdle     = "idle_timeout"
	exitShutdown = "shutdown"
)

// runWorker runs first, then keeps taking from the queue until getTask
// tells it to leave.
func (e *ThreadPoolExecutor) runWorker(w WorkerInfo, first *submission) {
	s := first
	for {
		if s != nil {
			e.runTask(w, s)
		}

		var reason string
		s, reason = e.getTask()
		if s == nil {
			e.workerExited(w, reason)
			return
		}
	}
}

// getTask blocks for the next submission. Workers above CoreSize wait at
// most IdleTimeout; the rest wait until shutdown. On a nil return the
// worker has already been removed from the pool size.
func (e *ThreadPoolExecutor) getTask() (*submission, string) {
	for {
		e.mu.Lock()
		timed := e.poolSize > e.cfg.CoreSize
		e.mu.Unlock()

		var (
			s  *submission
			ok bool
		)
		if timed {
			s, ok = e.queue.PollTimeout(e.cfg.IdleTimeout, e.shutdownCh)
		} else {
			s, ok = e.queue.Take(e.shutdownCh)
		}
		if ok {
			return s, ""
		}

		e.mu.Lock()
		// After shutdown only resubmissions are offered, and they check the
		// pool size under mu, so a worker leaving an empty queue here is
		// replaced if a retry lands later.
		if e.State() != StateRunning {
			if !e.queue.IsEmpty() {
				e.mu.Unlock()
				continue
			}
			e.poolSize--
			e.mu.Unlock()
			return nil, exitShutdown
		}
		if timed && e.poolSize > e.cfg.CoreSize {
			e.poolSize--
			e.mu.Unlock()
			return nil, exitIdle
		}
		e.mu.Unlock()
	}
}

func (e *ThreadPoolExecutor) workerExited(w WorkerInfo, reason string) {
	e.mu.Lock()
	delete(e.workers, w.Name)
	size := e.poolSize
	terminated := e.tryTerminateLocked()
	e.mu.Unlock()

	e.logger.Infow("worker stopped", "pool", e.name, "worker", w.Name, "reason", reason, "pool_size", size)
	ev := e.event(EventWorkerStopped)
	ev.Worker = w.Name
	ev.PoolSize = size
	ev.Error = reason
	e.emit(ev)

	if terminated {
		e.onTerminated()
	}
}

// runTask executes one submission inside a span. Failures are logged and
// counted; the worker carries on either way.
func (e *ThreadPoolExecutor) runTask(w WorkerInfo, s *submission) {
	e.activeWorkers.Add(1)
	defer e.activeWorkers.Add(-1)

	ctx, span := e.tracer.Start(e.ctx, "threadpool.task",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("threadpool.pool", e.name),
			attribute.String("threadpool.worker", w.Name),
			attribute.String("threadpool.task.name", s.task.Name()),
			attribute.String("threadpool.task.id", s.id),
			attribute.Int("threadpool.task.attempt", s.attempt),
		),
	)
	defer span.End()

	start := time.Now()
	err := safeExecute(ctx, s.task)
	elapsed := time.Since(start)
	e.completedTasks.Add(1)

	var ev Event
	if err != nil {
		e.failedTasks.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Errorw("task failed",
			"pool", e.name,
			"worker", w.Name,
			"task", s.task.Name(),
			"task_id", s.id,
			"duration", elapsed,
			"error", err,
		)
		ev = e.event(EventTaskFailed)
		ev.Error = err.Error()
	} else {
		ev = e.event(EventTaskCompleted)
	}
	ev.Worker = w.Name
	ev.TaskID = s.id
	ev.TaskName = s.task.Name()
	ev.Attempt = s.attempt
	ev.Duration = elapsed
	e.emit(ev)
}

// safeExecute turns a panic into ErrTaskPanicked so it cannot kill the worker
func safeExecute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return task.Execute(ctx)
}
