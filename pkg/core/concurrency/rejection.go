package concurrency

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Resubmission defaults for ResubmitPolicy
const (
	DefaultMaxAttempts = 100
	DefaultBaseBackoff = 10 * time.Millisecond
	DefaultMaxBackoff  = time.Second
)

// Rejection describes a task that could neither be queued nor given a worker.
type Rejection struct {
	Task Task

	// ID is the submission ID; it survives resubmission
	ID string

	// Attempt is 0 for the original submission, n for the nth resubmission
	Attempt int
}

// RejectionPolicy handles saturation: the queue is full and the pool is at
// MaxSize. Rejected runs on the submitting goroutine and must not block it.
type RejectionPolicy interface {
	Rejected(r Rejection, executor *ThreadPoolExecutor)
}

// RejectionFunc adapts a function to RejectionPolicy
type RejectionFunc func(r Rejection, executor *ThreadPoolExecutor)

// Rejected implements RejectionPolicy
func (f RejectionFunc) Rejected(r Rejection, executor *ThreadPoolExecutor) {
	f(r, executor)
}

// ResubmitPolicy logs the rejection and hands the task back to the shared
// pool instead of dropping it. The first retry happens immediately on the
// submitting goroutine; later ones are scheduled with exponential backoff so
// sustained saturation neither blocks the caller nor grows the stack. A
// scheduled retry keeps the rejecting pool from terminating until it fires.
type ResubmitPolicy struct {
	// Target returns the pool to resubmit into. Nil means the rejecting executor.
	Target func() *ThreadPoolExecutor

	// MaxAttempts bounds resubmissions per task; 0 means DefaultMaxAttempts
	MaxAttempts int

	// BaseBackoff is the delay before the second resubmission; it doubles
	// per attempt up to MaxBackoff
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Rejected implements RejectionPolicy
func (p *ResubmitPolicy) Rejected(r Rejection, e *ThreadPoolExecutor) {
	log := e.Logger()

	if r.Attempt >= p.maxAttempts() {
		log.Errorw("task dropped after repeated rejection",
			"pool", e.Name(),
			"task", r.Task.Name(),
			"task_id", r.ID,
			"attempts", r.Attempt,
		)
		e.drop(r, nil)
		return
	}

	if r.Attempt == 0 {
		log.Warnw("task rejected, resubmitting to shared pool",
			"pool", e.Name(),
			"task", r.Task.Name(),
			"task_id", r.ID,
			"attempt", r.Attempt,
		)
		p.resubmit(r, e)
		return
	}

	delay := p.backoff(r.Attempt)
	log.Warnw("task rejected, resubmitting to shared pool",
		"pool", e.Name(),
		"task", r.Task.Name(),
		"task_id", r.ID,
		"attempt", r.Attempt,
		"backoff", delay,
	)
	e.hold()
	time.AfterFunc(delay, func() {
		defer e.release()
		p.resubmit(r, e)
	})
}

func (p *ResubmitPolicy) resubmit(r Rejection, e *ThreadPoolExecutor) {
	target := e
	if p.Target != nil {
		if t := p.Target(); t != nil {
			target = t
		}
	}

	if err := target.Resubmit(r); err != nil {
		e.Logger().Errorw("task dropped, resubmission failed",
			"pool", e.Name(),
			"target", target.Name(),
			"task", r.Task.Name(),
			"task_id", r.ID,
			"error", err,
		)
		e.drop(r, err)
	}
}

func (p *ResubmitPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// backoff returns BaseBackoff * 2^(attempt-1), capped at MaxBackoff
func (p *ResubmitPolicy) backoff(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.MaxBackoff,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultBaseBackoff
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = DefaultMaxBackoff
	}
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt && d < b.MaxInterval; i++ {
		d = b.NextBackOff()
	}
	return min(d, b.MaxInterval)
}

// DiscardPolicy logs and drops the task
type DiscardPolicy struct{}

// Rejected implements RejectionPolicy
func (DiscardPolicy) Rejected(r Rejection, e *ThreadPoolExecutor) {
	e.Logger().Warnw("task rejected, discarding",
		"pool", e.Name(),
		"task", r.Task.Name(),
		"task_id", r.ID,
	)
	e.drop(r, nil)
}

// CallerRunsPolicy runs the task on the submitting goroutine, which throttles
// the submitter. After shutdown the task is dropped.
type CallerRunsPolicy struct{}

// Rejected implements RejectionPolicy
func (CallerRunsPolicy) Rejected(r Rejection, e *ThreadPoolExecutor) {
	if e.IsShutdown() {
		e.Logger().Warnw("task rejected after shutdown, discarding",
			"pool", e.Name(),
			"task", r.Task.Name(),
			"task_id", r.ID,
		)
		e.drop(r, ErrExecutorShutdown)
		return
	}

	e.Logger().Infow("task rejected, running on caller",
		"pool", e.Name(),
		"task", r.Task.Name(),
		"task_id", r.ID,
	)
	if err := safeExecute(e.ctx, r.Task); err != nil {
		e.Logger().Errorw("task failed on caller",
			"pool", e.Name(),
			"task", r.Task.Name(),
			"task_id", r.ID,
			"error", err,
		)
	}
}
