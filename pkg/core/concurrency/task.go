package concurrency

import (
	"context"
)

// Task is one unit of pool work. Execution is fire-and-forget: a returned
// error or panic is logged, counted and reported as task_failed, and the
// submitter never sees it.
type Task interface {
	// Execute runs on a pool worker with the pool's context, which stays
	// live until the pool terminates
	Execute(ctx context.Context) error

	// Name labels the task in logs, events and spans
	Name() string
}

// TaskFunc runs a function as an unnamed Task
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

func (f TaskFunc) Name() string { return "TaskFunc" }

// Runnable runs a closure that cannot fail; Submit wraps its argument in one.
type Runnable func()

func (r Runnable) Execute(context.Context) error {
	r()
	return nil
}

func (r Runnable) Name() string { return "Runnable" }

// NamedTask gives a TaskFunc the name used for its worker logs and spans,
// e.g. "random-7" in the demo.
type NamedTask struct {
	name string
	fn   TaskFunc
}

func NewNamedTask(name string, fn TaskFunc) *NamedTask {
	return &NamedTask{name: name, fn: fn}
}

func (t *NamedTask) Execute(ctx context.Context) error { return t.fn(ctx) }

func (t *NamedTask) Name() string { return t.name }

// submission is the executor's private envelope around a Task. The id and
// attempt only feed logs, events and spans; callers never see them.
type submission struct {
	task    Task
	id      string
	attempt int
}
