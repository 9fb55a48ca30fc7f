package concurrency

import (
	"context"
)

// State is the lifecycle state of an executor
type State int32

const (
	// StateRunning accepts submissions and scales within bounds
	StateRunning State = iota
	// StateShuttingDown refuses new submissions while queued, running and
	// pending resubmitted tasks drain
	StateShuttingDown
	// StateTerminated has no workers, an empty queue and no pending retries
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and YAML output
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ExecutorStats provides statistics about executor performance
type ExecutorStats struct {
	State            State   `json:"state"`
	PoolSize         int     `json:"pool_size"`         // Current number of workers
	CorePoolSize     int     `json:"core_pool_size"`    // Workers kept while idle
	MaxPoolSize      int     `json:"max_pool_size"`     // Upper bound on workers
	LargestPoolSize  int     `json:"largest_pool_size"` // Highest PoolSize seen
	ActiveWorkers    int     `json:"active_workers"`    // Workers currently running a task
	QueuedTasks      int     `json:"queued_tasks"`      // Current number of queued tasks
	QueueCapacity    int     `json:"queue_capacity"`    // Maximum queue capacity
	QueueUtilization float64 `json:"queue_utilization"` // Queue utilization percentage
	SubmittedTasks   int64   `json:"submitted_tasks"`   // Total accepted Execute calls
	CompletedTasks   int64   `json:"completed_tasks"`   // Total finished tasks, failed ones included
	FailedTasks      int64   `json:"failed_tasks"`      // Total tasks that returned an error or panicked
	RejectedTasks    int64   `json:"rejected_tasks"`    // Total rejection policy invocations
	DroppedTasks     int64   `json:"dropped_tasks"`     // Total tasks given up on by a rejection policy
	PendingRetries   int     `json:"pending_retries"`   // Rejected tasks waiting to be resubmitted
}

// Executor abstracts goroutine pool management and task execution
// Hides channel operations and goroutine creation from application code
type Executor interface {
	// Execute hands a task to the pool. Saturation goes to the rejection
	// policy and is never returned. Calling Execute after Shutdown is the
	// one caller-visible failure (ErrExecutorShutdown), besides a nil task
	// (ErrNilTask); a nil return means the pool owns the task until it runs
	// or a policy drops it with a task_dropped event.
	Execute(task Task) error

	// Submit is Execute for a plain closure
	Submit(fn func()) error

	// Shutdown stops accepting tasks; queued and running tasks still complete
	Shutdown()

	// AwaitTermination blocks until the executor is terminated or ctx is done
	AwaitTermination(ctx context.Context) error

	// Stop shuts down and waits for termination (up to ctx timeout)
	Stop(ctx context.Context) error

	// Stats returns current executor statistics
	Stats() ExecutorStats
}

var _ Executor = (*ThreadPoolExecutor)(nil)
