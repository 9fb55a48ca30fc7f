package concurrency

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names a pool lifecycle event
type EventKind string

const (
	EventWorkerStarted   EventKind = "worker_started"
	EventWorkerStopped   EventKind = "worker_stopped"
	EventTaskQueued      EventKind = "task_queued"
	EventTaskCompleted   EventKind = "task_completed"
	EventTaskFailed      EventKind = "task_failed"
	EventTaskRejected    EventKind = "task_rejected"
	EventTaskResubmitted EventKind = "task_resubmitted"
	EventTaskDropped     EventKind = "task_dropped"
	EventPoolShutdown    EventKind = "pool_shutdown"
	EventPoolTerminated  EventKind = "pool_terminated"
)

// Event describes something that happened inside a pool.
// Fields that do not apply to a kind are left zero.
type Event struct {
	ID        string        `json:"id"`
	Kind      EventKind     `json:"kind"`
	Pool      string        `json:"pool"`
	Worker    string        `json:"worker,omitempty"`
	TaskID    string        `json:"task_id,omitempty"`
	TaskName  string        `json:"task_name,omitempty"`
	Attempt   int           `json:"attempt,omitempty"`
	PoolSize  int           `json:"pool_size"`
	QueueSize int           `json:"queue_size"`
	Duration  time.Duration `json:"duration,omitempty"`
	Error     string        `json:"error,omitempty"`
	Time      time.Time     `json:"time"`
}

// Observer receives pool events. Observe runs on the goroutine that caused
// the event and must not block.
type Observer interface {
	Observe(e Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(e Event)

// Observe implements Observer
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

func newEvent(kind EventKind, pool string) Event {
	return Event{
		ID:   uuid.NewString(),
		Kind: kind,
		Pool: pool,
		Time: time.Now(),
	}
}
