package concurrency

import (
	"fmt"
	"sync/atomic"
)

// Priority is a scheduling hint attached to a worker
type Priority int

const (
	PriorityLow Priority = iota - 1
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// poolNumber numbers every ThreadFactory in the process, starting at 1.
var poolNumber atomic.Int64

// WorkerDefaults are the settings a worker would inherit from its
// surroundings before the factory overrides them.
type WorkerDefaults struct {
	// KeepAlive false means termination does not wait for the worker
	KeepAlive bool
	Priority  Priority
}

// WorkerInfo identifies a pool worker
type WorkerInfo struct {
	Name    string
	PoolSeq int64
	Seq     int64

	// KeepAlive is always true: AwaitTermination waits for every worker
	KeepAlive bool
	Priority  Priority
}

// ThreadFactory produces uniquely named workers for one pool lineage.
type ThreadFactory struct {
	prefix       string
	poolSeq      int64
	workerNumber atomic.Int64
	defaults     WorkerDefaults
}

// NewThreadFactory creates a factory whose workers are named
// "<prefix>-t-<poolSeq>-<workerSeq>".
func NewThreadFactory(prefix string) *ThreadFactory {
	return NewThreadFactoryWithDefaults(prefix, WorkerDefaults{})
}

// NewThreadFactoryWithDefaults is NewThreadFactory with explicit inherited
// defaults. The defaults are overridden on every worker.
func NewThreadFactoryWithDefaults(prefix string, defaults WorkerDefaults) *ThreadFactory {
	if prefix == "" {
		prefix = DefaultNamePrefix
	}
	return &ThreadFactory{
		prefix:   prefix,
		poolSeq:  poolNumber.Add(1),
		defaults: defaults,
	}
}

// NewWorker returns the identity of the next worker
func (f *ThreadFactory) NewWorker() WorkerInfo {
	seq := f.workerNumber.Add(1)
	w := WorkerInfo{
		Name:      fmt.Sprintf("%s-%d", f.NamePrefix(), seq),
		PoolSeq:   f.poolSeq,
		Seq:       seq,
		KeepAlive: f.defaults.KeepAlive,
		Priority:  f.defaults.Priority,
	}
	if !w.KeepAlive {
		w.KeepAlive = true
	}
	if w.Priority != PriorityNormal {
		w.Priority = PriorityNormal
	}
	return w
}

// NamePrefix returns "<prefix>-t-<poolSeq>"
func (f *ThreadFactory) NamePrefix() string {
	return fmt.Sprintf("%s-t-%d", f.prefix, f.poolSeq)
}

// PoolSeq returns the factory's position in the process-wide pool sequence
func (f *ThreadFactory) PoolSeq() int64 {
	return f.poolSeq
}

// Created returns how many workers the factory has produced
func (f *ThreadFactory) Created() int64 {
	return f.workerNumber.Load()
}
