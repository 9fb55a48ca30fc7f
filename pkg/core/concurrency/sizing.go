package concurrency

import (
	"fmt"
	"time"
)

const (
	// FallbackCoreSize is used when the host reports zero processors
	FallbackCoreSize = 8

	// DefaultIdleTimeout is how long an overflow worker may sit idle
	DefaultIdleTimeout = 10 * time.Second

	// DefaultNamePrefix prefixes worker names
	DefaultNamePrefix = "threadpool"
)

// SizingPolicy determines how many workers a pool may run.
type SizingPolicy interface {
	CoreSize() int
	MaxSize() int
	IdleTimeout() time.Duration
}

// HostSizing sizes a pool from the processors available to the process.
// The zero value is ready to use.
type HostSizing struct {
	// Processors overrides the probed processor count when > 0
	Processors int
}

// CoreSize returns the available processor count, or FallbackCoreSize when
// the host misreports it as 0.
func (h HostSizing) CoreSize() int {
	n := h.Processors
	if n <= 0 {
		n = availableProcessors()
	}
	if n <= 0 {
		return FallbackCoreSize
	}
	return n
}

// MaxSize returns twice the core size
func (h HostSizing) MaxSize() int {
	return 2 * h.CoreSize()
}

// IdleTimeout returns DefaultIdleTimeout
func (h HostSizing) IdleTimeout() time.Duration {
	return DefaultIdleTimeout
}

// PoolConfig configures a ThreadPoolExecutor. It is copied at construction
// and never changes afterwards.
type PoolConfig struct {
	CoreSize      int           `yaml:"core_size" json:"core_size"`
	MaxSize       int           `yaml:"max_size" json:"max_size"`
	QueueCapacity int           `yaml:"queue_capacity" json:"queue_capacity"`
	IdleTimeout   time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	NamePrefix    string        `yaml:"name_prefix" json:"name_prefix"`
}

// PoolConfigFrom builds a config from a sizing policy with the default queue
// capacity and name prefix
func PoolConfigFrom(policy SizingPolicy) PoolConfig {
	return PoolConfig{
		CoreSize:      policy.CoreSize(),
		MaxSize:       policy.MaxSize(),
		QueueCapacity: DefaultQueueCapacity,
		IdleTimeout:   policy.IdleTimeout(),
		NamePrefix:    DefaultNamePrefix,
	}
}

// DefaultPoolConfig returns the host-derived configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfigFrom(HostSizing{})
}

// WithDefaults fills zero fields from DefaultPoolConfig. A zero MaxSize
// becomes twice the (possibly filled) CoreSize.
func (c PoolConfig) WithDefaults() PoolConfig {
	def := DefaultPoolConfig()
	if c.CoreSize == 0 {
		c.CoreSize = def.CoreSize
	}
	if c.MaxSize == 0 {
		c.MaxSize = 2 * c.CoreSize
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = def.QueueCapacity
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.NamePrefix == "" {
		c.NamePrefix = def.NamePrefix
	}
	return c
}

// Validate checks 1 <= CoreSize <= MaxSize and the remaining bounds
func (c PoolConfig) Validate() error {
	if c.CoreSize < 1 {
		return fmt.Errorf("%w: core size %d must be at least 1", ErrInvalidConfig, c.CoreSize)
	}
	if c.MaxSize < c.CoreSize {
		return fmt.Errorf("%w: max size %d is below core size %d", ErrInvalidConfig, c.MaxSize, c.CoreSize)
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("%w: queue capacity %d must be at least 1", ErrInvalidConfig, c.QueueCapacity)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("%w: idle timeout %v must be positive", ErrInvalidConfig, c.IdleTimeout)
	}
	return nil
}
