package concurrency

import (
	"context"
	"sync"

	"github.com/fluxorio/threadpool/pkg/core/failfast"
)

// Provider owns the one pool an application shares by default. It replaces
// a process-wide singleton: callers receive the Provider explicitly and the
// pool lives no longer than the Provider's context.
type Provider struct {
	ctx  context.Context
	cfg  PoolConfig
	opts []Option

	mu    sync.Mutex
	built bool
	pool  *ThreadPoolExecutor
	err   error
}

// NewProvider prepares a lazily built shared pool. Unless opts carry a
// rejection policy, saturated tasks are resubmitted through Pool.
func NewProvider(ctx context.Context, cfg PoolConfig, opts ...Option) *Provider {
	failfast.NotNil(ctx, "ctx")
	return &Provider{
		ctx:  ctx,
		cfg:  cfg,
		opts: opts,
	}
}

// Pool returns the shared pool, building it on first call. An invalid
// PoolConfig is a programmer error and panics.
func (p *Provider) Pool() *ThreadPoolExecutor {
	pool, err := p.get()
	failfast.Err(err)
	return pool
}

// Err builds the pool if needed and reports a construction error without
// panicking
func (p *Provider) Err() error {
	_, err := p.get()
	return err
}

func (p *Provider) get() (*ThreadPoolExecutor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.built {
		p.built = true
		opts := make([]Option, 0, len(p.opts)+1)
		opts = append(opts, WithRejectionPolicy(&ResubmitPolicy{Target: p.Pool}))
		opts = append(opts, p.opts...)
		p.pool, p.err = NewThreadPoolExecutor(p.ctx, p.cfg, opts...)
	}
	return p.pool, p.err
}

// Started reports whether the pool has been built
func (p *Provider) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.built && p.pool != nil
}

// Stop shuts the shared pool down and waits for it to drain. A provider
// whose pool was never built has nothing to stop.
func (p *Provider) Stop(ctx context.Context) error {
	p.mu.Lock()
	pool := p.pool
	p.mu.Unlock()

	if pool == nil {
		return nil
	}
	return pool.Stop(ctx)
}
