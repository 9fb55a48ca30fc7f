// Package natsevents publishes pool lifecycle events to NATS.
//
// Subject mapping: <prefix>.<pool>.<kind>, e.g.
// threadpool.orders-t-1.task_rejected. Subscribe to <prefix>.> for everything.
package natsevents

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fluxorio/threadpool/pkg/core/concurrency"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultPrefix is the subject prefix when Config.Prefix is empty
const DefaultPrefix = "threadpool"

// Config configures a Publisher.
type Config struct {
	// URL is the NATS server URL. Default: nats.DefaultURL.
	URL string `yaml:"url" json:"url"`

	// Prefix is prepended to all subjects. Default: "threadpool".
	Prefix string `yaml:"prefix" json:"prefix"`

	// Name is an optional NATS connection name.
	Name string `yaml:"name" json:"name"`

	// Kinds restricts publishing to these event kinds; empty publishes all.
	Kinds []string `yaml:"kinds" json:"kinds"`
}

// Publisher is a concurrency.Observer that forwards events to NATS as JSON.
// Publishing is buffered by the NATS client, so Observe does not wait on
// the network.
type Publisher struct {
	nc     *nats.Conn
	owned  bool
	prefix string
	kinds  map[concurrency.EventKind]struct{}
	logger concurrency.Logger

	published atomic.Int64
	failed    atomic.Int64
}

var _ concurrency.Observer = (*Publisher)(nil)

// NewPublisher connects to cfg.URL. Close releases the connection.
func NewPublisher(cfg Config, logger concurrency.Logger) (*Publisher, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}

	p := NewPublisherWithConn(nc, cfg, logger)
	p.owned = true
	return p, nil
}

// NewPublisherWithConn publishes on an existing connection, which the
// caller keeps ownership of.
func NewPublisherWithConn(nc *nats.Conn, cfg Config, logger concurrency.Logger) *Publisher {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var kinds map[concurrency.EventKind]struct{}
	if len(cfg.Kinds) > 0 {
		kinds = make(map[concurrency.EventKind]struct{}, len(cfg.Kinds))
		for _, k := range cfg.Kinds {
			kinds[concurrency.EventKind(k)] = struct{}{}
		}
	}

	return &Publisher{
		nc:     nc,
		prefix: prefix,
		kinds:  kinds,
		logger: logger,
	}
}

// Subject returns the subject an event is published on
func (p *Publisher) Subject(e concurrency.Event) string {
	return p.prefix + "." + token(e.Pool) + "." + token(string(e.Kind))
}

// Observe implements concurrency.Observer
func (p *Publisher) Observe(e concurrency.Event) {
	if p.kinds != nil {
		if _, ok := p.kinds[e.Kind]; !ok {
			return
		}
	}

	data, err := json.Marshal(e)
	if err != nil {
		p.fail(e, err)
		return
	}

	msg := &nats.Msg{
		Subject: p.Subject(e),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(nats.MsgIdHdr, e.ID)
	msg.Header.Set("X-Event-Kind", string(e.Kind))

	if err := p.nc.PublishMsg(msg); err != nil {
		p.fail(e, err)
		return
	}
	p.published.Add(1)
}

func (p *Publisher) fail(e concurrency.Event, err error) {
	p.failed.Add(1)
	p.logger.Warnw("event publish failed",
		"pool", e.Pool,
		"kind", string(e.Kind),
		"event_id", e.ID,
		"error", err,
	)
}

// Published returns the number of events handed to NATS
func (p *Publisher) Published() int64 {
	return p.published.Load()
}

// Failed returns the number of events that could not be published
func (p *Publisher) Failed() int64 {
	return p.failed.Load()
}

// Flush waits until buffered events reach the server
func (p *Publisher) Flush() error {
	return p.nc.Flush()
}

// Close flushes pending events and, if the publisher opened the
// connection, drains and closes it
func (p *Publisher) Close() error {
	if !p.owned {
		return p.nc.Flush()
	}
	return p.nc.Drain()
}

// token makes s safe as a single subject token
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
