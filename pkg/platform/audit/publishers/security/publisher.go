// Package security provides a best-effort, non-blocking publisher for callback
// security events (rejected, duplicate or unmatched callbacks).
//
// Rejections can arrive in floods from misbehaving or hostile sources, so the
// publisher never blocks the callback path. Events are buffered in a bounded
// ring buffer and flushed by a background goroutine; when the buffer is full
// the oldest events are dropped.
package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	audit "boxoffice/pkg/platform/audit"
)

const (
	defaultBufferSize    = 10000
	defaultFlushInterval = 100 * time.Millisecond
	defaultBatchSize     = 100
)

type Publisher struct {
	store         audit.Store
	buffer        *backlog
	logger        *slog.Logger
	flushInterval time.Duration
	batchSize     int

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithBufferSize(n int) Option {
	return func(p *Publisher) {
		p.buffer = newBacklog(n)
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

// New starts a publisher with a background flush loop. Call Close to drain.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:         store,
		buffer:        newBacklog(defaultBufferSize),
		flushInterval: defaultFlushInterval,
		batchSize:     defaultBatchSize,
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.loop()
	return p
}

// Emit enqueues the event and returns immediately.
func (p *Publisher) Emit(_ context.Context, event audit.Event) {
	if p.buffer.push(event.Normalize(time.Now())) >= p.batchSize {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (p *Publisher) Dropped() int64 {
	return p.buffer.dropped()
}

// Close stops the flush loop after draining buffered events.
func (p *Publisher) Close() error {
	p.once.Do(func() {
		close(p.done)
		<-p.stopped
	})
	return nil
}

func (p *Publisher) loop() {
	defer close(p.stopped)
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			p.flush()
			return
		case <-ticker.C:
			p.flush()
		case <-p.wake:
			p.flush()
		}
	}
}

func (p *Publisher) flush() {
	// Detached from any request context: the request that produced the event
	// has usually finished by the time it is flushed.
	ctx := context.Background()
	for {
		batch := p.buffer.take(p.batchSize)
		if len(batch) == 0 {
			return
		}
		for _, event := range batch {
			if err := p.store.Append(ctx, event); err != nil && p.logger != nil {
				p.logger.Warn("security audit event lost",
					"action", event.Action,
					"subject", event.Subject,
					"error", err,
				)
			}
		}
	}
}
