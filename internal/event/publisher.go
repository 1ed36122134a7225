package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/storefront/internal/cartstore"
)

var (
	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_cart_events_dropped_total",
		Help: "Cart events dropped because the publish queue was full or closed",
	})

	eventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_cart_events_failed_total",
		Help: "Cart events the broker rejected",
	})
)

const defaultPublishTimeout = 5 * time.Second

type job struct {
	ctx  context.Context
	snap cartstore.Snapshot
}

// Publisher is a cart store observer that hands snapshots to a single
// background worker. Events of all sessions are published in commit order.
// When the queue is full new events are dropped so cart mutations never
// wait on the broker.
type Publisher struct {
	producer *Producer
	logger   *slog.Logger
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	done   chan struct{}
}

// NewPublisher starts the worker. bufferSize bounds the queue.
func NewPublisher(producer *Producer, logger *slog.Logger, bufferSize int) *Publisher {
	if bufferSize < 1 {
		bufferSize = 1
	}
	p := &Publisher{
		producer: producer,
		logger:   logger,
		timeout:  defaultPublishTimeout,
		jobs:     make(chan job, bufferSize),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

// Observe enqueues snap. It never blocks.
func (p *Publisher) Observe(ctx context.Context, snap cartstore.Snapshot) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		eventsDropped.Inc()
		return
	}

	select {
	case p.jobs <- job{ctx: context.WithoutCancel(ctx), snap: snap}:
	default:
		eventsDropped.Inc()
		p.logger.WarnContext(ctx, "cart event queue full, dropping event",
			slog.String("session_id", snap.SessionID),
			slog.String("op", string(snap.Op)),
		)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for j := range p.jobs {
		ctx, cancel := context.WithTimeout(j.ctx, p.timeout)
		if err := p.producer.PublishSnapshot(ctx, j.snap); err != nil {
			eventsFailed.Inc()
			p.logger.WarnContext(ctx, "failed to publish cart event",
				slog.String("session_id", j.snap.SessionID),
				slog.String("op", string(j.snap.Op)),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to
// end.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
