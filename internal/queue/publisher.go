package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/techshelf/internal/domain"
)

const (
	activitySource        = "techshelf"
	defaultBufferSize     = 256
	defaultPublishTimeout = 5 * time.Second
)

// Activity is the message published for every engine event
type Activity struct {
	ID         uuid.UUID    `json:"id"`
	Type       string       `json:"type"`
	Source     string       `json:"source"`
	OccurredAt time.Time    `json:"occurred_at"`
	Data       domain.Event `json:"data"`
}

// NewActivity wraps an event for publishing
func NewActivity(e domain.Event) Activity {
	return Activity{
		ID:         e.EventID(),
		Type:       e.EventType(),
		Source:     activitySource,
		OccurredAt: e.OccurredAt(),
		Data:       e,
	}
}

// Publisher sends a JSON document to a queue. *Connection implements it.
type Publisher interface {
	PublishJSON(ctx context.Context, queue string, data any) error
}

var _ Publisher = (*Connection)(nil)

// ActivityPublisher forwards engine events to a queue in the background.
// Events are published in the order they were handled; when the buffer is
// full new events are dropped.
type ActivityPublisher struct {
	pub     Publisher
	queue   string
	timeout time.Duration

	events chan domain.Event
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
	unsubs  []func()
}

// PublisherOption configures an ActivityPublisher
type PublisherOption func(*ActivityPublisher)

// WithBufferSize sets how many events may wait for publishing
func WithBufferSize(n int) PublisherOption {
	return func(p *ActivityPublisher) {
		if n > 0 {
			p.events = make(chan domain.Event, n)
		}
	}
}

// WithPublishTimeout bounds each publish call
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *ActivityPublisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewActivityPublisher starts a publisher writing to queue
func NewActivityPublisher(pub Publisher, queue string, opts ...PublisherOption) *ActivityPublisher {
	if queue == "" {
		queue = DefaultQueueName
	}
	p := &ActivityPublisher{
		pub:     pub,
		queue:   queue,
		timeout: defaultPublishTimeout,
		events:  make(chan domain.Event, defaultBufferSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.run()
	return p
}

// Attach subscribes the publisher to an event source. Subscriptions are
// removed by Close.
func (p *ActivityPublisher) Attach(subscribe func(domain.EventHandler) (unsubscribe func())) {
	unsub := subscribe(p.Handle)
	p.mu.Lock()
	p.unsubs = append(p.unsubs, unsub)
	p.mu.Unlock()
}

// Handle queues an event for publishing without blocking
func (p *ActivityPublisher) Handle(e domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- e:
	default:
		p.dropped++
		slog.Warn("activity buffer full, dropping event", "type", e.EventType(), "dropped", p.dropped)
	}
}

// Dropped returns how many events were discarded because the buffer was full
func (p *ActivityPublisher) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *ActivityPublisher) run() {
	defer close(p.done)
	for e := range p.events {
		if err := p.publish(e); err != nil {
			slog.Warn("failed to publish activity", "type", e.EventType(), "error", err)
		}
	}
}

func (p *ActivityPublisher) publish(e domain.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	activity := NewActivity(e)
	if err := p.pub.PublishJSON(ctx, p.queue, activity); err != nil {
		return fmt.Errorf("failed to publish %s: %w", activity.Type, err)
	}
	slog.Debug("published activity", "id", activity.ID, "type", activity.Type)
	return nil
}

// Close unsubscribes from every source and waits until queued events have
// been published or ctx is done.
func (p *ActivityPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	unsubs := p.unsubs
	p.unsubs = nil
	close(p.events)
	p.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
