package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nectic/terrier-core/pkg/kafka"
)

// Publisher delivers events. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Collector buffers query events and publishes them from one background
// goroutine so that Track never blocks a query. A nil publisher only feeds
// the local aggregator.
type Collector struct {
	publisher  Publisher
	aggregator *Aggregator
	eventCh    chan QueryEvent
	logger     *slog.Logger
	done       chan struct{}
	closeOnce  sync.Once
}

func NewCollector(publisher Publisher, aggregator *Aggregator, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		publisher:  publisher,
		aggregator: aggregator,
		eventCh:    make(chan QueryEvent, bufferSize),
		logger:     slog.Default().With("component", "analytics-collector"),
		done:       make(chan struct{}),
	}
}

// Start launches the publish loop. It stops when ctx ends or Close is
// called, publishing whatever is still buffered.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh))
}

// Track queues event. When the buffer is full the event is dropped.
func (c *Collector) Track(event QueryEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("analytics event dropped (buffer full)", "qid", event.QueryID)
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (c *Collector) Close() {
	c.closeOnce.Do(func() { close(c.eventCh) })
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event QueryEvent) {
	if c.aggregator != nil && c.publisher == nil {
		c.aggregator.Record(event)
	}
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, kafka.Event{Key: event.QueryID, Value: event}); err != nil {
		c.logger.Error("failed to publish analytics event", "qid", event.QueryID, "error", err)
	}
}

func (c *Collector) drainRemaining() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(ctx, event)
		default:
			return
		}
	}
}
