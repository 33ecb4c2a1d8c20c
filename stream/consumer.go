// Package stream feeds server events into the engine. Sources (SSE, redis
// pub/sub) push onto an explicit queue; a single consumer goroutine applies
// events strictly in receipt order.
package stream

import (
	"context"

	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

// Applier is the slice of the engine the consumer needs.
type Applier interface {
	ApplyRemoteEvent(ev domain.Event)
}

const defaultQueueSize = 1024

// Consumer decouples event receipt from application. The queue preserves
// arrival order; Push never blocks the receiving source.
type Consumer struct {
	queue  chan domain.Event
	engine Applier
	logger *log.Logger
}

func NewConsumer(engine Applier, logger *log.Logger, queueSize int) *Consumer {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Consumer{
		queue:  make(chan domain.Event, queueSize),
		engine: engine,
		logger: logger,
	}
}

// Push enqueues an event. When the queue is full the event is dropped and
// the caller should schedule a resync; losing one event invalidates the
// ordered-stream assumption anyway.
func (c *Consumer) Push(ev domain.Event) bool {
	select {
	case c.queue <- ev:
		return true
	default:
		c.logger.WithFields(log.Fields{
			"event_id":   ev.ID,
			"event_type": ev.Type,
		}).Warn("event queue full, dropping event")
		return false
	}
}

// Run applies queued events one at a time until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.queue:
			c.engine.ApplyRemoteEvent(ev)
		}
	}
}

// Len reports the number of queued, not yet applied events.
func (c *Consumer) Len() int { return len(c.queue) }
