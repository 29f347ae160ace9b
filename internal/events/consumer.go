package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"billing/internal/log"
)

// Handler processes one event. An error requeues the message.
type Handler func(ctx context.Context, e BillEvent) error

// Consumer reads bill events from the queue with manual acknowledgement.
type Consumer struct {
	url      string
	exchange string
	queue    string
	prefetch int
	logger   *log.Logger
}

func NewConsumer(url, exchange, queue string, prefetch int, logger *log.Logger) *Consumer {
	if logger == nil {
		logger = log.Discard()
	}
	if prefetch <= 0 {
		prefetch = 10
	}
	return &Consumer{
		url:      url,
		exchange: exchange,
		queue:    queue,
		prefetch: prefetch,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// Run consumes until ctx is done, reconnecting with backoff whenever the
// broker connection drops.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.consumeOnce(ctx, h, func() { attempt = 0 })
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		}

		wait := exponentialBackoff(attempt)
		attempt++
		c.logger.WarnContext(ctx, "Consumer disconnected, retrying",
			log.FieldError, err,
			"retry_in", wait.String(),
			"attempt", attempt)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context, h Handler, connected func()) error {
	conn, ch, err := dial(c.url, c.exchange, c.queue)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(
		c.queue, // queue
		"",      // consumer
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	connected()
	c.logger.InfoContext(ctx, "Started consuming bill events", "queue", c.queue)

	return c.consume(ctx, deliveries, h)
}

func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp091.Delivery, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d, h)
		}
	}
}

// handle acknowledges d according to the outcome: malformed messages are
// dropped, handler failures are requeued.
func (c *Consumer) handle(ctx context.Context, d amqp091.Delivery, h Handler) {
	e, err := FromJSON(d.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "Discarding malformed event",
			log.FieldError, err,
			"message_id", d.MessageId)
		if nerr := d.Nack(false, false); nerr != nil {
			c.logger.WarnContext(ctx, "Nack failed", log.FieldError, nerr)
		}
		return
	}

	if err := h(ctx, e); err != nil {
		c.logger.ErrorContext(ctx, "Failed to handle event",
			log.FieldError, err,
			log.FieldEventID, e.ID,
			log.FieldEventType, string(e.Type))
		if nerr := d.Nack(false, true); nerr != nil {
			c.logger.WarnContext(ctx, "Nack failed", log.FieldError, nerr)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.WarnContext(ctx, "Ack failed", log.FieldError, err)
		return
	}
	c.logger.InfoContext(ctx, "Processed bill event",
		log.FieldEventID, e.ID,
		log.FieldEventType, string(e.Type),
		log.FieldUserID, e.UserID)
}
