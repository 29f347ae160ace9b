package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"billing/internal/log"
)

const maxBackoff = 30 * time.Second

// dial connects and declares the durable direct exchange and queue, bound
// with the queue name as routing key.
func dial(url, exchange, queue string) (*amqp091.Connection, *amqp091.Channel, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declare(ch, exchange, queue); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	return conn, ch, nil
}

func declare(ch *amqp091.Channel, exchange, queue string) error {
	if err := ch.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(queue, queue, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// exponentialBackoff is the wait before reconnect attempt n: 1s doubling up
// to maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// isConnectionError reports whether err means the broker link is gone and a
// new connection is needed.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "channel/connection is not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// AMQPPublisher publishes events as persistent JSON messages. It reconnects
// on demand and stops trying for a while after repeated failures.
type AMQPPublisher struct {
	url      string
	exchange string
	queue    string
	logger   *log.Logger
	breaker  *breaker

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// NewAMQPPublisher connects to the broker and declares the topology.
func NewAMQPPublisher(url, exchange, queue string, logger *log.Logger) (*AMQPPublisher, error) {
	p := newAMQPPublisher(url, exchange, queue, logger)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.channelLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func newAMQPPublisher(url, exchange, queue string, logger *log.Logger) *AMQPPublisher {
	if logger == nil {
		logger = log.Discard()
	}
	return &AMQPPublisher{
		url:      url,
		exchange: exchange,
		queue:    queue,
		logger:   logger.WithComponent(log.ComponentAMQP),
		breaker:  newBreaker(),
	}
}

func (p *AMQPPublisher) channelLocked() (*amqp091.Channel, error) {
	if p.channel != nil && !p.channel.IsClosed() {
		return p.channel, nil
	}
	p.resetLocked()
	conn, ch, err := dial(p.url, p.exchange, p.queue)
	if err != nil {
		return nil, err
	}
	p.conn, p.channel = conn, ch
	p.logger.Info("Connected to AMQP broker",
		"exchange", p.exchange,
		"queue", p.queue)
	return ch, nil
}

func (p *AMQPPublisher) resetLocked() {
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

func (p *AMQPPublisher) Publish(ctx context.Context, e BillEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.breaker.Allow() {
		return fmt.Errorf("publish %s: %w", e.Type, ErrCircuitOpen)
	}
	body, err := e.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channelLocked()
	if err != nil {
		p.breaker.Failure()
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()

	err = ch.PublishWithContext(ctx,
		p.exchange, // exchange
		p.queue,    // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    e.ID,
			Type:         string(e.Type),
			Timestamp:    e.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		p.breaker.Failure()
		if isConnectionError(err) {
			p.resetLocked()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	p.breaker.Success()

	p.logger.DebugContext(ctx, "Published bill event",
		log.FieldEventID, e.ID,
		log.FieldEventType, string(e.Type),
		"exchange", p.exchange,
		"queue", p.queue)
	return nil
}

// Check reports whether the broker is usable. Used by readiness.
func (p *AMQPPublisher) Check(context.Context) error {
	if p.breaker.State() == StateOpen {
		return ErrCircuitOpen
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("AMQP connection closed")
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}
