package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-api/pkg/messaging"
)

const maxReconnectDelay = 30 * time.Second

// RabbitMQBroker publishes to and consumes from durable queues on the
// default exchange. The channel argument of Publish/Subscribe is the queue name.
// A lost connection is redialled in the background and active consumers
// resume on the new channel.
type RabbitMQBroker struct {
	config   Config
	conn     *amqp.Connection
	channel  *amqp.Channel
	logger   *zerolog.Logger
	mu       sync.Mutex
	declared map[string]bool

	done      chan struct{}
	closeOnce sync.Once
}

type Config struct {
	URL string
	// Prefetch caps unacknowledged deliveries per consumer. Zero means 10.
	Prefetch int
	// ReconnectDelay is the first backoff after a lost connection. Zero means 1s.
	ReconnectDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Prefetch <= 0 {
		c.Prefetch = 10
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	return c
}

func NewRabbitMQBroker(config Config, logger *zerolog.Logger) (*RabbitMQBroker, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	b := &RabbitMQBroker{
		config:   config.withDefaults(),
		logger:   logger,
		declared: make(map[string]bool),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

var (
	_ messaging.Broker   = (*RabbitMQBroker)(nil)
	_ messaging.Consumer = (*RabbitMQBroker)(nil)
)

// connect dials and opens a channel. Must be called with mu held.
func (b *RabbitMQBroker) connect() error {
	conn, err := amqp.Dial(b.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	if err := channel.Qos(b.config.Prefetch, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set RabbitMQ prefetch: %w", err)
	}

	b.conn = conn
	b.channel = channel
	b.declared = make(map[string]bool)

	go b.watch(
		conn.NotifyClose(make(chan *amqp.Error, 1)),
		channel.NotifyClose(make(chan *amqp.Error, 1)),
	)
	return nil
}

// watch waits for the connection or channel to die and redials. A graceful
// Close closes the notify channels without an error and ends the watch.
func (b *RabbitMQBroker) watch(connClosed, chanClosed <-chan *amqp.Error) {
	var reason *amqp.Error
	select {
	case <-b.done:
		return
	case reason = <-connClosed:
	case reason = <-chanClosed:
	}
	if reason == nil || b.isClosed() {
		return
	}

	b.logger.Warn().Err(reason).Msg("RabbitMQ connection lost, reconnecting")
	b.reconnect()
}

func (b *RabbitMQBroker) reconnect() {
	delay := b.config.ReconnectDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-b.done:
			return
		case <-time.After(delay):
		}

		b.mu.Lock()
		if b.conn != nil && !b.conn.IsClosed() {
			_ = b.conn.Close()
		}
		err := b.connect()
		b.mu.Unlock()
		if err == nil {
			b.logger.Info().Int("attempt", attempt).Msg("RabbitMQ connection restored")
			return
		}

		b.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("RabbitMQ reconnect failed")
		if delay *= 2; delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (b *RabbitMQBroker) isClosed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// declare must be called with mu held.
func (b *RabbitMQBroker) declare(queue string) error {
	if b.declared[queue] {
		return nil
	}
	_, err := b.channel.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	b.declared[queue] = true
	return nil
}

func (b *RabbitMQBroker) Publish(ctx context.Context, queue string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.declare(queue); err != nil {
		return err
	}

	err = b.channel.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

// Consume runs handler for every delivery on queue until ctx ends or the
// broker is closed. A delivery is acked once handler returns nil and
// requeued when it returns an error.
func (b *RabbitMQBroker) Consume(ctx context.Context, queue string, handler func(ctx context.Context, body []byte) error) error {
	deliveries, err := b.consume(queue)
	if err != nil {
		return err
	}
	go b.run(ctx, queue, deliveries, handler)
	return nil
}

// Subscribe streams message bodies. A delivery counts as handled once it is
// on the returned channel, so consumers that need redelivery on failure
// should use Consume.
func (b *RabbitMQBroker) Subscribe(ctx context.Context, queue string) (<-chan []byte, error) {
	deliveries, err := b.consume(queue)
	if err != nil {
		return nil, err
	}

	msgChan := make(chan []byte, 100)
	go func() {
		defer close(msgChan)
		b.run(ctx, queue, deliveries, func(ctx context.Context, body []byte) error {
			select {
			case msgChan <- body:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return msgChan, nil
}

func (b *RabbitMQBroker) consume(queue string) (<-chan amqp.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.declare(queue); err != nil {
		return nil, err
	}
	deliveries, err := b.channel.Consume(
		queue,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", queue, err)
	}
	return deliveries, nil
}

// run drains deliveries and re-subscribes whenever the channel is replaced
// after a reconnect.
func (b *RabbitMQBroker) run(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, handler func(context.Context, []byte) error) {
	for {
		drain(ctx, queue, deliveries, handler, b.logger)
		if ctx.Err() != nil || b.isClosed() {
			return
		}

		b.logger.Warn().Str("queue", queue).Msg("delivery stream closed, waiting for reconnect")
		if deliveries = b.resume(ctx, queue); deliveries == nil {
			return
		}
	}
}

func (b *RabbitMQBroker) resume(ctx context.Context, queue string) <-chan amqp.Delivery {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		case <-time.After(b.config.ReconnectDelay):
		}

		deliveries, err := b.consume(queue)
		if err == nil {
			b.logger.Info().Str("queue", queue).Msg("consumer resumed")
			return deliveries
		}
		b.logger.Debug().Err(err).Str("queue", queue).Msg("consumer not ready yet")
	}
}

func drain(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, handler func(context.Context, []byte) error, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			settle(ctx, queue, d, handler, logger)
		}
	}
}

// settle acks d when handler succeeds and requeues it otherwise.
func settle(ctx context.Context, queue string, d amqp.Delivery, handler func(context.Context, []byte) error, logger *zerolog.Logger) {
	if err := handler(ctx, d.Body); err != nil {
		logger.Warn().Err(err).Str("queue", queue).Uint64("delivery_tag", d.DeliveryTag).Bool("redelivered", d.Redelivered).
			Msg("message handler failed, requeueing")
		if err := d.Nack(false, true); err != nil {
			logger.Warn().Err(err).Str("queue", queue).Msg("failed to nack delivery")
		}
		return
	}
	if err := d.Ack(false); err != nil {
		logger.Warn().Err(err).Str("queue", queue).Msg("failed to ack delivery")
	}
}

func (b *RabbitMQBroker) Close() error {
	b.closeOnce.Do(func() { close(b.done) })

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		b.logger.Warn().Err(err).Msg("failed to close RabbitMQ channel")
	}
	if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}
