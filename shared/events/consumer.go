package events

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eaglebank/orderflow/shared/broker"
	"github.com/eaglebank/orderflow/shared/metrics"
)

// Headers added to dead-lettered messages.
const (
	HeaderOriginalQueue    = "x-original-queue"
	HeaderFailureReason    = "x-failure-reason"
	HeaderDeliveryAttempts = "x-delivery-attempts"
)

var ErrConsumerStopped = errors.New("events: consumer stopped")

// Handler processes one decoded event. Returning an error, or panicking,
// leaves the message unacknowledged.
type Handler func(ctx context.Context, event DomainEvent) error

// HandlerError wraps a handler failure, including a recovered panic.
type HandlerError struct {
	EventType EventType
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handle %s: %v", e.EventType, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

type ConsumerConfig struct {
	// Prefetch caps unacknowledged deliveries per channel. Zero leaves the
	// broker default.
	Prefetch int
	// MaxDeliveries is the number of failed attempts after which a message is
	// moved to its dead-letter queue. Zero or less requeues forever.
	MaxDeliveries int
	// RetryDelay is waited before a failed message is requeued.
	RetryDelay time.Duration
	// ConsumerTag prefixes the broker-side consumer tag.
	ConsumerTag string
	// ConfirmTimeout bounds dead-letter publishes.
	ConfirmTimeout time.Duration
}

type ConsumerOption func(*Consumer)

func WithAttemptTracker(t AttemptTracker) ConsumerOption {
	return func(c *Consumer) { c.attempts = t }
}

type subscription struct {
	queue string
	tag   string
	ch    broker.Channel
}

// Consumer runs one goroutine per subscribed queue. Each goroutine handles
// deliveries one at a time in the order the broker sends them.
type Consumer struct {
	broker   Broker
	cfg      ConsumerConfig
	attempts AttemptTracker
	logger   *slog.Logger
	metrics  *metrics.Collector

	mu      sync.Mutex
	subs    []*subscription
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewConsumer(b Broker, cfg ConsumerConfig, logger *slog.Logger, m *metrics.Collector, opts ...ConsumerOption) *Consumer {
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "consumer"
	}
	c := &Consumer{
		broker:  b,
		cfg:     cfg,
		logger:  logger.With("component", "consumer"),
		metrics: m,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts == nil {
		c.attempts = NewMemoryAttemptTracker()
	}
	return c
}

// Subscribe starts consuming queue with manual acknowledgment and returns once
// the broker has registered the consumer. ctx only bounds the setup; the
// subscription lives until Stop or until the channel closes.
func (c *Consumer) Subscribe(ctx context.Context, queue string, handler Handler) error {
	if handler == nil {
		return errors.New("events: nil handler")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := c.broker.Channel()
	if err != nil {
		return err
	}
	if !c.broker.Declared(queue) {
		return fmt.Errorf("%w: %s", broker.ErrQueueNotDeclared, queue)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrConsumerStopped
	}

	if c.cfg.Prefetch > 0 {
		if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set prefetch on %s: %w", queue, err)
		}
	}
	tag := fmt.Sprintf("%s-%s-%d", c.cfg.ConsumerTag, queue, len(c.subs)+1)
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	sub := &subscription{queue: queue, tag: tag, ch: ch}
	c.subs = append(c.subs, sub)
	c.wg.Add(1)
	go c.run(sub, deliveries, handler)

	c.logger.Info("subscribed", "queue", queue, "consumer_tag", tag, "prefetch", c.cfg.Prefetch)
	return nil
}

// Stop cancels every subscription and waits for in-flight handlers until ctx
// expires. Messages not yet acknowledged go back to their queue when the
// channel closes.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.done)
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.ch.Cancel(sub.tag, false); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("cancel %s: %w", sub.tag, err))
		}
	}

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		c.logger.Info("consumer stopped", "subscriptions", len(subs))
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for in-flight handlers: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}

func (c *Consumer) run(sub *subscription, deliveries <-chan amqp.Delivery, handler Handler) {
	defer c.wg.Done()
	for d := range deliveries {
		c.process(sub, d, handler)
	}

	select {
	case <-c.done:
	default:
		c.logger.Warn("delivery stream closed", "queue", sub.queue, "consumer_tag", sub.tag)
	}
}

func (c *Consumer) process(sub *subscription, d amqp.Delivery, handler Handler) {
	queue := sub.queue
	msgID := messageID(d)

	ctx := propagator.Extract(context.Background(), headerCarrier(d.Headers))
	ctx, span := tracer.Start(ctx, queue+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", queue),
			attribute.String("messaging.message.id", msgID),
		))
	defer span.End()

	logger := c.logger.With(
		"queue", queue,
		"message_id", msgID,
		"delivery_tag", d.DeliveryTag,
		"redelivered", d.Redelivered)

	// Unknown event types are decode failures too and are never acknowledged.
	event, err := Decode(d.Body)
	if err != nil {
		c.metrics.Failed(queue, metrics.OutcomeDecodeFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode")
		c.fail(ctx, sub, d, msgID, err, logger)
		return
	}

	logger = logger.With("event_type", event.EventType(), "subject_id", event.SubjectID())
	start := time.Now()
	err = invoke(ctx, handler, event)
	c.metrics.ObserveHandler(queue, time.Since(start))
	if err != nil {
		c.metrics.Failed(queue, metrics.OutcomeHandlerFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler")
		c.fail(ctx, sub, d, msgID, err, logger)
		return
	}

	if c.ack(ctx, queue, d, msgID, metrics.OutcomeAcked, logger) {
		logger.Info("event processed")
	}
}

func (c *Consumer) ack(ctx context.Context, queue string, d amqp.Delivery, msgID, outcome string, logger *slog.Logger) bool {
	if err := d.Ack(false); err != nil {
		c.metrics.Consumed(queue, metrics.OutcomeAckFailed)
		logger.Error("failed to ack message", "error", err)
		return false
	}
	c.forget(ctx, msgID, logger)
	c.metrics.Consumed(queue, outcome)
	return true
}

// fail settles a delivery that could not be processed. The message is never
// acknowledged: it is requeued, or once it has used up its attempts, copied to
// the dead-letter queue and rejected.
func (c *Consumer) fail(ctx context.Context, sub *subscription, d amqp.Delivery, msgID string, cause error, logger *slog.Logger) {
	logger.Error("event processing failed", "error", cause)

	if c.cfg.MaxDeliveries <= 0 {
		c.requeue(sub.queue, d, logger)
		return
	}
	attempts, err := c.attempts.Increment(ctx, msgID)
	if err != nil {
		logger.Warn("could not record delivery attempt", "error", err)
		c.requeue(sub.queue, d, logger)
		return
	}
	if attempts < c.cfg.MaxDeliveries {
		logger.Info("message will be redelivered", "attempts", attempts, "max_deliveries", c.cfg.MaxDeliveries)
		c.requeue(sub.queue, d, logger)
		return
	}

	dlq := broker.DeadLetterQueueName(sub.queue)
	if err := c.deadLetter(ctx, sub, dlq, d, cause, attempts); err != nil {
		logger.Error("failed to dead-letter message", "dead_letter_queue", dlq, "error", err)
		c.requeue(sub.queue, d, logger)
		return
	}
	if err := d.Nack(false, false); err != nil {
		c.metrics.Consumed(sub.queue, metrics.OutcomeAckFailed)
		logger.Error("failed to reject dead-lettered message", "error", err)
		return
	}
	c.forget(ctx, msgID, logger)
	c.metrics.Consumed(sub.queue, metrics.OutcomeDeadLettered)
	logger.Warn("message moved to dead-letter queue", "dead_letter_queue", dlq, "attempts", attempts)
}

func (c *Consumer) requeue(queue string, d amqp.Delivery, logger *slog.Logger) {
	if c.cfg.RetryDelay > 0 {
		timer := time.NewTimer(c.cfg.RetryDelay)
		select {
		case <-timer.C:
		case <-c.done:
			timer.Stop()
		}
	}
	if err := d.Nack(false, true); err != nil {
		c.metrics.Consumed(queue, metrics.OutcomeAckFailed)
		logger.Error("failed to requeue message", "error", err)
		return
	}
	c.metrics.Consumed(queue, metrics.OutcomeRequeued)
}

func (c *Consumer) deadLetter(ctx context.Context, sub *subscription, dlq string, d amqp.Delivery, cause error, attempts int) error {
	if !c.broker.Declared(dlq) {
		return fmt.Errorf("%w: %s", broker.ErrQueueNotDeclared, dlq)
	}
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[HeaderOriginalQueue] = sub.queue
	headers[HeaderFailureReason] = cause.Error()
	headers[HeaderDeliveryAttempts] = int64(attempts)

	return deliver(ctx, sub.ch, dlq, amqp.Publishing{
		Headers:      headers,
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    d.Timestamp,
		Type:         d.Type,
		AppId:        d.AppId,
		Body:         d.Body,
	}, c.cfg.ConfirmTimeout)
}

func (c *Consumer) forget(ctx context.Context, msgID string, logger *slog.Logger) {
	if err := c.attempts.Reset(ctx, msgID); err != nil {
		logger.Warn("could not reset delivery attempts", "error", err)
	}
}

func invoke(ctx context.Context, handler Handler, event DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{EventType: event.EventType(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := handler(ctx, event); err != nil {
		var handlerErr *HandlerError
		if errors.As(err, &handlerErr) {
			return err
		}
		return &HandlerError{EventType: event.EventType(), Err: err}
	}
	return nil
}

// messageID identifies a message across redeliveries. Messages from other
// producers may lack a MessageId, so the body hash stands in.
func messageID(d amqp.Delivery) string {
	if d.MessageId != "" {
		return d.MessageId
	}
	sum := sha256.Sum256(d.Body)
	return "sha256:" + hex.EncodeToString(sum[:])
}
