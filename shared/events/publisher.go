package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eaglebank/orderflow/shared/broker"
	"github.com/eaglebank/orderflow/shared/ids"
	"github.com/eaglebank/orderflow/shared/metrics"
)

// Broker is the part of *broker.Manager publishers and consumers need.
type Broker interface {
	Channel() (broker.Channel, error)
	Declared(queue string) bool
}

var errNacked = errors.New("broker nacked the message")

type PublisherConfig struct {
	// AppID is stamped on every message, normally the service name.
	AppID string
	// ConfirmTimeout bounds the wait for a publisher confirm. Zero waits as
	// long as ctx allows.
	ConfirmTimeout time.Duration
}

type Publisher struct {
	broker  Broker
	cfg     PublisherConfig
	logger  *slog.Logger
	metrics *metrics.Collector
}

func NewPublisher(b Broker, cfg PublisherConfig, logger *slog.Logger, m *metrics.Collector) *Publisher {
	return &Publisher{
		broker:  b,
		cfg:     cfg,
		logger:  logger.With("component", "publisher"),
		metrics: m,
	}
}

// Publish sends event to queue as a persistent message. It reports whether the
// broker accepted it: with publisher confirms on, only after a positive
// confirm. Failures are logged and counted, never returned.
func (p *Publisher) Publish(ctx context.Context, queue string, event DomainEvent) bool {
	ctx, span := tracer.Start(ctx, queue+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", queue),
		))
	defer span.End()

	logger := p.logger.With("queue", queue)
	fail := func(outcome string, err error) bool {
		p.metrics.Published(queue, outcome)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		logger.Error("failed to publish event", "outcome", outcome, "error", err)
		return false
	}

	ch, err := p.broker.Channel()
	if err != nil {
		return fail(metrics.OutcomeNotConnected, err)
	}
	if !p.broker.Declared(queue) {
		return fail(metrics.OutcomeNotDeclared, fmt.Errorf("%w: %s", broker.ErrQueueNotDeclared, queue))
	}
	body, err := Encode(event)
	if err != nil {
		return fail(metrics.OutcomeEncodeFailed, err)
	}

	msg := amqp.Publishing{
		Headers:      amqp.Table{},
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ids.New(),
		Timestamp:    time.Now().UTC(),
		Type:         string(event.EventType()),
		AppId:        p.cfg.AppID,
		Body:         body,
	}
	propagator.Inject(ctx, headerCarrier(msg.Headers))
	span.SetAttributes(attribute.String("messaging.message.id", msg.MessageId))

	if err := deliver(ctx, ch, queue, msg, p.cfg.ConfirmTimeout); err != nil {
		outcome := metrics.OutcomeSendFailed
		if errors.Is(err, errNacked) {
			outcome = metrics.OutcomeNacked
		}
		return fail(outcome, err)
	}

	p.metrics.Published(queue, metrics.OutcomePublished)
	logger.Info("event published",
		"event_type", event.EventType(),
		"subject_id", event.SubjectID(),
		"message_id", msg.MessageId)
	return true
}

// deliver publishes msg through the default exchange and, when the channel is
// in confirm mode, waits for the broker's verdict.
func deliver(ctx context.Context, ch broker.Channel, queue string, msg amqp.Publishing, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, msg)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if confirm == nil {
		return nil
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait for confirm: %w", err)
	}
	if !acked {
		return errNacked
	}
	return nil
}
