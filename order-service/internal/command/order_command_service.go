package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eaglebank/orderflow/shared/broker"
	"github.com/eaglebank/orderflow/shared/cqrs"
	"github.com/eaglebank/orderflow/shared/events"
	"github.com/eaglebank/orderflow/shared/models"
	"github.com/eaglebank/orderflow/shared/utils"
)

// ErrMalformedPayload marks an event the handler cannot act on. The consumer
// leaves such messages unacknowledged.
var ErrMalformedPayload = errors.New("malformed event payload")

// EventPublisher is satisfied by *events.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, queue string, event events.DomainEvent) bool
}

type OrderStore interface {
	Create(ctx context.Context, order models.Order) error
}

type ProcessedEventStore interface {
	Append(ctx context.Context, rec models.ProcessedEventRecord) error
}

// OrderCommandService creates orders and records the user events the service
// consumes from user_events.
type OrderCommandService struct {
	orders    OrderStore
	processed ProcessedEventStore
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewOrderCommandService(orders OrderStore, processed ProcessedEventStore, publisher EventPublisher, logger *slog.Logger) *OrderCommandService {
	return &OrderCommandService{
		orders:    orders,
		processed: processed,
		publisher: publisher,
		logger:    logger.With("component", "order-commands"),
		now:       time.Now,
	}
}

// CreateOrder stores the order, then publishes ORDER_CREATED. published
// reports whether the broker accepted the event.
func (s *OrderCommandService) CreateOrder(ctx context.Context, cmd cqrs.CreateOrderCommand) (*models.Order, bool, error) {
	now := s.now()
	order := models.Order{
		ID:          utils.GenerateID(5000, 10000),
		UserID:      cmd.UserID,
		ProductName: cmd.ProductName,
		Quantity:    cmd.Quantity,
		Price:       cmd.Price,
		TotalAmount: float64(cmd.Quantity) * cmd.Price,
		Status:      models.OrderStatusPending,
		CreatedAt:   utils.ISOTimestamp(now),
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, false, fmt.Errorf("store order: %w", err)
	}

	event, err := events.NewOrderCreatedEvent(order.ID, order.UserID, order, now)
	if err != nil {
		s.logger.Error("failed to build order event", "order_id", order.ID, "error", err)
		return &order, false, nil
	}
	published := s.publisher.Publish(ctx, broker.OrderEventsQueue.Name, event)
	if !published {
		s.logger.Warn("order created but ORDER_CREATED was not published", "order_id", order.ID)
	}
	return &order, published, nil
}

// HandleUserEvent records a USER_CREATED event as observed. Only local state
// changes; no welcome order is actually placed. Other event types are
// acknowledged and ignored.
func (s *OrderCommandService) HandleUserEvent(ctx context.Context, event events.DomainEvent) error {
	userEvent, ok := event.(*events.UserCreatedEvent)
	if !ok {
		s.logger.Info("ignoring event on user queue", "event_type", event.EventType())
		return nil
	}
	if userEvent.UserID == nil {
		return fmt.Errorf("%w: %s without userId", ErrMalformedPayload, userEvent.Type)
	}

	rec := models.ProcessedEventRecord{
		UserCreatedEvent: *userEvent,
		ProcessedAt:      utils.ISOTimestamp(s.now()),
		DerivedStatus:    models.DerivedStatusWelcomeOrder,
	}
	if err := s.processed.Append(ctx, rec); err != nil {
		return fmt.Errorf("record processed event: %w", err)
	}
	s.logger.Info("processed user event", "user_id", *userEvent.UserID, "user_email", userEvent.UserEmail)
	return nil
}
