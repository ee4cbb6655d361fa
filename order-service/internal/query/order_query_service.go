package query

import (
	"context"

	"github.com/eaglebank/orderflow/shared/cqrs"
	"github.com/eaglebank/orderflow/shared/models"
)

type OrderLister interface {
	List(ctx context.Context) ([]models.Order, error)
}

type ProcessedEventLister interface {
	List(ctx context.Context) ([]models.ProcessedEventRecord, error)
}

// OrderQueryService serves the read side: created orders and the processed
// user event log.
type OrderQueryService struct {
	orders    OrderLister
	processed ProcessedEventLister
}

func NewOrderQueryService(orders OrderLister, processed ProcessedEventLister) *OrderQueryService {
	return &OrderQueryService{orders: orders, processed: processed}
}

func (s *OrderQueryService) ListOrders(ctx context.Context, _ cqrs.ListOrdersQuery) ([]models.Order, error) {
	return s.orders.List(ctx)
}

func (s *OrderQueryService) ListProcessedUserEvents(ctx context.Context, _ cqrs.ListProcessedUserEventsQuery) ([]models.ProcessedEventRecord, error) {
	return s.processed.List(ctx)
}
