package repository

import (
	"context"
	"sync"

	"github.com/eaglebank/orderflow/shared/models"
)

// OrderRepository keeps orders in memory. Contents are lost on restart.
type OrderRepository struct {
	mu     sync.RWMutex
	orders []models.Order
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{}
}

func (r *OrderRepository) Create(_ context.Context, order models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, order)
	return nil
}

func (r *OrderRepository) List(_ context.Context) ([]models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Order(nil), r.orders...), nil
}
