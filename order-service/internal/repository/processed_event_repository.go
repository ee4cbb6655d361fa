package repository

import (
	"context"
	"sync"

	"github.com/eaglebank/orderflow/shared/models"
)

// ProcessedEventRepository is the append-only log of user events the service
// has handled, oldest first. It lives in process memory.
type ProcessedEventRepository struct {
	mu       sync.RWMutex
	records  []models.ProcessedEventRecord
	capacity int
}

// NewProcessedEventRepository keeps at most capacity records, dropping the
// oldest first. Zero means unbounded.
func NewProcessedEventRepository(capacity int) *ProcessedEventRepository {
	return &ProcessedEventRepository{capacity: capacity}
}

func (r *ProcessedEventRepository) Append(_ context.Context, rec models.ProcessedEventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	if r.capacity > 0 && len(r.records) > r.capacity {
		trimmed := make([]models.ProcessedEventRecord, r.capacity)
		copy(trimmed, r.records[len(r.records)-r.capacity:])
		r.records = trimmed
	}
	return nil
}

func (r *ProcessedEventRepository) List(_ context.Context) ([]models.ProcessedEventRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.ProcessedEventRecord(nil), r.records...), nil
}
