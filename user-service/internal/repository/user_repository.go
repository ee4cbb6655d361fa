package repository

import (
	"context"
	"sync"

	"github.com/eaglebank/orderflow/shared/models"
)

// UserRepository keeps users in memory. Contents are lost on restart.
type UserRepository struct {
	mu    sync.RWMutex
	users []models.User
}

// NewUserRepository starts from seed, which is copied.
func NewUserRepository(seed []models.User) *UserRepository {
	return &UserRepository{users: append([]models.User(nil), seed...)}
}

func (r *UserRepository) Create(_ context.Context, user models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, user)
	return nil
}

// List returns every user in creation order.
func (r *UserRepository) List(_ context.Context) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.User(nil), r.users...), nil
}

// SampleUsers is the directory the service starts with.
func SampleUsers() []models.User {
	return []models.User{
		{ID: 1, FirstName: "John", LastName: "Doe", Email: "john.doe@example.com", Age: 30, Department: "Engineering", IsActive: true, CreatedAt: "2023-01-15T10:30:00Z"},
		{ID: 2, FirstName: "Jane", LastName: "Smith", Email: "jane.smith@example.com", Age: 28, Department: "Marketing", IsActive: true, CreatedAt: "2023-02-20T14:45:00Z"},
		{ID: 3, FirstName: "Bob", LastName: "Johnson", Email: "bob.johnson@example.com", Age: 35, Department: "Sales", IsActive: false, CreatedAt: "2023-03-10T09:15:00Z"},
		{ID: 4, FirstName: "Alice", LastName: "Williams", Email: "alice.williams@example.com", Age: 32, Department: "Engineering", IsActive: true, CreatedAt: "2023-04-05T16:20:00Z"},
	}
}
