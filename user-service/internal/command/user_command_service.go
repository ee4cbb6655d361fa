package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eaglebank/orderflow/shared/broker"
	"github.com/eaglebank/orderflow/shared/cqrs"
	"github.com/eaglebank/orderflow/shared/events"
	"github.com/eaglebank/orderflow/shared/models"
	"github.com/eaglebank/orderflow/shared/utils"
)

const defaultDepartment = "General"

// EventPublisher is satisfied by *events.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, queue string, event events.DomainEvent) bool
}

type UserStore interface {
	Create(ctx context.Context, user models.User) error
}

// UserCommandService stores new users and announces them on user_events.
type UserCommandService struct {
	repo      UserStore
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewUserCommandService(repo UserStore, publisher EventPublisher, logger *slog.Logger) *UserCommandService {
	return &UserCommandService{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("component", "user-commands"),
		now:       time.Now,
	}
}

// CreateUser stores the user, then publishes USER_CREATED. The user exists
// whether or not the publish succeeded; published reports which.
func (s *UserCommandService) CreateUser(ctx context.Context, cmd cqrs.CreateUserCommand) (*models.User, bool, error) {
	department := cmd.Department
	if department == "" {
		department = defaultDepartment
	}
	now := s.now()
	user := models.User{
		ID:         utils.GenerateID(1000, 10000),
		FirstName:  cmd.FirstName,
		LastName:   cmd.LastName,
		Email:      cmd.Email,
		Department: department,
		IsActive:   true,
		CreatedAt:  utils.ISOTimestamp(now),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, false, fmt.Errorf("store user: %w", err)
	}

	event, err := events.NewUserCreatedEvent(user.ID, user.Email, user, now)
	if err != nil {
		s.logger.Error("failed to build user event", "user_id", user.ID, "error", err)
		return &user, false, nil
	}
	published := s.publisher.Publish(ctx, broker.UserEventsQueue.Name, event)
	if !published {
		s.logger.Warn("user created but USER_CREATED was not published", "user_id", user.ID)
	}
	return &user, published, nil
}
