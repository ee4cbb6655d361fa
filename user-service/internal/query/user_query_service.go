package query

import (
	"context"

	"github.com/eaglebank/orderflow/shared/cqrs"
	"github.com/eaglebank/orderflow/shared/models"
)

type UserLister interface {
	List(ctx context.Context) ([]models.User, error)
}

type UserQueryService struct {
	repo UserLister
}

func NewUserQueryService(repo UserLister) *UserQueryService {
	return &UserQueryService{repo: repo}
}

func (s *UserQueryService) ListUsers(ctx context.Context, _ cqrs.ListUsersQuery) ([]models.User, error) {
	return s.repo.List(ctx)
}
