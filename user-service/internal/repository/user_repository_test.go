package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eaglebank/orderflow/shared/models"
)

func TestUserRepositoryListsSeedThenCreated(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(SampleUsers())

	require.NoError(t, repo.Create(ctx, models.User{ID: 5000, FirstName: "Ada"}))

	users, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 5)
	assert.Equal(t, "John", users[0].FirstName)
	assert.Equal(t, 5000, users[4].ID)
}

func TestUserRepositoryListReturnsCopy(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(SampleUsers())

	users, err := repo.List(ctx)
	require.NoError(t, err)
	users[0].FirstName = "changed"

	again, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "John", again[0].FirstName)
}

func TestUserRepositoryConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_ = repo.Create(ctx, models.User{ID: id})
		}(i)
	}
	wg.Wait()

	users, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 50)
}
