package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eaglebank/orderflow/shared/events"
	"github.com/eaglebank/orderflow/shared/ids"
)

var _ events.AttemptTracker = (*AttemptTracker)(nil)

func TestAttemptTrackerKey(t *testing.T) {
	tracker := NewAttemptTracker(nil, "orderflow:attempts:user_events", 0)
	assert.Equal(t, "orderflow:attempts:user_events:01H", tracker.key("01H"))
	assert.Equal(t, DefaultAttemptTTL, tracker.ttl)
}

// Needs a live server: REDIS_ADDR=localhost:6379 go test ./shared/redis/...
func TestAttemptTrackerAgainstRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewClient(ctx, addr, "", 0)
	require.NoError(t, err)
	defer client.Close()

	tracker := NewAttemptTracker(client, "orderflow-test:"+ids.New(), time.Minute)
	msgID := ids.New()

	for want := 1; want <= 3; want++ {
		got, err := tracker.Increment(ctx, msgID)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	ttl, err := client.TTL(ctx, tracker.key(msgID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, tracker.Reset(ctx, msgID))
	got, err := tracker.Increment(ctx, msgID)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	require.NoError(t, tracker.Reset(ctx, msgID))
}

func TestNewClientFailsFast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := NewClient(ctx, "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}
