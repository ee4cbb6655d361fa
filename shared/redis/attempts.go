package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultAttemptTTL = 24 * time.Hour

// AttemptTracker counts failed deliveries per message id in Redis. Counts
// outlive the process, so a message that keeps crashing the consumer is still
// dead-lettered after its last allowed attempt.
type AttemptTracker struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewAttemptTracker keys counters as "<prefix>:<message id>". Each counter
// expires ttl after its last failure.
func NewAttemptTracker(client redis.Cmdable, prefix string, ttl time.Duration) *AttemptTracker {
	if ttl <= 0 {
		ttl = DefaultAttemptTTL
	}
	return &AttemptTracker{client: client, prefix: prefix, ttl: ttl}
}

func (t *AttemptTracker) Increment(ctx context.Context, messageID string) (int, error) {
	key := t.key(messageID)
	pipe := t.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, t.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count attempt for %s: %w", messageID, err)
	}
	return int(incr.Val()), nil
}

func (t *AttemptTracker) Reset(ctx context.Context, messageID string) error {
	if err := t.client.Del(ctx, t.key(messageID)).Err(); err != nil {
		return fmt.Errorf("reset attempts for %s: %w", messageID, err)
	}
	return nil
}

func (t *AttemptTracker) key(messageID string) string {
	return t.prefix + ":" + messageID
}
