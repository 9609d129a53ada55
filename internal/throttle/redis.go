// internal/throttle/redis.go
package throttle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"notification-engine/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisThrottler keeps windows in Redis sorted sets so that multiple engine
// instances sharing the same Redis enforce one combined budget per user.
// Keys:
//
//	throttle:{user}:{kind}  ZSET  member = unique id, score = unix nanos
//	throttle:max:{user}     HASH  field = kind, value = last-seen max
type RedisThrottler struct {
	client *redis.Client
}

func NewRedisThrottler(client *redis.Client) *RedisThrottler {
	return &RedisThrottler{client: client}
}

func windowKey(userID string, kind models.ThrottleKind) string {
	return fmt.Sprintf("throttle:%s:%s", userID, kind)
}

func maxKey(userID string) string {
	return fmt.Sprintf("throttle:max:%s", userID)
}

func (t *RedisThrottler) CanSend(ctx context.Context, userID string, rule models.ThrottleRule, priority models.Priority, now time.Time) (bool, error) {
	if bypass(rule, priority) {
		return true, nil
	}

	key := windowKey(userID, rule.Kind)
	cutoff := strconv.FormatInt(now.Add(-rule.Window()).UnixNano(), 10)

	pipe := t.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
	card := pipe.ZCard(ctx, key)
	pipe.HSet(ctx, maxKey(userID), string(rule.Kind), rule.Max)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("throttle window check: %w", err)
	}

	return card.Val() < int64(rule.Max), nil
}

func (t *RedisThrottler) Record(ctx context.Context, userID string, rule models.ThrottleRule, at time.Time) error {
	if rule.Unlimited() {
		return nil
	}

	key := windowKey(userID, rule.Kind)
	pipe := t.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(at.UnixNano()),
		Member: uuid.New().String(),
	})
	pipe.Expire(ctx, key, rule.Window())
	pipe.HSet(ctx, maxKey(userID), string(rule.Kind), rule.Max)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("throttle record: %w", err)
	}
	return nil
}

func (t *RedisThrottler) Status(ctx context.Context, userID string, now time.Time) (map[models.ThrottleKind]models.ThrottleStatus, error) {
	maxes, err := t.client.HGetAll(ctx, maxKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("throttle status: %w", err)
	}

	out := make(map[models.ThrottleKind]models.ThrottleStatus, len(maxes))
	for kindStr, maxStr := range maxes {
		kind := models.ThrottleKind(kindStr)
		max, err := strconv.Atoi(maxStr)
		if err != nil {
			continue
		}

		key := windowKey(userID, kind)
		cutoff := strconv.FormatInt(now.Add(-windowFor(kind)).UnixNano(), 10)
		if err := t.client.ZRemRangeByScore(ctx, key, "-inf", cutoff).Err(); err != nil {
			return nil, fmt.Errorf("throttle status: %w", err)
		}
		count, err := t.client.ZCard(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("throttle status: %w", err)
		}

		remaining := max - int(count)
		if remaining < 0 {
			remaining = 0
		}
		out[kind] = models.ThrottleStatus{
			RecentCount: int(count),
			MaxCount:    max,
			Remaining:   remaining,
		}
	}
	return out, nil
}
