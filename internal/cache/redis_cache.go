package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const unmappedKey = "tz:unmapped"

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	RemoteMessageID string    `json:"remoteMessageId"`
	SentAt          time.Time `json:"sentAt"`
}

func (c *RedisCache) StoreSent(ctx context.Context, logID int64, remoteMessageID string, sentAt time.Time) error {
	key := fmt.Sprintf("sent:%d", logID)
	val := sentValue{
		RemoteMessageID: remoteMessageID,
		SentAt:          sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}

// Checkpoints never expire; an operator copies them into the run
// configuration to resume.
func (c *RedisCache) SaveCheckpoint(ctx context.Context, key string, value int64) error {
	return c.rdb.Set(ctx, key, value, 0).Err()
}

func (c *RedisCache) Checkpoint(ctx context.Context, key string) (int64, bool, error) {
	raw, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint %s: %w", key, err)
	}
	return v, true, nil
}

func (c *RedisCache) RecordUnmapped(ctx context.Context, areaCode string) (bool, error) {
	pipe := c.rdb.TxPipeline()
	added := pipe.SAdd(ctx, unmappedKey, areaCode)
	pipe.Expire(ctx, unmappedKey, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return added.Val() == 1, nil
}

// Unmapped lists the recorded area codes, sorted.
func (c *RedisCache) Unmapped(ctx context.Context) ([]string, error) {
	codes, err := c.rdb.SMembers(ctx, unmappedKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(codes)
	return codes, nil
}
