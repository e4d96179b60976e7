package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisPartProgressRepository struct {
	redis *redis.Client
}

func NewRedisPartProgressRepository(redisClient *redis.Client) *RedisPartProgressRepository {
	return &RedisPartProgressRepository{redis: redisClient}
}

func partSetKey(uploadID string) string {
	return fmt.Sprintf("upload:%s:parts", uploadID)
}

func (r *RedisPartProgressRepository) IsPartRecorded(ctx context.Context, uploadID string, partNumber int) (bool, error) {
	return r.redis.SIsMember(ctx, partSetKey(uploadID), partNumber).Result()
}

func (r *RedisPartProgressRepository) AddPart(ctx context.Context, uploadID string, partNumber int, expireSeconds int) error {
	key := partSetKey(uploadID)
	if err := r.redis.SAdd(ctx, key, partNumber).Err(); err != nil {
		return err
	}
	if expireSeconds > 0 {
		return r.redis.Expire(ctx, key, time.Duration(expireSeconds)*time.Second).Err()
	}
	return nil
}

func (r *RedisPartProgressRepository) RecordedCount(ctx context.Context, uploadID string) (int64, error) {
	return r.redis.SCard(ctx, partSetKey(uploadID)).Result()
}

func (r *RedisPartProgressRepository) Clear(ctx context.Context, uploadID string) error {
	return r.redis.Del(ctx, partSetKey(uploadID)).Err()
}
