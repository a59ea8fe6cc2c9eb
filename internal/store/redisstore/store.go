package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func titleLockKey(chatID string) string {
	return "chat:title-lock:" + chatID
}

// TryLockTitle claims title generation for chatID for ttl. It reports false
// when another turn already holds the claim.
func (s *Store) TryLockTitle(ctx context.Context, chatID string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, titleLockKey(chatID), "1", ttl).Result()
}
