package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sparkchat/internal/types"
)

const presenceTTL = 5 * time.Minute

// PresenceStore caches live user status in redis so other services can read
// presence without hitting postgres. A nil store disables caching.
type PresenceStore struct {
	rdb *redis.Client
}

func NewPresenceStore(redisURL string) (*PresenceStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &PresenceStore{rdb: rdb}, nil
}

func presenceKey(accountId int) string {
	return "presence:" + strconv.Itoa(accountId)
}

func (p *PresenceStore) SetOnline(ctx context.Context, accountId int, status types.Status) error {
	if p == nil {
		return nil
	}
	return p.rdb.Set(ctx, presenceKey(accountId), string(status), presenceTTL).Err()
}

func (p *PresenceStore) SetOffline(ctx context.Context, accountId int) error {
	if p == nil {
		return nil
	}
	return p.rdb.Del(ctx, presenceKey(accountId)).Err()
}

func (p *PresenceStore) Status(ctx context.Context, accountId int) (types.Status, error) {
	if p == nil {
		return types.StatusOffline, nil
	}

	val, err := p.rdb.Get(ctx, presenceKey(accountId)).Result()
	if err == redis.Nil {
		return types.StatusOffline, nil
	}
	if err != nil {
		return types.StatusOffline, err
	}

	return types.Status(val), nil
}

func (p *PresenceStore) Close() error {
	if p == nil {
		return nil
	}
	return p.rdb.Close()
}
