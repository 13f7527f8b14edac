package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-realtime-sales/internal/sales"
)

// StatusCache keeps a short-lived copy of each sale's status.
type StatusCache struct {
	rdb redis.Cmdable
}

func NewStatusCache(rdb redis.Cmdable) *StatusCache {
	return &StatusCache{rdb: rdb}
}

func (c *StatusCache) SetStatus(ctx context.Context, id string, st sales.Status) error {
	return c.rdb.Set(ctx, fmt.Sprintf(KeySaleStatus, id), string(st), TTLStatusCache).Err()
}

// SetStatusIfAbsent writes st only when no status is cached, so a stale
// read never replaces a newer value.
func (c *StatusCache) SetStatusIfAbsent(ctx context.Context, id string, st sales.Status) error {
	return c.rdb.SetNX(ctx, fmt.Sprintf(KeySaleStatus, id), string(st), TTLStatusCache).Err()
}

// GetStatus reports ok=false on a miss or an entry it cannot parse.
func (c *StatusCache) GetStatus(ctx context.Context, id string) (sales.Status, bool, error) {
	v, err := c.rdb.Get(ctx, fmt.Sprintf(KeySaleStatus, id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	st, err := sales.ParseStatus(v)
	if err != nil {
		return "", false, nil
	}
	return st, true, nil
}
