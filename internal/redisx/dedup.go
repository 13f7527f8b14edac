package redisx

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper marks sales as processed for one consuming service.
type Deduper struct {
	rdb     redis.Cmdable
	service string
	ttl     time.Duration
}

func NewDeduper(rdb redis.Cmdable, service string) *Deduper {
	return &Deduper{rdb: rdb, service: service, ttl: TTLDedup}
}

func (d *Deduper) key(id string) string { return fmt.Sprintf(KeyDedup, d.service, id) }

func (d *Deduper) Seen(ctx context.Context, saleID string) (bool, error) {
	return Exists(ctx, d.rdb, d.key(saleID))
}

func (d *Deduper) MarkDone(ctx context.Context, saleID string) error {
	return d.rdb.Set(ctx, d.key(saleID), "1", d.ttl).Err()
}

// MemoryDeduper is a process-local Deduper for single-instance runs and tests.
type MemoryDeduper struct {
	mu   sync.Mutex
	done map[string]struct{}
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{done: map[string]struct{}{}}
}

func (d *MemoryDeduper) Seen(_ context.Context, saleID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.done[saleID]
	return ok, nil
}

func (d *MemoryDeduper) MarkDone(_ context.Context, saleID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.done[saleID] = struct{}{}
	return nil
}
