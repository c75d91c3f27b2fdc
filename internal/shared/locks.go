package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrResourceBusy indicates another request holds the resource mutex.
var ErrResourceBusy = errors.New("resource busy, retry")

// StockLockKey builds the redis key guarding an item's read-mutate-post cycle.
func StockLockKey(orgID, itemID int64) string {
	return fmt.Sprintf("stock:%d:%d:lock", orgID, itemID)
}

// CompositeLockKey builds the redis key guarding a composite build/unbuild.
func CompositeLockKey(orgID, compositeID int64) string {
	return fmt.Sprintf("composite:%d:%d:lock", orgID, compositeID)
}

// AdjustmentLockKey builds the redis key guarding an adjustment conversion.
func AdjustmentLockKey(orgID, adjustmentID int64) string {
	return fmt.Sprintf("adjustment:%d:%d:lock", orgID, adjustmentID)
}

// PeriodLockKey builds the redis key for period transition critical sections.
func PeriodLockKey(orgID int64, year, month int) string {
	return fmt.Sprintf("period:%d:%d-%02d:lock", orgID, year, month)
}

// ResourceMutex serialises multi-step mutations on one tenant resource.
// DB-level optimistic concurrency remains the correctness backstop; this
// only shortens the conflict window.
type ResourceMutex struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResourceMutex constructs the mutex helper.
func NewResourceMutex(client *redis.Client, ttl time.Duration) *ResourceMutex {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &ResourceMutex{client: client, ttl: ttl}
}

// Acquire takes the named lock and returns a release func. A nil mutex or
// client degrades to a no-op so unit tests can run without redis.
func (m *ResourceMutex) Acquire(ctx context.Context, key string) (func(), error) {
	if m == nil || m.client == nil {
		return func() {}, nil
	}
	ok, err := m.client.SetNX(ctx, key, "1", m.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrResourceBusy
	}
	return func() {
		_ = m.client.Del(context.WithoutCancel(ctx), key).Err()
	}, nil
}
