package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// BalanceCache keeps current balances in Redis so list screens showing many
// students do not each hit the ledger table. Writers invalidate; readers
// fall through to the store on a miss. All methods are nil-safe so the cache
// stays optional in wiring and tests.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBalanceCache constructs a cache with the given TTL.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(studentID, sessionID int64) string {
	return fmt.Sprintf("ledger:balance:%d:%d", studentID, sessionID)
}

// Get returns the cached balance and whether it was present.
func (c *BalanceCache) Get(ctx context.Context, studentID, sessionID int64) (float64, bool) {
	if c == nil || c.client == nil {
		return 0, false
	}
	raw, err := c.client.Get(ctx, balanceKey(studentID, sessionID)).Result()
	if err != nil {
		return 0, false
	}
	balance, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return balance, true
}

// Set stores the balance. Failures are ignored; the cache is advisory.
func (c *BalanceCache) Set(ctx context.Context, studentID, sessionID int64, balance float64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Set(ctx, balanceKey(studentID, sessionID), strconv.FormatFloat(balance, 'f', -1, 64), c.ttl).Err()
}

// Invalidate drops the cached balance after a ledger write.
func (c *BalanceCache) Invalidate(ctx context.Context, studentID, sessionID int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, balanceKey(studentID, sessionID)).Err()
}
