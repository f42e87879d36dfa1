package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client wraps redis for the engine's advisory concerns: an availability
// cache consulted before the authoritative DB check, a sweep lock so one
// instance runs a sweep tick, and a webhook dedup fast path in front of the
// processed_events table.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func inventoryKey(storeID, sku string) string {
	return fmt.Sprintf("inventory:%s:%s", storeID, sku)
}

// CacheInventory stores the current level for a (store, sku)
func (c *Client) CacheInventory(ctx context.Context, storeID, sku string, onHand, reserved int) error {
	pipe := c.rdb.Pipeline()
	key := inventoryKey(storeID, sku)
	pipe.HSet(ctx, key, "on_hand", onHand)
	pipe.HSet(ctx, key, "reserved", reserved)
	pipe.Expire(ctx, key, time.Hour)

	_, err := pipe.Exec(ctx)
	return err
}

// GetAvailable returns cached availability for a (store, sku). The second
// return value is false on a cache miss.
func (c *Client) GetAvailable(ctx context.Context, storeID, sku string) (int, bool, error) {
	result, err := c.rdb.HGetAll(ctx, inventoryKey(storeID, sku)).Result()
	if err != nil {
		return 0, false, err
	}
	if len(result) == 0 {
		return 0, false, nil
	}

	onHand, err := strconv.Atoi(result["on_hand"])
	if err != nil {
		return 0, false, fmt.Errorf("bad cached on_hand: %w", err)
	}
	reserved, err := strconv.Atoi(result["reserved"])
	if err != nil {
		return 0, false, fmt.Errorf("bad cached reserved: %w", err)
	}

	return onHand - reserved, true, nil
}

// InvalidateInventory drops the cached level after any stock mutation
func (c *Client) InvalidateInventory(ctx context.Context, storeID, sku string) error {
	return c.rdb.Del(ctx, inventoryKey(storeID, sku)).Err()
}

// IsEventSeen is the webhook dedup fast path in front of processed_events.
// Advisory only: the Postgres row stays the durable dedup mechanism.
func (c *Client) IsEventSeen(ctx context.Context, eventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, fmt.Sprintf("webhook:seen:%s", eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CacheEventSeen marks an event id seen after it was durably recorded. Never
// called before the processed_events row lands, so a failed delivery still
// retries in full.
func (c *Client) CacheEventSeen(ctx context.Context, eventID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("webhook:seen:%s", eventID), "1", ttl).Err()
}

// AcquireSweepLock acquires the cross-instance sweep lock
func (c *Client) AcquireSweepLock(ctx context.Context, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "lock:expiry-sweep", "1", ttl).Result()
}

// ReleaseSweepLock releases the sweep lock
func (c *Client) ReleaseSweepLock(ctx context.Context) error {
	return c.rdb.Del(ctx, "lock:expiry-sweep").Err()
}
