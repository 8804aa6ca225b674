package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"shop-backend/internal/models"

	"github.com/go-redis/redis/v8"
)

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

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func guestCheckoutKey(token string) string {
	return "guest_checkout:" + token
}

// SaveGuestCheckout stores the prepared guest checkout snapshot under its
// session token with a TTL. The snapshot is what the payment webhook reads
// to materialize the order; after the TTL it is treated as expired.
func (c *Client) SaveGuestCheckout(ctx context.Context, snapshot *models.GuestCheckout, ttl time.Duration) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal guest checkout: %w", err)
	}
	if err := c.rdb.Set(ctx, guestCheckoutKey(snapshot.SessionToken), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save guest checkout: %w", err)
	}
	return nil
}

// GetGuestCheckout loads the snapshot for a session token. Returns
// models.ErrNotFound when it is absent or expired.
func (c *Client) GetGuestCheckout(ctx context.Context, sessionToken string) (*models.GuestCheckout, error) {
	payload, err := c.rdb.Get(ctx, guestCheckoutKey(sessionToken)).Bytes()
	if err == redis.Nil {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load guest checkout: %w", err)
	}

	var snapshot models.GuestCheckout
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal guest checkout: %w", err)
	}
	return &snapshot, nil
}

// DeleteGuestCheckout removes a consumed snapshot so a replayed webhook
// cannot materialize a second order from it.
func (c *Client) DeleteGuestCheckout(ctx context.Context, sessionToken string) error {
	return c.rdb.Del(ctx, guestCheckoutKey(sessionToken)).Err()
}

// AcquireLock takes a short-lived lock used to serialize concurrent webhook
// deliveries for one correlation id. Returns false when another delivery
// holds it.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "lock:"+lockKey, "1", ttl).Result()
}

// ReleaseLock releases a previously acquired lock.
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, "lock:"+lockKey).Err()
}
