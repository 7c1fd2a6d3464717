package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/verify_otp.lua
var verifyOTPScript string

//go:embed scripts/consume_otp.lua
var consumeOTPScript string

// ErrCacheMiss is returned when a key is absent.
var ErrCacheMiss = errors.New("cache miss")

// FeaturedProductsKey caches the featured product list.
const FeaturedProductsKey = "featured_products"

// maxOTPAttempts bounds guesses per issued code.
const maxOTPAttempts = 5

type Client struct {
	rdb           *redis.Client
	verifyScript  *redis.Script
	consumeScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
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

	return &Client{
		rdb:           rdb,
		verifyScript:  redis.NewScript(verifyOTPScript),
		consumeScript: redis.NewScript(consumeOTPScript),
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity for readiness checks
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// CartKey is the cache key for one version of a user's cart listing.
func CartKey(userID, version int64) string {
	return fmt.Sprintf("cart:%d:v%d", userID, version)
}

func cartVersionKey(userID int64) string {
	return fmt.Sprintf("cart_version:%d", userID)
}

// CartVersion returns the user's current cart version, 0 if never bumped.
func (c *Client) CartVersion(ctx context.Context, userID int64) (int64, error) {
	v, err := c.rdb.Get(ctx, cartVersionKey(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// BumpCartVersion moves the user's cart to a new version and returns it.
// Listings cached under older versions are never read again.
func (c *Client) BumpCartVersion(ctx context.Context, userID int64) (int64, error) {
	return c.rdb.Incr(ctx, cartVersionKey(userID)).Result()
}

// GetJSON decodes the value at key into dst. Returns ErrCacheMiss if absent.
func (c *Client) GetJSON(ctx context.Context, key string, dst interface{}) error {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

// SetJSON stores v at key. A zero ttl keeps the key until it is deleted.
func (c *Client) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

// Delete removes keys
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func refreshKey(userID int64) string {
	return fmt.Sprintf("refresh_token:%d", userID)
}

// SetRefreshToken stores the user's current refresh token
func (c *Client) SetRefreshToken(ctx context.Context, userID int64, token string, ttl time.Duration) error {
	return c.rdb.Set(ctx, refreshKey(userID), token, ttl).Err()
}

// GetRefreshToken returns the stored refresh token or ErrCacheMiss
func (c *Client) GetRefreshToken(ctx context.Context, userID int64) (string, error) {
	token, err := c.rdb.Get(ctx, refreshKey(userID)).Result()
	if err == redis.Nil {
		return "", ErrCacheMiss
	}
	return token, err
}

// DeleteRefreshToken revokes the stored refresh token
func (c *Client) DeleteRefreshToken(ctx context.Context, userID int64) error {
	return c.rdb.Del(ctx, refreshKey(userID)).Err()
}

func otpKey(phone string) string {
	return fmt.Sprintf("otp:%s", phone)
}

// StoreOTP replaces any pending code for phone
func (c *Client) StoreOTP(ctx context.Context, phone, code string, ttl time.Duration) error {
	key := otpKey(phone)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "code", code, "verified", "0", "attempts", "0")
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

// VerifyOTP atomically checks code and marks the entry verified
func (c *Client) VerifyOTP(ctx context.Context, phone, code string) (bool, error) {
	result, err := c.verifyScript.Run(ctx, c.rdb, []string{otpKey(phone)}, code, maxOTPAttempts).Int64()
	if err != nil {
		return false, fmt.Errorf("verify otp script failed: %w", err)
	}
	return result == 1, nil
}

// ConsumeOTPVerification atomically uses up a verified entry
func (c *Client) ConsumeOTPVerification(ctx context.Context, phone string) (bool, error) {
	result, err := c.consumeScript.Run(ctx, c.rdb, []string{otpKey(phone)}).Int64()
	if err != nil {
		return false, fmt.Errorf("consume otp script failed: %w", err)
	}
	return result == 1, nil
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.SetJSON(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl)
}

// GetIdempotencyKey decodes a stored idempotent response. Returns ErrCacheMiss if absent.
func (c *Client) GetIdempotencyKey(ctx context.Context, key string, dst interface{}) error {
	return c.GetJSON(ctx, fmt.Sprintf("idempotency:%s", key), dst)
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
