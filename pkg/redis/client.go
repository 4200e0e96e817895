package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stratocost/pricefeed/pkg/utils"
	"go.uber.org/zap"
)

const (
	// featureKeyPrefix namespaces the online feature projection.
	featureKeyPrefix = "features:"
	// runLeaseKey is the single-flight advisory lease for pipeline runs.
	runLeaseKey = "pricefeed:run-lease"
)

// Client wraps the Redis client backing the online feature store and the
// pipeline run lease.
type Client struct {
	client *redis.Client
	logger *zap.Logger
}

// NewClient creates a new Redis client using environment variables:
//   - REDIS_HOST: Redis host (default: "localhost")
//   - REDIS_PORT: Redis port (default: "6379")
//   - REDIS_PASSWORD: Redis password (default: "")
//   - REDIS_DB: Redis database number (default: "0")
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvInt("REDIS_DB", 0)

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis", zap.String("addr", addr), zap.Int("db", db))

	return &Client{client: rdb, logger: logger}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Health checks if Redis is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// =============================================================================
// Online feature projection
// =============================================================================

// FeatureKey returns the online-store key for an identity digest.
func FeatureKey(digest string) string {
	return featureKeyPrefix + digest
}

// SetFeatures overwrites the online projection for a digest. The whole hash is
// replaced in one pipelined DEL+HSET so readers never observe a torn record.
func (c *Client) SetFeatures(ctx context.Context, digest string, fields map[string]interface{}) error {
	key := FeatureKey(digest)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write online features for %s: %w", digest, err)
	}
	return nil
}

// GetFeatures returns the online projection for a digest, or nil when the
// digest has no online entry.
func (c *Client) GetFeatures(ctx context.Context, digest string) (map[string]string, error) {
	fields, err := c.client.HGetAll(ctx, FeatureKey(digest)).Result()
	if err != nil {
		return nil, fmt.Errorf("read online features for %s: %w", digest, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

// =============================================================================
// Single-flight run lease
// =============================================================================

// AcquireRunLease attempts to take the pipeline run lease for owner. Returns
// false when another owner currently holds it. The lease is a persisted
// advisory lock: two worker processes can never both start a run.
func (c *Client) AcquireRunLease(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, runLeaseKey, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire run lease: %w", err)
	}
	return ok, nil
}

// RenewRunLease extends the lease TTL if owner still holds it.
func (c *Client) RenewRunLease(ctx context.Context, owner string, ttl time.Duration) error {
	current, err := c.client.Get(ctx, runLeaseKey).Result()
	if err == redis.Nil {
		return fmt.Errorf("renew run lease: lease expired")
	}
	if err != nil {
		return fmt.Errorf("renew run lease: %w", err)
	}
	if current != owner {
		return fmt.Errorf("renew run lease: lease held by %s", current)
	}
	if err := c.client.Expire(ctx, runLeaseKey, ttl).Err(); err != nil {
		return fmt.Errorf("renew run lease: %w", err)
	}
	return nil
}

// ReleaseRunLease releases the lease if owner holds it. Releasing a lease that
// already expired or was taken over is not an error.
func (c *Client) ReleaseRunLease(ctx context.Context, owner string) error {
	current, err := c.client.Get(ctx, runLeaseKey).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("release run lease: %w", err)
	}
	if current != owner {
		c.logger.Warn("Run lease held by another owner at release time",
			zap.String("owner", owner),
			zap.String("holder", current))
		return nil
	}
	return c.client.Del(ctx, runLeaseKey).Err()
}
