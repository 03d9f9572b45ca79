package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clawdops/outreach-desk/internal/metrics"
	"github.com/clawdops/outreach-desk/pkg/kv"
	memkv "github.com/clawdops/outreach-desk/pkg/kv/memory"
	rediskv "github.com/clawdops/outreach-desk/pkg/kv/redis"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache is a JSON value cache with pub/sub. With Redis reachable both go
// through Redis so several desk processes share listings and events;
// otherwise an in-memory kv.Store and PubSubHub serve a single process.
type Cache struct {
	// nil in in-memory mode
	client    *redis.Client
	kvStore   kv.Store
	pubsubHub *PubSubHub

	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
}

// NewCache connects to redisURL. An empty URL or an unreachable server gives
// an in-memory cache; NewCache only fails on a malformed URL.
func NewCache(redisURL string, logger *zap.SugaredLogger, m *metrics.Metrics) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if redisURL == "" {
		logger.Infow("No Redis configured; using in-memory cache and pubsub")
		return newMemoryCache(logger, m), nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		if strings.Contains(redisURL, "://") {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = &redis.Options{Addr: redisURL}
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnw("Redis unavailable; using in-memory cache and pubsub", "error", err)
		_ = client.Close()
		return newMemoryCache(logger, m), nil
	}

	return &Cache{
		client:  client,
		kvStore: rediskv.NewWithClient(client),
		logger:  logger,
		metrics: m,
	}, nil
}

// NewMemoryCache returns a cache that never touches the network.
func NewMemoryCache(logger *zap.SugaredLogger, m *metrics.Metrics) *Cache {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return newMemoryCache(logger, m)
}

func newMemoryCache(logger *zap.SugaredLogger, m *metrics.Metrics) *Cache {
	return &Cache{
		kvStore:   memkv.NewStore(),
		pubsubHub: NewPubSubHub(),
		logger:    logger,
		metrics:   m,
	}
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.kvStore.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			c.metrics.RecordCacheMiss(ctx, key)
			return ErrCacheMiss
		}
		c.logger.Errorw("Cache get error", "key", key, "error", err)
		return fmt.Errorf("cache get error: %w", err)
	}
	c.metrics.RecordCacheHit(ctx, key)
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("cache unmarshal error: %w", err)
	}
	return nil
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal error: %w", err)
	}
	if err := c.kvStore.Set(ctx, key, data, ttl); err != nil {
		c.logger.Errorw("Cache set error", "key", key, "error", err)
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := c.kvStore.Del(ctx, keys...); err != nil {
		c.logger.Errorw("Cache delete error", "keys", keys, "error", err)
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.kvStore.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache exists error: %w", err)
	}
	return n > 0, nil
}

// Publish JSON-encodes message onto channel.
func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("pubsub marshal error: %w", err)
	}

	if c.client != nil {
		if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
			c.logger.Errorw("Publish error", "channel", channel, "error", err)
			return fmt.Errorf("pubsub publish error: %w", err)
		}
		return nil
	}

	n := c.pubsubHub.Publish(channel, string(data))
	c.logger.Debugw("Published to in-memory pubsub", "channel", channel, "receivers", n)
	return nil
}

// Subscribe listens on channels until the subscription is closed or ctx ends.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *Subscription {
	if c.client == nil {
		return c.pubsubHub.Subscribe(ctx, channels...)
	}

	ps := c.client.Subscribe(ctx, channels...)
	sub := newSubscription(channels)
	sub.onClose = ps.Close

	go func() {
		defer sub.Close()
		src := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.closeCh:
				return
			case msg, ok := <-src:
				if !ok {
					return
				}
				if !sub.deliver(&Message{Channel: msg.Channel, Payload: msg.Payload}) {
					c.logger.Debugw("Dropped message for slow subscriber", "channel", msg.Channel)
				}
			}
		}
	}()

	return sub
}

func (c *Cache) IsInMemoryMode() bool {
	return c.client == nil
}

// Mode is "redis" or "memory".
func (c *Cache) Mode() string {
	if c.client != nil {
		return "redis"
	}
	return "memory"
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.kvStore.Ping(ctx)
}

func (c *Cache) Close() error {
	// the redis kv store shares c.client and closes it
	return c.kvStore.Close()
}
