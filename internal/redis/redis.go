package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"geminichat/internal/config"

	redis "github.com/redis/go-redis/v9"
)

const dialTimeout = 3 * time.Second

var errNoClient = errors.New("redis client not initialized")

// ErrCacheMiss is what Get returns for a key that was never written.
var ErrCacheMiss = redis.Nil

// Client is the connection the redis storage driver writes its records through.
type Client struct {
	rdb *redis.Client
}

// NewRedisClient dials the server named in the redis config section,
// falling back to a local default address.
func NewRedisClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	host, port := cfg.Redis.Host, cfg.Redis.Port
	if host == "" {
		host = "127.0.0.1"
	}
	if port == 0 {
		port = 6379
	}
	return Dial(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// Dial fails unless the server answers a PING within dialTimeout.
func Dial(opts *redis.Options) (*Client, error) {
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) ready() error {
	if c == nil || c.rdb == nil {
		return errNoClient
	}
	return nil
}

// Set writes a record. Records never expire; pass ttl 0 unless a caller
// really wants the key to go away on its own.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Get reads a record's raw bytes.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.rdb.Get(ctx, key).Bytes()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if err := c.ready(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Client) Close() error {
	if c.ready() != nil {
		return nil
	}
	return c.rdb.Close()
}
