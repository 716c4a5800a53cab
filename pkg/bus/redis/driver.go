// Package redis is the production bus driver backed by a Redis server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/papercomputeco/chatbroker/pkg/bus"
)

// Config is the Redis connection configuration.
type Config struct {
	// Addr of the server (e.g., "localhost:6379")
	Addr     string
	Password string
	DB       int

	// Socket timeouts. Blocking pops extend the read timeout by their own
	// timeout.
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// Driver implements bus.Bus on Redis lists and strings.
type Driver struct {
	client *goredis.Client
	logger *zap.Logger
}

var _ bus.Bus = (*Driver)(nil)

// NewDriver creates a Driver. It does not connect eagerly; the first command
// or Ping does.
func NewDriver(config Config, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:        config.Addr,
		Password:    config.Password,
		DB:          config.DB,
		DialTimeout: config.DialTimeout,
		ReadTimeout: config.ReadTimeout,
	})

	return &Driver{client: client, logger: logger}
}

func (d *Driver) Push(ctx context.Context, list, value string) error {
	if err := d.client.RPush(ctx, list, value).Err(); err != nil {
		return wrap("rpush", err)
	}
	return nil
}

func (d *Driver) Pop(ctx context.Context, list string) (string, error) {
	v, err := d.client.LPop(ctx, list).Result()
	if errors.Is(err, goredis.Nil) {
		return "", bus.ErrNotFound{Key: list}
	}
	if err != nil {
		return "", wrap("lpop", err)
	}
	return v, nil
}

func (d *Driver) BlockingPop(ctx context.Context, list string, timeout time.Duration) (string, error) {
	if timeout < 0 {
		timeout = 0
	}

	res, err := d.client.BLPop(ctx, timeout, list).Result()
	if errors.Is(err, goredis.Nil) {
		return "", bus.ErrTimeout
	}
	if err != nil {
		return "", wrap("blpop", err)
	}
	if len(res) != 2 {
		return "", fmt.Errorf("blpop: unexpected reply of %d elements", len(res))
	}
	return res[1], nil
}

func (d *Driver) Len(ctx context.Context, list string) (int64, error) {
	n, err := d.client.LLen(ctx, list).Result()
	if err != nil {
		return 0, wrap("llen", err)
	}
	return n, nil
}

func (d *Driver) Get(ctx context.Context, key string) (string, error) {
	v, err := d.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", bus.ErrNotFound{Key: key}
	}
	if err != nil {
		return "", wrap("get", err)
	}
	return v, nil
}

func (d *Driver) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := d.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrap("set", err)
	}
	return nil
}

func (d *Driver) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		n, err := d.client.Del(ctx, key).Result()
		if err != nil {
			return false, wrap("del", err)
		}
		return n > 0, nil
	}

	ok, err := d.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, wrap("expire", err)
	}
	return ok, nil
}

func (d *Driver) Delete(ctx context.Context, names ...string) (int64, error) {
	if len(names) == 0 {
		return 0, nil
	}
	n, err := d.client.Del(ctx, names...).Result()
	if err != nil {
		return 0, wrap("del", err)
	}
	return n, nil
}

func (d *Driver) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := d.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrap("scan", err)
	}
	return keys, nil
}

func (d *Driver) Ping(ctx context.Context) error {
	if err := d.client.Ping(ctx).Err(); err != nil {
		return wrap("ping", err)
	}
	return nil
}

func (d *Driver) Close() error {
	return d.client.Close()
}

// wrap marks transport failures as bus.ConnectionError so the worker can back
// off; everything else is a plain command error.
func wrap(op string, err error) error {
	if isConnectionFailure(err) {
		return &bus.ConnectionError{Op: op, Err: err}
	}
	return fmt.Errorf("redis %s: %w", op, err)
}

func isConnectionFailure(err error) bool {
	if errors.Is(err, goredis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
