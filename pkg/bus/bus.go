// Package bus defines the message bus the broker runs on: FIFO lists with
// blocking pop and string keys with optional expiry.
package bus

import (
	"context"
	"errors"
	"time"
)

// Bus is implemented by the storage drivers (redis, sqlite, inmemory).
// Implementations must be safe for concurrent use.
type Bus interface {
	// Push appends value to the tail of list.
	Push(ctx context.Context, list, value string) error

	// Pop removes and returns the head of list. Returns ErrNotFound when the
	// list is empty.
	Pop(ctx context.Context, list string) (string, error)

	// BlockingPop waits up to timeout for an element at the head of list.
	// Returns ErrTimeout when nothing arrived. A timeout <= 0 waits until ctx
	// is done.
	BlockingPop(ctx context.Context, list string, timeout time.Duration) (string, error)

	// Len returns the number of elements in list.
	Len(ctx context.Context, list string) (int64, error)

	// Get returns the value stored at key. Returns ErrNotFound if the key
	// doesn't exist or has expired.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key. A ttl <= 0 stores the key without expiry and
	// clears any previous expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Expire resets the expiry of key. Reports false if the key doesn't exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Delete removes keys and lists by name and returns how many existed.
	Delete(ctx context.Context, names ...string) (int64, error)

	// Keys returns the live key and list names matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping checks the bus is reachable.
	Ping(ctx context.Context) error

	// Close releases the driver's resources.
	Close() error
}

// ErrTimeout is returned by BlockingPop when the timeout elapsed.
var ErrTimeout = errors.New("bus: pop timed out")

// ErrNotFound is returned when a key doesn't exist or a list is empty.
type ErrNotFound struct {
	Key string
}

func (e ErrNotFound) Error() string {
	if e.Key == "" {
		return "key not found"
	}

	return "key not found: " + e.Key
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var notFound ErrNotFound
	return errors.As(err, &notFound)
}

// ConnectionError marks a failure to reach the bus at all, as opposed to a
// failed command. Callers back off longer on these.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return "bus " + e.Op + ": connection failed: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnection reports whether err is a ConnectionError.
func IsConnection(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
