// Package inmemory is a process-local bus driver for tests and single-process
// development setups.
package inmemory

import (
	"context"
	"errors"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/papercomputeco/chatbroker/pkg/bus"
)

type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Driver keeps lists and keys in maps guarded by a mutex.
type Driver struct {
	mu    sync.Mutex
	lists map[string][]string
	keys  map[string]entry
	wake  chan struct{}
	now   func() time.Time

	closed bool
}

var _ bus.Bus = (*Driver)(nil)

// Option configures a Driver.
type Option func(*Driver)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) {
		d.now = now
	}
}

// NewDriver creates an empty in-memory bus.
func NewDriver(opts ...Option) *Driver {
	d := &Driver{
		lists: make(map[string][]string),
		keys:  make(map[string]entry),
		wake:  make(chan struct{}),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Push(_ context.Context, list, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return &bus.ConnectionError{Op: "push", Err: errClosed}
	}

	d.lists[list] = append(d.lists[list], value)
	close(d.wake)
	d.wake = make(chan struct{})
	return nil
}

func (d *Driver) Pop(_ context.Context, list string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return "", &bus.ConnectionError{Op: "pop", Err: errClosed}
	}

	if v, ok := d.popLocked(list); ok {
		return v, nil
	}
	return "", bus.ErrNotFound{Key: list}
}

func (d *Driver) BlockingPop(ctx context.Context, list string, timeout time.Duration) (string, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return "", &bus.ConnectionError{Op: "blpop", Err: errClosed}
		}
		if v, ok := d.popLocked(list); ok {
			d.mu.Unlock()
			return v, nil
		}
		wake := d.wake
		d.mu.Unlock()

		select {
		case <-wake:
		case <-deadline:
			return "", bus.ErrTimeout
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (d *Driver) popLocked(list string) (string, bool) {
	items := d.lists[list]
	if len(items) == 0 {
		return "", false
	}

	v := items[0]
	if len(items) == 1 {
		delete(d.lists, list)
	} else {
		d.lists[list] = items[1:]
	}
	return v, true
}

func (d *Driver) Len(_ context.Context, list string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, &bus.ConnectionError{Op: "llen", Err: errClosed}
	}

	return int64(len(d.lists[list])), nil
}

func (d *Driver) Get(_ context.Context, key string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return "", &bus.ConnectionError{Op: "get", Err: errClosed}
	}

	e, ok := d.liveLocked(key)
	if !ok {
		return "", bus.ErrNotFound{Key: key}
	}
	return e.value, nil
}

func (d *Driver) Set(_ context.Context, key, value string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return &bus.ConnectionError{Op: "set", Err: errClosed}
	}

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = d.now().Add(ttl)
	}
	d.keys[key] = e
	return nil
}

func (d *Driver) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false, &bus.ConnectionError{Op: "expire", Err: errClosed}
	}

	e, ok := d.liveLocked(key)
	if !ok {
		return false, nil
	}

	if ttl > 0 {
		e.expiresAt = d.now().Add(ttl)
		d.keys[key] = e
	} else {
		delete(d.keys, key)
	}
	return true, nil
}

func (d *Driver) Delete(_ context.Context, names ...string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, &bus.ConnectionError{Op: "del", Err: errClosed}
	}

	var removed int64
	for _, name := range names {
		_, isKey := d.liveLocked(name)
		_, isList := d.lists[name]
		if isKey || isList {
			removed++
		}
		delete(d.keys, name)
		delete(d.lists, name)
	}
	return removed, nil
}

func (d *Driver) Keys(_ context.Context, pattern string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, &bus.ConnectionError{Op: "keys", Err: errClosed}
	}

	var matched []string
	for key := range d.keys {
		if _, ok := d.liveLocked(key); !ok {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, key)
		}
	}
	for list := range d.lists {
		if ok, _ := path.Match(pattern, list); ok {
			matched = append(matched, list)
		}
	}

	sort.Strings(matched)
	return matched, nil
}

// liveLocked returns the entry at key, evicting it if it has expired.
func (d *Driver) liveLocked(key string) (entry, bool) {
	e, ok := d.keys[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(d.now()) {
		delete(d.keys, key)
		return entry{}, false
	}
	return e, true
}

func (d *Driver) Ping(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return &bus.ConnectionError{Op: "ping", Err: errClosed}
	}
	return nil
}

// Close marks the driver closed; later calls fail with a ConnectionError.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.closed {
		d.closed = true
		close(d.wake)
	}
	return nil
}

var errClosed = errors.New("in-memory bus closed")
