// Package bustest holds the behaviour every bus driver must share, written as
// ginkgo specs that driver suites include.
package bustest

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatbroker/pkg/bus"
)

// Harness creates a fresh driver for one spec and moves its clock forward.
type Harness struct {
	New     func() bus.Bus
	Advance func(d time.Duration)
}

// Clock is a manually advanced time source for drivers that accept one.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the clock's current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// DescribeBus registers the shared driver specs.
func DescribeBus(h Harness) {
	var (
		ctx context.Context
		b   bus.Bus
	)

	BeforeEach(func() {
		ctx = context.Background()
		b = h.New()
		DeferCleanup(func() { b.Close() })
	})

	Describe("lists", func() {
		It("pops in FIFO order", func() {
			Expect(b.Push(ctx, "q", "one")).To(Succeed())
			Expect(b.Push(ctx, "q", "two")).To(Succeed())

			n, err := b.Len(ctx, "q")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(2)))

			Expect(b.Pop(ctx, "q")).To(Equal("one"))
			Expect(b.BlockingPop(ctx, "q", time.Second)).To(Equal("two"))
		})

		It("reports an empty list as not found", func() {
			_, err := b.Pop(ctx, "empty")
			Expect(bus.IsNotFound(err)).To(BeTrue())
		})

		It("times out a blocking pop on an empty list", func() {
			_, err := b.BlockingPop(ctx, "empty", 100*time.Millisecond)
			Expect(err).To(MatchError(bus.ErrTimeout))
		})

		It("wakes a blocking pop when an element arrives", func() {
			go func() {
				defer GinkgoRecover()
				time.Sleep(50 * time.Millisecond)
				Expect(b.Push(ctx, "late", "payload")).To(Succeed())
			}()

			Expect(b.BlockingPop(ctx, "late", 2*time.Second)).To(Equal("payload"))
		})
	})

	Describe("keys", func() {
		It("stores and retrieves a value", func() {
			Expect(b.Set(ctx, "k", "v", 0)).To(Succeed())
			Expect(b.Get(ctx, "k")).To(Equal("v"))
		})

		It("returns ErrNotFound for a missing key", func() {
			_, err := b.Get(ctx, "missing")
			Expect(err).To(BeAssignableToTypeOf(bus.ErrNotFound{}))
		})

		It("expires keys after their ttl", func() {
			Expect(b.Set(ctx, "k", "v", time.Hour)).To(Succeed())

			h.Advance(59 * time.Minute)
			Expect(b.Get(ctx, "k")).To(Equal("v"))

			h.Advance(2 * time.Minute)
			_, err := b.Get(ctx, "k")
			Expect(bus.IsNotFound(err)).To(BeTrue())
		})

		It("extends the ttl on expire", func() {
			Expect(b.Set(ctx, "k", "v", time.Hour)).To(Succeed())

			h.Advance(50 * time.Minute)
			Expect(b.Expire(ctx, "k", time.Hour)).To(BeTrue())

			h.Advance(50 * time.Minute)
			Expect(b.Get(ctx, "k")).To(Equal("v"))
		})

		It("reports expire on a missing key", func() {
			Expect(b.Expire(ctx, "missing", time.Hour)).To(BeFalse())
		})

		It("clears the ttl when set without one", func() {
			Expect(b.Set(ctx, "k", "v", time.Hour)).To(Succeed())
			Expect(b.Set(ctx, "k", "w", 0)).To(Succeed())

			h.Advance(2 * time.Hour)
			Expect(b.Get(ctx, "k")).To(Equal("w"))
		})
	})

	Describe("Delete and Keys", func() {
		BeforeEach(func() {
			Expect(b.Set(ctx, "conversation:a", "1", time.Hour)).To(Succeed())
			Expect(b.Set(ctx, "conversation:b", "2", 0)).To(Succeed())
			Expect(b.Set(ctx, "response:x", "3", 0)).To(Succeed())
			Expect(b.Push(ctx, "incoming", "m")).To(Succeed())
		})

		It("matches names by glob pattern", func() {
			Expect(b.Keys(ctx, "conversation:*")).To(ConsistOf("conversation:a", "conversation:b"))
			Expect(b.Keys(ctx, "response:*")).To(ConsistOf("response:x"))
		})

		It("leaves expired keys out", func() {
			h.Advance(2 * time.Hour)
			Expect(b.Keys(ctx, "conversation:*")).To(ConsistOf("conversation:b"))
		})

		It("deletes keys and lists and counts what existed", func() {
			n, err := b.Delete(ctx, "conversation:a", "incoming", "nothing")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(2)))

			Expect(b.Len(ctx, "incoming")).To(Equal(int64(0)))
			_, err = b.Get(ctx, "conversation:a")
			Expect(bus.IsNotFound(err)).To(BeTrue())
		})
	})

	It("answers a ping", func() {
		Expect(b.Ping(ctx)).To(Succeed())
	})
}
