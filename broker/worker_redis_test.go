package broker_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatbroker/broker"
	"github.com/papercomputeco/chatbroker/pkg/bus/redis"
	"github.com/papercomputeco/chatbroker/pkg/generation"
	"github.com/papercomputeco/chatbroker/pkg/prune"
	"github.com/papercomputeco/chatbroker/pkg/session"
	"github.com/papercomputeco/chatbroker/pkg/tokenizer"
)

var _ = Describe("Worker on a redis bus", func() {
	It("starts while redis is down and serves requests once it comes up", func() {
		ctx := context.Background()

		server, err := miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		server.Close()
		DeferCleanup(server.Close)

		driver := redis.NewDriver(redis.Config{Addr: server.Addr(), DialTimeout: 100 * time.Millisecond}, nil)
		DeferCleanup(driver.Close)

		pruner := prune.New(tokenizer.Heuristic{}, nil)
		sessions := session.NewStore(driver, pruner, session.Config{}, nil)
		generator := generation.New(&fakeBackend{reply: " Hello."}, pruner, nil, generation.Config{}, nil)

		config := broker.DefaultConfig()
		config.PopTimeout = 50 * time.Millisecond
		config.IdleDelay = time.Millisecond
		config.ErrorBackoff = 10 * time.Millisecond
		config.ConnectionBackoff = 20 * time.Millisecond
		worker := broker.NewWorker(config, driver, sessions, generator, nil)

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- worker.Run(runCtx) }()
		DeferCleanup(func() {
			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		Consistently(done, 200*time.Millisecond).ShouldNot(Receive())

		Expect(server.Restart()).To(Succeed())
		Eventually(func() error {
			return driver.Push(ctx, config.InboundQueue, request("r1", "tok", "hi"))
		}).Should(Succeed())

		Eventually(func() (string, error) {
			return driver.Get(ctx, broker.ResponseKey("r1"))
		}, 5*time.Second).Should(ContainSubstring(`"response":" Hello."`))
		Expect(worker.Stats().OK).To(Equal(int64(1)))
	})
})
