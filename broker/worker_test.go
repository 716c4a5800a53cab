package broker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatbroker/broker"
	"github.com/papercomputeco/chatbroker/pkg/bus"
	"github.com/papercomputeco/chatbroker/pkg/bus/bustest"
	"github.com/papercomputeco/chatbroker/pkg/bus/inmemory"
	"github.com/papercomputeco/chatbroker/pkg/generation"
	"github.com/papercomputeco/chatbroker/pkg/llm"
	"github.com/papercomputeco/chatbroker/pkg/prune"
	"github.com/papercomputeco/chatbroker/pkg/session"
	"github.com/papercomputeco/chatbroker/pkg/tokenizer"
	"github.com/papercomputeco/chatbroker/pkg/transcript"
)

type fakeBackend struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (f *fakeBackend) Generate(_ context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.prompts = append(f.prompts, req.Prompt)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.GenerateResponse{Results: []llm.Result{{Text: f.reply}}}, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// flakyBus fails selected operations with connection errors.
type flakyBus struct {
	*inmemory.Driver
	failGets bool
	failPops atomic.Int32
}

func (f *flakyBus) Get(ctx context.Context, key string) (string, error) {
	if f.failGets {
		return "", &bus.ConnectionError{Op: "get", Err: errors.New("connection refused")}
	}
	return f.Driver.Get(ctx, key)
}

func (f *flakyBus) BlockingPop(ctx context.Context, list string, timeout time.Duration) (string, error) {
	if f.failPops.Load() > 0 {
		f.failPops.Add(-1)
		return "", &bus.ConnectionError{Op: "blpop", Err: errors.New("connection refused")}
	}
	return f.Driver.BlockingPop(ctx, list, timeout)
}

func request(id, token, message string) string {
	payload := map[string]string{}
	if id != "" {
		payload["id"] = id
	}
	if token != "" {
		payload["sessionToken"] = token
	}
	if message != "" {
		payload["userMessage"] = message
	}
	data, err := json.Marshal(payload)
	Expect(err).NotTo(HaveOccurred())
	return string(data)
}

func decode(raw string) llm.OutboundResponse {
	var resp llm.OutboundResponse
	Expect(json.Unmarshal([]byte(raw), &resp)).To(Succeed())
	return resp
}

var _ = Describe("Worker", func() {
	var (
		ctx      context.Context
		clock    *bustest.Clock
		driver   *flakyBus
		backend  *fakeBackend
		sessions *session.Store
		config   broker.Config
		worker   *broker.Worker
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = bustest.NewClock()
		driver = &flakyBus{Driver: inmemory.NewDriver(inmemory.WithClock(clock.Now))}
		backend = &fakeBackend{reply: " Drink water.\n"}

		pruner := prune.New(tokenizer.Heuristic{}, nil)
		sessions = session.NewStore(driver, pruner, session.Config{}, nil)
		generator := generation.New(backend, pruner, nil, generation.Config{}, nil)

		config = broker.DefaultConfig()
		config.PopTimeout = 20 * time.Millisecond
		config.IdleDelay = time.Millisecond
		config.ErrorBackoff = time.Millisecond
		config.ConnectionBackoff = 5 * time.Millisecond
		config.ResponseTTL = time.Hour

		worker = broker.NewWorker(config, driver, sessions, generator, nil)
	})

	outbound := func() []string {
		var out []string
		for {
			v, err := driver.Pop(ctx, config.OutboundQueue)
			if bus.IsNotFound(err) {
				return out
			}
			Expect(err).NotTo(HaveOccurred())
			out = append(out, v)
		}
	}

	Describe("Process", func() {
		It("publishes the reply to the response slot and the outbound queue", func() {
			outcome := worker.Process(ctx, request("r1", "tok", "I have a headache"))
			Expect(outcome).To(Equal(broker.OutcomeOK))

			slot, err := driver.Get(ctx, "response:r1")
			Expect(err).NotTo(HaveOccurred())
			resp := decode(slot)
			Expect(resp.ID).To(Equal("r1"))
			Expect(resp.UserMessage).To(Equal("I have a headache"))
			Expect(resp.Response).To(Equal(" Drink water.\n"))
			Expect(resp.SessionToken).To(Equal("tok"))
			Expect(resp.Error).To(BeEmpty())

			Expect(outbound()).To(Equal([]string{slot}))
		})

		It("publishes an empty generation as an empty response", func() {
			backend.reply = ""

			outcome := worker.Process(ctx, request("r1", "tok", "hi"))
			Expect(outcome).To(Equal(broker.OutcomeOK))

			slot, err := driver.Get(ctx, "response:r1")
			Expect(err).NotTo(HaveOccurred())
			out := outbound()
			Expect(out).To(HaveLen(1))
			for _, raw := range []string{slot, out[0]} {
				var fields map[string]any
				Expect(json.Unmarshal([]byte(raw), &fields)).To(Succeed())
				Expect(fields).To(HaveKeyWithValue("response", ""))
				Expect(fields).NotTo(HaveKey("error"))
			}
		})

		It("records the exchange in the session", func() {
			worker.Process(ctx, request("r1", "tok", "I have a headache"))

			t, err := sessions.Peek(ctx, "tok")
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Preamble).To(HavePrefix("System prompt:"))
			Expect(t.Turns).To(Equal([]llm.Turn{
				llm.UserTurn("I have a headache"),
				llm.AssistantTurn("Drink water."),
			}))
			Expect(t.TurnIndex).To(Equal(1))
		})

		It("carries the conversation across requests", func() {
			worker.Process(ctx, request("r1", "tok", "first"))
			worker.Process(ctx, request("r2", "tok", "second"))

			Expect(backend.prompts[1]).To(ContainSubstring("User: first\nAssistant: Drink water."))
			Expect(backend.prompts[1]).To(HaveSuffix("User: second\nAssistant:"))
		})

		It("expires the response slot after the response TTL", func() {
			worker.Process(ctx, request("r1", "tok", "hello"))

			clock.Advance(time.Hour + time.Second)
			_, err := driver.Get(ctx, "response:r1")
			Expect(bus.IsNotFound(err)).To(BeTrue())
		})

		It("uses a throwaway transcript when there is no session token", func() {
			Expect(worker.Process(ctx, request("r1", "", "hello"))).To(Equal(broker.OutcomeOK))

			keys, err := driver.Keys(ctx, "conversation:*")
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(BeEmpty())
			Expect(outbound()).To(HaveLen(1))
		})

		Context("when the message has no id", func() {
			It("drops it without writing anything", func() {
				Expect(worker.Process(ctx, request("", "tok", "hello"))).To(Equal(broker.OutcomeDropped))

				Expect(driver.Len(ctx, config.OutboundQueue)).To(BeZero())
				keys, err := driver.Keys(ctx, "*")
				Expect(err).NotTo(HaveOccurred())
				Expect(keys).To(BeEmpty())
				Expect(backend.calls()).To(BeZero())
			})

			It("drops undecodable payloads", func() {
				Expect(worker.Process(ctx, "not json")).To(Equal(broker.OutcomeDropped))
				Expect(driver.Len(ctx, config.OutboundQueue)).To(BeZero())
			})

			It("drops an empty id", func() {
				Expect(worker.Process(ctx, `{"id":"","userMessage":"hi"}`)).To(Equal(broker.OutcomeDropped))
				Expect(driver.Len(ctx, config.OutboundQueue)).To(BeZero())
			})
		})

		Context("when the backend fails", func() {
			var before transcript.Transcript

			BeforeEach(func() {
				worker.Process(ctx, request("r0", "tok", "earlier"))
				outbound()

				var err error
				before, err = sessions.Peek(ctx, "tok")
				Expect(err).NotTo(HaveOccurred())

				backend.err = errors.New("connection refused")
			})

			It("publishes an error response", func() {
				Expect(worker.Process(ctx, request("r1", "tok", "hello"))).To(Equal(broker.OutcomeFailed))

				out := outbound()
				Expect(out).To(HaveLen(1))
				resp := decode(out[0])
				Expect(resp.ID).To(Equal("r1"))
				Expect(resp.Error).To(Equal("Error: connection refused"))
				Expect(resp.Response).To(BeEmpty())

				slot, err := driver.Get(ctx, "response:r1")
				Expect(err).NotTo(HaveOccurred())
				Expect(slot).To(Equal(out[0]))
			})

			It("leaves the session untouched", func() {
				worker.Process(ctx, request("r1", "tok", "hello"))

				after, err := sessions.Peek(ctx, "tok")
				Expect(err).NotTo(HaveOccurred())
				Expect(after).To(Equal(before))
			})
		})

		It("publishes an error when the user message is missing", func() {
			Expect(worker.Process(ctx, request("r1", "tok", ""))).To(Equal(broker.OutcomeFailed))

			resp := decode(outbound()[0])
			Expect(resp.Error).To(Equal("missing userMessage"))
			Expect(backend.calls()).To(BeZero())
		})

		It("publishes an error when the session cannot be loaded", func() {
			driver.failGets = true

			Expect(worker.Process(ctx, request("r1", "tok", "hello"))).To(Equal(broker.OutcomeFailed))

			resp := decode(outbound()[0])
			Expect(resp.Error).To(ContainSubstring("connection refused"))
			Expect(backend.calls()).To(BeZero())
		})

		It("counts outcomes", func() {
			worker.Process(ctx, request("r1", "tok", "hello"))
			worker.Process(ctx, request("", "tok", "hello"))
			worker.Process(ctx, request("r2", "tok", ""))

			stats := worker.Stats()
			Expect(stats.OK).To(Equal(int64(1)))
			Expect(stats.Dropped).To(Equal(int64(1)))
			Expect(stats.Failed).To(Equal(int64(1)))
		})
	})

	Describe("Run", func() {
		var (
			cancel context.CancelFunc
			done   chan error
		)

		start := func() {
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(ctx)
			done = make(chan error, 1)
			go func() { done <- worker.Run(runCtx) }()
		}

		AfterEach(func() {
			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("processes queued requests in order", func() {
			Expect(driver.Push(ctx, config.InboundQueue, request("r1", "tok", "one"))).To(Succeed())
			Expect(driver.Push(ctx, config.InboundQueue, request("r2", "tok", "two"))).To(Succeed())
			start()

			Eventually(func() int64 {
				n, _ := driver.Len(ctx, config.OutboundQueue)
				return n
			}).Should(Equal(int64(2)))

			out := outbound()
			Expect(decode(out[0]).ID).To(Equal("r1"))
			Expect(decode(out[1]).ID).To(Equal("r2"))
		})

		It("keeps running after a malformed message", func() {
			start()
			Expect(driver.Push(ctx, config.InboundQueue, "garbage")).To(Succeed())
			Expect(driver.Push(ctx, config.InboundQueue, request("r1", "tok", "one"))).To(Succeed())

			Eventually(func() int64 {
				n, _ := driver.Len(ctx, config.OutboundQueue)
				return n
			}).Should(Equal(int64(1)))
			Expect(worker.Stats().Dropped).To(Equal(int64(1)))
		})

		It("backs off and recovers when the bus is unreachable", func() {
			driver.failPops.Store(3)
			Expect(driver.Push(ctx, config.InboundQueue, request("r1", "tok", "one"))).To(Succeed())
			start()

			Eventually(func() int64 {
				n, _ := driver.Len(ctx, config.OutboundQueue)
				return n
			}).Should(Equal(int64(1)))
			Expect(driver.failPops.Load()).To(BeZero())
		})

		It("waits on the inbound queue until cancelled", func() {
			start()
			Eventually(worker.State).Should(Equal(broker.StatePopping))
		})
	})
})
