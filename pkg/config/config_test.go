package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/chatbroker/pkg/config"
)

func env(vars map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

var _ = Describe("Config", func() {
	Describe("Default", func() {
		It("matches the documented defaults", func() {
			cfg := config.Default()
			Expect(cfg.Bus).To(Equal(config.BusRedis))
			Expect(cfg.Redis.Addr()).To(Equal("localhost:6379"))
			Expect(cfg.Backend.URL).To(Equal("http://localhost:5001"))
			Expect(cfg.Queues.Inbound).To(Equal("emotika_incoming"))
			Expect(cfg.Queues.Outbound).To(Equal("emotika_response"))
			Expect(cfg.Session.TTL).To(Equal(12 * time.Hour))
			Expect(cfg.Session.Budget).To(Equal(2000))
			Expect(cfg.Persona.RefreshEvery).To(BeZero())
			Expect(cfg.Validate()).To(Succeed())
		})
	})

	Describe("Decode", func() {
		It("overlays the file onto the defaults", func() {
			cfg := config.Default()
			Expect(cfg.Decode(`
bus = "sqlite"

[sqlite]
path = "/var/lib/chatbroker.db"

[session]
ttl = "30m"

[persona]
emotional_depth = 2
refresh_every = 10
`)).To(Succeed())

			Expect(cfg.Bus).To(Equal(config.BusSQLite))
			Expect(cfg.SQLite.Path).To(Equal("/var/lib/chatbroker.db"))
			Expect(cfg.Session.TTL).To(Equal(30 * time.Minute))
			Expect(cfg.Session.Budget).To(Equal(2000))
			Expect(cfg.Persona.EmotionalDepth).To(Equal(2))
			Expect(cfg.Persona.TrustBaseline).To(Equal(5))
			Expect(cfg.Persona.RefreshEvery).To(Equal(10))
		})

		It("rejects unknown keys", func() {
			err := config.Default().Decode("[redis]\nhots = \"x\"\n")
			Expect(err).To(MatchError(ContainSubstring("redis.hots")))
		})

		It("rejects malformed TOML", func() {
			Expect(config.Default().Decode("bus = ")).NotTo(Succeed())
		})
	})

	Describe("ApplyEnv", func() {
		It("overrides redis, backend and bus settings", func() {
			cfg := config.Default()
			Expect(cfg.ApplyEnv(env(map[string]string{
				"REDIS_HOST":     "redis.internal",
				"REDIS_PORT":     "6380",
				"KOBOLT_API_URL": "http://gpu:5001",
				"CHATBROKER_BUS": "memory",
			}))).To(Succeed())

			Expect(cfg.Redis.Addr()).To(Equal("redis.internal:6380"))
			Expect(cfg.Backend.URL).To(Equal("http://gpu:5001"))
			Expect(cfg.Bus).To(Equal(config.BusInMemory))
		})

		It("ignores empty values", func() {
			cfg := config.Default()
			Expect(cfg.ApplyEnv(env(map[string]string{"REDIS_HOST": ""}))).To(Succeed())
			Expect(cfg.Redis.Host).To(Equal("localhost"))
		})

		It("rejects a non-numeric port", func() {
			cfg := config.Default()
			Expect(cfg.ApplyEnv(env(map[string]string{"REDIS_PORT": "abc"}))).To(MatchError(ContainSubstring("REDIS_PORT")))
		})
	})

	Describe("Validate", func() {
		It("rejects an unknown bus", func() {
			cfg := config.Default()
			cfg.Bus = "kafka"
			Expect(cfg.Validate()).To(MatchError(ContainSubstring("kafka")))
		})

		It("rejects a non-positive budget", func() {
			cfg := config.Default()
			cfg.Session.Budget = 0
			Expect(cfg.Validate()).NotTo(Succeed())
		})
	})

	Describe("Load", func() {
		var dir string

		BeforeEach(func() {
			dir = GinkgoT().TempDir()
		})

		It("tolerates a missing optional file", func() {
			cfg, err := config.Load(filepath.Join(dir, "absent.toml"), false)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Queues.Inbound).To(Equal("emotika_incoming"))
		})

		It("fails on a missing required file", func() {
			_, err := config.Load(filepath.Join(dir, "absent.toml"), true)
			Expect(err).To(HaveOccurred())
		})

		It("reads the file", func() {
			path := filepath.Join(dir, "chatbroker.toml")
			Expect(os.WriteFile(path, []byte("[gateway]\nlisten = \":9000\"\n"), 0o600)).To(Succeed())

			cfg, err := config.Load(path, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Gateway.Listen).To(Equal(":9000"))
		})
	})
})
