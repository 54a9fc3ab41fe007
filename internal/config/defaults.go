package config

import (
	"github.com/BTreeMap/ReplyPipe/internal/api"
	"github.com/BTreeMap/ReplyPipe/internal/cache"
	"github.com/BTreeMap/ReplyPipe/internal/genai"
	"github.com/BTreeMap/ReplyPipe/internal/messaging"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/BTreeMap/ReplyPipe/internal/strategies"
	"github.com/BTreeMap/ReplyPipe/internal/strategy"
)

// Default file locations
const (
	DefaultStateDir       = "/var/lib/replypipe"
	DefaultDBFileName     = "replypipe.db"
	DefaultWhatsAppDBFile = "whatsmeow.db"
	DefaultRedisPrefix    = "replypipe:cache:"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	sc := strategy.DefaultConfig()
	return &Config{
		LogLevel:  "info",
		StateDir:  DefaultStateDir,
		Transport: TransportWhatsApp,
		API: APIConfig{
			Addr:           api.DefaultAddr,
			RequestTimeout: api.DefaultRequestTimeout,
		},
		WhatsApp: WhatsAppConfig{LogLevel: "INFO"},
		Twilio:   TwilioConfig{ValidateSignature: true},
		OpenAI: OpenAIConfig{
			Model:       genai.DefaultModel,
			Temperature: genai.DefaultTemperature,
			MaxTokens:   genai.DefaultMaxTokens,
		},
		Strategy: StrategyConfig{
			MaxRetries:       sc.MaxRetries,
			EnableFallback:   sc.EnableFallback,
			FallbackStrategy: sc.FallbackStrategy,
			MaxResponseTime:  sc.MaxResponseTime,
			ScoringTimeout:   sc.ScoringTimeout,
			EnableCache:      sc.EnableCache,
			HistoryLimit:     sc.HistoryLimit,
			CrewThreshold:    strategy.DefaultCrewThreshold,
			HybridThreshold:  strategies.DefaultHybridThreshold,
		},
		Cache: CacheConfig{
			Backend:      CacheMemory,
			TTL:          cache.DefaultTTL,
			MaxSize:      cache.DefaultMaxSize,
			LeadScoreTTL: cache.DefaultTTL,
			RedisPrefix:  DefaultRedisPrefix,
		},
		LeadScore: LeadScoreConfig{Scorer: LeadScorerHeuristic},
		Outbox: OutboxConfig{
			Enabled:      true,
			PollInterval: store.DefaultOutboxPollInterval,
			MaxAttempts:  store.DefaultOutboxMaxAttempts,
		},
		Inbound:  InboundConfig{Concurrency: messaging.DefaultConcurrency},
		Business: strategies.DefaultBusinessInfo(),
	}
}

// StrategyManagerConfig converts the strategy section to the manager's config.
func (c *Config) StrategyManagerConfig() strategy.Config {
	return strategy.Config{
		MaxRetries:       c.Strategy.MaxRetries,
		EnableFallback:   c.Strategy.EnableFallback,
		FallbackStrategy: c.Strategy.FallbackStrategy,
		MaxResponseTime:  c.Strategy.MaxResponseTime,
		ScoringTimeout:   c.Strategy.ScoringTimeout,
		EnableCache:      c.Strategy.EnableCache,
		HistoryLimit:     c.Strategy.HistoryLimit,
	}
}
