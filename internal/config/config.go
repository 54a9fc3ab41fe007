package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/BTreeMap/ReplyPipe/internal/util"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. Nested keys use a double
// underscore: REPLYPIPE_STRATEGY__MAX_RETRIES sets strategy.max_retries.
const EnvPrefix = "REPLYPIPE_"

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty or missing), REPLYPIPE_ environment overrides and finally
// the conventional variables such as OPENAI_API_KEY for values still blank.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()
	// A configured service list replaces the built-in one instead of merging into it.
	cfg.Business.Services = nil

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
			slog.Debug("Config.Load: loaded config file", "path", path)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	applyConventionalEnv(cfg)
	cfg.resolve()
	return cfg, nil
}

func envKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, EnvPrefix), "__", "."))
}

// applyConventionalEnv fills blanks from the variables other tools already use.
func applyConventionalEnv(cfg *Config) {
	util.FillFromEnv(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	util.FillFromEnv(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	util.FillFromEnv(&cfg.Database.DSN, "DATABASE_URL")
	util.FillFromEnv(&cfg.WhatsApp.DBDSN, "WHATSAPP_DB_DSN")
	util.FillFromEnv(&cfg.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	util.FillFromEnv(&cfg.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	util.FillFromEnv(&cfg.Twilio.FromNumber, "TWILIO_FROM_NUMBER", "TWILIO_WHATSAPP_FROM")
	util.FillFromEnv(&cfg.Twilio.WebhookURL, "TWILIO_WEBHOOK_URL")
	util.FillFromEnv(&cfg.Cache.RedisURL, "REDIS_URL")
	cfg.OpenAI.Debug = util.ParseBoolEnv("GENAI_DEBUG", cfg.OpenAI.Debug)
}

// resolve derives values that depend on other settings.
func (c *Config) resolve() {
	if len(c.Business.Services) == 0 {
		c.Business.Services = DefaultConfig().Business.Services
	}
	if c.Database.DSN == "" && c.StateDir != "" {
		c.Database.DSN = filepath.Join(c.StateDir, DefaultDBFileName)
	}
	if c.WhatsApp.DBDSN == "" {
		if store.DetectDSNType(c.Database.DSN) == store.DriverPostgres {
			c.WhatsApp.DBDSN = c.Database.DSN
		} else if c.StateDir != "" {
			// whatsmeow keeps its own SQLite file; the store limits itself to one connection.
			c.WhatsApp.DBDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFile) + "?_foreign_keys=on"
		}
	}
	if c.Cache.Backend == CacheRedis && c.Cache.RedisPrefix == "" {
		c.Cache.RedisPrefix = DefaultRedisPrefix
	}
}

var validTransports = map[Transport]bool{TransportWhatsApp: true, TransportTwilio: true, TransportNone: true}

var validBackends = map[CacheBackend]bool{CacheMemory: true, CacheRedis: true}

var validScorers = map[LeadScorer]bool{LeadScorerHeuristic: true, LeadScorerGenAI: true}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log_level %q: must be one of debug, info, warn, error", c.LogLevel)
	}
	if !validTransports[c.Transport] {
		return fmt.Errorf("invalid transport %q: must be one of whatsapp, twilio, none", c.Transport)
	}
	if !validBackends[c.Cache.Backend] {
		return fmt.Errorf("invalid cache backend %q: must be memory or redis", c.Cache.Backend)
	}
	if c.Cache.Backend == CacheRedis && c.Cache.RedisURL == "" {
		return fmt.Errorf("cache.redis_url is required for the redis backend")
	}
	if !validScorers[c.LeadScore.Scorer] {
		return fmt.Errorf("invalid lead_score.scorer %q: must be heuristic or genai", c.LeadScore.Scorer)
	}
	if c.Strategy.MaxRetries < 0 {
		return fmt.Errorf("strategy.max_retries must be non-negative")
	}
	if c.Strategy.MaxResponseTime < 0 || c.Strategy.ScoringTimeout < 0 {
		return fmt.Errorf("strategy timeouts must be non-negative")
	}
	if c.Strategy.HistoryLimit < 0 {
		return fmt.Errorf("strategy.history_limit must be non-negative")
	}
	if c.Strategy.FallbackStrategy == "" {
		return fmt.Errorf("strategy.fallback_strategy is required")
	}
	if c.Cache.MaxSize < 0 || c.Cache.TTL < 0 || c.Cache.LeadScoreTTL < 0 {
		return fmt.Errorf("cache sizes and ttls must be non-negative")
	}
	if c.Outbox.MaxAttempts < 0 || c.Inbound.Concurrency < 0 {
		return fmt.Errorf("outbox.max_attempts and inbound.concurrency must be non-negative")
	}
	if c.Transport == TransportTwilio {
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" || c.Twilio.FromNumber == "" {
			return fmt.Errorf("twilio transport requires account_sid, auth_token and from_number")
		}
		if c.Twilio.ValidateSignature && c.Twilio.WebhookURL == "" {
			return fmt.Errorf("twilio.webhook_url is required when validate_signature is on")
		}
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
