// Package config loads ReplyPipe settings from defaults, a YAML file and the environment.
package config

import (
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/strategies"
)

// Transport selects the WhatsApp channel the service listens on.
type Transport string

const (
	TransportWhatsApp Transport = "whatsapp"
	TransportTwilio   Transport = "twilio"
	TransportNone     Transport = "none"
)

// CacheBackend selects where the response cache lives.
type CacheBackend string

const (
	CacheMemory CacheBackend = "memory"
	CacheRedis  CacheBackend = "redis"
)

// LeadScorer selects the lead scoring implementation.
type LeadScorer string

const (
	LeadScorerHeuristic LeadScorer = "heuristic"
	LeadScorerGenAI     LeadScorer = "genai"
)

// Config is the top-level ReplyPipe configuration.
type Config struct {
	LogLevel  string                  `yaml:"log_level" koanf:"log_level"`
	StateDir  string                  `yaml:"state_dir" koanf:"state_dir"`
	Transport Transport               `yaml:"transport" koanf:"transport"`
	API       APIConfig               `yaml:"api" koanf:"api"`
	Database  DatabaseConfig          `yaml:"database" koanf:"database"`
	WhatsApp  WhatsAppConfig          `yaml:"whatsapp" koanf:"whatsapp"`
	Twilio    TwilioConfig            `yaml:"twilio" koanf:"twilio"`
	OpenAI    OpenAIConfig            `yaml:"openai" koanf:"openai"`
	Strategy  StrategyConfig          `yaml:"strategy" koanf:"strategy"`
	Cache     CacheConfig             `yaml:"cache" koanf:"cache"`
	LeadScore LeadScoreConfig         `yaml:"lead_score" koanf:"lead_score"`
	Outbox    OutboxConfig            `yaml:"outbox" koanf:"outbox"`
	Inbound   InboundConfig           `yaml:"inbound" koanf:"inbound"`
	Business  strategies.BusinessInfo `yaml:"business" koanf:"business"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Addr           string        `yaml:"addr" koanf:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout" koanf:"request_timeout"`
	CORSOrigins    []string      `yaml:"cors_origins" koanf:"cors_origins"`
}

// DatabaseConfig holds the conversation store DSN. Empty means SQLite in the state directory.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" koanf:"dsn"`
}

// WhatsAppConfig holds whatsmeow settings.
type WhatsAppConfig struct {
	DBDSN       string `yaml:"db_dsn" koanf:"db_dsn"`
	QROutput    string `yaml:"qr_output" koanf:"qr_output"`
	NumericCode bool   `yaml:"numeric_code" koanf:"numeric_code"`
	LogLevel    string `yaml:"log_level" koanf:"log_level"`
}

// TwilioConfig holds Twilio credentials and webhook settings.
type TwilioConfig struct {
	AccountSID        string `yaml:"account_sid" koanf:"account_sid"`
	AuthToken         string `yaml:"auth_token" koanf:"auth_token"`
	FromNumber        string `yaml:"from_number" koanf:"from_number"`
	WebhookURL        string `yaml:"webhook_url" koanf:"webhook_url"`
	ValidateSignature bool   `yaml:"validate_signature" koanf:"validate_signature"`
}

// OpenAIConfig holds chat-completion settings. An empty key disables LLM strategies.
type OpenAIConfig struct {
	APIKey      string  `yaml:"api_key" koanf:"api_key"`
	BaseURL     string  `yaml:"base_url" koanf:"base_url"`
	Model       string  `yaml:"model" koanf:"model"`
	Temperature float64 `yaml:"temperature" koanf:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" koanf:"max_tokens"`
	Debug       bool    `yaml:"debug" koanf:"debug"`
}

// StrategyConfig maps onto strategy.Config plus selector thresholds.
type StrategyConfig struct {
	MaxRetries       int           `yaml:"max_retries" koanf:"max_retries"`
	EnableFallback   bool          `yaml:"enable_fallback" koanf:"enable_fallback"`
	FallbackStrategy string        `yaml:"fallback_strategy" koanf:"fallback_strategy"`
	MaxResponseTime  time.Duration `yaml:"max_response_time" koanf:"max_response_time"`
	ScoringTimeout   time.Duration `yaml:"scoring_timeout" koanf:"scoring_timeout"`
	EnableCache      bool          `yaml:"enable_cache" koanf:"enable_cache"`
	HistoryLimit     int           `yaml:"history_limit" koanf:"history_limit"`
	CrewThreshold    float64       `yaml:"crew_threshold" koanf:"crew_threshold"`
	HybridThreshold  float64       `yaml:"hybrid_threshold" koanf:"hybrid_threshold"`
}

// CacheConfig holds response and lead-score cache settings.
type CacheConfig struct {
	Backend      CacheBackend  `yaml:"backend" koanf:"backend"`
	TTL          time.Duration `yaml:"ttl" koanf:"ttl"`
	MaxSize      int           `yaml:"max_size" koanf:"max_size"`
	LeadScoreTTL time.Duration `yaml:"lead_score_ttl" koanf:"lead_score_ttl"`
	RedisURL     string        `yaml:"redis_url" koanf:"redis_url"`
	RedisPrefix  string        `yaml:"redis_prefix" koanf:"redis_prefix"`
}

// LeadScoreConfig selects the scorer.
type LeadScoreConfig struct {
	Scorer LeadScorer `yaml:"scorer" koanf:"scorer"`
}

// OutboxConfig controls durable reply delivery.
type OutboxConfig struct {
	Enabled      bool          `yaml:"enabled" koanf:"enabled"`
	PollInterval time.Duration `yaml:"poll_interval" koanf:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts" koanf:"max_attempts"`
}

// InboundConfig controls inbound message processing.
type InboundConfig struct {
	Concurrency int `yaml:"concurrency" koanf:"concurrency"`
}
