package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/ReplyPipe/internal/cache"
	"github.com/BTreeMap/ReplyPipe/internal/config"
	"github.com/BTreeMap/ReplyPipe/internal/genai"
	"github.com/BTreeMap/ReplyPipe/internal/leadscore"
	"github.com/BTreeMap/ReplyPipe/internal/messaging"
	"github.com/BTreeMap/ReplyPipe/internal/strategies"
	"github.com/BTreeMap/ReplyPipe/internal/strategy"
	"github.com/BTreeMap/ReplyPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ReplyPipe/internal/whatsapp"
)

// leadScorePrefix keeps lead scores apart from replies in a shared Redis.
const leadScorePrefix = "leadscore:"

// buildGenAI returns nil when no API key is configured.
func buildGenAI(cfg *config.Config) (*genai.Client, error) {
	if cfg.OpenAI.APIKey == "" {
		slog.Warn("buildGenAI: no OpenAI API key configured, LLM strategies disabled")
		return nil, nil
	}
	opts := []genai.Option{
		genai.WithAPIKey(cfg.OpenAI.APIKey),
		genai.WithModel(cfg.OpenAI.Model),
		genai.WithTemperature(cfg.OpenAI.Temperature),
		genai.WithMaxTokens(cfg.OpenAI.MaxTokens),
		genai.WithDebugMode(cfg.OpenAI.Debug),
		genai.WithStateDir(cfg.StateDir),
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, genai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	client, err := genai.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client, nil
}

// buildCaches returns the response and lead-score caches plus their closers. An
// unreachable Redis degrades to the memory caches instead of failing startup.
func buildCaches(cfg *config.Config) (responses, leadScores cache.Cache, closers []io.Closer) {
	if cfg.Cache.Backend == config.CacheRedis {
		r, ls, err := redisCaches(cfg)
		if err == nil {
			slog.Info("buildCaches: using Redis caches", "prefix", cfg.Cache.RedisPrefix)
			return r, ls, []io.Closer{r, ls}
		}
		slog.Warn("buildCaches: Redis unavailable, using memory caches", "error", err)
	}
	responses = cache.NewMemory(cache.WithTTL(cfg.Cache.TTL), cache.WithMaxSize(cfg.Cache.MaxSize))
	leadScores = cache.NewMemory(cache.WithTTL(cfg.Cache.LeadScoreTTL), cache.WithMaxSize(cfg.Cache.MaxSize))
	return responses, leadScores, nil
}

func redisCaches(cfg *config.Config) (*cache.Redis, *cache.Redis, error) {
	r, err := cache.NewRedis(cfg.Cache.RedisURL, cfg.Cache.RedisPrefix, cfg.Cache.TTL)
	if err != nil {
		return nil, nil, fmt.Errorf("response cache: %w", err)
	}
	ls, err := cache.NewRedis(cfg.Cache.RedisURL, cfg.Cache.RedisPrefix+leadScorePrefix, cfg.Cache.LeadScoreTTL)
	if err != nil {
		r.Close()
		return nil, nil, fmt.Errorf("lead score cache: %w", err)
	}
	return r, ls, nil
}

// buildScorer picks the lead scorer; the GenAI scorer needs a client.
func buildScorer(cfg *config.Config, gen *genai.Client) strategy.LeadScorer {
	heuristic := leadscore.NewHeuristic()
	if cfg.LeadScore.Scorer == config.LeadScorerGenAI {
		if gen == nil {
			slog.Warn("buildScorer: genai scorer requested without an OpenAI key, using heuristic")
			return heuristic
		}
		return leadscore.NewGenAI(gen, leadscore.WithFallback(heuristic))
	}
	return heuristic
}

// buildManager assembles the strategy manager and registers the strategies.
func buildManager(cfg *config.Config, gen *genai.Client, history strategy.HistorySource, responses, leadScores cache.Cache) (*strategy.Manager, error) {
	opts := []strategy.Option{
		strategy.WithConfig(cfg.StrategyManagerConfig()),
		strategy.WithSelector(strategy.NewRuleSelector(cfg.Strategy.CrewThreshold)),
		strategy.WithLeadScorer(buildScorer(cfg, gen)),
		strategy.WithResponseCache(responses),
		strategy.WithLeadScoreCache(leadScores),
	}
	if history != nil {
		opts = append(opts, strategy.WithHistorySource(history))
	}
	m := strategy.NewManager(opts...)

	// A nil *genai.Client must not become a non-nil Generator.
	var generator strategies.Generator
	if gen != nil {
		generator = gen
	}
	if err := strategies.RegisterAll(m, generator, cfg.Business, cfg.Strategy.HybridThreshold); err != nil {
		return nil, fmt.Errorf("failed to register strategies: %w", err)
	}
	slog.Info("buildManager: strategies registered", "strategies", m.Strategies())
	return m, nil
}

// transport is the messaging side of a running service.
type transport struct {
	svc     messaging.Service
	webhook http.Handler
	close   func()
}

// buildTransport connects the configured WhatsApp channel. TransportNone returns a nil service.
func buildTransport(ctx context.Context, cfg *config.Config) (*transport, error) {
	switch cfg.Transport {
	case config.TransportWhatsApp:
		opts := []whatsapp.Option{
			whatsapp.WithDBDSN(cfg.WhatsApp.DBDSN),
			whatsapp.WithLogLevel(cfg.WhatsApp.LogLevel),
		}
		if cfg.WhatsApp.QROutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(cfg.WhatsApp.QROutput))
		}
		if cfg.WhatsApp.NumericCode {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return &transport{svc: messaging.NewWhatsAppService(client), close: client.Disconnect}, nil

	case config.TransportTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.Twilio.AccountSID),
			twiliowhatsapp.WithAuthToken(cfg.Twilio.AuthToken),
			twiliowhatsapp.WithFromWhats(cfg.Twilio.FromNumber),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		var opts []messaging.TwilioOption
		if cfg.Twilio.ValidateSignature {
			opts = append(opts, messaging.WithSignatureValidation(client, cfg.Twilio.WebhookURL))
		}
		svc := messaging.NewTwilioService(client, opts...)
		return &transport{svc: svc, webhook: http.HandlerFunc(svc.WebhookHandler), close: func() {}}, nil

	default:
		return &transport{close: func() {}}, nil
	}
}
