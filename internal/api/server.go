// Package api provides the HTTP server for ReplyPipe.
//
// It exposes endpoints for processing messages, inspecting strategy metrics and
// caches, reading conversation history, and receiving Twilio webhooks.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/cache"
	"github.com/BTreeMap/ReplyPipe/internal/messaging"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/BTreeMap/ReplyPipe/internal/strategy"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Defaults for the HTTP server
const (
	DefaultAddr           = ":8080"
	DefaultRequestTimeout = 60 * time.Second
	DefaultHistoryLimit   = 20
)

// Engine is the reply pipeline the server exposes.
type Engine interface {
	Process(ctx context.Context, message, userID, phone string) models.StrategyResponse
	Stats() strategy.Stats
	PerformanceReport() strategy.PerformanceReport
	ResetStats()
	Strategies() []string
	RemoveStrategy(name string) error
	CacheStats() cache.Stats
	CleanupCaches() int
}

// History is the persistence the server reads from.
type History interface {
	store.TurnRepo
	store.ReceiptRepo
}

// Opts holds optional server settings.
type Opts struct {
	Addr           string
	RequestTimeout time.Duration
	CORSOrigins    []string
	Webhook        http.Handler
	Gatherer       prometheus.Gatherer
	MsgService     messaging.Service
}

// Option configures the server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithRequestTimeout bounds handler execution.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Opts) { o.RequestTimeout = d }
}

// WithCORSOrigins allows browser dashboards on these origins.
func WithCORSOrigins(origins ...string) Option {
	return func(o *Opts) { o.CORSOrigins = origins }
}

// WithTwilioWebhook mounts the Twilio inbound webhook.
func WithTwilioWebhook(h http.Handler) Option {
	return func(o *Opts) { o.Webhook = h }
}

// WithGatherer sets the Prometheus registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *Opts) { o.Gatherer = g }
}

// WithMessagingService enables POST /send through the given transport.
func WithMessagingService(svc messaging.Service) Option {
	return func(o *Opts) { o.MsgService = svc }
}

// Server is the HTTP front of the reply pipeline.
type Server struct {
	engine     Engine
	history    History
	opts       Opts
	router     chi.Router
	httpServer *http.Server
}

// NewServer builds the server and its routes.
func NewServer(engine Engine, history History, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, RequestTimeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{engine: engine, history: history, opts: cfg}
	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.RequestTimeout))
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.healthHandler)
	r.Post("/messages", s.processHandler)
	r.Get("/stats", s.statsHandler)
	r.Get("/stats/performance", s.performanceHandler)
	r.Post("/stats/reset", s.resetStatsHandler)
	r.Get("/strategies", s.strategiesHandler)
	r.Delete("/strategies/{name}", s.removeStrategyHandler)
	r.Get("/cache/stats", s.cacheStatsHandler)
	r.Post("/cache/cleanup", s.cacheCleanupHandler)
	r.Get("/conversations/{userID}", s.conversationHandler)
	r.Get("/receipts", s.receiptsHandler)
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	if s.opts.MsgService != nil {
		r.Post("/send", s.sendHandler)
	}
	if s.opts.Webhook != nil {
		r.Post("/webhook/twilio", s.opts.Webhook.ServeHTTP)
	}
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens until Shutdown is called. It returns nil after a graceful shutdown,
// including one that happened before Start.
func (s *Server) Start() error {
	slog.Info("Server.Start: listening", "addr", s.opts.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server. It is safe to call concurrently with Start.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
