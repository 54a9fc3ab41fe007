package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/api"
	"github.com/BTreeMap/ReplyPipe/internal/config"
	"github.com/BTreeMap/ReplyPipe/internal/lockfile"
	"github.com/BTreeMap/ReplyPipe/internal/messaging"
	"github.com/BTreeMap/ReplyPipe/internal/recovery"
	"github.com/BTreeMap/ReplyPipe/internal/store"
	"github.com/BTreeMap/ReplyPipe/internal/strategy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 15 * time.Second

var serveFlags struct {
	addr        string
	qrOutput    string
	numericCode bool
	transport   string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WhatsApp reply service and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyServeFlags(cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "API server address (overrides api.addr)")
	serveCmd.Flags().StringVar(&serveFlags.qrOutput, "qr-output", "", "path to write the WhatsApp login QR code")
	serveCmd.Flags().BoolVar(&serveFlags.numericCode, "numeric-code", false, "print the raw login code instead of a QR code")
	serveCmd.Flags().StringVar(&serveFlags.transport, "transport", "", "messaging transport: whatsapp, twilio or none")
	rootCmd.AddCommand(serveCmd)
}

func applyServeFlags(cfg *config.Config) {
	if serveFlags.addr != "" {
		cfg.API.Addr = serveFlags.addr
	}
	if serveFlags.qrOutput != "" {
		cfg.WhatsApp.QROutput = serveFlags.qrOutput
	}
	if serveFlags.numericCode {
		cfg.WhatsApp.NumericCode = true
	}
	if serveFlags.transport != "" {
		cfg.Transport = config.Transport(serveFlags.transport)
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lock, err := lockfile.AcquireLock(cfg.StateDir, cfg.API.Addr)
	if err != nil {
		return err
	}
	defer lock.Release()

	for _, dsn := range []string{cfg.Database.DSN, cfg.WhatsApp.DBDSN} {
		if err := ensureSQLiteDir(dsn); err != nil {
			return err
		}
	}

	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	gen, err := buildGenAI(cfg)
	if err != nil {
		return err
	}
	responses, leadScores, closers := buildCaches(cfg)
	defer closeAll(closers)

	manager, err := buildManager(cfg, gen, st, responses, leadScores)
	if err != nil {
		return err
	}
	strategy.RegisterMetrics(prometheus.DefaultRegisterer)

	tr, err := buildTransport(ctx, cfg)
	if err != nil {
		return err
	}
	defer tr.close()

	apiOpts := []api.Option{
		api.WithAddr(cfg.API.Addr),
		api.WithRequestTimeout(cfg.API.RequestTimeout),
		api.WithGatherer(prometheus.DefaultGatherer),
	}
	if len(cfg.API.CORSOrigins) > 0 {
		apiOpts = append(apiOpts, api.WithCORSOrigins(cfg.API.CORSOrigins...))
	}
	if tr.webhook != nil {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(tr.webhook))
	}

	var handler *messaging.InboundHandler
	if tr.svc != nil {
		apiOpts = append(apiOpts, api.WithMessagingService(tr.svc))
		handler = startMessaging(ctx, cfg, tr.svc, manager, st)
	} else {
		slog.Info("serve: no messaging transport, serving the HTTP API only")
	}

	go runCacheCleanup(ctx, manager, cfg.Cache.TTL)

	srv := api.NewServer(manager, st, apiOpts...)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		slog.Info("serve: shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("serve: HTTP shutdown failed", "error", err)
	}
	if tr.svc != nil {
		if err := tr.svc.Stop(); err != nil {
			slog.Error("serve: messaging stop failed", "error", err)
		}
		handler.Wait()
	}
	slog.Info("serve: stopped")
	return nil
}

// startMessaging wires the transport to the manager and, when enabled, the outbox
// sender. Startup recovery runs before any reply can be queued.
func startMessaging(ctx context.Context, cfg *config.Config, svc messaging.Service, manager *strategy.Manager, st store.Store) *messaging.InboundHandler {
	opts := []messaging.InboundOption{messaging.WithConcurrency(cfg.Inbound.Concurrency)}
	rec := recovery.NewManager()
	var sender *store.OutboxSender
	if cfg.Outbox.Enabled {
		sender = store.NewOutboxSender(st, messaging.OutboxSendFunc(svc), cfg.Outbox.PollInterval, cfg.Outbox.MaxAttempts)
		rec.Register("outbox", recovery.Outbox(sender))
		opts = append(opts, messaging.WithReplyQueue(st))
	}
	if err := rec.RecoverAll(ctx); err != nil {
		slog.Warn("startMessaging: startup recovery incomplete", "error", err)
	}
	if sender != nil {
		go sender.Run(ctx)
	}

	if err := svc.Start(ctx); err != nil {
		slog.Error("startMessaging: transport start failed", "error", err)
	}
	handler := messaging.NewInboundHandler(svc, manager, st, opts...)
	handler.Start(ctx)
	return handler
}

// runCacheCleanup purges expired cache entries once per TTL.
func runCacheCleanup(ctx context.Context, manager *strategy.Manager, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := manager.CleanupCaches(); n > 0 {
				slog.Debug("runCacheCleanup: expired entries removed", "count", n)
			}
		}
	}
}

// ensureSQLiteDir creates the parent directory of a file-based DSN.
func ensureSQLiteDir(dsn string) error {
	if dsn == "" || store.DetectDSNType(dsn) == store.DriverPostgres {
		return nil
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("closeAll: close failed", "error", err)
		}
	}
}
