package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/ReplyPipe/internal/cache"
	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/google/uuid"
)

// Default manager configuration
const (
	DefaultMaxRetries       = 2
	DefaultMaxResponseTime  = 30 * time.Second
	DefaultScoringTimeout   = 5 * time.Second
	DefaultFallbackStrategy = NameSimple
	DefaultHistoryLimit     = 10
)

// Config controls retry, fallback, timeout and caching behavior of the Manager.
type Config struct {
	// MaxRetries is the number of additional attempts after the first failure.
	MaxRetries int
	// EnableFallback runs FallbackStrategy once when the selected strategy keeps failing.
	EnableFallback   bool
	FallbackStrategy string
	// MaxResponseTime bounds each strategy attempt; zero disables the bound.
	MaxResponseTime time.Duration
	ScoringTimeout  time.Duration
	// EnableCache turns on the response cache lookup before selection.
	EnableCache  bool
	HistoryLimit int
}

// DefaultConfig returns the configuration used when no options are given.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       DefaultMaxRetries,
		EnableFallback:   true,
		FallbackStrategy: DefaultFallbackStrategy,
		MaxResponseTime:  DefaultMaxResponseTime,
		ScoringTimeout:   DefaultScoringTimeout,
		EnableCache:      true,
		HistoryLimit:     DefaultHistoryLimit,
	}
}

// Option defines a configuration option for the Manager.
type Option func(*Manager)

// WithConfig replaces the manager configuration.
func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithSelector replaces the default RuleSelector.
func WithSelector(sel Selector) Option {
	return func(m *Manager) { m.selector = sel }
}

// WithLeadScorer sets the lead scoring capability. Without one, every context
// carries the default lead score.
func WithLeadScorer(s LeadScorer) Option {
	return func(m *Manager) { m.scorer = s }
}

// WithResponseCache sets the cache consulted before strategy selection.
func WithResponseCache(c cache.Cache) Option {
	return func(m *Manager) { m.responses = c }
}

// WithLeadScoreCache sets the cache holding JSON-encoded lead scores.
func WithLeadScoreCache(c cache.Cache) Option {
	return func(m *Manager) { m.leadScores = c }
}

// WithHistorySource sets where recent conversation turns are read from.
func WithHistorySource(h HistorySource) Option {
	return func(m *Manager) { m.history = h }
}

// Manager orchestrates context building, strategy selection and execution.
// It is safe for concurrent use.
type Manager struct {
	cfg        Config
	selector   Selector
	scorer     LeadScorer
	responses  cache.Cache
	leadScores cache.Cache
	history    HistorySource
	metrics    *counters
}

// NewManager creates a manager, applying any provided options.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		cfg:     DefaultConfig(),
		metrics: newCounters(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.selector == nil {
		m.selector = NewRuleSelector(DefaultCrewThreshold)
	}
	if m.responses == nil {
		m.responses = cache.NewMemory()
	}
	if m.leadScores == nil {
		m.leadScores = cache.NewMemory()
	}
	if m.cfg.MaxRetries < 0 {
		m.cfg.MaxRetries = 0
	}
	if m.cfg.FallbackStrategy == "" {
		m.cfg.FallbackStrategy = DefaultFallbackStrategy
	}
	slog.Debug("Manager created",
		"max_retries", m.cfg.MaxRetries,
		"enable_fallback", m.cfg.EnableFallback,
		"fallback_strategy", m.cfg.FallbackStrategy,
		"max_response_time", m.cfg.MaxResponseTime,
		"enable_cache", m.cfg.EnableCache,
		"lead_scorer_set", m.scorer != nil,
		"history_source_set", m.history != nil)
	return m
}

// Config returns the active configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Process handles one inbound message and always returns a response. Every
// failure, including panics in strategies, is converted into a synthesized
// apology response with confidence 0.
func (m *Manager) Process(ctx context.Context, message, userID, phone string) (resp models.StrategyResponse) {
	start := time.Now()
	m.metrics.request()
	counted := false

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Manager.Process: recovered from panic", "panic", r, "user_id", userID)
			if !counted {
				m.metrics.failure()
			}
			resp = m.failureResponse(UsedError, start, fmt.Errorf("panic: %v", r), false)
		}
	}()

	if strings.TrimSpace(message) == "" {
		m.metrics.failure()
		counted = true
		return m.failureResponse(UsedError, start, models.ErrEmptyMessage, false)
	}

	mc := m.buildContext(ctx, message, userID, phone)

	if m.cfg.EnableCache {
		if hit, ok := m.cachedReply(message, userID); ok {
			resp = models.StrategyResponse{Response: hit.Response, Success: true, Confidence: hit.Confidence, StrategyUsed: UsedCache}
			resp.SetMeta("selection_reason", "response cache hit")
			resp.SetMeta("cached_strategy", hit.Strategy)
			m.finishSuccess(&resp, mc, start, true)
			counted = true
			return resp
		}
	}

	sel, err := m.selector.Select(mc)
	if err != nil {
		slog.Error("Manager.Process: no strategy available", "error", err, "user_id", userID)
		m.metrics.failure()
		counted = true
		return m.failureResponse(UsedFallback, start, err, false)
	}
	slog.Debug("Manager.Process: strategy selected", "strategy", sel.Name, "reason", sel.Reason, "user_id", userID)

	resp, fallbackExhausted, err := m.execute(ctx, sel, mc)
	if err != nil {
		slog.Error("Manager.Process: all strategies failed", "error", err, "strategy", sel.Name, "user_id", userID)
		m.metrics.failure()
		counted = true
		return m.failureResponse(UsedFallback, start, err, fallbackExhausted)
	}

	resp.SetMeta("selection_reason", sel.Reason)
	resp.SetMeta("selected_strategy", sel.Name)
	m.finishSuccess(&resp, mc, start, false)
	counted = true

	if m.cfg.EnableCache {
		m.storeReply(message, userID, resp)
	}
	return resp
}

// cachedReply is the response cache payload. The original confidence travels
// with the text so a hit reports what the strategy reported.
type cachedReply struct {
	Response   string  `json:"response"`
	Confidence float64 `json:"confidence"`
	Strategy   string  `json:"strategy"`
}

// cachedReply returns a usable cache entry. Undecodable or empty entries are misses.
func (m *Manager) cachedReply(message, userID string) (cachedReply, bool) {
	raw, ok := m.responses.Get(message, userID)
	if !ok {
		return cachedReply{}, false
	}
	var hit cachedReply
	if err := json.Unmarshal([]byte(raw), &hit); err != nil || strings.TrimSpace(hit.Response) == "" {
		slog.Debug("Manager.cachedReply: ignoring undecodable cache entry", "user_id", userID)
		return cachedReply{}, false
	}
	return hit, true
}

func (m *Manager) storeReply(message, userID string, resp models.StrategyResponse) {
	raw, err := json.Marshal(cachedReply{Response: resp.Response, Confidence: resp.Confidence, Strategy: resp.StrategyUsed})
	if err != nil {
		slog.Warn("Manager.storeReply: failed to encode cache entry", "error", err, "user_id", userID)
		return
	}
	m.responses.Set(message, userID, string(raw))
}

func (m *Manager) finishSuccess(resp *models.StrategyResponse, mc *models.MessageContext, start time.Time, cacheHit bool) {
	elapsed := time.Since(start)
	resp.ProcessingTime = elapsed
	resp.SetMeta("cache_hit", cacheHit)
	resp.SetMeta("customer_value", string(mc.CustomerValue))
	resp.SetMeta("context_analysis", mc.Analysis())
	resp.SetMeta("request_id", mc.Metadata["request_id"])
	resp.SetMeta("max_response_time", m.cfg.MaxResponseTime.Seconds())

	m.metrics.success(resp.StrategyUsed, elapsed)
	observe(resp.StrategyUsed, "success", elapsed.Seconds())
	slog.Info("Manager.Process: response ready", "strategy", resp.StrategyUsed, "confidence", resp.Confidence, "elapsed", elapsed, "user_id", mc.UserID)
}

func (m *Manager) failureResponse(marker string, start time.Time, cause error, fallbackExhausted bool) models.StrategyResponse {
	elapsed := time.Since(start)
	resp := models.StrategyResponse{
		Response:       ApologyMessage,
		Success:        false,
		Confidence:     0.0,
		StrategyUsed:   marker,
		ProcessingTime: elapsed,
	}
	if cause != nil {
		resp.SetMeta("error", cause.Error())
	}
	resp.SetMeta("fallback_exhausted", fallbackExhausted)
	resp.SetMeta("max_response_time", m.cfg.MaxResponseTime.Seconds())
	observe(marker, "failure", elapsed.Seconds())
	return resp
}

// execute runs the selected strategy with retries, then the fallback strategy once.
// The boolean result reports whether the fallback strategy was tried and failed too.
func (m *Manager) execute(ctx context.Context, sel Selection, mc *models.MessageContext) (models.StrategyResponse, bool, error) {
	attempts := 1 + m.cfg.MaxRetries
	var lastErr error
	for i := 1; i <= attempts; i++ {
		resp, err := m.runOnce(ctx, sel.Name, sel.Strategy, mc)
		if err == nil {
			resp.SetMeta("attempts", i)
			resp.SetMeta("fallback_used", false)
			return resp, false, nil
		}
		lastErr = err
		slog.Warn("Manager.execute: strategy attempt failed", "strategy", sel.Name, "attempt", i, "max_attempts", attempts, "error", err)
		if ctx.Err() != nil {
			return models.StrategyResponse{}, false, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
	}

	if sel.Name == m.cfg.FallbackStrategy {
		return models.StrategyResponse{}, true, lastErr
	}
	if !m.cfg.EnableFallback {
		return models.StrategyResponse{}, false, lastErr
	}
	fb, ok := m.selector.Lookup(m.cfg.FallbackStrategy)
	if !ok {
		slog.Warn("Manager.execute: fallback strategy not registered", "fallback", m.cfg.FallbackStrategy)
		return models.StrategyResponse{}, false, lastErr
	}

	slog.Info("Manager.execute: escalating to fallback strategy", "strategy", sel.Name, "fallback", m.cfg.FallbackStrategy)
	resp, err := m.runOnce(ctx, m.cfg.FallbackStrategy, fb, mc)
	if err != nil {
		return models.StrategyResponse{}, true, errors.Join(lastErr, err)
	}
	resp.SetMeta("attempts", attempts+1)
	resp.SetMeta("fallback_used", true)
	resp.SetMeta("primary_strategy", sel.Name)
	resp.SetMeta("primary_error", lastErr.Error())
	return resp, false, nil
}

type attemptResult struct {
	resp models.StrategyResponse
	err  error
}

// runOnce executes a strategy under the configured time budget. Errors, panics,
// timeouts, success=false and empty responses all count as failures.
func (m *Manager) runOnce(ctx context.Context, name string, st Strategy, mc *models.MessageContext) (models.StrategyResponse, error) {
	attemptCtx := ctx
	if m.cfg.MaxResponseTime > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, m.cfg.MaxResponseTime)
		defer cancel()
	}

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		resp, err := st.Execute(attemptCtx, mc)
		done <- attemptResult{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return res.resp, fmt.Errorf("strategy %s: %w", name, res.err)
		}
		if !res.resp.Success {
			return res.resp, fmt.Errorf("strategy %s: %w: %s", name, ErrStrategyFailed, res.resp.Response)
		}
		if strings.TrimSpace(res.resp.Response) == "" {
			return res.resp, fmt.Errorf("strategy %s returned an empty response: %w", name, ErrStrategyFailed)
		}
		if res.resp.StrategyUsed == "" {
			res.resp.StrategyUsed = name
		}
		return res.resp, nil
	case <-attemptCtx.Done():
		return models.StrategyResponse{}, fmt.Errorf("strategy %s: %w", name, attemptCtx.Err())
	}
}

// buildContext creates the per-message context. Scoring failures fall back to defaults.
func (m *Manager) buildContext(ctx context.Context, message, userID, phone string) *models.MessageContext {
	mc := models.NewMessageContext(message, userID, phone)
	mc.Metadata["request_id"] = uuid.NewString()
	mc.Metadata["max_response_time"] = m.cfg.MaxResponseTime.Seconds()

	if m.history != nil && m.cfg.HistoryLimit > 0 {
		turns, err := m.history.RecentTurns(userID, m.cfg.HistoryLimit)
		if err != nil {
			slog.Warn("Manager.buildContext: failed to load history", "error", err, "user_id", userID)
		} else if turns != nil {
			mc.History = turns
		}
	}

	m.applyLeadScore(ctx, mc)
	mc.Complexity = AssessComplexity(message)
	return mc
}

func (m *Manager) applyLeadScore(ctx context.Context, mc *models.MessageContext) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Manager.applyLeadScore: scoring panicked, using defaults", "panic", r, "user_id", mc.UserID)
			resetLeadScore(mc)
		}
	}()

	if raw, ok := m.leadScores.Get(mc.Message, mc.UserID); ok {
		var ls models.LeadScore
		if err := json.Unmarshal([]byte(raw), &ls); err == nil && ls.Valid() {
			mc.ApplyLeadScore(ls)
			mc.Metadata["lead_score_cached"] = true
			return
		}
	}

	if m.scorer == nil {
		return
	}

	scoreCtx := ctx
	if m.cfg.ScoringTimeout > 0 {
		var cancel context.CancelFunc
		scoreCtx, cancel = context.WithTimeout(ctx, m.cfg.ScoringTimeout)
		defer cancel()
	}
	ls, err := m.scorer.Score(scoreCtx, mc.Message, mc.UserID, mc.Phone, mc.History)
	if err == nil && !ls.Valid() {
		err = fmt.Errorf("lead score out of range: score=%v confidence=%v", ls.TotalScore, ls.Confidence)
	}
	if err != nil {
		slog.Warn("Manager.applyLeadScore: lead scoring failed, using defaults", "error", err, "user_id", mc.UserID)
		leadScoreFallbacks.Inc()
		resetLeadScore(mc)
		return
	}

	mc.ApplyLeadScore(ls)
	if raw, err := json.Marshal(ls); err == nil {
		m.leadScores.Set(mc.Message, mc.UserID, string(raw))
	}
}

func resetLeadScore(mc *models.MessageContext) {
	mc.LeadScore = models.DefaultLeadScore
	mc.Confidence = models.DefaultConfidence
	mc.LeadCategory = ""
	mc.CustomerValue = models.DefaultCustomerValue
}

// AddStrategy registers or replaces a strategy at runtime.
func (m *Manager) AddStrategy(name string, s Strategy) error {
	if err := m.selector.Register(name, s); err != nil {
		return fmt.Errorf("failed to add strategy %q: %w", name, err)
	}
	slog.Info("Manager.AddStrategy: strategy added", "name", name)
	return nil
}

// RemoveStrategy unregisters a strategy. Removing the fallback strategy is refused.
func (m *Manager) RemoveStrategy(name string) error {
	if name == m.cfg.FallbackStrategy {
		slog.Warn("Manager.RemoveStrategy: refusing to remove fallback strategy", "name", name)
		return ErrFallbackStrategyProtected
	}
	m.selector.Unregister(name)
	slog.Info("Manager.RemoveStrategy: strategy removed", "name", name)
	return nil
}

// Strategies returns the registered strategy names.
func (m *Manager) Strategies() []string {
	return m.selector.Names()
}

// CleanupCaches purges expired entries from both caches.
func (m *Manager) CleanupCaches() int {
	return m.responses.CleanupExpired() + m.leadScores.CleanupExpired()
}

// CacheStats returns the response cache statistics.
func (m *Manager) CacheStats() cache.Stats {
	return m.responses.Stats()
}

// Stats returns a snapshot of the lifetime metrics.
func (m *Manager) Stats() Stats {
	snap := m.metrics.snapshot()
	return m.statsFrom(snap)
}

func (m *Manager) statsFrom(snap snapshot) Stats {
	st := Stats{
		TotalRequests:      snap.total,
		SuccessfulRequests: snap.successful,
		FailedRequests:     snap.failed,
		UptimeSeconds:      time.Since(snap.startedAt).Seconds(),
		StrategyUsage:      snap.usage,
		Strategies:         m.selector.Names(),
		FallbackStrategy:   m.cfg.FallbackStrategy,
		MaxResponseTime:    m.cfg.MaxResponseTime.Seconds(),
	}
	if snap.total > 0 {
		st.SuccessRate = float64(snap.successful) / float64(snap.total) * 100
	}
	if len(snap.times) > 0 {
		var sum time.Duration
		for _, d := range snap.times {
			sum += d
		}
		st.AverageResponseTime = (sum / time.Duration(len(snap.times))).Seconds()
	}
	cs := m.responses.Stats()
	st.Cache = &cs
	return st
}

// PerformanceReport returns the metrics snapshot with latency bounds, strategy
// distribution and operator recommendations.
func (m *Manager) PerformanceReport() PerformanceReport {
	snap := m.metrics.snapshot()
	report := PerformanceReport{
		Summary:              m.statsFrom(snap),
		StrategyDistribution: make(map[string]float64, len(snap.usage)),
		GeneratedAt:          time.Now(),
	}

	for i, d := range snap.times {
		if i == 0 || d.Seconds() < report.MinResponseTime {
			report.MinResponseTime = d.Seconds()
		}
		if d.Seconds() > report.MaxResponseTimeSeen {
			report.MaxResponseTimeSeen = d.Seconds()
		}
	}
	if snap.successful > 0 {
		for name, n := range snap.usage {
			report.StrategyDistribution[name] = float64(n) / float64(snap.successful) * 100
		}
	}
	report.Recommendations = m.recommendations(report)
	return report
}

func (m *Manager) recommendations(r PerformanceReport) []string {
	s := r.Summary
	var recs []string
	if s.TotalRequests == 0 {
		return []string{"No requests processed yet"}
	}
	if s.SuccessRate < 90 {
		recs = append(recs, fmt.Sprintf("Success rate is %.1f%%: check strategy health and the fallback strategy", s.SuccessRate))
	}
	if m.cfg.MaxResponseTime > 0 && s.AverageResponseTime > m.cfg.MaxResponseTime.Seconds()/2 {
		recs = append(recs, fmt.Sprintf("Average response time %.2fs exceeds half of the %.0fs budget: prefer cheaper strategies", s.AverageResponseTime, m.cfg.MaxResponseTime.Seconds()))
	}
	if s.Cache != nil && s.Cache.Hits+s.Cache.Misses >= 20 && s.Cache.Hits*5 < s.Cache.Hits+s.Cache.Misses {
		recs = append(recs, "Response cache hit rate is below 20%: consider a longer cache TTL")
	}
	if fb := s.StrategyUsage[m.cfg.FallbackStrategy]; s.SuccessfulRequests > 0 && fb*2 > s.SuccessfulRequests && len(s.Strategies) > 1 {
		recs = append(recs, "Fallback strategy serves most replies: primary strategies may be failing")
	}
	if len(recs) == 0 {
		recs = append(recs, "Performance within expected parameters")
	}
	return recs
}

// ResetStats clears all counters and restarts the uptime clock. Caches and the
// strategy registry are left untouched.
func (m *Manager) ResetStats() {
	m.metrics.reset()
	slog.Info("Manager.ResetStats: statistics reset")
}
