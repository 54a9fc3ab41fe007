package strategies

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/strategy"
)

// DefaultHybridThreshold is the simple-strategy confidence at which Hybrid skips the LLM.
const DefaultHybridThreshold = 0.8

// Hybrid answers from canned replies when the keyword responder is confident
// and the message is not complex, and asks the LLM otherwise. If the LLM call
// fails the canned reply is used.
type Hybrid struct {
	simple    *Simple
	advanced  *Advanced
	threshold float64
}

// NewHybrid combines a Simple and an Advanced strategy.
func NewHybrid(simple *Simple, advanced *Advanced, threshold float64) *Hybrid {
	if threshold <= 0 {
		threshold = DefaultHybridThreshold
	}
	return &Hybrid{simple: simple, advanced: advanced, threshold: threshold}
}

// Execute implements strategy.Strategy.
func (h *Hybrid) Execute(ctx context.Context, mc *models.MessageContext) (models.StrategyResponse, error) {
	quick, err := h.simple.Execute(ctx, mc)
	if err != nil {
		return failed(strategy.NameHybrid, err), nil
	}

	if quick.Confidence >= h.threshold && mc.Complexity != models.ComplexityHigh {
		return h.tag(quick, "simple"), nil
	}

	full, err := h.advanced.Execute(ctx, mc)
	if err == nil && full.Success {
		return h.tag(full, "advanced"), nil
	}
	slog.Warn("Hybrid.Execute: advanced path failed, using canned reply", "error", err, "user_id", mc.UserID)
	quick.Confidence = min(quick.Confidence, UnknownConfidence)
	return h.tag(quick, "simple_after_advanced_failure"), nil
}

func (h *Hybrid) tag(resp models.StrategyResponse, path string) models.StrategyResponse {
	resp.StrategyUsed = strategy.NameHybrid
	resp.SetMeta("hybrid_path", path)
	return resp
}

// RegisterAll registers the four built-in strategies with m. Without a generator
// only the simple strategy is registered.
func RegisterAll(m *strategy.Manager, gen Generator, business BusinessInfo, hybridThreshold float64) error {
	simple := NewSimple(business)
	if err := m.AddStrategy(strategy.NameSimple, simple); err != nil {
		return err
	}
	if gen == nil {
		slog.Warn("RegisterAll: no generator configured, only the simple strategy is available")
		return nil
	}
	advanced := NewAdvanced(gen, business)
	for name, s := range map[string]strategy.Strategy{
		strategy.NameAdvanced: advanced,
		strategy.NameCrew:     NewCrew(gen, business),
		strategy.NameHybrid:   NewHybrid(simple, advanced, hybridThreshold),
	} {
		if err := m.AddStrategy(name, s); err != nil {
			return err
		}
	}
	return nil
}
