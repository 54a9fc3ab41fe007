// Package strategy decides, per inbound message, which processing strategy to run
// and executes it with a bounded retry-then-fallback policy.
//
// The Manager builds a MessageContext (lead score, complexity, customer value),
// asks a Selector for a registered Strategy, runs it, and always returns a
// models.StrategyResponse, even when scoring and every strategy fail.
package strategy

import (
	"context"
	"errors"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// Well-known strategy names. The manager never special-cases these except for
// the configured fallback strategy.
const (
	NameSimple   = "simple"
	NameAdvanced = "advanced"
	NameCrew     = "crew"
	NameHybrid   = "hybrid"
)

// Markers used in StrategyResponse.StrategyUsed for responses the manager synthesizes.
const (
	UsedFallback = "fallback"
	UsedError    = "error"
	UsedCache    = "cache"
)

// ApologyMessage is sent to the customer when no strategy could produce a reply.
const ApologyMessage = "Desculpe, estou com dificuldades técnicas no momento. Por favor, tente novamente em alguns instantes."

var (
	// ErrNoStrategyAvailable is returned by a Selector with an empty registry.
	ErrNoStrategyAvailable = errors.New("no strategy available")
	// ErrFallbackStrategyProtected is returned when removing the designated fallback strategy.
	ErrFallbackStrategyProtected = errors.New("fallback strategy cannot be removed")
	// ErrStrategyFailed marks an execution that reported success=false.
	ErrStrategyFailed = errors.New("strategy reported failure")
	// ErrEmptyStrategyName is returned when registering a strategy without a name.
	ErrEmptyStrategyName = errors.New("strategy name cannot be empty")
)

// Strategy is a pluggable message-processing approach. Implementations should not
// return an error for ordinary failures; they report success=false with an
// explanatory response instead.
type Strategy interface {
	Execute(ctx context.Context, mc *models.MessageContext) (models.StrategyResponse, error)
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(ctx context.Context, mc *models.MessageContext) (models.StrategyResponse, error)

// Execute calls f.
func (f StrategyFunc) Execute(ctx context.Context, mc *models.MessageContext) (models.StrategyResponse, error) {
	return f(ctx, mc)
}

// LeadScorer is the lead scoring capability consumed while building a context.
type LeadScorer interface {
	Score(ctx context.Context, message, userID, phone string, history []models.Turn) (models.LeadScore, error)
}

// HistorySource supplies recent conversation turns for a user.
type HistorySource interface {
	RecentTurns(userID string, limit int) ([]models.Turn, error)
}
