package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// DefaultCrewThreshold is the lead score at or above which the crew strategy is preferred.
const DefaultCrewThreshold = 80.0

// Selection is the outcome of strategy selection.
type Selection struct {
	Name     string
	Strategy Strategy
	Reason   string
}

// Selector owns the strategy registry and maps a context to one registered strategy.
type Selector interface {
	// Select returns the chosen strategy, or ErrNoStrategyAvailable when the registry is empty.
	Select(mc *models.MessageContext) (Selection, error)
	Register(name string, s Strategy) error
	Unregister(name string)
	Lookup(name string) (Strategy, bool)
	Names() []string
}

// RuleSelector applies ordered threshold rules over lead score, complexity and
// customer value. When the preferred strategy is not registered it walks a fixed
// preference order and finally any registered strategy in name order, so it always
// returns a strategy while the registry is non-empty.
type RuleSelector struct {
	mu            sync.RWMutex
	strategies    map[string]Strategy
	crewThreshold float64
	preference    []string
}

// NewRuleSelector creates an empty selector.
func NewRuleSelector(crewThreshold float64) *RuleSelector {
	if crewThreshold <= 0 {
		crewThreshold = DefaultCrewThreshold
	}
	return &RuleSelector{
		strategies:    make(map[string]Strategy),
		crewThreshold: crewThreshold,
		preference:    []string{NameHybrid, NameAdvanced, NameSimple, NameCrew},
	}
}

// Register adds or replaces a strategy under name.
func (s *RuleSelector) Register(name string, st Strategy) error {
	if name == "" {
		return ErrEmptyStrategyName
	}
	if st == nil {
		return fmt.Errorf("strategy %q is nil", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[name] = st
	slog.Debug("RuleSelector.Register: strategy registered", "name", name, "count", len(s.strategies))
	return nil
}

// Unregister removes a strategy; unknown names are ignored.
func (s *RuleSelector) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.strategies, name)
}

// Lookup returns the strategy registered under name.
func (s *RuleSelector) Lookup(name string) (Strategy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.strategies[name]
	return st, ok
}

// Names returns the registered strategy names in sorted order.
func (s *RuleSelector) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.strategies))
	for name := range s.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select picks a strategy for the context.
func (s *RuleSelector) Select(mc *models.MessageContext) (Selection, error) {
	preferred, reason := s.preferredFor(mc)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.strategies) == 0 {
		return Selection{}, ErrNoStrategyAvailable
	}
	if st, ok := s.strategies[preferred]; ok {
		return Selection{Name: preferred, Strategy: st, Reason: reason}, nil
	}
	for _, name := range s.preference {
		if st, ok := s.strategies[name]; ok {
			return Selection{Name: name, Strategy: st, Reason: fmt.Sprintf("%s; %s not registered, using %s", reason, preferred, name)}, nil
		}
	}
	names := make([]string, 0, len(s.strategies))
	for name := range s.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	name := names[0]
	return Selection{Name: name, Strategy: s.strategies[name], Reason: fmt.Sprintf("%s; %s not registered, using %s", reason, preferred, name)}, nil
}

func (s *RuleSelector) preferredFor(mc *models.MessageContext) (string, string) {
	switch {
	case mc.LeadScore >= s.crewThreshold:
		return NameCrew, fmt.Sprintf("high lead score (%.1f >= %.1f)", mc.LeadScore, s.crewThreshold)
	case mc.Complexity == models.ComplexityHigh:
		return NameCrew, "high complexity message"
	case mc.CustomerValue == models.CustomerValueVIP:
		return NameCrew, "vip customer"
	case mc.Complexity == models.ComplexityLow:
		return NameSimple, "low complexity message"
	default:
		return NameHybrid, fmt.Sprintf("balanced approach (lead score %.1f, %s complexity)", mc.LeadScore, mc.Complexity)
	}
}
