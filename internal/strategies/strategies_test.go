package strategies

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/strategy"
)

// fakeGenerator returns queued replies in order and records the prompts.
type fakeGenerator struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	systems []string
	users   []string
}

func (f *fakeGenerator) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.users)
	f.systems = append(f.systems, systemPrompt)
	f.users = append(f.users, userPrompt)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return "resposta padrão", nil
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

func newContext(message string, complexity models.Complexity) *models.MessageContext {
	mc := models.NewMessageContext(message, "u1", "+5511")
	mc.Complexity = complexity
	return mc
}

func TestDetectIntent(t *testing.T) {
	tests := map[string]string{
		"Oi!":                           IntentGreeting,
		"Quanto custa um corte?":        IntentPrice,
		"quero marcar para sexta":       IntentBooking,
		"qual o horário de vocês?":      IntentHours,
		"onde fica o salão":             IntentLocation,
		"muito obrigada":                IntentThanks,
		"tchau":                         IntentGoodbye,
		"meu cachorro comeu o controle": IntentUnknown,
	}
	for message, want := range tests {
		if got := DetectIntent(message); got != want {
			t.Errorf("DetectIntent(%q) = %s, want %s", message, got, want)
		}
	}
}

func TestSimpleExecute(t *testing.T) {
	s := NewSimple(DefaultBusinessInfo())

	resp, err := s.Execute(context.Background(), newContext("Quanto custa um corte?", models.ComplexityMedium))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success || !strings.Contains(resp.Response, "R$35") {
		t.Errorf("expected price reply with R$35, got %+v", resp)
	}
	if resp.StrategyUsed != strategy.NameSimple || resp.Confidence != MatchedConfidence {
		t.Errorf("unexpected strategy/confidence: %+v", resp)
	}

	resp, _ = s.Execute(context.Background(), newContext("meu cachorro comeu o controle", models.ComplexityMedium))
	if !resp.Success || resp.Confidence != UnknownConfidence || resp.Metadata["intent"] != IntentUnknown {
		t.Errorf("expected generic success with low confidence, got %+v", resp)
	}

	resp, _ = s.Execute(context.Background(), newContext("qual o preço?", models.ComplexityHigh))
	if !strings.Contains(resp.Response, "corte: R$35") {
		t.Errorf("expected full price list, got %q", resp.Response)
	}
}

func TestSimpleWithEmptyBusiness(t *testing.T) {
	s := NewSimple(BusinessInfo{})
	for _, msg := range []string{"oi", "quanto custa", "onde fica", "qual o horário", "quero agendar"} {
		resp, err := s.Execute(context.Background(), newContext(msg, models.ComplexityLow))
		if err != nil || !resp.Success || resp.Response == "" {
			t.Errorf("%q: expected non-empty success, got %+v (%v)", msg, resp, err)
		}
	}
}

func TestAdvancedExecute(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"  Temos horário amanhã às 10h.  "}}
	a := NewAdvanced(gen, DefaultBusinessInfo())
	mc := newContext("tem horário amanhã?", models.ComplexityMedium)
	mc.History = []models.Turn{{Role: models.TurnRoleUser, Body: "oi"}}

	resp, err := a.Execute(context.Background(), mc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Success || resp.Response != "Temos horário amanhã às 10h." {
		t.Errorf("unexpected response: %+v", resp)
	}
	if !strings.Contains(gen.systems[0], "Studio Beleza") {
		t.Error("system prompt should include the business profile")
	}
	if !strings.Contains(gen.users[0], "tem horário amanhã?") || !strings.Contains(gen.users[0], "user: oi") {
		t.Errorf("user prompt should include message and history: %q", gen.users[0])
	}
}

func TestAdvancedFailures(t *testing.T) {
	resp, err := NewAdvanced(&fakeGenerator{errs: []error{errors.New("quota")}}, BusinessInfo{}).Execute(context.Background(), newContext("x", models.ComplexityMedium))
	if err != nil || resp.Success {
		t.Errorf("expected success=false without error, got %+v (%v)", resp, err)
	}
	resp, _ = NewAdvanced(&fakeGenerator{replies: []string{"   "}}, BusinessInfo{}).Execute(context.Background(), newContext("x", models.ComplexityMedium))
	if resp.Success {
		t.Error("expected empty completion to fail")
	}
	resp, _ = NewAdvanced(nil, BusinessInfo{}).Execute(context.Background(), newContext("x", models.ComplexityMedium))
	if resp.Success {
		t.Error("expected missing generator to fail")
	}
}

func TestCrewExecute(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"intenção: preço", "rascunho", "Resposta final revisada"}}
	c := NewCrew(gen, DefaultBusinessInfo())

	resp, err := c.Execute(context.Background(), newContext("preciso de um orçamento para noiva", models.ComplexityHigh))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.calls() != 3 {
		t.Errorf("expected 3 agent calls, got %d", gen.calls())
	}
	if resp.Response != "Resposta final revisada" || resp.Confidence != CrewConfidence || resp.Metadata["reviewed"] != true {
		t.Errorf("unexpected response: %+v", resp)
	}
	if !strings.Contains(gen.users[1], "intenção: preço") {
		t.Error("responder should receive the analysis")
	}
}

func TestCrewReviewerFailureKeepsDraft(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"analysis", "rascunho"}, errs: []error{nil, nil, errors.New("timeout")}}
	resp, _ := NewCrew(gen, DefaultBusinessInfo()).Execute(context.Background(), newContext("x", models.ComplexityHigh))
	if !resp.Success || resp.Response != "rascunho" || resp.Confidence != CrewUnreviewedConfidence {
		t.Errorf("expected draft to be kept, got %+v", resp)
	}
}

func TestCrewAnalystFailure(t *testing.T) {
	gen := &fakeGenerator{errs: []error{errors.New("down")}}
	resp, _ := NewCrew(gen, DefaultBusinessInfo()).Execute(context.Background(), newContext("x", models.ComplexityHigh))
	if resp.Success || gen.calls() != 1 {
		t.Errorf("expected early failure, got %+v after %d calls", resp, gen.calls())
	}
}

func TestHybridPaths(t *testing.T) {
	business := DefaultBusinessInfo()

	gen := &fakeGenerator{replies: []string{"resposta do modelo"}}
	h := NewHybrid(NewSimple(business), NewAdvanced(gen, business), 0)
	resp, _ := h.Execute(context.Background(), newContext("Quanto custa um corte?", models.ComplexityMedium))
	if resp.Metadata["hybrid_path"] != "simple" || gen.calls() != 0 || resp.StrategyUsed != strategy.NameHybrid {
		t.Errorf("expected canned path, got %+v", resp)
	}

	resp, _ = h.Execute(context.Background(), newContext("meu cabelo está caindo, o que vocês recomendam?", models.ComplexityMedium))
	if resp.Metadata["hybrid_path"] != "advanced" || resp.Response != "resposta do modelo" {
		t.Errorf("expected advanced path, got %+v", resp)
	}

	failing := NewHybrid(NewSimple(business), NewAdvanced(&fakeGenerator{errs: []error{errors.New("down")}}, business), 0)
	resp, _ = failing.Execute(context.Background(), newContext("meu cabelo está caindo", models.ComplexityMedium))
	if !resp.Success || resp.Metadata["hybrid_path"] != "simple_after_advanced_failure" {
		t.Errorf("expected canned reply after failure, got %+v", resp)
	}
}

func TestRegisterAll(t *testing.T) {
	m := strategy.NewManager()
	if err := RegisterAll(m, nil, DefaultBusinessInfo(), 0); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}
	if names := m.Strategies(); len(names) != 1 || names[0] != strategy.NameSimple {
		t.Errorf("expected only simple without generator, got %v", names)
	}

	m = strategy.NewManager()
	if err := RegisterAll(m, &fakeGenerator{}, DefaultBusinessInfo(), 0); err != nil {
		t.Fatalf("RegisterAll failed: %v", err)
	}
	if names := m.Strategies(); len(names) != 4 {
		t.Errorf("expected 4 strategies, got %v", names)
	}
}

func TestManagerWithBuiltInStrategies(t *testing.T) {
	m := strategy.NewManager()
	_ = RegisterAll(m, nil, DefaultBusinessInfo(), 0)
	resp := m.Process(context.Background(), "Quanto custa um corte?", "u1", "+551199999")
	if !resp.Success || !strings.Contains(resp.Response, "R$35") {
		t.Errorf("expected R$35 reply, got %+v", resp)
	}
}
