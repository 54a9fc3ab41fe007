package leadscore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

func TestHeuristicScore(t *testing.T) {
	h := NewHeuristic()
	tests := []struct {
		name     string
		message  string
		category string
		minScore float64
		maxScore float64
	}{
		{"greeting", "Oi, bom dia!", CategoryGreeting, 30, 30},
		{"price inquiry", "Quanto custa um corte?", CategoryInquiry, 50, 50},
		{"booking today", "Quero agendar um horário hoje", CategoryBooking, 70, 70},
		{"complaint", "Tive um problema com o atendimento", CategoryComplaint, 20, 20},
		{"neutral", "vocês abrem no feriado", CategoryGeneral, 30, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ls, err := h.Score(context.Background(), tt.message, "u1", "", nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ls.Category != tt.category {
				t.Errorf("expected category %s, got %s", tt.category, ls.Category)
			}
			if ls.TotalScore < tt.minScore || ls.TotalScore > tt.maxScore {
				t.Errorf("score %v outside [%v, %v]", ls.TotalScore, tt.minScore, tt.maxScore)
			}
			if !ls.Valid() {
				t.Errorf("invalid score: %+v", ls)
			}
		})
	}
}

func TestHeuristicHistoryBonusIsCapped(t *testing.T) {
	h := NewHeuristic()
	var history []models.Turn
	for i := 0; i < 20; i++ {
		history = append(history, models.Turn{Role: models.TurnRoleUser, Body: "msg"}, models.Turn{Role: models.TurnRoleAssistant, Body: "reply"})
	}
	ls, _ := h.Score(context.Background(), "quero agendar o pacote completo hoje", "u1", "", history)
	if ls.TotalScore != 100 {
		t.Errorf("expected score clamped to 100, got %v", ls.TotalScore)
	}
	if ls.Confidence > maxHeuristicConf {
		t.Errorf("confidence %v above cap", ls.Confidence)
	}

	short, _ := h.Score(context.Background(), "vocês abrem no feriado", "u1", "", history[:2])
	if short.TotalScore != baseScore+historyTurnBonus {
		t.Errorf("expected one turn of bonus, got %v", short.TotalScore)
	}
}

type fakeGenerator struct {
	reply   string
	err     error
	lastMsg string
}

func (f *fakeGenerator) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.lastMsg = userPrompt
	return f.reply, f.err
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    models.LeadScore
		wantErr bool
	}{
		{"plain", `{"total_score": 72, "confidence": 0.8, "category": "booking"}`, models.LeadScore{TotalScore: 72, Confidence: 0.8, Category: "booking"}, false},
		{"fenced", "```json\n{\"total_score\": 10, \"confidence\": 0.5}\n```", models.LeadScore{TotalScore: 10, Confidence: 0.5, Category: CategoryGeneral}, false},
		{"no json", "score is 70", models.LeadScore{}, true},
		{"out of range", `{"total_score": 170, "confidence": 0.8}`, models.LeadScore{}, true},
		{"missing confidence", `{"total_score": 70}`, models.LeadScore{}, true},
		{"broken json", `{"total_score": }`, models.LeadScore{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScore(tt.reply)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedScore) {
					t.Errorf("expected ErrMalformedScore, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestGenAIScore(t *testing.T) {
	gen := &fakeGenerator{reply: `{"total_score": 85, "confidence": 0.9, "category": "booking"}`}
	g := NewGenAI(gen)
	history := []models.Turn{{Role: models.TurnRoleUser, Body: "oi"}, {Role: models.TurnRoleAssistant, Body: "Olá!"}}
	ls, err := g.Score(context.Background(), "quero marcar amanhã", "u1", "", history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ls.TotalScore != 85 || ls.Category != "booking" {
		t.Errorf("unexpected score: %+v", ls)
	}
	if !strings.Contains(gen.lastMsg, "quero marcar amanhã") || !strings.Contains(gen.lastMsg, "assistant: Olá!") {
		t.Errorf("prompt missing message or history: %q", gen.lastMsg)
	}
}

func TestGenAIScoreErrors(t *testing.T) {
	g := NewGenAI(&fakeGenerator{err: errors.New("rate limited")})
	if _, err := g.Score(context.Background(), "oi", "u1", "", nil); err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("expected upstream error, got %v", err)
	}

	g = NewGenAI(&fakeGenerator{reply: "I think 80"})
	if _, err := g.Score(context.Background(), "oi", "u1", "", nil); !errors.Is(err, ErrMalformedScore) {
		t.Errorf("expected ErrMalformedScore, got %v", err)
	}
}

func TestGenAIScoreFallback(t *testing.T) {
	g := NewGenAI(&fakeGenerator{reply: "garbage"}, WithFallback(NewHeuristic()))
	ls, err := g.Score(context.Background(), "Quanto custa um corte?", "u1", "", nil)
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if ls.Category != CategoryInquiry {
		t.Errorf("expected heuristic category, got %+v", ls)
	}
}
