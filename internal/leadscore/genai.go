package leadscore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// ErrMalformedScore is returned when the model reply is not a valid score document.
var ErrMalformedScore = errors.New("malformed lead score")

// maxPromptTurns bounds the history included in the scoring prompt.
const maxPromptTurns = 6

const scoringSystemPrompt = `Você avalia mensagens de clientes de um salão de beleza no WhatsApp como oportunidades de venda.
Responda somente com um objeto JSON no formato:
{"total_score": <número de 0 a 100>, "confidence": <número de 0 a 1>, "category": "booking|inquiry|complaint|greeting|general"}
Pontuações altas indicam intenção clara de agendar ou comprar.`

// generator is the completion capability the GenAI scorer needs.
type generator interface {
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Scorer produces a lead score for one message.
type Scorer interface {
	Score(ctx context.Context, message, userID, phone string, history []models.Turn) (models.LeadScore, error)
}

// GenAIOption configures a GenAI scorer.
type GenAIOption func(*GenAI)

// WithFallback sets the scorer used when the model call fails or returns garbage.
func WithFallback(f Scorer) GenAIOption {
	return func(g *GenAI) { g.fallback = f }
}

// GenAI scores messages by asking a chat model for a JSON score document.
type GenAI struct {
	gen      generator
	fallback Scorer
}

// NewGenAI creates a model-backed scorer.
func NewGenAI(gen generator, opts ...GenAIOption) *GenAI {
	g := &GenAI{gen: gen}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Score implements strategy.LeadScorer.
func (g *GenAI) Score(ctx context.Context, message, userID, phone string, history []models.Turn) (models.LeadScore, error) {
	ls, err := g.score(ctx, message, history)
	if err == nil {
		slog.Debug("GenAI.Score: scored message", "user_id", userID, "score", ls.TotalScore, "category", ls.Category)
		return ls, nil
	}
	if g.fallback == nil {
		return models.LeadScore{}, err
	}
	slog.Warn("GenAI.Score: model scoring failed, using fallback scorer", "error", err, "user_id", userID)
	return g.fallback.Score(ctx, message, userID, phone, history)
}

func (g *GenAI) score(ctx context.Context, message string, history []models.Turn) (models.LeadScore, error) {
	if g.gen == nil {
		return models.LeadScore{}, errors.New("genai scorer has no generator")
	}
	reply, err := g.gen.GeneratePromptWithContext(ctx, scoringSystemPrompt, buildScoringPrompt(message, history))
	if err != nil {
		return models.LeadScore{}, fmt.Errorf("lead scoring request failed: %w", err)
	}
	return ParseScore(reply)
}

func buildScoringPrompt(message string, history []models.Turn) string {
	var b strings.Builder
	if len(history) > 0 {
		start := max(0, len(history)-maxPromptTurns)
		b.WriteString("Histórico recente:\n")
		for _, t := range history[start:] {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Body)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Mensagem atual: %s", message)
	return b.String()
}

// ParseScore extracts a score document from a model reply. Text around the JSON
// object, such as markdown fences, is ignored.
func ParseScore(reply string) (models.LeadScore, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return models.LeadScore{}, fmt.Errorf("%w: no JSON object in reply", ErrMalformedScore)
	}
	var raw struct {
		TotalScore *float64 `json:"total_score"`
		Confidence *float64 `json:"confidence"`
		Category   string   `json:"category"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return models.LeadScore{}, fmt.Errorf("%w: %v", ErrMalformedScore, err)
	}
	if raw.TotalScore == nil || raw.Confidence == nil {
		return models.LeadScore{}, fmt.Errorf("%w: missing total_score or confidence", ErrMalformedScore)
	}
	ls := models.LeadScore{TotalScore: *raw.TotalScore, Confidence: *raw.Confidence, Category: raw.Category}
	if !ls.Valid() {
		return models.LeadScore{}, fmt.Errorf("%w: score=%v confidence=%v out of range", ErrMalformedScore, ls.TotalScore, ls.Confidence)
	}
	if ls.Category == "" {
		ls.Category = CategoryGeneral
	}
	return ls, nil
}
