package strategies

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/strategy"
)

// Confidence reported by the crew strategy.
const (
	CrewConfidence           = 0.92
	CrewUnreviewedConfidence = 0.8
)

const analystPrompt = `Você é uma analista de atendimento. Leia a mensagem do cliente e o contexto e descreva em até 3 linhas:
1) a intenção do cliente; 2) informações que a resposta precisa conter; 3) o tom adequado.
Não escreva a resposta ao cliente.`

const reviewerPrompt = `Você revisa respostas de atendimento via WhatsApp antes do envio.
Corrija erros, remova informações que não estejam no perfil da empresa e mantenha no máximo 3 frases.
Devolva apenas o texto final da resposta, sem comentários.`

// Crew runs three agents in sequence: an analyst that reads the context, a
// responder that drafts the reply from the analysis, and a reviewer that polishes
// the draft. A reviewer failure keeps the draft.
type Crew struct {
	gen      Generator
	business BusinessInfo
}

// NewCrew creates the multi-agent strategy.
func NewCrew(gen Generator, business BusinessInfo) *Crew {
	return &Crew{gen: gen, business: business}
}

// Execute implements strategy.Strategy.
func (c *Crew) Execute(ctx context.Context, mc *models.MessageContext) (models.StrategyResponse, error) {
	if c.gen == nil {
		return failed(strategy.NameCrew, ErrNoGenerator), nil
	}
	profile := c.business.Describe()
	conversation := describeContext(mc, historyTurns)

	analysis, err := c.gen.GeneratePromptWithContext(ctx, analystPrompt+"\n\n"+profile, conversation)
	if err != nil {
		slog.Warn("Crew.Execute: analyst failed", "error", err, "user_id", mc.UserID)
		return failed(strategy.NameCrew, fmt.Errorf("analyst: %w", err)), nil
	}

	draft, err := c.gen.GeneratePromptWithContext(ctx, assistantPersona+"\n\n"+profile,
		conversation+"\n\nAnálise da equipe:\n"+strings.TrimSpace(analysis))
	if err != nil {
		slog.Warn("Crew.Execute: responder failed", "error", err, "user_id", mc.UserID)
		return failed(strategy.NameCrew, fmt.Errorf("responder: %w", err)), nil
	}
	draft = strings.TrimSpace(draft)
	if draft == "" {
		return failed(strategy.NameCrew, errors.New("responder returned an empty draft")), nil
	}

	resp := models.StrategyResponse{
		Response:     draft,
		Success:      true,
		Confidence:   CrewUnreviewedConfidence,
		StrategyUsed: strategy.NameCrew,
	}
	resp.SetMeta("analysis", strings.TrimSpace(analysis))

	final, err := c.gen.GeneratePromptWithContext(ctx, reviewerPrompt+"\n\n"+profile,
		"Mensagem do cliente: "+mc.Message+"\n\nRascunho:\n"+draft)
	switch {
	case err != nil:
		slog.Warn("Crew.Execute: reviewer failed, keeping draft", "error", err, "user_id", mc.UserID)
		resp.SetMeta("reviewed", false)
	case strings.TrimSpace(final) == "":
		resp.SetMeta("reviewed", false)
	default:
		resp.Response = strings.TrimSpace(final)
		resp.Confidence = CrewConfidence
		resp.SetMeta("reviewed", true)
	}
	return resp, nil
}
