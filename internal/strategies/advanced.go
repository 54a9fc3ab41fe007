package strategies

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/strategy"
)

// AdvancedConfidence is reported for a successful single-call reply.
const AdvancedConfidence = 0.8

// historyTurns bounds the history rendered into LLM prompts.
const historyTurns = 8

const assistantPersona = `Você é a assistente virtual de atendimento via WhatsApp da empresa abaixo.
Responda em português do Brasil, de forma cordial, objetiva e curta (no máximo 3 frases).
Use apenas as informações fornecidas; se não souber algo, ofereça encaminhar para um atendente.
Quando fizer sentido, convide o cliente a agendar.`

// ErrNoGenerator is reported when an LLM-backed strategy has no generator configured.
var ErrNoGenerator = errors.New("no generator configured")

// Advanced answers with a single chat completion over the business profile,
// the derived context and recent history.
type Advanced struct {
	gen      Generator
	business BusinessInfo
}

// NewAdvanced creates the single-call LLM strategy.
func NewAdvanced(gen Generator, business BusinessInfo) *Advanced {
	return &Advanced{gen: gen, business: business}
}

// Execute implements strategy.Strategy.
func (a *Advanced) Execute(ctx context.Context, mc *models.MessageContext) (models.StrategyResponse, error) {
	if a.gen == nil {
		return failed(strategy.NameAdvanced, ErrNoGenerator), nil
	}
	system := assistantPersona + "\n\n" + a.business.Describe()
	reply, err := a.gen.GeneratePromptWithContext(ctx, system, describeContext(mc, historyTurns))
	if err != nil {
		slog.Warn("Advanced.Execute: generation failed", "error", err, "user_id", mc.UserID)
		return failed(strategy.NameAdvanced, err), nil
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return failed(strategy.NameAdvanced, errors.New("empty completion")), nil
	}
	return models.StrategyResponse{
		Response:     reply,
		Success:      true,
		Confidence:   AdvancedConfidence,
		StrategyUsed: strategy.NameAdvanced,
	}, nil
}
