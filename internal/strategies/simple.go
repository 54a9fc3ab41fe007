package strategies

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/BTreeMap/ReplyPipe/internal/models"
	"github.com/BTreeMap/ReplyPipe/internal/strategy"
)

// Intents recognized by the simple strategy.
const (
	IntentGreeting = "greeting"
	IntentThanks   = "thanks"
	IntentHours    = "hours"
	IntentLocation = "location"
	IntentPrice    = "price"
	IntentBooking  = "booking"
	IntentGoodbye  = "goodbye"
	IntentUnknown  = "unknown"
)

// Confidence reported by the simple strategy.
const (
	MatchedConfidence = 0.85
	UnknownConfidence = 0.4
)

// intentRule maps trigger words to an intent. Rules are checked in order.
type intentRule struct {
	intent string
	words  []string
}

var intentRules = []intentRule{
	{IntentPrice, []string{"preço", "preco", "preços", "quanto", "custa", "valor", "valores", "price", "cost"}},
	{IntentBooking, []string{"agendar", "marcar", "agendamento", "reservar", "vaga", "book", "appointment"}},
	{IntentHours, []string{"horário", "horario", "abre", "abrem", "fecha", "fecham", "funcionamento", "aberto", "open", "hours"}},
	{IntentLocation, []string{"onde", "endereço", "endereco", "localização", "localizacao", "fica", "where", "address"}},
	{IntentThanks, []string{"obrigado", "obrigada", "valeu", "agradeço", "thanks"}},
	{IntentGoodbye, []string{"tchau", "até", "bye"}},
	{IntentGreeting, []string{"oi", "olá", "ola", "opa", "bom", "boa", "hi", "hello", "hey"}},
}

// Simple answers common questions from canned replies and the business profile.
// It makes no external calls and always succeeds, which makes it the designated
// fallback strategy.
type Simple struct {
	business BusinessInfo
}

// NewSimple creates the keyword responder.
func NewSimple(business BusinessInfo) *Simple {
	return &Simple{business: business}
}

// Execute implements strategy.Strategy.
func (s *Simple) Execute(ctx context.Context, mc *models.MessageContext) (models.StrategyResponse, error) {
	intent := DetectIntent(mc.Message)
	reply := s.reply(intent, mc.Message)
	confidence := MatchedConfidence
	if intent == IntentUnknown {
		confidence = UnknownConfidence
	}
	slog.Debug("Simple.Execute: reply chosen", "intent", intent, "user_id", mc.UserID)
	resp := models.StrategyResponse{
		Response:     reply,
		Success:      true,
		Confidence:   confidence,
		StrategyUsed: strategy.NameSimple,
	}
	resp.SetMeta("intent", intent)
	return resp, nil
}

// DetectIntent returns the first intent whose trigger words appear in message.
func DetectIntent(message string) string {
	words := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(message)) {
		f = strings.TrimFunc(f, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) })
		if f != "" {
			words[f] = struct{}{}
		}
	}
	for _, rule := range intentRules {
		for _, w := range rule.words {
			if _, ok := words[w]; ok {
				return rule.intent
			}
		}
	}
	return IntentUnknown
}

func (s *Simple) reply(intent, message string) string {
	b := s.business
	switch intent {
	case IntentPrice:
		if name, price, ok := s.matchService(message); ok {
			return fmt.Sprintf("O %s custa %s. Quer agendar um horário?", name, price)
		}
		if len(b.Services) > 0 {
			return fmt.Sprintf("Nossos preços: %s. Posso ajudar com o agendamento?", b.PriceList())
		}
		return "Posso passar os valores! Qual serviço você procura?"
	case IntentBooking:
		return fmt.Sprintf("Claro! Atendemos %s. Qual dia e horário ficam melhores para você?", orDefault(b.Hours, "em horário comercial"))
	case IntentHours:
		return fmt.Sprintf("Funcionamos %s.", orDefault(b.Hours, "em horário comercial"))
	case IntentLocation:
		if b.Address != "" {
			return fmt.Sprintf("Estamos na %s. Te esperamos!", b.Address)
		}
		return "Posso te enviar nossa localização. Você prefere o endereço ou um link do mapa?"
	case IntentThanks:
		return "Nós que agradecemos! Qualquer dúvida é só chamar."
	case IntentGoodbye:
		return "Até logo! Foi um prazer ajudar."
	case IntentGreeting:
		return fmt.Sprintf("Olá! Bem-vindo ao %s. Como posso ajudar?", orDefault(b.Name, "nosso atendimento"))
	default:
		return "Obrigado pela mensagem! Um de nossos atendentes vai te responder em breve. Enquanto isso, posso informar preços, horários e endereço."
	}
}

func (s *Simple) matchService(message string) (string, string, bool) {
	lower := strings.ToLower(message)
	for _, name := range s.business.serviceNames() {
		if strings.Contains(lower, strings.ToLower(name)) {
			return name, s.business.Services[name], true
		}
	}
	return "", "", false
}
