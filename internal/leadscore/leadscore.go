// Package leadscore estimates how valuable an inbound customer message is as a
// sales lead. Scores range 0-100 with a 0-1 confidence and a coarse category.
package leadscore

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// Lead categories.
const (
	CategoryBooking   = "booking"
	CategoryInquiry   = "inquiry"
	CategoryComplaint = "complaint"
	CategoryGreeting  = "greeting"
	CategoryGeneral   = "general"
)

const (
	baseScore        = 30.0
	bookingBonus     = 30.0
	inquiryBonus     = 20.0
	urgencyBonus     = 10.0
	complaintPenalty = 10.0
	historyTurnBonus = 2.0
	maxHistoryBonus  = 10.0
	baseConfidence   = 0.4
	signalConfidence = 0.1
	maxHeuristicConf = 0.9
)

var bookingWords = wordSet("agendar", "agendamento", "marcar", "horário", "horario", "reservar", "reserva", "agenda", "vaga", "book", "booking", "appointment", "schedule")
var inquiryWords = wordSet("preço", "preco", "quanto", "custa", "valor", "valores", "pacote", "promoção", "promocao", "orçamento", "price", "cost", "package")
var urgencyWords = wordSet("hoje", "amanhã", "amanha", "urgente", "agora", "today", "tomorrow", "urgent", "now")
var complaintWords = wordSet("reclamação", "reclamacao", "problema", "péssimo", "pessimo", "ruim", "insatisfeito", "insatisfeita", "reembolso", "complaint", "refund", "terrible")
var greetingWords = wordSet("oi", "olá", "ola", "bom", "boa", "dia", "tarde", "noite", "hi", "hello", "hey")

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Heuristic scores messages with keyword signals and conversation length. It never
// fails and needs no external service, so it doubles as the fallback scorer.
type Heuristic struct{}

// NewHeuristic returns a keyword-based scorer.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Score implements strategy.LeadScorer.
func (h *Heuristic) Score(ctx context.Context, message, userID, phone string, history []models.Turn) (models.LeadScore, error) {
	var booking, inquiry, urgency, complaint, greeting bool
	for _, w := range tokens(message) {
		_, b := bookingWords[w]
		_, i := inquiryWords[w]
		_, u := urgencyWords[w]
		_, c := complaintWords[w]
		_, g := greetingWords[w]
		booking, inquiry, urgency, complaint, greeting = booking || b, inquiry || i, urgency || u, complaint || c, greeting || g
	}

	score := baseScore
	signals := 0
	if booking {
		score += bookingBonus
		signals++
	}
	if inquiry {
		score += inquiryBonus
		signals++
	}
	if urgency {
		score += urgencyBonus
		signals++
	}
	if complaint {
		score -= complaintPenalty
		signals++
	}

	prior := 0
	for _, t := range history {
		if t.Role == models.TurnRoleUser {
			prior++
		}
	}
	score += min(float64(prior)*historyTurnBonus, maxHistoryBonus)

	category := CategoryGeneral
	switch {
	case complaint:
		category = CategoryComplaint
	case booking:
		category = CategoryBooking
	case inquiry:
		category = CategoryInquiry
	case greeting:
		category = CategoryGreeting
	}

	ls := models.LeadScore{
		TotalScore: clamp(score, 0, 100),
		Confidence: min(baseConfidence+float64(signals)*signalConfidence, maxHeuristicConf),
		Category:   category,
	}
	slog.Debug("Heuristic.Score: scored message", "user_id", userID, "score", ls.TotalScore, "confidence", ls.Confidence, "category", ls.Category, "history_turns", prior)
	return ls, nil
}

func tokens(message string) []string {
	fields := strings.Fields(strings.ToLower(message))
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) })
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
