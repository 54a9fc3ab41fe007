package strategy

import (
	"strings"
	"unicode"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// LongMessageWords is the word count above which a message is always high complexity.
const LongMessageWords = 20

// ShortMessageWords is the word count at or below which a greeting is low complexity.
const ShortMessageWords = 3

var complexKeywords = map[string]struct{}{
	"problema": {}, "problemas": {}, "erro": {}, "errado": {},
	"cancelar": {}, "cancelamento": {}, "cancela": {},
	"remarcar": {}, "reagendar": {}, "desmarcar": {},
	"preço": {}, "preco": {}, "preços": {}, "desconto": {}, "negociar": {}, "orçamento": {},
	"urgente": {}, "urgência": {}, "reclamação": {}, "reclamar": {}, "reembolso": {},
	"problem": {}, "error": {}, "cancel": {}, "reschedule": {}, "price": {},
	"negotiate": {}, "discount": {}, "urgent": {}, "refund": {}, "complaint": {},
}

var simpleKeywords = map[string]struct{}{
	"oi": {}, "olá": {}, "ola": {}, "opa": {}, "bom": {}, "boa": {}, "dia": {}, "tarde": {}, "noite": {},
	"obrigado": {}, "obrigada": {}, "valeu": {}, "ok": {}, "okay": {}, "sim": {}, "não": {}, "nao": {},
	"beleza": {}, "blz": {}, "tchau": {}, "hi": {}, "hello": {}, "hey": {}, "thanks": {}, "yes": {}, "no": {},
}

// AssessComplexity classifies a message as low, medium or high complexity.
// Rules are evaluated in order and the first match wins:
//  1. any complex keyword, or more than LongMessageWords words: high
//  2. any simple keyword and at most ShortMessageWords words: low
//  3. otherwise: medium
func AssessComplexity(message string) models.Complexity {
	words := strings.Fields(strings.ToLower(message))

	hasComplex, hasSimple := false, false
	for _, w := range words {
		w = strings.TrimFunc(w, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) })
		if _, ok := complexKeywords[w]; ok {
			hasComplex = true
		}
		if _, ok := simpleKeywords[w]; ok {
			hasSimple = true
		}
	}

	switch {
	case hasComplex || len(words) > LongMessageWords:
		return models.ComplexityHigh
	case hasSimple && len(words) <= ShortMessageWords:
		return models.ComplexityLow
	default:
		return models.ComplexityMedium
	}
}
