// Package strategies holds the concrete message-processing strategies registered
// with the strategy manager: a keyword responder, a single LLM call, a multi-agent
// crew and a hybrid of the first two.
package strategies

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/BTreeMap/ReplyPipe/internal/models"
)

// Generator is the chat completion capability used by the LLM-backed strategies.
type Generator interface {
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// BusinessInfo describes the business the assistant answers for.
type BusinessInfo struct {
	Name     string            `koanf:"name"`
	Hours    string            `koanf:"hours"`
	Address  string            `koanf:"address"`
	Phone    string            `koanf:"phone"`
	Services map[string]string `koanf:"services"` // service name -> price text
}

// DefaultBusinessInfo returns the built-in salon profile.
func DefaultBusinessInfo() BusinessInfo {
	return BusinessInfo{
		Name:    "Studio Beleza",
		Hours:   "segunda a sábado, das 9h às 19h",
		Address: "Rua das Flores, 123 - Centro",
		Services: map[string]string{
			"corte":      "R$35",
			"escova":     "R$45",
			"manicure":   "R$30",
			"pedicure":   "R$35",
			"coloração":  "a partir de R$120",
			"hidratação": "R$60",
		},
	}
}

// serviceNames returns service names sorted for stable prompts and replies.
func (b BusinessInfo) serviceNames() []string {
	names := make([]string, 0, len(b.Services))
	for name := range b.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PriceList renders the services as "corte: R$35, escova: R$45".
func (b BusinessInfo) PriceList() string {
	parts := make([]string, 0, len(b.Services))
	for _, name := range b.serviceNames() {
		parts = append(parts, fmt.Sprintf("%s: %s", name, b.Services[name]))
	}
	return strings.Join(parts, ", ")
}

// Describe renders the profile for a system prompt.
func (b BusinessInfo) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Empresa: %s\n", b.Name)
	if b.Hours != "" {
		fmt.Fprintf(&sb, "Horário: %s\n", b.Hours)
	}
	if b.Address != "" {
		fmt.Fprintf(&sb, "Endereço: %s\n", b.Address)
	}
	if b.Phone != "" {
		fmt.Fprintf(&sb, "Telefone: %s\n", b.Phone)
	}
	if len(b.Services) > 0 {
		fmt.Fprintf(&sb, "Serviços e preços: %s\n", b.PriceList())
	}
	return sb.String()
}

// describeContext renders the derived signals and recent history for a prompt.
func describeContext(mc *models.MessageContext, maxTurns int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Lead score: %.0f (%s), valor do cliente: %s, complexidade: %s\n",
		mc.LeadScore, orDefault(mc.LeadCategory, "general"), mc.CustomerValue, mc.Complexity)
	if len(mc.History) > 0 {
		start := max(0, len(mc.History)-maxTurns)
		sb.WriteString("Histórico recente:\n")
		for _, t := range mc.History[start:] {
			fmt.Fprintf(&sb, "- %s: %s\n", t.Role, t.Body)
		}
	}
	fmt.Fprintf(&sb, "Mensagem do cliente: %s", mc.Message)
	return sb.String()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// failed builds the success=false response strategies return for ordinary failures.
func failed(name string, err error) models.StrategyResponse {
	resp := models.StrategyResponse{
		Response:     fmt.Sprintf("%s strategy failed: %v", name, err),
		Success:      false,
		StrategyUsed: name,
	}
	resp.SetMeta("error", err.Error())
	return resp
}
