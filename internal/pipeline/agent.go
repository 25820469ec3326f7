package pipeline

import (
	"context"
	"fmt"
	"strings"

	"dopple/internal/budget"
	"dopple/internal/persona"
	"dopple/internal/pkg/errors"
	"dopple/internal/ports"
)

const (
	AgentSourceLLM      = "llm"
	AgentSourceTemplate = "template"
)

// composeAgent writes the conversational system prompt once. It never
// affects the record's status: an unreachable model leaves the prompt unset
// for a later pass, a missing or rejecting model falls back to a template.
func (m *Machine) composeAgent(ctx context.Context, key string, o *Outcome, b *budget.Budget) {
	if hasAgent(o.Record) {
		return
	}
	if b.Exhausted() {
		o.BudgetStop = true
		return
	}
	m.refresh(ctx, key, o)
	if hasAgent(o.Record) {
		o.did(ActAdopt + ":" + ActComposeAgent)
		return
	}

	log := m.log.FromContext(ctx)
	agent := persona.Agent{SystemPrompt: TemplatePrompt(o.Record.Name, o.Record.Bio), Source: AgentSourceTemplate}

	if m.agents != nil {
		prompt, err := m.call(ctx, b, func(ctx context.Context) (string, error) {
			return m.agents.ComposeAgent(ctx, profile(o.Record))
		})
		switch {
		case err == nil && strings.TrimSpace(prompt) != "":
			agent = persona.Agent{SystemPrompt: strings.TrimSpace(prompt), Source: AgentSourceLLM}
		case err == nil, errors.IsNotConfigured(err):
		case errors.IsPermanent(err):
			log.WithError(err).Warn("agent composer rejected request, using template")
		default:
			log.WithError(err).Warn("agent composer failed, will retry next pass")
			return
		}
	}

	o.Record.Agent = &agent
	o.did(ActComposeAgent)
	m.persist(ctx, key, o)
}

func hasAgent(r *persona.Record) bool {
	return r.Agent != nil && r.Agent.SystemPrompt != ""
}

func profile(r *persona.Record) ports.AgentProfile {
	p := ports.AgentProfile{Name: r.DisplayName(), Bio: r.Bio}
	for _, s := range r.Scripts {
		p.Scripts = append(p.Scripts, s.Text)
	}
	return p
}

// TemplatePrompt is the fixed system prompt used when no model is available.
// A bio of ten characters or fewer is left out.
func TemplatePrompt(name, bio string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Assistant"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. ", name)
	if bio = strings.TrimSpace(bio); len(bio) > 10 {
		fmt.Fprintf(&b, "Here's what people should know about you: %s. ", bio)
	}
	fmt.Fprintf(&b, "Stay in character as %s. Be conversational, warm, and authentic. "+
		"Keep responses brief and engaging (1-2 sentences, under 25 words when possible). "+
		"Never break character or mention you're an AI.", name)
	return b.String()
}
