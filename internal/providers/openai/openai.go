// Package openai composes a persona's conversational system prompt with the
// chat completions API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"dopple/internal/pkg/errors"
	"dopple/internal/ports"
	"dopple/internal/providers"
)

const (
	DefaultAPIBase = "https://api.openai.com"
	DefaultModel   = "gpt-4o-mini"
	name           = "openai"
)

const composerInstructions = `You write system prompts for a conversational character.
Given a person's name, a short bio and lines they have recorded, write a system prompt
in second person ("You are ...") that keeps the assistant in character as that person.
Replies must stay brief (one or two sentences), warm and conversational, and must never
mention being an AI. Return only the system prompt text.`

type Config struct {
	APIKey  string
	APIBase string
	Model   string
}

type Client struct {
	cfg  Config
	http *providers.Client
}

var _ ports.AgentComposer = (*Client)(nil)

func New(cfg Config, httpClient *http.Client) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Client{
		cfg:  cfg,
		http: providers.NewClient(name, httpClient, map[string]string{"Authorization": "Bearer " + cfg.APIKey}),
	}
}

func (c *Client) Name() string { return name }

func (c *Client) Configured() bool { return c.cfg.APIKey != "" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Client) ComposeAgent(ctx context.Context, p ports.AgentProfile) (string, error) {
	const op = "openai.compose_agent"
	if !c.Configured() {
		return "", providers.NotConfigured(name)
	}

	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: composerInstructions},
			{Role: "user", Content: describe(p)},
		},
		Temperature: 0.7,
		MaxTokens:   400,
	}

	var resp chatResponse
	err := c.http.Do(ctx, providers.Request{
		Op:     op,
		Method: http.MethodPost,
		URL:    c.cfg.APIBase + "/v1/chat/completions",
		JSON:   req,
	}, &resp)
	if err != nil {
		return "", err
	}
	for _, choice := range resp.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
	}
	e := errors.New(errors.CodeUnavailable, "completion had no content")
	e.Op = op
	return "", e
}

func describe(p ports.AgentProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", p.Name)
	if bio := strings.TrimSpace(p.Bio); bio != "" {
		fmt.Fprintf(&b, "Bio: %s\n", bio)
	}
	if len(p.Scripts) > 0 {
		b.WriteString("Recorded lines:\n")
		for _, s := range p.Scripts {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(s))
		}
	}
	return b.String()
}
