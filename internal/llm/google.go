package llm

import (
	"context"
	"fmt"
	"strings"

	genai "google.golang.org/genai"

	"github.com/lopeti/ha-rag-bridge/internal/config"
)

type googleGateway struct {
	client *genai.Client
	model  string
}

func newGoogleGateway(cfg config.LLMGatewayConfig) Gateway {
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return noneGateway{}
	}
	return &googleGateway{client: client, model: model}
}

func (g *googleGateway) Chat(ctx context.Context, msgs []Message, internalCall bool) (string, error) {
	var system strings.Builder
	var history []*genai.Content
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			system.WriteString(m.Content)
			system.WriteString("\n")
		case "assistant":
			history = append(history, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			history = append(history, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	var cfg *genai.GenerateContentConfig
	if system.Len() > 0 {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system.String(), genai.RoleUser),
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, history, cfg)
	if err != nil {
		return "", fmt.Errorf("google chat: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("google chat: empty response")
	}
	return text, nil
}
