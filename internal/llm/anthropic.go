package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lopeti/ha-rag-bridge/internal/config"
)

type anthropicGateway struct {
	client anthropic.Client
	model  string
}

func newAnthropicGateway(cfg config.LLMGatewayConfig) Gateway {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	return &anthropicGateway{client: anthropic.NewClient(opts...), model: model}
}

func (g *anthropicGateway) Chat(ctx context.Context, msgs []Message, internalCall bool) (string, error) {
	var system string
	var turns []anthropic.MessageParam
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: 512,
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if internalCall {
		params.Metadata = anthropic.MetadataParam{UserID: anthropic.String("internal_call")}
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic chat: %w", err)
	}
	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("anthropic chat: empty response")
	}
	return out.String(), nil
}
