package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/openai/openai-go/v2/shared"

	"github.com/lopeti/ha-rag-bridge/internal/config"
)

type openaiGateway struct {
	client openai.Client
	model  string
}

func newOpenAIGateway(cfg config.LLMGatewayConfig) Gateway {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &openaiGateway{client: openai.NewClient(opts...), model: model}
}

func (g *openaiGateway) Chat(ctx context.Context, msgs []Message, internalCall bool) (string, error) {
	var params openai.ChatCompletionNewParams
	params.Model = shared.ChatModel(g.model)
	params.Temperature = param.NewOpt(0.2)
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if internalCall {
		// Tag internal (non-user-facing) calls so downstream cost/usage
		// dashboards and tracing don't attribute them to a live user turn.
		params.User = param.NewOpt("internal_call")
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
