// Package llm is the pluggable LLM gateway used by the query rewriter (C6)
// and the async conversation enricher (C11). It is deliberately narrow: a
// single Chat call, no tool-calling, no streaming — those concerns belong to
// a full agent runtime and are out of scope here.
package llm

import (
	"context"
	"fmt"

	"github.com/lopeti/ha-rag-bridge/internal/config"
)

// Message mirrors the teacher's llm.Message shape, trimmed to the
// role/content pair the rewriter and enricher prompts need.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Gateway sends a chat completion request to a single configured backend.
type Gateway interface {
	// Chat returns the assistant's reply text. internalCall is threaded
	// through to the backend so it can tag the request (e.g. for cost
	// attribution or to exclude it from user-facing usage dashboards) and,
	// critically, so downstream tracing never treats it as the request the
	// user is waiting on.
	Chat(ctx context.Context, msgs []Message, internalCall bool) (string, error)
}

// New constructs the Gateway selected by cfg.Backend. An unknown or "none"
// backend returns a no-op gateway: callers must treat ErrNoGateway as a
// signal to fall back to rule-based behavior, not as a fatal error.
func New(cfg config.LLMGatewayConfig) Gateway {
	switch cfg.Backend {
	case "openai":
		return newOpenAIGateway(cfg)
	case "anthropic":
		return newAnthropicGateway(cfg)
	case "google":
		return newGoogleGateway(cfg)
	default:
		return noneGateway{}
	}
}

// ErrNoGateway is returned by the no-op backend. The openai, anthropic and
// google backends return their own wrapped errors instead.
var ErrNoGateway = fmt.Errorf("llm: no gateway configured")

type noneGateway struct{}

func (noneGateway) Chat(ctx context.Context, msgs []Message, internalCall bool) (string, error) {
	return "", ErrNoGateway
}
