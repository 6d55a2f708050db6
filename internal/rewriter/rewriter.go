// Package rewriter implements C6: turning a context-dependent follow-up
// utterance ("és a hálószobában?", "ott is?") into a standalone query the
// retriever (C9) can run without the rest of the conversation.
package rewriter

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lopeti/ha-rag-bridge/internal/config"
	"github.com/lopeti/ha-rag-bridge/internal/llm"
	"github.com/lopeti/ha-rag-bridge/internal/patterns"
)

// Message is the minimal chat-turn shape the rewriter needs.
type Message struct {
	Role    string
	Content string
}

// Method records which path produced the rewrite (§4.3 contract).
type Method string

const (
	MethodLLM             Method = "llm"
	MethodRuleBased       Method = "rule_based"
	MethodNoRewriteNeeded Method = "no_rewrite_needed"
	MethodDisabled        Method = "disabled"
	MethodError           Method = "error"
)

// Result is the §4.3 contract's output shape.
type Result struct {
	Original             string
	Rewritten            string
	Confidence           float64
	Method               Method
	CoreferencesResolved []string
	IntentInherited      string
	ProcessingTimeMS     int64
}

// Rewriter holds the optional LLM gateway and the alias-aware area table used
// to validate "és a <AREA>" rewrites.
type Rewriter struct {
	gateway llm.Gateway
	cfg     config.LLMGatewayConfig
	aliases *patterns.AliasTable
}

func New(gateway llm.Gateway, cfg config.LLMGatewayConfig, aliases *patterns.AliasTable) *Rewriter {
	return &Rewriter{gateway: gateway, cfg: cfg, aliases: aliases}
}

// Rewrite runs the full §4.3 algorithm. previousIntentHint, when non-empty,
// seeds IntentInherited; the rule-based path uses it as the verb phrase it
// re-attaches to a resolved area or pronoun only when the history holds no
// user turn to take that phrase from. Callers typically pass the
// analyzer's Intent string for the previous turn.
func (r *Rewriter) Rewrite(ctx context.Context, current string, history []Message, previousIntentHint string) Result {
	start := time.Now()
	res := Result{Original: current, Rewritten: current}

	if !r.triggered(current, history) {
		res.Method = MethodNoRewriteNeeded
		res.Confidence = 1.0
		res.ProcessingTimeMS = time.Since(start).Milliseconds()
		return res
	}

	if r.gateway != nil {
		if rewritten, err := r.llmRewrite(ctx, current, history); err == nil {
			res.Rewritten = rewritten
			res.Method = MethodLLM
			res.Confidence = 0.85
			res.IntentInherited = previousIntentHint
			res.ProcessingTimeMS = time.Since(start).Milliseconds()
			return res
		}
	}

	if rewritten, resolved, ok := r.ruleBasedRewrite(current, history, previousIntentHint); ok {
		res.Rewritten = rewritten
		res.Method = MethodRuleBased
		res.Confidence = 0.6
		res.CoreferencesResolved = resolved
		res.IntentInherited = previousIntentHint
		res.ProcessingTimeMS = time.Since(start).Milliseconds()
		return res
	}

	res.Method = MethodError
	res.Confidence = 0.0
	res.ProcessingTimeMS = time.Since(start).Milliseconds()
	return res
}

// triggered implements the §4.3 trigger condition: history non-empty AND
// (follow-up pattern match OR utterance ≤3 tokens).
func (r *Rewriter) triggered(current string, history []Message) bool {
	if len(history) == 0 {
		return false
	}
	lower := strings.ToLower(current)
	if patterns.MatchAny(lower, patterns.FollowUpWords) || hasIsWord(lower) {
		return true
	}
	return len(strings.Fields(current)) <= 3
}

func hasIsWord(lower string) bool {
	for _, f := range strings.Fields(lower) {
		if f == "is" || f == "szintén" {
			return true
		}
	}
	return false
}

const rewritePrompt = `You resolve Hungarian follow-up questions about smart-home devices into standalone queries. Given the recent conversation turns and a follow-up message, output ONLY the rewritten standalone query, nothing else — no quotes, no explanation, no label.`

// llmRewrite builds a few-shot prompt over the last ≤4 turns and asks the
// gateway to resolve the follow-up, bounded by the configured (default 2s)
// deadline.
func (r *Rewriter) llmRewrite(ctx context.Context, current string, history []Message) (string, error) {
	deadline := r.cfg.RewriteTimeout
	if deadline <= 0 {
		deadline = 2 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	msgs := []llm.Message{{Role: "system", Content: rewritePrompt}}
	for _, m := range lastTurns(history, 4) {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: current})

	reply, err := r.gateway.Chat(cctx, msgs, true)
	if err != nil {
		return "", fmt.Errorf("rewriter: llm call: %w", err)
	}

	cleaned := cleanLLMReply(reply)
	if cleaned == "" {
		return "", fmt.Errorf("rewriter: empty llm reply")
	}
	return cleaned, nil
}

func lastTurns(history []Message, n int) []Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// cleanLLMReply strips quotes and picks the first non-label line, per §4.3.
func cleanLLMReply(reply string) string {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		line = strings.Trim(line, `"'`)
		if line == "" {
			continue
		}
		if idx := strings.Index(line, ":"); idx >= 0 && idx < 20 && looksLikeLabel(line[:idx]) {
			continue
		}
		return line
	}
	return ""
}

func looksLikeLabel(prefix string) bool {
	lower := strings.ToLower(strings.TrimSpace(prefix))
	switch lower {
	case "rewritten", "rewritten query", "query", "answer", "output":
		return true
	default:
		return false
	}
}

var esAPattern = regexp.MustCompile(`(?i)és\s+a\s+(\S+)`)

// ruleBasedRewrite implements the three §4.3 rule-based patterns against the
// last user turn's inferred intent phrase.
func (r *Rewriter) ruleBasedRewrite(current string, history []Message, previousIntentHint string) (string, []string, bool) {
	lower := strings.ToLower(current)

	areaTable := patterns.AreaPatterns
	if r.aliases != nil {
		areaTable = r.aliases.Areas(context.Background())
	}

	rawPrev := lastUserTurn(history)
	prevIntent := strings.TrimRight(rawPrev, "?!.")
	if prevIntent == "" {
		prevIntent = previousIntentHint
	}
	if prevIntent == "" {
		return "", nil, false
	}

	if m := esAPattern.FindStringSubmatch(lower); m != nil {
		word := m[1]
		if area, ok := matchArea(word, areaTable); ok {
			verbPhrase := inferPreviousIntent(rawPrev, areaTable)
			if verbPhrase == "" {
				verbPhrase = prevIntent
			}
			return fmt.Sprintf("%s a %s", verbPhrase, area), []string{"és a " + word}, true
		}
	}

	if containsWord(lower, "ott") {
		return prevIntent, []string{"ott"}, true
	}

	if hasIsWord(lower) {
		tail := stripIsWord(current)
		if tail == "" {
			return prevIntent, []string{"is"}, true
		}
		return fmt.Sprintf("%s %s", prevIntent, tail), []string{"is"}, true
	}

	return "", nil, false
}

func containsWord(lower, word string) bool {
	for _, f := range strings.Fields(lower) {
		if f == word {
			return true
		}
	}
	return false
}

func stripIsWord(current string) string {
	fields := strings.Fields(current)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.EqualFold(f, "is") || strings.EqualFold(f, "szintén") {
			continue
		}
		out = append(out, f)
	}
	return strings.TrimSpace(strings.Join(out, " "))
}

// matchArea reports whether word (possibly carrying a trailing punctuation
// mark or case suffix) resolves to a known area via substring matching
// against the area keyword table.
func matchArea(word string, table map[string][]string) (string, bool) {
	word = strings.Trim(word, ".,!?")
	for area, keywords := range table {
		if patterns.MatchAny(word, keywords) {
			return area, true
		}
	}
	return "", false
}

// lastUserTurn returns the most recent user message's content, trimmed, or
// "" if none is found.
func lastUserTurn(history []Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if strings.EqualFold(history[i].Role, "user") {
			return strings.TrimSpace(history[i].Content)
		}
	}
	return ""
}

var articleWords = map[string]bool{"a": true, "az": true}

// inferPreviousIntent strips the trailing question mark and any area mention
// from the previous user turn, leaving the bare verb phrase ("Hány fok van",
// "Kapcsold fel a lámpát") that the rule-based patterns reattach to a newly
// resolved area or pronoun.
func inferPreviousIntent(prevUserMsg string, areaTable map[string][]string) string {
	if prevUserMsg == "" {
		return ""
	}
	prevUserMsg = strings.TrimRight(strings.TrimSpace(prevUserMsg), "?!.")

	fields := strings.Fields(prevUserMsg)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		clean := strings.Trim(strings.ToLower(f), ".,!?")
		if _, isArea := matchArea(clean, areaTable); isArea {
			if len(out) > 0 && articleWords[strings.ToLower(out[len(out)-1])] {
				out = out[:len(out)-1]
			}
			continue
		}
		out = append(out, f)
	}
	phrase := strings.TrimSpace(strings.Join(out, " "))
	if phrase == "" {
		return prevUserMsg
	}
	return phrase
}
