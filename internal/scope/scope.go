// Package scope implements C7: the nine-rule decision table that turns a
// ConversationContext (C5) plus the raw utterance into a retrieval scope
// (MICRO/MACRO/OVERVIEW), a k budget, and a confidence score. Grounded on
// ha_rag_bridge's llm_scope_detection_node, which despite its name is a pure
// keyword decision table, not an LLM call.
package scope

import (
	"strings"

	"github.com/lopeti/ha-rag-bridge/internal/analyzer"
	"github.com/lopeti/ha-rag-bridge/internal/config"
	"github.com/lopeti/ha-rag-bridge/internal/patterns"
)

// Scope is one of the three retrieval scopes (§3, §4.4).
type Scope string

const (
	Micro    Scope = "MICRO"
	Macro    Scope = "MACRO"
	Overview Scope = "OVERVIEW"
)

// FormatterHint carries a strong formatting cue out of the decision table,
// e.g. a temperature query in one area prefers grouping by the climate
// cluster over the generic per-area grouping (§4.4 rule 4, consumed by C13).
type FormatterHint string

const (
	HintNone                   FormatterHint = ""
	HintClimateClusterPriority FormatterHint = "climate_cluster_priority"
)

// Result is the scope detector's output.
type Result struct {
	Scope         Scope
	K             int
	Confidence    float64
	Reasoning     string
	FormatterHint FormatterHint
}

var quantityWords = []string{"összes", "minden", "all"}
var houseWideWords = []string{"otthon", "house", "home"}
var temperatureWords = []string{"hány fok", "hőmérséklet", "temperature"}
var quantityQueryWords = []string{"mennyi", "hány fok"}

// Detect runs the full §4.4 decision table, top to bottom, first match wins.
func Detect(cfg config.ScopeConfig, utterance string, ctx analyzer.ConversationContext) Result {
	lower := strings.ToLower(utterance)
	areaCount := len(ctx.AreasMentioned)
	hasArea := areaCount > 0
	hasHouseArea := ctx.AreasMentioned[patterns.HouseArea]
	hasControl := ctx.Intent == analyzer.IntentControl
	hasQuantity := containsAny(lower, quantityWords)

	switch {
	case hasControl && hasQuantity:
		// Rule 1: control verb + quantity modifier → MACRO.
		return Result{
			Scope: Macro, K: 25, Confidence: 0.85,
			Reasoning: "control action with quantity modifier (összes/minden/all)",
		}

	case hasControl && areaCount == 1 && !hasQuantity:
		// Rule 2: control verb + one area, no quantity → MICRO.
		return Result{
			Scope: Micro, K: 8, Confidence: 0.75,
			Reasoning: "single device control action in a specific area",
		}

	case hasControl && !hasArea && !hasQuantity:
		// Rule 3: control verb alone → MICRO.
		return Result{
			Scope: Micro, K: 20, Confidence: 0.8,
			Reasoning: "simple control action without area scope",
		}

	case containsAny(lower, temperatureWords) && areaCount == 1:
		// Rule 4: temperature phrase + single area → MACRO, climate hint.
		return Result{
			Scope: Macro, K: 22, Confidence: 0.85,
			Reasoning:     "temperature query in a specific area",
			FormatterHint: HintClimateClusterPriority,
		}

	case areaCount == 1 && !hasHouseArea:
		// Rule 5: single area mentioned (not house-wide) → MACRO.
		return Result{
			Scope: Macro, K: 22, Confidence: 0.8,
			Reasoning: "single area-specific query",
		}

	case containsAny(lower, quantityQueryWords) && !hasQuantity:
		// Rule 6: "mennyi"/"hány fok" without quantity → MICRO.
		return Result{
			Scope: Micro, K: 20, Confidence: 0.7,
			Reasoning: "specific value query without area context",
		}

	case containsAny(lower, houseWideWords) || areaCount > 1:
		// Rule 7: house-wide words or ≥2 areas → OVERVIEW.
		return Result{
			Scope: Overview, K: 45, Confidence: 0.75,
			Reasoning: "house-wide or multi-area query",
		}

	case hasQuantity:
		// Rule 8: global quantifier → OVERVIEW.
		return Result{
			Scope: Overview, K: 45, Confidence: 0.8,
			Reasoning: "global quantifier detected",
		}

	default:
		// Rule 9: length heuristic.
		tokens := len(strings.Fields(utterance))
		switch {
		case tokens <= 3:
			return Result{Scope: Micro, K: 8, Confidence: 0.5, Reasoning: "short query fallback"}
		case tokens >= 8:
			return Result{Scope: Overview, K: 35, Confidence: 0.5, Reasoning: "long query fallback"}
		default:
			return Result{Scope: Macro, K: 18, Confidence: 0.5, Reasoning: "medium length query fallback"}
		}
	}
}

// Fallback is the §7 "bad input" / engine-error scope: MACRO with a safe,
// minimal k and low confidence (invariant 8: k ≤ 15, confidence ≤ 0.3), used
// for an empty/garbage query or when conversation analysis itself failed.
func Fallback(reason string) Result {
	return Result{Scope: Macro, K: 12, Confidence: 0.2, Reasoning: "error fallback: " + reason}
}

// garbageTokens are keyboard-mash/placeholder words the original
// fallback_scope_detection_node and its routing guard both special-case
// ("qwerty 12345" in §8 scenario 4 must hit this, not the length heuristic).
var garbageTokens = []string{"qwerty", "xyz", "12345", "test123", "asdf"}

// IsBadInput reports whether utterance should be routed straight to
// Fallback instead of the normal decision table (§7 "bad input" category):
// empty, shorter than 3 characters, digits-only, carrying no alphabetic
// content at all (the first three collapse to "no letters" once a length
// check is applied), or containing a known garbage/placeholder token.
func IsBadInput(utterance string) bool {
	trimmed := strings.TrimSpace(utterance)
	if trimmed == "" || len(trimmed) < 3 {
		return true
	}
	hasLetter := false
	for _, r := range trimmed {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r > 127 {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		return true
	}
	return containsAny(strings.ToLower(trimmed), garbageTokens)
}

func containsAny(lower string, words []string) bool {
	return patterns.MatchAny(lower, words)
}

func profileFor(cfg config.ScopeConfig, s Scope) config.ScopeProfile {
	switch s {
	case Micro:
		return cfg.Micro
	case Overview:
		return cfg.Overview
	default:
		return cfg.Macro
	}
}

// Threshold returns the cluster-search similarity threshold configured for a
// scope, consumed by the cluster index (C8).
func Threshold(cfg config.ScopeConfig, s Scope) float64 {
	return profileFor(cfg, s).Threshold
}
