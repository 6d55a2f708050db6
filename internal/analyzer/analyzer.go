// Package analyzer implements C5: extraction of a ConversationContext from
// the current utterance plus the conversation history, grounded on
// ha_rag_bridge's conversation_analyzer.py (accent folding aside — the
// keyword tables in internal/patterns carry the accented forms directly).
package analyzer

import (
	"context"
	"strings"

	"github.com/lopeti/ha-rag-bridge/internal/config"
	"github.com/lopeti/ha-rag-bridge/internal/patterns"
)

// Message is the minimal chat-turn shape the analyzer needs: role and text.
// Kept local (not imported from internal/llm) so this package has no
// dependency on the LLM gateway.
type Message struct {
	Role    string
	Content string
}

// Intent is the analyzer's control-vs-read classification (§4.2 step 7).
type Intent string

const (
	IntentControl Intent = "control"
	IntentRead    Intent = "read"
)

// ConversationContext is the analyzer's output (§4.2).
type ConversationContext struct {
	AreasMentioned         map[string]bool
	DomainsMentioned       map[string]bool
	DeviceClassesMentioned map[string]bool
	PreviousEntities       map[string]bool
	IsFollowUp             bool
	Intent                 Intent
	Confidence             float64
}

// Analyzer analyzes conversation turns against the keyword tables in
// internal/patterns, refreshing the DB-sourced area alias overlay on its
// own TTL.
type Analyzer struct {
	aliases *patterns.AliasTable
}

func New(aliases *patterns.AliasTable) *Analyzer {
	return &Analyzer{aliases: aliases}
}

// Analyze runs the full §4.2 algorithm.
func (a *Analyzer) Analyze(ctx context.Context, utterance string, history []Message) ConversationContext {
	lower := strings.ToLower(utterance)

	areaTable := patterns.AreaPatterns
	if a.aliases != nil {
		areaTable = a.aliases.Areas(ctx)
	}

	areas := extractAreas(lower, areaTable)
	domains, deviceClasses := extractDomainsAndClasses(lower)
	isFollowUp := patterns.MatchAny(lower, patterns.FollowUpWords) || hasTrailingIsWord(lower)

	if isFollowUp && len(areas) == 0 && len(history) > 0 {
		areas = areasFromHistory(history, areaTable)
	}

	previousEntities := extractPreviousEntities(history)

	intent := IntentRead
	if patterns.MatchAny(lower, patterns.ControlWords) {
		intent = IntentControl
	}

	return ConversationContext{
		AreasMentioned:         areas,
		DomainsMentioned:       domains,
		DeviceClassesMentioned: deviceClasses,
		PreviousEntities:       previousEntities,
		IsFollowUp:             isFollowUp,
		Intent:                 intent,
		Confidence:             confidence(areas, domains, isFollowUp),
	}
}

// hasTrailingIsWord covers the Hungarian "is"/"szintén" follow-up markers
// ("a konyhában is", "szintén kapcsold fel"), which don't fit the
// substring-anywhere FollowUpWords list because "is" is too short/common to
// match unconditionally — it only signals follow-up as a standalone word.
func hasTrailingIsWord(lower string) bool {
	fields := strings.Fields(lower)
	for _, f := range fields {
		if f == "is" || f == "szintén" {
			return true
		}
	}
	return false
}

func extractAreas(lower string, table map[string][]string) map[string]bool {
	areas := map[string]bool{}
	for area, words := range table {
		if patterns.MatchAny(lower, words) {
			areas[area] = true
		}
	}
	return areas
}

func extractDomainsAndClasses(lower string) (map[string]bool, map[string]bool) {
	domains := map[string]bool{}
	deviceClasses := map[string]bool{}

	for class, words := range patterns.SensorClasses {
		if patterns.MatchAny(lower, words) {
			domains["sensor"] = true
			deviceClasses[class] = true
		}
	}
	for domain, words := range patterns.DomainPatterns {
		if patterns.MatchAny(lower, words) {
			domains[domain] = true
		}
	}
	return domains, deviceClasses
}

// areasFromHistory inherits the area set from up to the three most recent
// user messages, stopping at the first message that yields any match
// (§4.2 step 5).
func areasFromHistory(history []Message, table map[string][]string) map[string]bool {
	seen := 0
	for i := len(history) - 1; i >= 0 && seen < 3; i-- {
		msg := history[i]
		if !strings.EqualFold(msg.Role, "user") {
			continue
		}
		seen++
		if areas := extractAreas(strings.ToLower(msg.Content), table); len(areas) > 0 {
			return areas
		}
	}
	return map[string]bool{}
}

const relevantEntitiesMarker = "Relevant entities:"

// extractPreviousEntities scans the last 5 messages for a system line of the
// form "Relevant entities: a.b,c.d" (§4.2 step 6).
func extractPreviousEntities(history []Message) map[string]bool {
	entities := map[string]bool{}
	start := len(history) - 5
	if start < 0 {
		start = 0
	}
	for _, msg := range history[start:] {
		if !strings.EqualFold(msg.Role, "system") {
			continue
		}
		for _, line := range strings.Split(msg.Content, "\n") {
			if !strings.HasPrefix(line, relevantEntitiesMarker) {
				continue
			}
			rest := strings.TrimSpace(strings.TrimPrefix(line, relevantEntitiesMarker))
			for _, id := range strings.Split(rest, ",") {
				id = strings.TrimSpace(id)
				if id != "" && strings.Contains(id, ".") {
					entities[id] = true
				}
			}
		}
	}
	return entities
}

// confidence implements the §4.2 step 8 heuristic: a weighted mix that
// reaches ≥0.5 as soon as an area or domain is detected, with follow-up
// resolution (an area set recovered from history) adding a smaller bump.
func confidence(areas, domains map[string]bool, isFollowUp bool) float64 {
	score := 0.2
	if len(areas) > 0 {
		score += 0.35
	}
	if len(domains) > 0 {
		score += 0.35
	}
	if isFollowUp && len(areas) > 0 {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// AreaBoost returns the §4.2 area boost factor for a mentioned area.
func AreaBoost(cfg config.RankingConfig, area string, isFollowUp bool) float64 {
	boost := cfg.AreaBoostSpecific
	if area == patterns.HouseArea {
		boost = cfg.AreaBoostHouse
	}
	if isFollowUp {
		boost *= cfg.FollowUpMultiplier
	}
	return boost
}

// DomainBoost and DeviceClassBoost return the §4.2 domain/device-class boost
// factors, exposed separately since only device-class mentions carry the
// higher weight.
func DomainBoost(cfg config.RankingConfig) float64      { return cfg.DomainBoost }
func DeviceClassBoost(cfg config.RankingConfig) float64 { return cfg.DeviceClassBoost }
