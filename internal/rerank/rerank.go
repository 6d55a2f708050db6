// Package rerank implements C12: cross-encoder-based scoring of retrieved
// candidates, context-boost factors from the conversation analyzer and live
// state, and the primary/related split handed to the prompt formatter (C13).
// Grounded on ha_rag_bridge's rerank_with_context (§4.8).
package rerank

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lopeti/ha-rag-bridge/internal/analyzer"
	"github.com/lopeti/ha-rag-bridge/internal/config"
	"github.com/lopeti/ha-rag-bridge/internal/crossencoder"
	"github.com/lopeti/ha-rag-bridge/internal/retrieve"
	"github.com/lopeti/ha-rag-bridge/internal/scope"
	"github.com/lopeti/ha-rag-bridge/internal/state"
)

// Ranked is one reranked entity, carrying every factor the invariant in §3
// requires (base_score, context_boost, final_score, ranking_factors).
type Ranked struct {
	EntityID       string
	Domain         string
	DeviceClass    string
	Area           string
	FriendlyName   string
	BaseScore      float64
	ContextBoost   float64
	FinalScore     float64
	RankingFactors map[string]float64
	HasActiveValue bool
	CurrentValue   string
}

// Result is the reranker's output after the multi-stage filter and the
// primary/related split (§4.8 steps 1-5).
type Result struct {
	Primary []Ranked
	Related []Ranked
}

// Reranker scores candidates against the cross-encoder and the context
// boost table, then filters and splits them.
type Reranker struct {
	crossEncoder crossencoder.CrossEncoder
	stateCache   *state.Cache
	ranking      config.RankingConfig
}

func New(ce crossencoder.CrossEncoder, stateCache *state.Cache, ranking config.RankingConfig) *Reranker {
	return &Reranker{crossEncoder: ce, stateCache: stateCache, ranking: ranking}
}

// controllableDomains backs the "controllable" factor (§4.8).
var controllableDomains = map[string]bool{
	"light": true, "switch": true, "climate": true, "cover": true, "lock": true,
}

// Rerank implements the §4.8 contract: (candidates, query, conv context, k,
// scope) → primary/related split.
func (r *Reranker) Rerank(ctx context.Context, candidates []retrieve.Candidate, query string, convCtx analyzer.ConversationContext, detectedScope scope.Scope, k int) (Result, error) {
	if len(candidates) == 0 {
		return Result{}, nil
	}

	pairs := make([]crossencoder.Pair, len(candidates))
	for i, c := range candidates {
		pairs[i] = crossencoder.Pair{Query: query, Doc: describe(c)}
	}
	baseScores, err := r.crossEncoder.Predict(ctx, pairs)
	if err != nil {
		return Result{}, fmt.Errorf("rerank: predict: %w", err)
	}

	ranked := make([]Ranked, len(candidates))
	for i, c := range candidates {
		ranked[i] = r.scoreOne(ctx, c, baseScores[i], convCtx)
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].FinalScore > ranked[j].FinalScore })

	n := len(ranked)
	target := targetCount(detectedScope, k, n)

	filtered := make([]Ranked, 0, target)
	for _, rk := range ranked {
		if len(filtered) >= target {
			break
		}
		if rk.FinalScore < r.ranking.MinFinalScore {
			continue
		}
		filtered = append(filtered, rk)
	}

	filtered = preferActiveSensors(filtered, ranked, target, 2*k)

	primary, related := split(filtered)
	return Result{Primary: primary, Related: related}, nil
}

func (r *Reranker) scoreOne(ctx context.Context, c retrieve.Candidate, base float64, convCtx analyzer.ConversationContext) Ranked {
	domain := c.Metadata[retrieve.MetaDomain]
	deviceClass := c.Metadata[retrieve.MetaDeviceClass]
	area := c.Metadata[retrieve.MetaArea]

	factors := map[string]float64{}
	contextBoost := 0.0

	if area != "" && convCtx.AreasMentioned[area] {
		boost := r.ranking.AreaBoostSpecific
		if area == "ház" {
			boost = r.ranking.AreaBoostHouse
		}
		factors["area_"+area] = boost - 1
		contextBoost += boost - 1
	}
	if domain != "" && convCtx.DomainsMentioned[domain] {
		factors["domain_"+domain] = r.ranking.DomainBoost - 1
		contextBoost += r.ranking.DomainBoost - 1
	}
	if deviceClass != "" && convCtx.DeviceClassesMentioned[deviceClass] {
		factors["device_class_"+deviceClass] = r.ranking.DeviceClassBoost - 1
		contextBoost += r.ranking.DeviceClassBoost - 1
	}
	if convCtx.PreviousEntities[c.EntityID] {
		factors["previous_mention"] = r.ranking.PreviousMentionBoost
		contextBoost += r.ranking.PreviousMentionBoost
	}
	if convCtx.Intent == analyzer.IntentControl && controllableDomains[domain] {
		factors["controllable"] = r.ranking.ControllableBoost
		contextBoost += r.ranking.ControllableBoost
	}
	if convCtx.Intent == analyzer.IntentRead && domain == "sensor" {
		factors["readable"] = r.ranking.ReadableBoost
		contextBoost += r.ranking.ReadableBoost
	}

	hasActive := false
	var currentValue string
	if domain == "sensor" && r.stateCache != nil {
		if v, ok := r.stateCache.Get(ctx, c.EntityID); ok && v.State != "" {
			hasActive = true
			currentValue = v.State
			factors["has_active_value"] = r.ranking.ActiveValueBoost
			contextBoost += r.ranking.ActiveValueBoost
		} else {
			factors["unavailable_penalty"] = r.ranking.UnavailablePenalty
			contextBoost += r.ranking.UnavailablePenalty
		}
	}

	var final float64
	if area != "" && convCtx.AreasMentioned[area] && base > 0 {
		final = base * (1 + 0.5*contextBoost)
	} else {
		final = base + contextBoost
	}

	return Ranked{
		EntityID:       c.EntityID,
		Domain:         domain,
		DeviceClass:    deviceClass,
		Area:           area,
		FriendlyName:   c.Metadata[retrieve.MetaFriendlyName],
		BaseScore:      base,
		ContextBoost:   contextBoost,
		FinalScore:     final,
		RankingFactors: factors,
		HasActiveValue: hasActive,
		CurrentValue:   currentValue,
	}
}

// describe implements the §4.8 describe(entity) contract.
func describe(c retrieve.Candidate) string {
	parts := []string{
		c.EntityID,
		c.Metadata[retrieve.MetaFriendlyName],
	}
	if area := c.Metadata[retrieve.MetaArea]; area != "" {
		parts = append(parts, "terület: "+area)
	}
	domainPart := c.Metadata[retrieve.MetaDomain]
	if dc := c.Metadata[retrieve.MetaDeviceClass]; dc != "" {
		domainPart += " " + dc
	}
	parts = append(parts, domainPart, c.Metadata[retrieve.MetaText])
	return strings.Join(parts, "|")
}

// targetCount implements §4.8 step 2.
func targetCount(s scope.Scope, k, n int) int {
	switch s {
	case scope.Micro:
		return minInt(8, n)
	case scope.Overview:
		return minInt(k+8, n)
	default:
		return minInt(k, n)
	}
}

// preferActiveSensors implements §4.8 step 4: within the top-2k pool, fill
// first from active sensors (or non-sensors, which carry no
// active/unavailable factor at all), then backfill with the remainder.
func preferActiveSensors(filtered, ranked []Ranked, target, poolSize int) []Ranked {
	if poolSize > len(ranked) {
		poolSize = len(ranked)
	}
	pool := ranked[:poolSize]

	inFiltered := make(map[string]bool, len(filtered))
	for _, f := range filtered {
		inFiltered[f.EntityID] = true
	}

	var preferred, rest []Ranked
	for _, rk := range pool {
		if !inFiltered[rk.EntityID] {
			continue
		}
		if rk.Domain != "sensor" || rk.HasActiveValue {
			preferred = append(preferred, rk)
		} else {
			rest = append(rest, rk)
		}
	}

	out := make([]Ranked, 0, target)
	out = append(out, preferred...)
	for _, rk := range rest {
		if len(out) >= target {
			break
		}
		out = append(out, rk)
	}
	if len(out) > target {
		out = out[:target]
	}
	return out
}

// split implements §4.8 step 5: perfect area+device-class matches, an
// already-chosen primary's area with a fresh device class, or simply
// top-of-list, become primary; hard caps bound the primary set.
func split(filtered []Ranked) (primary, related []Ranked) {
	if len(filtered) == 0 {
		return nil, nil
	}

	maxPrimary := maxInt(1, minInt(6, len(filtered)/2))

	seenAreas := map[string]bool{}
	seenClasses := map[string]bool{}

	for i, rk := range filtered {
		isPrimary := false
		switch {
		case i == 0:
			isPrimary = true
		case rk.Area != "" && rk.DeviceClass != "" && seenAreas[rk.Area] && !seenClasses[rk.DeviceClass]:
			isPrimary = true
		case rk.FinalScore >= filtered[0].FinalScore*0.8:
			isPrimary = true
		}

		if isPrimary && len(primary) < maxPrimary && (rk.DeviceClass == "" || len(seenClasses) < 3 || seenClasses[rk.DeviceClass]) {
			primary = append(primary, rk)
			if rk.Area != "" {
				seenAreas[rk.Area] = true
			}
			if rk.DeviceClass != "" {
				seenClasses[rk.DeviceClass] = true
			}
			continue
		}
		related = append(related, rk)
	}
	return primary, related
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
