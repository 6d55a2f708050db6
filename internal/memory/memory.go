// Package memory implements C10: per-session conversation memory, an
// exponential-moving-average boost/relevance store for entities that have
// mattered in past turns. It stores and ranks remembered entities only; it
// does not re-score freshly retrieved candidates before rerank.
package memory

import (
	"context"
	"sort"
	"time"

	"github.com/lopeti/ha-rag-bridge/internal/cache"
)

// emaAlpha weights the newest turn's signal against the running average;
// 0.4 lets a handful of consecutive mentions dominate while one stale one
// doesn't wipe the memory out immediately.
const emaAlpha = 0.4

// MemoryEntity is one remembered entity (§3 data model).
type MemoryEntity struct {
	EntityID        string    `json:"entity_id"`
	Area            string    `json:"area,omitempty"`
	Domain          string    `json:"domain,omitempty"`
	BoostWeight     float64   `json:"boost_weight"`
	RelevanceScore  float64   `json:"relevance_score"`
	MemoryRelevance float64   `json:"memory_relevance"`
	LastSeen        time.Time `json:"last_seen"`
}

// EnrichedContext is the C11 enricher's output, cached with a TTL (§3, §4.6).
type EnrichedContext struct {
	DetectedDomains     []string           `json:"detected_domains"`
	MentionedAreas      []string           `json:"mentioned_areas"`
	EntityRelationships map[string]string  `json:"entity_relationships,omitempty"`
	IntentChain         []string           `json:"intent_chain,omitempty"`
	SemanticContext     string             `json:"semantic_context,omitempty"`
	UserPatterns        []string           `json:"user_patterns,omitempty"`
	ExpectedFollowups   []string           `json:"expected_followups,omitempty"`
	EntityBoostWeights  map[string]float64 `json:"entity_boost_weights,omitempty"`
	SuggestedClusters   []string           `json:"suggested_clusters,omitempty"`
	Timestamp           time.Time          `json:"timestamp"`
	Confidence          float64            `json:"confidence"`
}

// ConversationMemory is the per-session record (§3).
type ConversationMemory struct {
	SessionID        string                  `json:"session_id"`
	Entities         map[string]MemoryEntity `json:"entities"`
	AreasMentioned   map[string]bool         `json:"areas_mentioned"`
	DomainsMentioned map[string]bool         `json:"domains_mentioned"`
	UpdatedAt        time.Time               `json:"updated_at"`
}

// Store is the C10 component: a Redis-backed conversation memory plus a
// separately TTL'd EnrichedContext cache (15 minutes per §3).
type Store struct {
	memory  *cache.TTLCache[ConversationMemory]
	summary *cache.TTLCache[EnrichedContext]
}

// New builds the memory component on top of the shared cache client.
func New(memoryCache *cache.TTLCache[ConversationMemory], summaryCache *cache.TTLCache[EnrichedContext]) *Store {
	return &Store{memory: memoryCache, summary: summaryCache}
}

// GetRelevant returns up to max non-expired memory entities for session,
// ordered by decreasing relevance_score·boost_weight (§4.6 get_relevant).
// query is accepted for contract-compatibility with a future query-aware
// ranking pass; the current ranking is purely score-based.
func (s *Store) GetRelevant(ctx context.Context, session string, query string, max int) []MemoryEntity {
	mem, ok := s.memory.Get(ctx, session)
	if !ok {
		return nil
	}
	out := make([]MemoryEntity, 0, len(mem.Entities))
	for _, e := range mem.Entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RelevanceScore*out[i].BoostWeight > out[j].RelevanceScore*out[j].BoostWeight
	})
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// TopEntity is the minimal shape Store needs to upsert a retrieved/ranked
// candidate into memory.
type TopEntity struct {
	EntityID string
	Area     string
	Domain   string
	Score    float64
}

// Store upserts top_entities into session's memory, merges the area/domain
// sets, and updates relevance_score/boost_weight via EMA (§4.6 store).
// queryContext does not enter the EMA: each entity's signal comes from its
// own per-turn score alone.
func (s *Store) Store(ctx context.Context, session string, topEntities []TopEntity, areas, domains []string, queryContext string, summary *EnrichedContext) error {
	mem, ok := s.memory.Get(ctx, session)
	if !ok {
		mem = ConversationMemory{
			SessionID:        session,
			Entities:         map[string]MemoryEntity{},
			AreasMentioned:   map[string]bool{},
			DomainsMentioned: map[string]bool{},
		}
	}
	if mem.Entities == nil {
		mem.Entities = map[string]MemoryEntity{}
	}
	if mem.AreasMentioned == nil {
		mem.AreasMentioned = map[string]bool{}
	}
	if mem.DomainsMentioned == nil {
		mem.DomainsMentioned = map[string]bool{}
	}

	for _, a := range areas {
		mem.AreasMentioned[a] = true
	}
	for _, d := range domains {
		mem.DomainsMentioned[d] = true
	}

	now := time.Now()
	for _, te := range topEntities {
		existing, had := mem.Entities[te.EntityID]
		if !had {
			existing = MemoryEntity{EntityID: te.EntityID, Area: te.Area, Domain: te.Domain, BoostWeight: 1.0}
		}
		existing.Area = coalesce(te.Area, existing.Area)
		existing.Domain = coalesce(te.Domain, existing.Domain)
		existing.RelevanceScore = ema(existing.RelevanceScore, te.Score, had)
		existing.BoostWeight = ema(existing.BoostWeight, boostSignal(te.Score), had)
		if existing.BoostWeight < 1.0 {
			existing.BoostWeight = 1.0
		}
		existing.MemoryRelevance = existing.RelevanceScore * existing.BoostWeight
		existing.LastSeen = now
		mem.Entities[te.EntityID] = existing
	}

	if summary != nil {
		mem.UpdatedAt = now
	}
	mem.UpdatedAt = now

	return s.memory.Set(ctx, session, mem)
}

// boostSignal maps a per-turn candidate score onto the [1, 2] range the EMA
// nudges BoostWeight toward: a strong hit (score ≥1) pushes boost_weight up,
// a weak one holds it near the floor of 1.0 — boost_weight never decreases
// below 1.0 (invariant 4).
func boostSignal(score float64) float64 {
	if score <= 0 {
		return 1.0
	}
	signal := 1.0 + score
	if signal > 2.0 {
		signal = 2.0
	}
	return signal
}

func ema(current, sample float64, hadPrevious bool) float64 {
	if !hadPrevious {
		return sample
	}
	return emaAlpha*sample + (1-emaAlpha)*current
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// GetSummary returns the cached EnrichedContext for session, if any and not
// expired (the cache's own TTL enforces invariant 5).
func (s *Store) GetSummary(ctx context.Context, session string) (EnrichedContext, bool) {
	return s.summary.Get(ctx, session)
}

// StoreSummary writes ctx's EnrichedContext with the configured TTL
// (default 15 minutes, enforced by the cache the Store was built with).
func (s *Store) StoreSummary(ctx context.Context, session string, ec EnrichedContext) error {
	ec.Timestamp = time.Now()
	return s.summary.Set(ctx, session, ec)
}

// CleanupExpired scans the memory cache and drops any entry whose
// last-touched entity set is entirely stale beyond staleAfter, returning the
// count removed. Redis TTLs already expire whole session keys; this exists
// for the case a session's TTL was refreshed by an unrelated write while its
// entities individually aged out.
func (s *Store) CleanupExpired(ctx context.Context, staleAfter time.Duration) (int, error) {
	ids, err := s.memory.Keys(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	cutoff := time.Now().Add(-staleAfter)
	for _, id := range ids {
		mem, ok := s.memory.Get(ctx, id)
		if !ok {
			continue
		}
		if mem.UpdatedAt.Before(cutoff) {
			if err := s.memory.Delete(ctx, id); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
