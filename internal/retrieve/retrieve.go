// Package retrieve implements C9: the hybrid retriever that merges
// cluster-first results with a vector + lexical broad search, grounded on
// ha_rag_bridge's retrieve_entities_with_clusters (§4.5).
package retrieve

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lopeti/ha-rag-bridge/internal/cluster"
	"github.com/lopeti/ha-rag-bridge/internal/config"
	"github.com/lopeti/ha-rag-bridge/internal/scope"
	"github.com/lopeti/ha-rag-bridge/internal/store"
)

// Candidate is one retrieved entity on its way to the reranker (C12). Score
// is the best of the vector/lexical/cluster signal that surfaced it;
// ClusterContext is set only for entities that came from a cluster
// expansion (§4.5 step 1).
type Candidate struct {
	EntityID       string
	Score          float64
	Metadata       map[string]string
	ClusterContext *ClusterContext
}

// Metadata keys every store backend is expected to populate on indexing;
// shared by the reranker (C12) and the prompt formatter (C13) so both read
// the same entity attributes off a Candidate without redefining the schema.
const (
	MetaDomain       = "domain"
	MetaDeviceClass  = "device_class"
	MetaArea         = "area"
	MetaFriendlyName = "friendly_name"
	MetaText         = "text"
)

// ClusterContext mirrors the §4.5 `_cluster_context` annotation.
type ClusterContext struct {
	ClusterKey   string
	Role         string
	Weight       float64
	ContextBoost float64
}

// Retriever runs the §4.5 algorithm against a store.Manager and a cluster
// index.
type Retriever struct {
	store   store.Manager
	cluster *cluster.Index
}

func New(s store.Manager, idx *cluster.Index) *Retriever {
	return &Retriever{store: s, cluster: idx}
}

// Retrieve implements the §4.5 contract:
// retrieve(query_vec, query_text, scope_cfg, cluster_types, k, conv_context).
func (r *Retriever) Retrieve(ctx context.Context, queryVec []float32, queryText string, scopeCfg config.ScopeProfile, clusterTypes []string, k int) ([]Candidate, error) {
	clusterCandidates, err := r.clusterFirst(ctx, queryVec, clusterTypes, scopeCfg, k)
	if err != nil {
		return nil, fmt.Errorf("retrieve: cluster-first: %w", err)
	}

	broad, err := r.broadSearch(ctx, queryVec, queryText, 3*k)
	if err != nil {
		return nil, fmt.Errorf("retrieve: broad search: %w", err)
	}

	merged := merge(clusterCandidates, broad)

	if len(merged) < 2 {
		lexOnly, err := r.lexicalOnly(ctx, queryText, k)
		if err != nil {
			return nil, fmt.Errorf("retrieve: lexical-only fallback: %w", err)
		}
		return lexOnly, nil
	}

	return merged, nil
}

// clusterFirst is §4.5 step 1: search up to min(5, k/3) clusters, expand
// memberships, annotate each entity with its cluster context.
func (r *Retriever) clusterFirst(ctx context.Context, queryVec []float32, clusterTypes []string, scopeCfg config.ScopeProfile, k int) ([]Candidate, error) {
	if r.cluster == nil {
		return nil, nil
	}
	kClusters := k / 3
	if kClusters > 5 {
		kClusters = 5
	}
	if kClusters <= 0 {
		return nil, nil
	}

	threshold := scopeCfg.Threshold
	if threshold <= 0 {
		threshold = 0.7
	}

	records, err := r.cluster.SearchClusters(ctx, queryVec, clusterTypes, kClusters, threshold)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	keys := make([]string, len(records))
	for i, rec := range records {
		keys[i] = rec.Key
	}

	memberships, err := r.cluster.Expand(ctx, keys)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(memberships))
	for _, m := range memberships {
		out = append(out, Candidate{
			EntityID: m.Entity,
			Score:    m.Weight + m.ContextBoost,
			ClusterContext: &ClusterContext{
				ClusterKey:   m.ClusterKey,
				Role:         m.Role,
				Weight:       m.Weight,
				ContextBoost: m.ContextBoost,
			},
		})
	}
	return out, nil
}

// broadSearch is §4.5 step 2: k-NN over entity.embedding and BM25 over
// entity.text, fanned out concurrently, unioned keyed by entity_id keeping
// the higher score where both branches hit.
func (r *Retriever) broadSearch(ctx context.Context, queryVec []float32, queryText string, limit int) ([]Candidate, error) {
	var vectorHits []store.VectorResult
	var lexicalHits []store.SearchResult

	g, gctx := errgroup.WithContext(ctx)
	if r.store.Vector != nil && len(queryVec) > 0 {
		g.Go(func() error {
			hits, err := r.store.Vector.SimilaritySearch(gctx, queryVec, limit, nil)
			if err != nil {
				return err
			}
			vectorHits = hits
			return nil
		})
	}
	if r.store.Search != nil && queryText != "" {
		g.Go(func() error {
			hits, err := r.store.Search.Search(gctx, queryText, limit)
			if err != nil {
				return err
			}
			lexicalHits = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := map[string]Candidate{}
	order := make([]string, 0, len(vectorHits)+len(lexicalHits))
	for _, h := range vectorHits {
		byID[h.ID] = Candidate{EntityID: h.ID, Score: h.Score, Metadata: h.Metadata}
		order = append(order, h.ID)
	}
	for _, h := range lexicalHits {
		if existing, ok := byID[h.ID]; ok {
			if h.Score > existing.Score {
				existing.Score = h.Score
				byID[h.ID] = existing
			}
			continue
		}
		byID[h.ID] = Candidate{EntityID: h.ID, Score: h.Score, Metadata: h.Metadata}
		order = append(order, h.ID)
	}

	out := make([]Candidate, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out, nil
}

// lexicalOnly is the §4.5 step 4 fallback when the merged pool has fewer
// than 2 entities.
func (r *Retriever) lexicalOnly(ctx context.Context, queryText string, k int) ([]Candidate, error) {
	if r.store.Search == nil {
		return nil, nil
	}
	hits, err := r.store.Search.Search(ctx, queryText, k)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{EntityID: h.ID, Score: h.Score, Metadata: h.Metadata}
	}
	return out, nil
}

// merge is §4.5 step 3: cluster-first results, then non-duplicate
// vector/lexical candidates, preserving order; no truncation.
func merge(clusterFirst, broad []Candidate) []Candidate {
	seen := make(map[string]bool, len(clusterFirst)+len(broad))
	out := make([]Candidate, 0, len(clusterFirst)+len(broad))
	for _, c := range clusterFirst {
		if seen[c.EntityID] {
			continue
		}
		seen[c.EntityID] = true
		out = append(out, c)
	}
	for _, c := range broad {
		if seen[c.EntityID] {
			continue
		}
		seen[c.EntityID] = true
		out = append(out, c)
	}
	return out
}
