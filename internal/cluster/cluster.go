// Package cluster implements C8: the read-only cluster index consulted by
// the retriever (C9) before falling back to plain vector/lexical search.
// Clusters are pre-computed groupings of entities (by area, domain, device
// class, "climate", or a house-wide "overview" cluster); searching them first
// lets a handful of semantically on-topic clusters outrank a broad k-NN scan,
// grounded on ha_rag_bridge's cluster_manager.search_clusters /
// get_cluster_entities pair.
package cluster

import (
	"context"
	"sort"

	"github.com/lopeti/ha-rag-bridge/internal/scope"
	"github.com/lopeti/ha-rag-bridge/internal/store"
)

// Record is one cluster hit from SearchClusters.
type Record struct {
	Key   string
	Type  string
	Score float64
}

// Membership is one entity's role within an expanded cluster (§4.5 contract).
type Membership struct {
	Entity       string
	ClusterKey   string
	Role         string
	Weight       float64
	ContextBoost float64
}

// MembershipStore resolves cluster keys to their entity memberships. Kept as
// a narrow interface (distinct from store.GraphDB) since cluster membership
// is a flat many-to-many relation, not a typed-edge graph traversal.
type MembershipStore interface {
	MembersOf(ctx context.Context, clusterKeys []string) ([]Membership, error)
}

// Index is the C8 contract.
type Index struct {
	vectors     store.VectorStore
	memberships MembershipStore
}

func New(vectors store.VectorStore, memberships MembershipStore) *Index {
	return &Index{vectors: vectors, memberships: memberships}
}

// SearchClusters searches each requested cluster type independently (cluster
// vectors are tagged with metadata["cluster_type"]) and merges the hits
// above threshold, capped at kClusters total, highest score first.
func (idx *Index) SearchClusters(ctx context.Context, queryVec []float32, clusterTypes []string, kClusters int, threshold float64) ([]Record, error) {
	if idx.vectors == nil || kClusters <= 0 {
		return nil, nil
	}

	var all []Record
	for _, ct := range clusterTypes {
		hits, err := idx.vectors.SimilaritySearch(ctx, queryVec, kClusters, map[string]string{"cluster_type": ct})
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if h.Score < threshold {
				continue
			}
			all = append(all, Record{Key: h.ID, Type: ct, Score: h.Score})
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > kClusters {
		all = all[:kClusters]
	}
	return all, nil
}

// Expand resolves cluster keys to their member entities.
func (idx *Index) Expand(ctx context.Context, clusterKeys []string) ([]Membership, error) {
	if idx.memberships == nil || len(clusterKeys) == 0 {
		return nil, nil
	}
	return idx.memberships.MembersOf(ctx, clusterKeys)
}

// TypesForScope implements the §4.5 cluster-type selection table.
func TypesForScope(s scope.Scope, climatePriority bool) []string {
	switch s {
	case scope.Micro:
		return []string{"specific", "device"}
	case scope.Overview:
		return []string{"overview", "area", "domain"}
	default: // Macro
		if climatePriority {
			return []string{"climate", "area", "domain"}
		}
		return []string{"area", "domain", "specific"}
	}
}
