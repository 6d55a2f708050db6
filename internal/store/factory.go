package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lopeti/ha-rag-bridge/internal/config"
)

// NewManager constructs the store backends named in §6.2/§6.4 from cfg.DB.
//
// Backend selection is one knob (DB_BACKEND), not three, because the three
// stores always come from the same deployment: "memory" for tests and the
// zero-dependency quickstart, "postgres" for the local/dev fallback (lexical
// search + graph traversal, pgvector k-NN), and "qdrant" for the real
// vector index with Postgres still backing search and graph.
func NewManager(ctx context.Context, cfg config.DBConfig) (Manager, error) {
	var m Manager
	switch cfg.Backend {
	case "", "memory":
		m.Search = NewMemorySearch()
		m.Vector = NewMemoryVector()
		m.Graph = NewMemoryGraph()
		return m, nil
	case "postgres":
		if cfg.DSN == "" {
			return Manager{}, fmt.Errorf("store: postgres backend requires DB_DSN")
		}
		p, err := newPgPool(ctx, cfg.DSN)
		if err != nil {
			return Manager{}, fmt.Errorf("store: connect postgres: %w", err)
		}
		m.Search = NewPostgresSearch(p)
		m.Vector = NewPostgresVector(p, cfg.EmbedDim, "cosine")
		m.Graph = NewPostgresGraph(p)
		return m, nil
	case "qdrant":
		if cfg.DSN == "" {
			return Manager{}, fmt.Errorf("store: qdrant backend requires DB_DSN (postgres DSN for search/graph) and QDRANT_URL")
		}
		p, err := newPgPool(ctx, cfg.DSN)
		if err != nil {
			return Manager{}, fmt.Errorf("store: connect postgres: %w", err)
		}
		m.Search = NewPostgresSearch(p)
		m.Graph = NewPostgresGraph(p)
		qv, err := NewQdrantVector(cfg.URL, "entities", cfg.EmbedDim, "cosine")
		if err != nil {
			return Manager{}, fmt.Errorf("store: connect qdrant: %w", err)
		}
		m.Vector = qv
		return m, nil
	case "none", "disabled":
		m.Search = noopSearch{}
		m.Vector = noopVector{}
		m.Graph = noopGraph{}
		return m, nil
	default:
		return Manager{}, fmt.Errorf("store: unsupported backend %q", cfg.Backend)
	}
}

// noopSearch/noopVector/noopGraph back the "none" backend, used by
// components that want a Manager without any storage wired (e.g. the
// cross-encoder fallback path in tests).
type noopSearch struct{}

func (noopSearch) Index(context.Context, string, string, map[string]string) error { return nil }
func (noopSearch) Remove(context.Context, string) error                           { return nil }
func (noopSearch) Search(context.Context, string, int) ([]SearchResult, error)    { return nil, nil }

type noopVector struct{}

func (noopVector) Upsert(context.Context, string, []float32, map[string]string) error { return nil }
func (noopVector) Delete(context.Context, string) error                               { return nil }
func (noopVector) SimilaritySearch(context.Context, []float32, int, map[string]string) ([]VectorResult, error) {
	return nil, nil
}

type noopGraph struct{}

func (noopGraph) UpsertNode(context.Context, string, []string, map[string]any) error { return nil }
func (noopGraph) UpsertEdge(context.Context, string, string, string, map[string]any) error {
	return nil
}
func (noopGraph) Neighbors(context.Context, string, string) ([]string, error) { return nil, nil }
func (noopGraph) GetNode(context.Context, string) (Node, bool)                { return Node{}, false }

func newPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	// Conservative defaults; can be made configurable later
	cfg.MaxConns = 8
	cfg.MinConns = 0
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
