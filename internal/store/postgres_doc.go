package store

// This file documents the Postgres-backed store's bootstrap SQL so the
// schema for the entity/area/device/cluster graph (§3, §6.4) lives in one
// place rather than scattered across postgres_*.go. Production deployments
// should manage migrations with an external tool; our code performs
// best-effort CREATE IF NOT EXISTS for local/dev.

/*
Extensions
- vector: pgvector, backs NewPostgresVector's embeddings table
- pg_trgm: optional FTS helper, not required for plainto_tsquery

Tables
- entity_lexical_index(id TEXT PRIMARY KEY, text TEXT NOT NULL, metadata JSONB,
    ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(text,''))) STORED)
  One row per indexed entity_id; text is the friendly_name/area/domain blob
  used by C9's lexical fallback leg. GIN index on ts.
- embeddings(id TEXT PRIMARY KEY, vec vector[(dim)], metadata JSONB)
  One row per entity_id; metadata carries domain/area for filtered k-NN.
- graph_nodes(id TEXT PRIMARY KEY, labels TEXT[], props JSONB)
  Entities ("entity" label) and manual documents ("document" label) that
  C13's formatter resolves via device_has_manual edges.
- graph_edges(id BIGSERIAL PK, source TEXT, rel TEXT, target TEXT, props JSONB)
  Typed relations between nodes, e.g. device_has_manual, entity_in_area.
  Indexes on (source, rel) and (target, rel).

Population of graph_nodes/graph_edges/entity_lexical_index from the Home
Assistant entity registry is a bootstrap/ETL concern (out of scope, see
DESIGN.md); this package only reads and writes the rows, it never seeds them.
*/
