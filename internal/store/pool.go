package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenPool creates a Postgres connection pool using the conservative
// defaults (newPgPool, factory.go) shared by the postgres/qdrant backends'
// entity graph, lexical index, and embeddings tables.
func OpenPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return newPgPool(ctx, dsn)
}
