package cluster

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresMembershipStore is the local/dev backing for MembershipStore,
// following the table-per-concern convention of internal/store's postgres_*
// files: one small, purpose-built table rather than a generic edge store.
type postgresMembershipStore struct {
	pool *pgxpool.Pool
}

// NewPostgresMembershipStore provisions cluster_members if absent and
// returns a MembershipStore backed by it.
func NewPostgresMembershipStore(pool *pgxpool.Pool) MembershipStore {
	ctx := context.Background()
	_, _ = pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS cluster_members (
  cluster_key   TEXT NOT NULL,
  entity_id     TEXT NOT NULL,
  role          TEXT NOT NULL DEFAULT '',
  weight        DOUBLE PRECISION NOT NULL DEFAULT 1.0,
  context_boost DOUBLE PRECISION NOT NULL DEFAULT 0.0,
  PRIMARY KEY (cluster_key, entity_id)
);
`)
	return &postgresMembershipStore{pool: pool}
}

func (s *postgresMembershipStore) MembersOf(ctx context.Context, clusterKeys []string) ([]Membership, error) {
	if len(clusterKeys) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT cluster_key, entity_id, role, weight, context_boost
FROM cluster_members
WHERE cluster_key = ANY($1)
`, clusterKeys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.ClusterKey, &m.Entity, &m.Role, &m.Weight, &m.ContextBoost); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
