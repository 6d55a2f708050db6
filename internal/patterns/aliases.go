package patterns

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/lopeti/ha-rag-bridge/internal/config"
)

// AliasSource loads per-area alias lists from persisted entity metadata.
// Grounded on the original's "FOR e IN entity FILTER e.text LIKE
// '%Aliases:%'" query: entities whose description text carries a literal
// "Aliases: foo bar baz" suffix contribute those words as extra area
// keywords, letting a household rename "nappali" to "woonkamer" without a
// code change.
type AliasSource interface {
	LoadAreaAliases(ctx context.Context) (map[string][]string, error)
}

// PostgresAliasSource reads the alias suffix out of the entity table the
// local/dev store backend maintains (see internal/store/postgres_doc.go for
// the table layout this assumes).
type PostgresAliasSource struct {
	pool *pgxpool.Pool
}

func NewPostgresAliasSource(pool *pgxpool.Pool) *PostgresAliasSource {
	return &PostgresAliasSource{pool: pool}
}

func (s *PostgresAliasSource) LoadAreaAliases(ctx context.Context) (map[string][]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT area, text FROM entities WHERE area IS NOT NULL AND text LIKE '%Aliases:%'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var area, text string
		if err := rows.Scan(&area, &text); err != nil {
			return nil, err
		}
		idx := strings.Index(text, "Aliases:")
		if idx < 0 {
			continue
		}
		for _, alias := range strings.Fields(text[idx+len("Aliases:"):]) {
			out[area] = append(out[area], strings.TrimSpace(alias))
		}
	}
	return out, rows.Err()
}

// AliasTable merges AreaPatterns with DB-sourced aliases and refreshes the
// overlay on a TTL (conversation_aliases_ttl), matching the original's
// TTLCache-backed _load_dynamic_aliases. A source error or a nil source
// leaves the table at the static base patterns — alias enrichment degrades
// gracefully, it never blocks analysis.
type AliasTable struct {
	source     AliasSource
	ttl        time.Duration
	overlay    map[string][]string
	lastLoaded time.Time
}

// NewAliasTable constructs a table that lazily (re)loads from source every
// ttl. Pass a nil source to run on static patterns only.
func NewAliasTable(source AliasSource, cfg config.CacheConfig) *AliasTable {
	return &AliasTable{source: source, ttl: cfg.ConversationAliasesTTL}
}

// Areas returns the effective area→keywords map, refreshing the DB overlay
// if the TTL has elapsed.
func (t *AliasTable) Areas(ctx context.Context) map[string][]string {
	if t.source != nil && time.Since(t.lastLoaded) > t.ttl {
		if overlay, err := t.source.LoadAreaAliases(ctx); err == nil {
			t.overlay = overlay
			t.lastLoaded = time.Now()
		} else {
			log.Debug().Err(err).Msg("patterns_alias_refresh_failed")
		}
	}
	if len(t.overlay) == 0 {
		return AreaPatterns
	}
	merged := make(map[string][]string, len(AreaPatterns))
	for area, words := range AreaPatterns {
		merged[area] = append(append([]string{}, words...), t.overlay[area]...)
	}
	for area, words := range t.overlay {
		if _, ok := merged[area]; !ok {
			merged[area] = words
		}
	}
	return merged
}
