package observability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/lopeti/ha-rag-bridge/internal/config"
	"github.com/lopeti/ha-rag-bridge/internal/diagnostics"
)

// ClickHouseEventSink mirrors every recorded retrieval trace (C15) into a
// ClickHouse table, giving the diagnostics recorder's in-memory ring buffer
// a durable, queryable backing store. Insert failures are logged and
// swallowed — a warehouse outage must never affect request latency.
type ClickHouseEventSink struct {
	conn    clickhouse.Conn
	table   string
	timeout time.Duration
}

// NewClickHouseEventSink opens a ClickHouse connection from cfg and returns
// nil (and no error) when cfg.Enabled is false or no DSN is configured, so
// callers can unconditionally attempt to wire it.
func NewClickHouseEventSink(ctx context.Context, cfg config.ClickHouseConfig) (*ClickHouseEventSink, error) {
	if !cfg.Enabled || strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil
	}

	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	if cfg.Database != "" {
		opts.Auth.Database = cfg.Database
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = "retrieval_traces"
	}

	return &ClickHouseEventSink{conn: conn, table: table, timeout: timeout}, nil
}

// Record satisfies diagnostics.EventSink.
func (s *ClickHouseEventSink) Record(ctx context.Context, t diagnostics.Trace) {
	if s == nil || s.conn == nil {
		return
	}

	insertCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(`INSERT INTO %s
		(trace_id, session_id, user_query, scope, fallback_used, overall_quality, stage_count, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	if err := s.conn.Exec(insertCtx, query,
		t.TraceID, t.SessionID, t.UserQuery, t.Scope, t.FallbackUsed, t.Score.Overall, len(t.Stages), time.Now(),
	); err != nil {
		log.Warn().Err(err).Str("trace_id", t.TraceID).Msg("clickhouse: failed to persist retrieval trace")
	}
}

// Close releases the underlying ClickHouse connection.
func (s *ClickHouseEventSink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
