package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lopeti/ha-rag-bridge/internal/analyzer"
	"github.com/lopeti/ha-rag-bridge/internal/cache"
	"github.com/lopeti/ha-rag-bridge/internal/cluster"
	"github.com/lopeti/ha-rag-bridge/internal/config"
	"github.com/lopeti/ha-rag-bridge/internal/crossencoder"
	"github.com/lopeti/ha-rag-bridge/internal/diagnostics"
	"github.com/lopeti/ha-rag-bridge/internal/embedding"
	"github.com/lopeti/ha-rag-bridge/internal/enrich"
	"github.com/lopeti/ha-rag-bridge/internal/format"
	"github.com/lopeti/ha-rag-bridge/internal/httpapi"
	"github.com/lopeti/ha-rag-bridge/internal/llm"
	"github.com/lopeti/ha-rag-bridge/internal/logging"
	"github.com/lopeti/ha-rag-bridge/internal/memory"
	"github.com/lopeti/ha-rag-bridge/internal/observability"
	"github.com/lopeti/ha-rag-bridge/internal/patterns"
	"github.com/lopeti/ha-rag-bridge/internal/rerank"
	"github.com/lopeti/ha-rag-bridge/internal/retrieve"
	"github.com/lopeti/ha-rag-bridge/internal/rewriter"
	"github.com/lopeti/ha-rag-bridge/internal/state"
	"github.com/lopeti/ha-rag-bridge/internal/store"
	"github.com/lopeti/ha-rag-bridge/internal/workflow"
)

// noMemberships is the cluster.MembershipStore used when no Postgres pool
// backs cluster expansion (memory backend, or a DSN-less deployment);
// the cluster-first step then contributes no candidates, and retrieval
// rests on the vector/lexical broad search alone.
type noMemberships struct{}

func (noMemberships) MembersOf(ctx context.Context, clusterKeys []string) ([]cluster.Membership, error) {
	return nil, nil
}

func main() {
	observability.InitLogger("ha-rag-bridge.log", "info")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	observability.InitLogger("ha-rag-bridge.log", cfg.LogLevel)
	logging.Log.Info("ha-rag-bridge starting up")

	shutdownOTel, err := observability.InitOTel(context.Background(), cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without distributed tracing")
		shutdownOTel = nil
	}
	if shutdownOTel != nil {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr, err := store.NewManager(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init store manager")
	}
	defer mgr.Close()

	pgPool := resolvePgPool(ctx, cfg.DB)
	if pgPool != nil {
		defer pgPool.Close()
	}
	membershipStore := resolveMembershipStore(pgPool)

	redisClient := cache.NewClient(cfg.Cache)
	stateTTL := cache.New[state.Value](redisClient, "state", cfg.Cache.StateCacheTTL)
	crossEncoderScores := cache.New[float64](redisClient, "ce-score", cfg.Cache.EntityRerankerCacheTTL)
	conversationMemoryTTL := cache.New[memory.ConversationMemory](redisClient, "conv-memory", cfg.Memory.ConversationMemoryTTL)
	enrichedContextTTL := cache.New[memory.EnrichedContext](redisClient, "enriched-context", cfg.Memory.ConversationMemoryTTL)

	stateCache := state.New(cfg.LiveState, stateTTL)
	var aliasSource patterns.AliasSource
	if pgPool != nil {
		aliasSource = patterns.NewPostgresAliasSource(pgPool)
	}
	aliases := patterns.NewAliasTable(aliasSource, cfg.Cache)

	embedder := embedding.New(cfg.Embedding)
	gateway := llm.New(cfg.LLMGateway)

	an := analyzer.New(aliases)
	rw := rewriter.New(gateway, cfg.LLMGateway, aliases)

	clusterIdx := cluster.New(mgr.Vector, membershipStore)
	retriever := retrieve.New(mgr, clusterIdx)

	ce := crossencoder.New(cfg.CrossEncoder, crossEncoderScores)
	reranker := rerank.New(ce, stateCache, cfg.Ranking)

	formatter := format.New(stateCache, mgr.Graph, mgr.Search, mgr.Vector, aliases)

	memStore := memory.New(conversationMemoryTTL, enrichedContextTTL)
	enricher := enrich.New(ctx, gateway, memStore, cfg.Memory)
	quick := enrich.NewQuickPatternAnalyzer(aliases)

	recorder := diagnostics.New(200)
	if sink, err := observability.NewClickHouseEventSink(ctx, cfg.ClickHouse); err != nil {
		log.Warn().Err(err).Msg("clickhouse event sink disabled")
	} else if sink != nil {
		recorder.SetSink(sink)
		defer func() { _ = sink.Close() }()
	}

	engine := workflow.New(an, rw, cfg.Scope, embedder, clusterIdx, retriever, reranker, formatter, memStore, enricher, recorder, quick)

	handler := otelhttp.NewHandler(httpapi.NewServer(engine, recorder, embedder, cfg.Embedding.Dimension), "ha-rag-bridge")
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Network.HTTPTimeoutMedium,
		WriteTimeout: cfg.Network.HTTPTimeoutLong,
	}

	go func() {
		logging.Log.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logging.Log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		logging.Log.Info("ha-rag-bridge stopped")
	}
}

// resolvePgPool opens the shared Postgres pool backing both the alias
// source (C1) and cluster membership store (C8) when cfg names a DSN (the
// postgres and qdrant backends both use Postgres for graph/alias data).
func resolvePgPool(ctx context.Context, cfg config.DBConfig) *pgxpool.Pool {
	if cfg.DSN == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		log.Warn().Err(err).Msg("postgres pool: failed to connect, disabling alias overlay and cluster expansion")
		return nil
	}
	return pool
}

// resolveMembershipStore falls back to a no-expansion store when no
// Postgres pool backs cluster membership (memory/none backends).
func resolveMembershipStore(pool *pgxpool.Pool) cluster.MembershipStore {
	if pool == nil {
		return noMemberships{}
	}
	return cluster.NewPostgresMembershipStore(pool)
}
