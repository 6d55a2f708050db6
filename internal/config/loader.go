package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads configuration from the environment, optionally overlaid from a
// .env file, the way the teacher's internal/config.Load does it: read
// first, fall back to defaults, never hard-fail on a missing optional var.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		DB: DBConfig{
			URL:           strOr("QDRANT_URL", "http://localhost:6334"),
			User:          strOr("DB_USER", "ha_rag"),
			Pass:          os.Getenv("DB_PASS"),
			Database:      strOr("DB_NAME", "ha_rag"),
			EmbedDim:      intOr("EMBED_DIM", 384),
			AutoBootstrap: boolOr("AUTO_BOOTSTRAP", false),
			Backend:       strOr("DB_BACKEND", "memory"),
			DSN:           os.Getenv("DB_DSN"),
		},
		Embedding: EmbeddingConfig{
			Backend:                strOr("EMBEDDING_BACKEND", "local"),
			SentenceTransformer:    strOr("SENTENCE_TRANSFORMER_MODEL", "paraphrase-multilingual-MiniLM-L12-v2"),
			CPUThreads:             intOr("EMBEDDING_CPU_THREADS", 4),
			OpenAIAPIKey:           os.Getenv("OPENAI_API_KEY"),
			GeminiAPIKey:           os.Getenv("GEMINI_API_KEY"),
			BaseURL:                strOr("EMBEDDING_BASE_URL", "http://localhost:8080/v1/embeddings"),
			Dimension:              intOr("EMBED_DIM", 384),
			Timeout:                durOr("EMBEDDING_TIMEOUT", 10*time.Second),
			QueryInstructionPrefix: strOr("EMBEDDING_QUERY_PREFIX", "query: "),
			DocInstructionPrefix:   strOr("EMBEDDING_DOC_PREFIX", "passage: "),
		},
		CrossEncoder: CrossEncoderConfig{
			Model:         strOr("CROSS_ENCODER_MODEL", "cross-encoder/ms-marco-MiniLM-L-6-v2"),
			ScaleFactor:   floatOr("CROSS_ENCODER_SCALE_FACTOR", 2.0),
			Offset:        floatOr("CROSS_ENCODER_OFFSET", 1.0),
			EnableCaching: boolOr("CROSS_ENCODER_ENABLE_CACHING", true),
			CacheTTL:      durOr("ENTITY_RERANKER_CACHE_TTL", 5*time.Minute),
			Timeout:       durOr("CROSS_ENCODER_TIMEOUT", 2*time.Second),
			BaseURL:       strOr("CROSS_ENCODER_BASE_URL", "http://localhost:8081/rerank"),
		},
		Cache: CacheConfig{
			StateCacheMaxSize:         intOr("STATE_CACHE_MAXSIZE", 2000),
			StateCacheTTL:             durOr("STATE_CACHE_TTL", 30*time.Second),
			ConversationCacheMaxSize:  intOr("CONVERSATION_CACHE_MAXSIZE", 500),
			EntityScoreCacheMaxSize:   intOr("ENTITY_SCORE_CACHE_MAXSIZE", 5000),
			EntityContextCacheMaxSize: intOr("ENTITY_CONTEXT_CACHE_MAXSIZE", 2000),
			ConversationAliasesTTL:    durOr("CONVERSATION_ALIASES_TTL", 10*time.Minute),
			EntityRerankerCacheTTL:    durOr("ENTITY_RERANKER_CACHE_TTL", 5*time.Minute),
			ServiceCacheTTL:          durOr("SERVICE_CACHE_TTL", 1*time.Minute),
			RedisAddr:                strOr("REDIS_ADDR", "localhost:6379"),
			RedisPassword:            os.Getenv("REDIS_PASSWORD"),
			RedisDB:                  intOr("REDIS_DB", 0),
		},
		Scope: ScopeConfig{
			Micro:    ScopeProfile{Threshold: floatOr("SCOPE_MICRO_THRESHOLD", 0.75), KMin: intOr("SCOPE_MICRO_KMIN", 5), KMax: intOr("SCOPE_MICRO_KMAX", 10)},
			Macro:    ScopeProfile{Threshold: floatOr("SCOPE_MACRO_THRESHOLD", 0.7), KMin: intOr("SCOPE_MACRO_KMIN", 15), KMax: intOr("SCOPE_MACRO_KMAX", 30)},
			Overview: ScopeProfile{Threshold: floatOr("SCOPE_OVERVIEW_THRESHOLD", 0.65), KMin: intOr("SCOPE_OVERVIEW_KMIN", 30), KMax: intOr("SCOPE_OVERVIEW_KMAX", 50)},
		},
		Ranking: RankingConfig{
			AreaBoostHouse:       floatOr("BOOST_AREA_HOUSE", 1.2),
			AreaBoostSpecific:    floatOr("BOOST_AREA_SPECIFIC", 2.0),
			FollowUpMultiplier:   floatOr("BOOST_FOLLOWUP_MULTIPLIER", 1.5),
			DomainBoost:          floatOr("BOOST_DOMAIN", 1.5),
			DeviceClassBoost:     floatOr("BOOST_DEVICE_CLASS", 2.0),
			PreviousMentionBoost: floatOr("BOOST_PREVIOUS_MENTION", 0.3),
			ControllableBoost:    floatOr("BOOST_CONTROLLABLE", 0.2),
			ReadableBoost:        floatOr("BOOST_READABLE", 0.1),
			ActiveValueBoost:     floatOr("BOOST_ACTIVE_VALUE", 2.0),
			UnavailablePenalty:   floatOr("PENALTY_UNAVAILABLE", -0.5),
			MinFinalScore:        floatOr("RERANK_MIN_FINAL_SCORE", 0.2),
		},
		Network: NetworkConfig{
			HTTPTimeoutShort:  durOr("HTTP_TIMEOUT_SHORT", 2*time.Second),
			HTTPTimeoutMedium: durOr("HTTP_TIMEOUT_MEDIUM", 5*time.Second),
			HTTPTimeoutLong:   durOr("HTTP_TIMEOUT_LONG", 15*time.Second),
		},
		LiveState: LiveStateConfig{
			BaseURL: strOr("LIVE_STATE_BASE_URL", "http://localhost:8123/api/states"),
			APIKey:  os.Getenv("LIVE_STATE_API_KEY"),
			Timeout: durOr("LIVE_STATE_TIMEOUT", 2*time.Second),
		},
		Memory: MemoryConfig{
			ConversationMemoryTTL: durOr("CONVERSATION_MEMORY_TTL", 15*time.Minute),
			EnrichmentDeadline:    durOr("ENRICHMENT_DEADLINE", 3*time.Second),
			EnrichmentModel:       strOr("ENRICHMENT_MODEL", "gpt-4o-mini"),
			EnrichmentQueueSize:   intOr("ENRICHMENT_QUEUE_SIZE", 64),
			EnrichmentBackend:     strOr("ENRICHMENT_QUEUE_BACKEND", "channel"),
			KafkaBrokers:          splitCSV(os.Getenv("ENRICHMENT_KAFKA_BROKERS")),
			KafkaTopic:            strOr("ENRICHMENT_KAFKA_TOPIC", "ha-rag-enrichment"),
		},
		LLMGateway: LLMGatewayConfig{
			Backend:        strOr("LLM_GATEWAY_BACKEND", "none"),
			Model:          strOr("LLM_GATEWAY_MODEL", "gpt-4o-mini"),
			RewriteTimeout: durOr("REWRITE_TIMEOUT", 2*time.Second),
			APIKey:         os.Getenv("LLM_GATEWAY_API_KEY"),
			BaseURL:        os.Getenv("LLM_GATEWAY_BASE_URL"),
		},
		Server: ServerConfig{
			Addr: strOr("HTTP_ADDR", ":8000"),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:        boolOr("CLICKHOUSE_ENABLED", false),
			DSN:            os.Getenv("CLICKHOUSE_DSN"),
			Database:       os.Getenv("CLICKHOUSE_DATABASE"),
			Table:          strOr("CLICKHOUSE_TABLE", "retrieval_traces"),
			TimeoutSeconds: intOr("CLICKHOUSE_TIMEOUT_SECONDS", 5),
		},
		Obs: ObsConfig{
			ServiceName:    strOr("OTEL_SERVICE_NAME", "ha-rag-bridge"),
			ServiceVersion: strOr("OTEL_SERVICE_VERSION", "dev"),
			Environment:    strOr("OTEL_ENVIRONMENT", "development"),
			OTLP:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		},
		LogLevel: strOr("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

func strOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intOr(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatOr(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolOr(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func durOr(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
