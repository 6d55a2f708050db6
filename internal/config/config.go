// Package config models the recognized configuration options of spec §6.3
// as typed structs, loaded from the environment the way the teacher's
// internal/config package does.
package config

import "time"

// DBConfig groups the persisted-state options of §6.3/§6.4 (entity, device,
// area, automation, scene, person, event, knowledge, document collections
// plus the typed-edge and meta/schema-version collections). The core itself
// never writes these collections; it only reads through internal/store.
type DBConfig struct {
	URL           string
	User          string
	Pass          string
	Database      string
	EmbedDim      int
	AutoBootstrap bool

	// Backend selects the concrete store implementation wired in
	// internal/store: "memory" (tests), "postgres" (local/dev fallback for
	// lexical search + graph traversal + vector k-NN), or "qdrant" (Postgres
	// for search/graph, Qdrant for the vector index — the real target).
	Backend string
	// DSN is the Postgres connection string, consulted by the postgres and
	// qdrant backends.
	DSN string
	// URL doubles as the Qdrant gRPC endpoint when Backend is "qdrant".
}

// EmbeddingConfig configures the pluggable embedding backend (C3).
type EmbeddingConfig struct {
	Backend                string // local | openai | gemini
	SentenceTransformer    string
	CPUThreads             int
	OpenAIAPIKey           string
	GeminiAPIKey           string
	BaseURL                string
	Dimension              int
	Timeout                time.Duration
	QueryInstructionPrefix string
	DocInstructionPrefix   string
}

// CrossEncoderConfig configures C4.
type CrossEncoderConfig struct {
	Model          string
	ScaleFactor    float64
	Offset         float64
	EnableCaching  bool
	CacheTTL       time.Duration
	Timeout        time.Duration
	BaseURL        string
}

// CacheConfig groups every cache knob in §6.3.
type CacheConfig struct {
	StateCacheMaxSize          int
	StateCacheTTL              time.Duration
	ConversationCacheMaxSize   int
	EntityScoreCacheMaxSize    int
	EntityContextCacheMaxSize  int
	ConversationAliasesTTL     time.Duration
	EntityRerankerCacheTTL     time.Duration
	ServiceCacheTTL            time.Duration
	RedisAddr                  string
	RedisPassword              string
	RedisDB                    int
}

// ScopeProfile is one of the three named scope profiles recovered from
// ha_rag_bridge/similarity_config.py (see SPEC_FULL.md §3).
type ScopeProfile struct {
	Threshold float64
	KMin      int
	KMax      int
}

// ScopeConfig groups the per-scope thresholds/k-ranges of §4.4/§6.3.
type ScopeConfig struct {
	Micro    ScopeProfile
	Macro    ScopeProfile
	Overview ScopeProfile
}

// RankingConfig groups every boost constant named in §4.2/§4.8, all
// configurable per §6.3.
type RankingConfig struct {
	AreaBoostHouse        float64
	AreaBoostSpecific     float64
	FollowUpMultiplier    float64
	DomainBoost           float64
	DeviceClassBoost      float64
	PreviousMentionBoost  float64
	ControllableBoost     float64
	ReadableBoost         float64
	ActiveValueBoost      float64
	UnavailablePenalty    float64
	MinFinalScore         float64
}

// NetworkConfig groups the timeout tiers of §6.3.
type NetworkConfig struct {
	HTTPTimeoutShort  time.Duration
	HTTPTimeoutMedium time.Duration
	HTTPTimeoutLong   time.Duration
}

// LiveStateConfig configures C2's fetch of current entity values from the
// live datastore (the Home-Assistant-facing state API).
type LiveStateConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// MemoryConfig groups C10/C11 knobs.
type MemoryConfig struct {
	ConversationMemoryTTL time.Duration
	EnrichmentDeadline    time.Duration
	EnrichmentModel       string
	EnrichmentQueueSize   int
	EnrichmentBackend     string // channel | kafka
	KafkaBrokers          []string
	KafkaTopic            string
}

// LLMGatewayConfig selects and configures the pluggable LLM gateway used by
// the rewriter (C6) and enricher (C11).
type LLMGatewayConfig struct {
	Backend        string // openai | anthropic | google | none
	Model          string
	RewriteTimeout time.Duration
	APIKey         string
	BaseURL        string
}

// ServerConfig configures the HTTP transport binding (§6.1, out of core
// scope but required for a runnable binary).
type ServerConfig struct {
	Addr string
}

// ClickHouseConfig is the optional analytics-events sink (SPEC_FULL.md §2)
// that mirrors the diagnostics recorder's (C15) traces into a warehouse
// table for longer-than-in-memory retention.
type ClickHouseConfig struct {
	Enabled bool
	DSN     string
	// Database overrides the DSN's default database when set.
	Database string
	// Table is the target table for diagnostic trace rows.
	Table          string
	TimeoutSeconds int
}

// ObsConfig configures the OpenTelemetry exporters backing C15 diagnostics.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLP           string
}

// Config is the root configuration record.
type Config struct {
	DB           DBConfig
	Embedding    EmbeddingConfig
	CrossEncoder CrossEncoderConfig
	Cache        CacheConfig
	Scope        ScopeConfig
	Ranking      RankingConfig
	Network      NetworkConfig
	LiveState    LiveStateConfig
	Memory       MemoryConfig
	LLMGateway   LLMGatewayConfig
	Server       ServerConfig
	ClickHouse   ClickHouseConfig
	Obs          ObsConfig
	LogLevel     string
}
