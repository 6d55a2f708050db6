package workflow

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lopeti/ha-rag-bridge/internal/analyzer"
	"github.com/lopeti/ha-rag-bridge/internal/cluster"
	"github.com/lopeti/ha-rag-bridge/internal/config"
	"github.com/lopeti/ha-rag-bridge/internal/diagnostics"
	"github.com/lopeti/ha-rag-bridge/internal/embedding"
	"github.com/lopeti/ha-rag-bridge/internal/enrich"
	"github.com/lopeti/ha-rag-bridge/internal/format"
	"github.com/lopeti/ha-rag-bridge/internal/memory"
	"github.com/lopeti/ha-rag-bridge/internal/rerank"
	"github.com/lopeti/ha-rag-bridge/internal/retrieve"
	"github.com/lopeti/ha-rag-bridge/internal/rewriter"
	"github.com/lopeti/ha-rag-bridge/internal/scope"
)

const maxRetries = 3

// node names, used both as the routing-table's vocabulary and as the
// "stage" tag on StageError (so a retry node clears only its own errors).
const (
	nodeConversationAnalysis = "conversation_analysis"
	nodeFallbackAnalysis     = "fallback_analysis"
	nodeScopeDetection       = "scope_detection"
	nodeRetryScopeDetection  = "retry_scope_detection"
	nodeFallbackScope        = "fallback_scope_detection"
	nodeEntityRetrieval      = "entity_retrieval"
	nodeRetryRetrieval       = "retry_entity_retrieval"
	nodeFallbackRetrieval    = "fallback_entity_retrieval"
	nodeContextFormatting    = "context_formatting"
	nodeRetryFormatting      = "retry_formatting"
	nodeEmergencyFormatting  = "emergency_formatting"
	nodeDiagnostics          = "diagnostics"
	nodeMemoryCleanup        = "memory_cleanup"
	nodeContinueNoMemory     = "continue_without_memory"
	nodeEnd                  = "end"
)

// Engine wires every component (C5-C13) into the §4.1 routed graph.
type Engine struct {
	analyzer  *analyzer.Analyzer
	rewriter  *rewriter.Rewriter
	scopeCfg  config.ScopeConfig
	embedder  embedding.Embedder
	clusterer *cluster.Index
	retriever *retrieve.Retriever
	reranker  *rerank.Reranker
	formatter *format.Formatter
	mem       *memory.Store
	enricher  *enrich.Enricher
	recorder  *diagnostics.Recorder
	quick     *enrich.QuickPatternAnalyzer
}

func New(
	an *analyzer.Analyzer,
	rw *rewriter.Rewriter,
	scopeCfg config.ScopeConfig,
	embedder embedding.Embedder,
	clusterer *cluster.Index,
	retriever *retrieve.Retriever,
	reranker *rerank.Reranker,
	formatter *format.Formatter,
	mem *memory.Store,
	enricher *enrich.Enricher,
	recorder *diagnostics.Recorder,
	quick *enrich.QuickPatternAnalyzer,
) *Engine {
	return &Engine{
		analyzer:  an,
		rewriter:  rw,
		scopeCfg:  scopeCfg,
		embedder:  embedder,
		clusterer: clusterer,
		retriever: retriever,
		reranker:  reranker,
		formatter: formatter,
		mem:       mem,
		enricher:  enricher,
		recorder:  recorder,
		quick:     quick,
	}
}

// Run drives state through the graph to completion, following the §4.1
// routing table node by node. It never returns an error: a failing node
// routes to its fallback instead, and the worst case is the emergency
// formatter's static apology text.
func (e *Engine) Run(ctx context.Context, s *RetrievalState) *RetrievalState {
	node := nodeConversationAnalysis
	for node != nodeEnd {
		node = e.step(ctx, s, node)
	}
	return s
}

func (e *Engine) step(ctx context.Context, s *RetrievalState, node string) string {
	switch node {
	case nodeConversationAnalysis:
		return e.conversationAnalysis(ctx, s)
	case nodeFallbackAnalysis:
		return e.fallbackAnalysis(s)
	case nodeScopeDetection:
		return e.scopeDetection(s, s.RewrittenQuery)
	case nodeRetryScopeDetection:
		s.RetryCount++
		clearErrorsForStage(s, nodeScopeDetection)
		return e.scopeDetection(s, s.UserQuery)
	case nodeFallbackScope:
		return e.fallbackScope(s)
	case nodeEntityRetrieval:
		return e.entityRetrieval(ctx, s, s.OptimalK)
	case nodeRetryRetrieval:
		s.RetryCount++
		clearErrorsForStage(s, nodeEntityRetrieval)
		return e.entityRetrieval(ctx, s, widenK(s.OptimalK))
	case nodeFallbackRetrieval:
		return e.fallbackRetrieval(ctx, s)
	case nodeContextFormatting:
		return e.contextFormatting(ctx, s, "")
	case nodeRetryFormatting:
		s.RetryCount++
		clearErrorsForStage(s, nodeContextFormatting)
		return e.contextFormatting(ctx, s, differentFormatter(s.FormatterType))
	case nodeEmergencyFormatting:
		return e.emergencyFormatting(s)
	case nodeDiagnostics:
		return e.diagnostics(ctx, s)
	case nodeMemoryCleanup:
		return e.memoryCleanup(ctx, s)
	case nodeContinueNoMemory:
		return nodeEnd
	default:
		return nodeEnd
	}
}

func (e *Engine) conversationAnalysis(ctx context.Context, s *RetrievalState) string {
	start := time.Now()
	history := toAnalyzerMessages(s.ConversationHistory)
	s.ConversationContext = e.analyzer.Analyze(ctx, s.UserQuery, history)

	rw := e.rewriter.Rewrite(ctx, s.UserQuery, toRewriterMessages(s.ConversationHistory), "")
	s.RewriteInfo = rw
	s.RewrittenQuery = rw.Rewritten

	if s.SessionID != "" && e.mem != nil {
		s.MemoryEntities = e.mem.GetRelevant(ctx, s.SessionID, s.RewrittenQuery, 10)
	}

	recordStage(s, nodeConversationAnalysis, "node", 1, 1, start, string(s.ConversationContext.Intent))

	if s.ConversationContext.Confidence < 0.5 {
		return nodeFallbackAnalysis
	}
	return nodeScopeDetection
}

func (e *Engine) fallbackAnalysis(s *RetrievalState) string {
	start := time.Now()
	s.ConversationContext = analyzer.ConversationContext{
		AreasMentioned:         map[string]bool{},
		DomainsMentioned:       map[string]bool{},
		DeviceClassesMentioned: map[string]bool{},
		PreviousEntities:       map[string]bool{},
		Intent:                 analyzer.IntentRead,
		Confidence:             0.3,
	}
	s.RewrittenQuery = s.UserQuery
	s.FallbackUsed = true
	recordStage(s, nodeFallbackAnalysis, "fallback", 1, 1, start, "")
	return nodeScopeDetection
}

func (e *Engine) scopeDetection(s *RetrievalState, query string) string {
	start := time.Now()

	if scope.IsBadInput(query) {
		recordStage(s, nodeScopeDetection, "node", 1, 0, start, "bad_input")
		return nodeFallbackScope
	}

	res := scope.Detect(e.scopeCfg, query, s.ConversationContext)
	s.DetectedScope = res.Scope
	s.ScopeConfidence = res.Confidence
	s.OptimalK = res.K
	s.ScopeReasoning = res.Reasoning
	recordStage(s, nodeScopeDetection, "node", 1, 1, start, string(res.Scope))

	if res.Confidence < 0.4 {
		if s.RetryCount < maxRetries {
			return nodeRetryScopeDetection
		}
		return nodeFallbackScope
	}
	return nodeEntityRetrieval
}

func (e *Engine) fallbackScope(s *RetrievalState) string {
	start := time.Now()
	reason := "low confidence scope detection after retry"
	if scope.IsBadInput(s.UserQuery) {
		reason = "problematic input (empty/short/digits-only/no letters/garbage tokens)"
	}
	res := scope.Fallback(reason)
	s.DetectedScope = res.Scope
	s.ScopeConfidence = res.Confidence
	s.OptimalK = res.K
	s.ScopeReasoning = res.Reasoning
	s.FallbackUsed = true
	recordStage(s, nodeFallbackScope, "fallback", 1, 1, start, string(res.Scope))
	return nodeEntityRetrieval
}

func (e *Engine) entityRetrieval(ctx context.Context, s *RetrievalState, k int) string {
	start := time.Now()

	var queryVec []float32
	if e.embedder != nil {
		vec, err := e.embedder.EmbedQuery(ctx, s.RewrittenQuery)
		if err != nil {
			addError(s, nodeEntityRetrieval, err)
		} else {
			queryVec = vec
		}
	}

	climatePriority := s.ScopeReasoning != "" && containsClimateHint(s)
	clusterTypes := cluster.TypesForScope(s.DetectedScope, climatePriority)
	scopeProfile := profileFor(e.scopeCfg, s.DetectedScope)

	candidates, err := e.retriever.Retrieve(ctx, queryVec, s.RewrittenQuery, scopeProfile, clusterTypes, k)
	if err != nil {
		addError(s, nodeEntityRetrieval, err)
		recordStage(s, nodeEntityRetrieval, "node", 0, 0, start, "error")
		if s.RetryCount < maxRetries {
			return nodeRetryRetrieval
		}
		return nodeFallbackRetrieval
	}
	s.RetrievedEntities = candidates

	reranked, err := e.reranker.Rerank(ctx, candidates, s.RewrittenQuery, s.ConversationContext, s.DetectedScope, k)
	if err != nil {
		addError(s, nodeEntityRetrieval, err)
		recordStage(s, nodeEntityRetrieval, "node", len(candidates), 0, start, "rerank error")
		if s.RetryCount < maxRetries {
			return nodeRetryRetrieval
		}
		return nodeFallbackRetrieval
	}
	s.RerankedEntities = reranked
	s.Primary = reranked.Primary
	s.Related = reranked.Related

	recordStage(s, nodeEntityRetrieval, "node", len(candidates), len(reranked.Primary)+len(reranked.Related), start, "")

	e.enqueueEnrichment(s)

	return nodeContextFormatting
}

func (e *Engine) fallbackRetrieval(ctx context.Context, s *RetrievalState) string {
	start := time.Now()
	s.FallbackUsed = true

	candidates, err := e.retriever.Retrieve(ctx, nil, s.RewrittenQuery, profileFor(e.scopeCfg, s.DetectedScope), nil, s.OptimalK)
	if err != nil {
		addError(s, nodeFallbackRetrieval, err)
		recordStage(s, nodeFallbackRetrieval, "fallback", 0, 0, start, "error")
		return nodeContextFormatting
	}
	s.RetrievedEntities = candidates

	reranked, err := e.reranker.Rerank(ctx, candidates, s.RewrittenQuery, s.ConversationContext, s.DetectedScope, s.OptimalK)
	if err == nil {
		s.RerankedEntities = reranked
		s.Primary = reranked.Primary
		s.Related = reranked.Related
	}
	recordStage(s, nodeFallbackRetrieval, "fallback", len(candidates), len(s.Primary)+len(s.Related), start, "")
	return nodeContextFormatting
}

func (e *Engine) contextFormatting(ctx context.Context, s *RetrievalState, forced format.Strategy) string {
	start := time.Now()
	in := format.Input{
		Primary:        s.Primary,
		Related:        s.Related,
		Scope:          s.DetectedScope,
		AreasMentioned: s.ConversationContext.AreasMentioned,
		IsFollowUp:     s.ConversationContext.IsFollowUp,
		MemoryEntities: s.MemoryEntities,
		ForcedStrategy: forced,
	}
	out := e.formatter.Format(ctx, in)
	s.FormattedContext = out.Text
	s.FormatterType = out.Strategy
	recordStage(s, nodeContextFormatting, "node", len(s.Primary)+len(s.Related), 1, start, string(out.Strategy))

	if len(s.Primary) == 0 && len(s.Related) == 0 {
		if s.RetryCount < maxRetries {
			return nodeRetryFormatting
		}
		return nodeEmergencyFormatting
	}
	return nodeDiagnostics
}

func (e *Engine) emergencyFormatting(s *RetrievalState) string {
	start := time.Now()
	s.FallbackUsed = true
	s.FormatterType = format.StrategyCompact
	s.FormattedContext = "Nem találtam releváns eszközt a kérdéshez."
	recordStage(s, nodeEmergencyFormatting, "fallback", 0, 1, start, "")
	return nodeDiagnostics
}

// diagnostics implements C15: scores the finished retrieval via
// diagnostics.ComputeScore and hands the full stage trail to the recorder,
// which persists it by trace_id and mirrors it as an OTel span tree.
func (e *Engine) diagnostics(ctx context.Context, s *RetrievalState) string {
	start := time.Now()

	score := diagnostics.ComputeScore(
		s.ConversationContext.Confidence,
		s.ScopeConfidence,
		len(s.Primary), len(s.Related),
		s.FormattedContext != "",
	)

	payload := s.ScopeReasoning
	if len(score.Recommendations) > 0 {
		payload = score.Recommendations[0]
	}
	recordStage(s, nodeDiagnostics, "node", 1, 1, start, payload)

	log.Debug().
		Float64("overall_quality", score.Overall).
		Str("trace_id", s.TraceID).
		Strs("recommendations", score.Recommendations).
		Msg("workflow_diagnostics")

	if e.recorder != nil {
		e.recorder.Record(ctx, diagnostics.Trace{
			TraceID:      s.TraceID,
			SessionID:    s.SessionID,
			UserQuery:    s.UserQuery,
			Scope:        string(s.DetectedScope),
			FallbackUsed: s.FallbackUsed,
			Stages:       toDiagnosticStages(s.StageEvents),
			Score:        score,
		})
	}

	if s.SessionID != "" && e.mem != nil {
		return nodeMemoryCleanup
	}
	return nodeContinueNoMemory
}

func toDiagnosticStages(events []PipelineStage) []diagnostics.Stage {
	out := make([]diagnostics.Stage, len(events))
	for i, ev := range events {
		out[i] = diagnostics.Stage{
			Name: ev.Name, Type: ev.Type,
			InCount: ev.InCount, OutCount: ev.OutCount,
			DurationMS: ev.DurationMS, Payload: ev.Payload,
		}
	}
	return out
}

func (e *Engine) memoryCleanup(ctx context.Context, s *RetrievalState) string {
	start := time.Now()
	top := make([]memory.TopEntity, 0, len(s.Primary))
	for _, p := range s.Primary {
		top = append(top, memory.TopEntity{EntityID: p.EntityID, Area: p.Area, Domain: p.Domain, Score: p.FinalScore})
	}

	var areas, domains []string
	for a := range s.ConversationContext.AreasMentioned {
		areas = append(areas, a)
	}
	for d := range s.ConversationContext.DomainsMentioned {
		domains = append(domains, d)
	}

	if err := e.mem.Store(ctx, s.SessionID, top, areas, domains, s.RewrittenQuery, nil); err != nil {
		addError(s, nodeMemoryCleanup, err)
	}
	recordStage(s, nodeMemoryCleanup, "node", len(top), len(top), start, "")
	return nodeEnd
}

func (e *Engine) enqueueEnrichment(s *RetrievalState) {
	if e.enricher == nil || s.SessionID == "" {
		return
	}
	top := make([]enrich.CandidateSummary, 0, len(s.Primary))
	for _, p := range s.Primary {
		top = append(top, enrich.CandidateSummary{EntityID: p.EntityID, Area: p.Area, Domain: p.Domain, Score: p.FinalScore})
	}
	quick := enrich.QuickContext{
		DetectedDomains: keysOf(s.ConversationContext.DomainsMentioned),
		DetectedAreas:   keysOf(s.ConversationContext.AreasMentioned),
	}
	if e.quick != nil {
		quick = e.quick.Analyze(context.Background(), s.RewrittenQuery)
	}

	e.enricher.Enqueue(enrich.Task{
		Session:     s.SessionID,
		Query:       s.RewrittenQuery,
		History:     toEnrichMessages(s.ConversationHistory),
		TopEntities: top,
		Quick:       quick,
	})
}

func widenK(k int) int {
	k *= 2
	if k > 50 {
		k = 50
	}
	return k
}

func differentFormatter(current format.Strategy) format.Strategy {
	if current == format.StrategyCompact {
		return format.StrategyDetailed
	}
	return format.StrategyCompact
}

func containsClimateHint(s *RetrievalState) bool {
	return s.ScopeReasoning == "temperature query in a specific area"
}

func profileFor(cfg config.ScopeConfig, sc scope.Scope) config.ScopeProfile {
	switch sc {
	case scope.Micro:
		return cfg.Micro
	case scope.Overview:
		return cfg.Overview
	default:
		return cfg.Macro
	}
}

func keysOf(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func toAnalyzerMessages(history []Message) []analyzer.Message {
	out := make([]analyzer.Message, len(history))
	for i, m := range history {
		out[i] = analyzer.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func toRewriterMessages(history []Message) []rewriter.Message {
	out := make([]rewriter.Message, len(history))
	for i, m := range history {
		out[i] = rewriter.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func toEnrichMessages(history []Message) []enrich.Message {
	out := make([]enrich.Message, len(history))
	for i, m := range history {
		out[i] = enrich.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
