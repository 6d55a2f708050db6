// Package workflow implements C14: the routed graph that drives a request
// from raw utterance to formatted prompt, plus C15's quality diagnostics,
// grounded on the teacher's agents.AgentEngine step loop (session id, a
// typed step trace, a StepHook callback) generalized from a ReAct loop into
// a fixed node graph with retry/fallback routing.
package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/lopeti/ha-rag-bridge/internal/analyzer"
	"github.com/lopeti/ha-rag-bridge/internal/format"
	"github.com/lopeti/ha-rag-bridge/internal/memory"
	"github.com/lopeti/ha-rag-bridge/internal/rerank"
	"github.com/lopeti/ha-rag-bridge/internal/retrieve"
	"github.com/lopeti/ha-rag-bridge/internal/rewriter"
	"github.com/lopeti/ha-rag-bridge/internal/scope"
)

// Message is the minimal chat-turn shape threaded through the graph.
type Message struct {
	Role    string
	Content string
}

// RetrievalState is the single typed value every node reads and writes
// (§4.1). Nodes never communicate through side channels.
type RetrievalState struct {
	UserQuery           string
	SessionID           string
	ConversationHistory []Message

	ConversationContext analyzer.ConversationContext
	RewrittenQuery      string
	RewriteInfo         rewriter.Result

	DetectedScope   scope.Scope
	ScopeConfidence float64
	OptimalK        int
	ScopeReasoning  string

	RetrievedEntities []retrieve.Candidate
	ClusterEntities   []retrieve.Candidate
	MemoryEntities    []memory.MemoryEntity
	RerankedEntities  rerank.Result

	Primary []rerank.Ranked
	Related []rerank.Ranked

	FormatterType   format.Strategy
	FormattedContext string

	Errors     []StageError
	RetryCount int

	FallbackUsed bool
	TraceID      string
	StageEvents  []PipelineStage
}

// NewState seeds a fresh RetrievalState for one HTTP request, generating
// the trace_id the diagnostics recorder (C15) keys its record by.
func NewState(userQuery, sessionID string, history []Message) *RetrievalState {
	return &RetrievalState{
		UserQuery:           userQuery,
		SessionID:           sessionID,
		ConversationHistory: history,
		TraceID:             uuid.NewString(),
	}
}

// StageError tags an error to the node category that produced it, so a
// retry node can clear exactly the errors its own retry addresses.
type StageError struct {
	Stage string
	Err   string
}

// PipelineStage is one C15 tracing event, appended by every node.
type PipelineStage struct {
	Name       string
	Type       string // "node" | "fallback"; a retried node records "node" again
	InCount    int
	OutCount   int
	DurationMS int64
	Payload    string
}

func recordStage(s *RetrievalState, name, kind string, in, out int, start time.Time, payload string) {
	s.StageEvents = append(s.StageEvents, PipelineStage{
		Name:       name,
		Type:       kind,
		InCount:    in,
		OutCount:   out,
		DurationMS: time.Since(start).Milliseconds(),
		Payload:    payload,
	})
}

func addError(s *RetrievalState, stage string, err error) {
	if err == nil {
		return
	}
	s.Errors = append(s.Errors, StageError{Stage: stage, Err: err.Error()})
}

// clearErrorsForStage drops errors tagged with the given stage name (a
// retry node's first action before re-running the node it's retrying).
func clearErrorsForStage(s *RetrievalState, stage string) {
	kept := s.Errors[:0]
	for _, e := range s.Errors {
		if e.Stage != stage {
			kept = append(kept, e)
		}
	}
	s.Errors = kept
}

func hasErrorForStage(s *RetrievalState, stage string) bool {
	for _, e := range s.Errors {
		if e.Stage == stage {
			return true
		}
	}
	return false
}
