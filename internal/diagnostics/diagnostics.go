// Package diagnostics implements C15: scores a finished retrieval and keeps
// a bounded in-memory record of each request's stage trail keyed by
// trace_id, emitting the same trail as OTel spans, grounded on the
// teacher's AgentEngine persisting every AgentStep as the ReAct loop
// produces it (here: persisted once, at the end of the graph run).
package diagnostics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Stage mirrors workflow.PipelineStage; kept as its own type so this
// package doesn't import workflow (which will import this package).
type Stage struct {
	Name       string
	Type       string
	InCount    int
	OutCount   int
	DurationMS int64
	Payload    string
}

// Score is the §4.10 overall_quality breakdown.
type Score struct {
	AnalysisConfidence float64
	ScopeConfidence    float64
	RetrievalQuality   float64
	FormattingQuality  float64
	Overall            float64
	Recommendations    []string
}

// ComputeScore implements the weighted-mean contract: conversation analysis
// confidence 0.2, scope confidence 0.25, entity retrieval quality 0.35,
// formatting quality 0.2. Entity retrieval quality saturates at 5 combined
// primary+related entities; formatting quality is binary.
func ComputeScore(analysisConfidence, scopeConfidence float64, primaryCount, relatedCount int, formatted bool) Score {
	retrievalQ := float64(primaryCount+relatedCount) / 5.0
	if retrievalQ > 1.0 {
		retrievalQ = 1.0
	}
	formattingQ := 0.0
	if formatted {
		formattingQ = 1.0
	}

	overall := 0.2*analysisConfidence + 0.25*scopeConfidence + 0.35*retrievalQ + 0.2*formattingQ

	var recommendations []string
	if analysisConfidence < 0.4 {
		recommendations = append(recommendations, "conversation analysis confidence is low; consider enriching the alias tables")
	}
	if scopeConfidence < 0.4 {
		recommendations = append(recommendations, "scope detection confidence is low; query may need a clearer area or intent")
	}
	if retrievalQ < 0.4 {
		recommendations = append(recommendations, "few or no entities retrieved; check index coverage for this query")
	}
	if formattingQ < 1.0 {
		recommendations = append(recommendations, "formatter produced no content")
	}

	return Score{
		AnalysisConfidence: analysisConfidence,
		ScopeConfidence:    scopeConfidence,
		RetrievalQuality:   retrievalQ,
		FormattingQuality:  formattingQ,
		Overall:            overall,
		Recommendations:    recommendations,
	}
}

// Trace is one request's full diagnostic record, addressable by TraceID.
type Trace struct {
	TraceID      string
	SessionID    string
	UserQuery    string
	Scope        string
	FallbackUsed bool
	Stages       []Stage
	Score        Score
}

// EventSink receives every recorded trace for durable, queryable storage
// beyond the recorder's in-memory ring buffer (e.g. an analytics warehouse).
// Implementations must not block the caller for long; Record fires it
// synchronously so a sink that needs to be async should hand off itself.
type EventSink interface {
	Record(ctx context.Context, t Trace)
}

// Recorder keeps the last `capacity` traces in memory and mirrors each one
// as an OTel span tree, so a trace is inspectable both live (via the tracer
// backend) and after the fact (via Get), without a database.
type Recorder struct {
	mu       sync.Mutex
	byID     map[string]*Trace
	order    []string
	capacity int
	sink     EventSink
}

func New(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 200
	}
	return &Recorder{byID: make(map[string]*Trace, capacity), capacity: capacity}
}

// SetSink attaches an optional durable sink (e.g. ClickHouse) that every
// future Record call also reports to, alongside the OTel spans and the
// in-memory ring buffer. Pass nil to detach.
func (r *Recorder) SetSink(sink EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// Record stores t and emits its stages as a span tree under a
// "retrieval_trace" root span.
func (r *Recorder) Record(ctx context.Context, t Trace) {
	r.emitSpans(ctx, t)
	r.store(t)

	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	if sink != nil {
		sink.Record(ctx, t)
	}
}

func (r *Recorder) emitSpans(ctx context.Context, t Trace) {
	tracer := otel.Tracer("ha-rag-bridge/workflow")
	ctx, root := tracer.Start(ctx, "retrieval_trace", oteltrace.WithAttributes(
		attribute.String("trace_id", t.TraceID),
		attribute.String("session_id", t.SessionID),
		attribute.String("scope", t.Scope),
		attribute.Bool("fallback_used", t.FallbackUsed),
		attribute.Float64("overall_quality", t.Score.Overall),
	))
	defer root.End()

	for _, st := range t.Stages {
		_, span := tracer.Start(ctx, st.Name, oteltrace.WithAttributes(
			attribute.String("stage_type", st.Type),
			attribute.Int("in_count", st.InCount),
			attribute.Int("out_count", st.OutCount),
			attribute.Int64("duration_ms", st.DurationMS),
		))
		if st.Payload != "" {
			span.SetAttributes(attribute.String("payload", st.Payload))
		}
		span.End()
	}
}

func (r *Recorder) store(t Trace) {
	if t.TraceID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[t.TraceID]; !exists {
		if len(r.order) >= r.capacity {
			oldest := r.order[0]
			r.order = r.order[1:]
			delete(r.byID, oldest)
		}
		r.order = append(r.order, t.TraceID)
	}
	cp := t
	r.byID[t.TraceID] = &cp
}

// Get returns the stored trace for traceID, if still retained.
func (r *Recorder) Get(traceID string) (Trace, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[traceID]
	if !ok {
		return Trace{}, false
	}
	return *t, true
}

// Recent returns up to n of the most recently recorded traces, newest first.
func (r *Recorder) Recent(n int) []Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.order) {
		n = len(r.order)
	}
	out := make([]Trace, 0, n)
	for i := len(r.order) - 1; i >= 0 && len(out) < n; i-- {
		if t, ok := r.byID[r.order[i]]; ok {
			out = append(out, *t)
		}
	}
	return out
}
