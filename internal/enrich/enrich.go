// Package enrich implements C11: a background enrichment pass that turns a
// retrieved top-N plus conversation history into an EnrichedContext, without
// ever blocking the request path. Grounded on ha_rag_bridge's
// background_context_enrichment task queue (§4.6) and the teacher's
// segmentio/kafka-go wiring in internal/tools/kafka for the optional
// Kafka-backed queue.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/lopeti/ha-rag-bridge/internal/config"
	"github.com/lopeti/ha-rag-bridge/internal/llm"
	"github.com/lopeti/ha-rag-bridge/internal/memory"
)

// Message mirrors rewriter.Message/analyzer.Message — kept local so this
// package has no import-cycle risk with the workflow layer that owns all
// three.
type Message struct {
	Role    string
	Content string
}

// CandidateSummary is the minimal shape of a retrieved entity the enricher
// needs; it never needs rerank factors, only enough to describe the top-10
// to the LLM and to seed memory.TopEntity on the next store() call.
type CandidateSummary struct {
	EntityID string
	Area     string
	Domain   string
	Score    float64
}

// Task is one enrichment unit of work.
type Task struct {
	Session     string
	Query       string
	History     []Message
	TopEntities []CandidateSummary
	Quick       QuickContext
}

// queue abstracts over the channel-based default and the optional Kafka
// backend (config.MemoryConfig.EnrichmentBackend).
type queue interface {
	enqueue(t Task) bool
	run(ctx context.Context, process func(Task))
}

// Enricher runs enrichment tasks on a background queue, coalescing
// in-flight sessions (a new task for a session already being processed is
// dropped, not queued — the next turn will trigger its own task).
type Enricher struct {
	gateway llm.Gateway
	mem     *memory.Store
	cfg     config.MemoryConfig
	q       queue

	mu       sync.Mutex
	inFlight map[string]bool
}

// New builds an Enricher and starts its background worker on ctx. Cancel ctx
// to stop the worker.
func New(ctx context.Context, gateway llm.Gateway, mem *memory.Store, cfg config.MemoryConfig) *Enricher {
	e := &Enricher{
		gateway:  gateway,
		mem:      mem,
		cfg:      cfg,
		inFlight: map[string]bool{},
	}

	size := cfg.EnrichmentQueueSize
	if size <= 0 {
		size = 64
	}

	if cfg.EnrichmentBackend == "kafka" && len(cfg.KafkaBrokers) > 0 {
		e.q = newKafkaQueue(cfg.KafkaBrokers, cfg.KafkaTopic)
	} else {
		e.q = newChannelQueue(size)
	}

	go e.q.run(ctx, e.process)
	return e
}

// Enqueue schedules an enrichment task for session, dropping it if one is
// already in flight for the same session (§4.6: the main workflow never
// awaits the enricher and only ever wants the latest summary).
func (e *Enricher) Enqueue(task Task) {
	e.mu.Lock()
	if e.inFlight[task.Session] {
		e.mu.Unlock()
		return
	}
	e.inFlight[task.Session] = true
	e.mu.Unlock()

	if !e.q.enqueue(task) {
		e.mu.Lock()
		delete(e.inFlight, task.Session)
		e.mu.Unlock()
	}
}

func (e *Enricher) clearInFlight(session string) {
	e.mu.Lock()
	delete(e.inFlight, session)
	e.mu.Unlock()
}

func (e *Enricher) process(task Task) {
	defer e.clearInFlight(task.Session)

	ctx := context.Background()
	ec, err := e.enrich(ctx, task)
	if err != nil {
		log.Debug().Err(err).Str("session", task.Session).Msg("enrichment_fallback")
		ec = fallback(task)
	}

	if err := e.mem.StoreSummary(ctx, task.Session, ec); err != nil {
		log.Warn().Err(err).Str("session", task.Session).Msg("enrichment_store_failed")
	}
}

const enrichSystemPrompt = `You summarize a smart-home conversation turn into compact JSON context for a retrieval pipeline. Respond with ONLY a JSON object matching this shape, no prose:
{"detected_domains":[...],"mentioned_areas":[...],"intent_chain":[...],"semantic_context":"...","user_patterns":[...],"expected_followups":[...],"suggested_clusters":[...],"confidence":0.0}`

func (e *Enricher) enrich(ctx context.Context, task Task) (memory.EnrichedContext, error) {
	deadline := e.cfg.EnrichmentDeadline
	if deadline <= 0 {
		deadline = 3 * time.Second
	}

	const maxAttempts = 2
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, deadline)
		reply, err := e.gateway.Chat(cctx, buildMessages(task), true)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		ec, parseErr := parseReply(reply)
		if parseErr != nil {
			lastErr = parseErr
			continue
		}
		return ec, nil
	}
	return memory.EnrichedContext{}, fmt.Errorf("enrich: %w", lastErr)
}

func buildMessages(task Task) []llm.Message {
	msgs := []llm.Message{{Role: "system", Content: enrichSystemPrompt}}
	for _, m := range lastTurns(task.History, 6) {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n", task.Query)
	fmt.Fprintf(&sb, "Detected domains: %s\n", strings.Join(task.Quick.DetectedDomains, ", "))
	fmt.Fprintf(&sb, "Detected areas: %s\n", strings.Join(task.Quick.DetectedAreas, ", "))
	sb.WriteString("Top retrieved entities:\n")
	for _, te := range task.TopEntities {
		fmt.Fprintf(&sb, "- %s (area=%s domain=%s score=%.2f)\n", te.EntityID, te.Area, te.Domain, te.Score)
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: sb.String()})
	return msgs
}

func lastTurns(history []Message, n int) []Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func parseReply(reply string) (memory.EnrichedContext, error) {
	trimmed := strings.TrimSpace(reply)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end < start {
		return memory.EnrichedContext{}, fmt.Errorf("enrich: no JSON object in reply")
	}

	var payload struct {
		DetectedDomains   []string `json:"detected_domains"`
		MentionedAreas    []string `json:"mentioned_areas"`
		IntentChain       []string `json:"intent_chain"`
		SemanticContext   string   `json:"semantic_context"`
		UserPatterns      []string `json:"user_patterns"`
		ExpectedFollowups []string `json:"expected_followups"`
		SuggestedClusters []string `json:"suggested_clusters"`
		Confidence        float64  `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &payload); err != nil {
		return memory.EnrichedContext{}, fmt.Errorf("enrich: unmarshal reply: %w", err)
	}

	return memory.EnrichedContext{
		DetectedDomains:   payload.DetectedDomains,
		MentionedAreas:    payload.MentionedAreas,
		IntentChain:       payload.IntentChain,
		SemanticContext:   payload.SemanticContext,
		UserPatterns:      payload.UserPatterns,
		ExpectedFollowups: payload.ExpectedFollowups,
		SuggestedClusters: payload.SuggestedClusters,
		Confidence:        payload.Confidence,
	}, nil
}

// fallback synthesizes a low-confidence EnrichedContext straight from the
// synchronous QuickContext when the LLM path times out or errors (§4.6).
func fallback(task Task) memory.EnrichedContext {
	return memory.EnrichedContext{
		DetectedDomains: task.Quick.DetectedDomains,
		MentionedAreas:  task.Quick.DetectedAreas,
		SemanticContext: "fallback: quick pattern analysis only",
		Confidence:      0.3,
	}
}

// channelQueue is the default in-process backend: a single buffered channel
// drained by one worker goroutine.
type channelQueue struct {
	ch chan Task
}

func newChannelQueue(size int) *channelQueue {
	return &channelQueue{ch: make(chan Task, size)}
}

func (q *channelQueue) enqueue(t Task) bool {
	select {
	case q.ch <- t:
		return true
	default:
		return false
	}
}

func (q *channelQueue) run(ctx context.Context, process func(Task)) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q.ch:
			process(t)
		}
	}
}

// kafkaQueue fans enrichment tasks through a Kafka topic instead of an
// in-process channel, letting multiple bridge instances share one
// enrichment worker pool. Grounded on the teacher's
// internal/tools/kafka.NewProducerFromBrokers / kafka.Writer pattern.
type kafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

func newKafkaQueue(brokers []string, topic string) *kafkaQueue {
	if topic == "" {
		topic = "ha-rag-bridge.enrichment"
	}
	return &kafkaQueue{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: "ha-rag-bridge-enrichment",
		}),
	}
}

func (q *kafkaQueue) enqueue(t Task) bool {
	payload, err := json.Marshal(t)
	if err != nil {
		log.Debug().Err(err).Msg("enrichment_kafka_marshal_failed")
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.writer.WriteMessages(ctx, kafka.Message{Key: []byte(t.Session), Value: payload}); err != nil {
		log.Debug().Err(err).Msg("enrichment_kafka_write_failed")
		return false
	}
	return true
}

func (q *kafkaQueue) run(ctx context.Context, process func(Task)) {
	for {
		msg, err := q.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Debug().Err(err).Msg("enrichment_kafka_read_failed")
			continue
		}
		var t Task
		if err := json.Unmarshal(msg.Value, &t); err != nil {
			log.Debug().Err(err).Msg("enrichment_kafka_unmarshal_failed")
			continue
		}
		process(t)
	}
}
