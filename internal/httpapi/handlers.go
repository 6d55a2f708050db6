package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/lopeti/ha-rag-bridge/internal/analyzer"
	"github.com/lopeti/ha-rag-bridge/internal/observability"
	"github.com/lopeti/ha-rag-bridge/internal/rerank"
	"github.com/lopeti/ha-rag-bridge/internal/workflow"
)

func (s *Server) handleProcessRequest(w http.ResponseWriter, r *http.Request) {
	var body processRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	state := s.run(r, body)
	respondJSON(w, http.StatusOK, processRequestResponse{
		Messages: buildMessages(state),
		Tools:    toolsFor(state),
	})
}

func (s *Server) handleProcessRequestWorkflow(w http.ResponseWriter, r *http.Request) {
	var body processRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	state := s.run(r, body)

	quality := 0.0
	if s.recorder != nil {
		if trace, ok := s.recorder.Get(state.TraceID); ok {
			quality = trace.Score.Overall
		}
	}

	respondJSON(w, http.StatusOK, processRequestWorkflowResponse{
		Messages:         buildMessages(state),
		Tools:            toolsFor(state),
		RelevantEntities: relevantEntities(state),
		FormattedContent: state.FormattedContext,
		Intent:           string(state.ConversationContext.Intent),
		Metadata: workflowMetadata{
			WorkflowQuality:     quality,
			MemoryEntitiesCount: len(state.MemoryEntities),
			MemoryBoostedCount:  countBoostedByMemory(state),
			EntityCount:         len(state.Primary) + len(state.Related),
			Phase:               "workflow",
		},
	})
}

func (s *Server) handleProcessResponse(w http.ResponseWriter, r *http.Request) {
	var body processResponseBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.ToolCalls) == 0 {
		respondJSON(w, http.StatusOK, statusResponse{Status: "error", Message: "no tool_calls in request"})
		return
	}

	// Actually dispatching tool_calls to a live-state write API is out of
	// this service's scope; it only validates and acknowledges them here.
	log := observability.LoggerWithTrace(r.Context())
	for _, tc := range body.ToolCalls {
		log.Info().Str("tool", tc.Function.Name).Str("arguments", tc.Function.Arguments).Msg("tool_call_received")
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: "accepted"})
}

func (s *Server) handleProcessConversation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	userQuery, history, messageCount, err := decodeConversationInput(raw)
	if err != nil {
		respondJSON(w, http.StatusOK, processConversationResponse{
			Success: false, Error: err.Error(), FormattedContent: "",
		})
		return
	}

	reqBody := processRequestBody{UserMessage: userQuery, ConversationHistory: history, SessionID: r.URL.Query().Get("session_id")}
	state := s.run(r, reqBody)

	resp := processConversationResponse{
		Success:          true,
		Entities:         relevantEntities(state),
		FormattedContent: state.FormattedContext,
		StrategyUsed:     string(state.FormatterType),
		ExecutionTimeMS:  time.Since(start).Milliseconds(),
		MessageCount:     messageCount,
	}
	if r.URL.Query().Get("debug") == "1" {
		resp.Debug = &debugInfo{TraceID: state.TraceID, Stages: stageTraces(state)}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.embedder != nil && s.expectedDim > 0 && s.embedder.Dimension() != s.expectedDim {
		respondError(w, http.StatusInternalServerError, "embedding dimension mismatch: index expects a different dimension than the configured embedder produces")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// run seeds a fresh RetrievalState and drives it through the workflow
// engine; the one place every handler funnels through.
func (s *Server) run(r *http.Request, body processRequestBody) *workflow.RetrievalState {
	history := make([]workflow.Message, len(body.ConversationHistory))
	for i, m := range body.ConversationHistory {
		history[i] = workflow.Message{Role: m.Role, Content: m.Content}
	}
	state := workflow.NewState(body.UserMessage, body.sessionID(), history)
	return s.engine.Run(r.Context(), state)
}

func buildMessages(state *workflow.RetrievalState) []chatMessage {
	msgs := []chatMessage{{Role: "system", Content: state.FormattedContext}}
	if state.UserQuery != "" {
		msgs = append(msgs, chatMessage{Role: "user", Content: state.UserQuery})
	}
	return msgs
}

func toolsFor(state *workflow.RetrievalState) []tool {
	if state.ConversationContext.Intent != analyzer.IntentControl {
		return nil
	}
	return buildTools(state.Primary)
}

func relevantEntities(state *workflow.RetrievalState) []relevantEntity {
	out := make([]relevantEntity, 0, len(state.Primary)+len(state.Related))
	for _, e := range state.Primary {
		out = append(out, toRelevantEntity(e, true))
	}
	for _, e := range state.Related {
		out = append(out, toRelevantEntity(e, false))
	}
	return out
}

func toRelevantEntity(e rerank.Ranked, primary bool) relevantEntity {
	name := e.FriendlyName
	if name == "" {
		name = e.EntityID
	}
	var aliases []string
	if e.FriendlyName != "" && e.FriendlyName != e.EntityID {
		aliases = []string{e.FriendlyName}
	}
	return relevantEntity{
		EntityID:   e.EntityID,
		Name:       name,
		State:      e.CurrentValue,
		Domain:     e.Domain,
		AreaName:   e.Area,
		Similarity: e.BaseScore,
		Aliases:    aliases,
		IsPrimary:  primary,
	}
}

func countBoostedByMemory(state *workflow.RetrievalState) int {
	n := 0
	for _, e := range append(append([]rerank.Ranked{}, state.Primary...), state.Related...) {
		if _, ok := e.RankingFactors["previous_mention"]; ok {
			n++
		}
	}
	return n
}

func stageTraces(state *workflow.RetrievalState) []stageTrace {
	out := make([]stageTrace, len(state.StageEvents))
	for i, ev := range state.StageEvents {
		out[i] = stageTrace{Name: ev.Name, Type: ev.Type, InCount: ev.InCount, OutCount: ev.OutCount, DurationMS: ev.DurationMS}
	}
	return out
}

// decodeConversationInput accepts /process-conversation's three input
// shapes: a raw string, an object carrying user_message/query, or an
// object carrying a pre-parsed messages[] array.
func decodeConversationInput(raw []byte) (userQuery string, history []workflow.Message, messageCount int, err error) {
	var asString string
	if jsonErr := json.Unmarshal(raw, &asString); jsonErr == nil {
		parsed := parseConversationInput(asString)
		return lastUserMessage(parsed.Messages), toWorkflowMessages(parsed.Messages), len(parsed.Messages), nil
	}

	var asObject struct {
		UserMessage string        `json:"user_message"`
		Query       string        `json:"query"`
		Messages    []chatMessage `json:"messages"`
	}
	if jsonErr := json.Unmarshal(raw, &asObject); jsonErr != nil {
		return "", nil, 0, errNoValidMessages
	}

	if len(asObject.Messages) > 0 {
		return lastUserMessage(asObject.Messages), toWorkflowMessages(asObject.Messages), len(asObject.Messages), nil
	}

	candidate := asObject.UserMessage
	if candidate == "" {
		candidate = asObject.Query
	}
	if candidate == "" {
		return "", nil, 0, errNoValidMessages
	}
	parsed := parseConversationInput(candidate)
	return lastUserMessage(parsed.Messages), toWorkflowMessages(parsed.Messages), len(parsed.Messages), nil
}

func toWorkflowMessages(msgs []chatMessage) []workflow.Message {
	out := make([]workflow.Message, len(msgs))
	for i, m := range msgs {
		out[i] = workflow.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

var errNoValidMessages = noValidMessagesError{}

type noValidMessagesError struct{}

func (noValidMessagesError) Error() string { return "no valid messages found in input" }
