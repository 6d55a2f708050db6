package httpapi

// chatMessage is the wire shape of one conversation turn (§6.1).
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// processRequestBody is the shared body of /process-request and
// /process-request-workflow.
type processRequestBody struct {
	UserMessage         string        `json:"user_message"`
	ConversationHistory []chatMessage `json:"conversation_history,omitempty"`
	ConversationID      string        `json:"conversation_id,omitempty"`
	SessionID           string        `json:"session_id,omitempty"`
}

func (b processRequestBody) sessionID() string {
	if b.SessionID != "" {
		return b.SessionID
	}
	return b.ConversationID
}

type toolFunction struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

type tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

// processRequestResponse is the /process-request response envelope.
type processRequestResponse struct {
	Messages []chatMessage `json:"messages"`
	Tools    []tool        `json:"tools"`
}

type relevantEntity struct {
	EntityID   string   `json:"entity_id"`
	Name       string   `json:"name"`
	State      string   `json:"state"`
	Domain     string   `json:"domain"`
	AreaName   string   `json:"area_name,omitempty"`
	Similarity float64  `json:"similarity"`
	Aliases    []string `json:"aliases"`
	IsPrimary  bool     `json:"is_primary"`
}

type workflowMetadata struct {
	WorkflowQuality     float64 `json:"workflow_quality"`
	MemoryEntitiesCount int     `json:"memory_entities_count"`
	MemoryBoostedCount  int     `json:"memory_boosted_count"`
	EntityCount         int     `json:"entity_count"`
	Phase               string  `json:"phase"`
}

// processRequestWorkflowResponse is the /process-request-workflow response
// envelope: everything /process-request returns, plus the retrieval detail.
type processRequestWorkflowResponse struct {
	Messages         []chatMessage    `json:"messages"`
	Tools            []tool           `json:"tools"`
	RelevantEntities []relevantEntity `json:"relevant_entities"`
	FormattedContent string           `json:"formatted_content"`
	Intent           string           `json:"intent"`
	Metadata         workflowMetadata `json:"metadata"`
}

type toolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolCall struct {
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function toolCallFunction `json:"function"`
}

type processResponseBody struct {
	ToolCalls []toolCall `json:"tool_calls"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type processConversationResponse struct {
	Success          bool             `json:"success"`
	Entities         []relevantEntity `json:"entities"`
	FormattedContent string           `json:"formatted_content"`
	StrategyUsed     string           `json:"strategy_used"`
	ExecutionTimeMS  int64            `json:"execution_time_ms"`
	MessageCount     int              `json:"message_count"`
	Debug            *debugInfo       `json:"debug,omitempty"`
	Error            string           `json:"error,omitempty"`
}

// debugInfo mirrors the per-stage timing list the original exposes behind
// its verbose-diagnostics flag (SPEC_FULL.md §3, supplemented feature).
type debugInfo struct {
	TraceID string       `json:"trace_id"`
	Stages  []stageTrace `json:"stages"`
}

type stageTrace struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	InCount    int    `json:"in_count"`
	OutCount   int    `json:"out_count"`
	DurationMS int64  `json:"duration_ms"`
}

type healthResponse struct {
	Detail string `json:"detail,omitempty"`
}
