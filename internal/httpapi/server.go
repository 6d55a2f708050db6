// Package httpapi implements the §6.1 HTTP surface: five thin endpoints
// binding the workflow engine (C14) to JSON request/response envelopes, no
// business logic of its own, grounded on the teacher's internal/httpapi
// (Server wrapping a service, stdlib http.ServeMux "METHOD /path" routes,
// respondJSON/respondError helpers).
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/lopeti/ha-rag-bridge/internal/diagnostics"
	"github.com/lopeti/ha-rag-bridge/internal/embedding"
	"github.com/lopeti/ha-rag-bridge/internal/workflow"
)

// Server exposes the RAG bridge's HTTP endpoints.
type Server struct {
	engine      *workflow.Engine
	recorder    *diagnostics.Recorder
	embedder    embedding.Embedder
	expectedDim int
	mux         *http.ServeMux
}

// NewServer wires a Server to the workflow engine that answers every
// retrieval request, the diagnostics recorder that reports quality/trace
// detail back to callers, and the embedder/expectedDim pair /health checks
// for a dimension mismatch (§6.3/§6.4).
func NewServer(engine *workflow.Engine, recorder *diagnostics.Recorder, embedder embedding.Embedder, expectedDim int) *Server {
	s := &Server{engine: engine, recorder: recorder, embedder: embedder, expectedDim: expectedDim, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /process-request", s.handleProcessRequest)
	s.mux.HandleFunc("POST /process-request-workflow", s.handleProcessRequestWorkflow)
	s.mux.HandleFunc("POST /process-response", s.handleProcessResponse)
	s.mux.HandleFunc("POST /process-conversation", s.handleProcessConversation)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, healthResponse{Detail: detail})
}
