// Package server exposes the conversation orchestrator over HTTP: a
// server-sent-events streaming endpoint for chat, plus skill catalog
// and health endpoints.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/scribe-notes/scribe/internal/claude"
	"github.com/scribe-notes/scribe/internal/orchestrator"
	"github.com/scribe-notes/scribe/internal/skills"
	"github.com/scribe-notes/scribe/internal/tools"
)

// Config holds the server's settings.
type Config struct {
	Addr string
	// BearerToken, when non-empty, is required on /chat/stream.
	BearerToken  string
	SystemPrompt string

	MaxTurns           int
	MaxConcurrentTools int
}

// Server wires HTTP routes to the orchestrator and registry.
type Server struct {
	cfg       Config
	completer claude.Completer
	mapper    *tools.Mapper
	runner    orchestrator.SkillRunner
	registry  *skills.Registry
	mux       *http.ServeMux
}

// New builds the server and its routes.
func New(cfg Config, completer claude.Completer, mapper *tools.Mapper, runner orchestrator.SkillRunner, registry *skills.Registry) *Server {
	s := &Server{
		cfg:       cfg,
		completer: completer,
		mapper:    mapper,
		runner:    runner,
		registry:  registry,
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /chat/stream", s.handleChatStream)
	s.mux.HandleFunc("GET /skills", s.handleSkills)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe runs the server until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[server] listening on %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// chatRequest is the /chat/stream request body.
type chatRequest struct {
	Message        string           `json:"message"`
	History        []historyMessage `json:"history,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
}

type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeJSONError(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	orch := orchestrator.New(orchestrator.Config{
		Completer:          s.completer,
		Mapper:             s.mapper,
		Runner:             s.runner,
		Registry:           s.registry,
		SystemPrompt:       s.cfg.SystemPrompt,
		ConversationID:     req.ConversationID,
		MaxTurns:           s.cfg.MaxTurns,
		MaxConcurrentTools: s.cfg.MaxConcurrentTools,
	})

	// r.Context() is canceled on client disconnect, which stops the
	// orchestrator's emission.
	for ev := range orch.Run(r.Context(), req.Message, historyParams(req.History)) {
		name, payload := wireFrame(ev)
		writeFrame(w, flusher, name, payload)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.BearerToken == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	return found && token == s.cfg.BearerToken
}

// historyParams converts wire history into model message params.
func historyParams(history []historyMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return out
}

// wireFrame maps an orchestrator event onto its SSE event name and
// JSON payload.
func wireFrame(ev orchestrator.Event) (string, any) {
	switch ev.Type {
	case orchestrator.EventToken:
		return "token", map[string]string{"content": ev.Token}
	case orchestrator.EventToolCall:
		return "tool_call", map[string]any{
			"id":         ev.ToolCall.ID,
			"name":       ev.ToolCall.Name,
			"parameters": ev.ToolCall.Parameters,
			"status":     ev.ToolCall.Status,
		}
	case orchestrator.EventToolResult:
		frame := map[string]any{
			"id":     ev.ToolCall.ID,
			"result": nil,
			"status": ev.ToolCall.Status,
		}
		if ev.Result.OK {
			if len(ev.Result.Data) > 0 {
				frame["result"] = ev.Result.Data
			}
		} else {
			frame["error"] = ev.Result.ErrorMessage
			frame["error_kind"] = ev.Result.ErrorKind
		}
		return "tool_result", frame
	case orchestrator.EventDomain:
		payload := ev.Domain.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		return ev.Domain.Type, payload
	case orchestrator.EventComplete:
		return "complete", map[string]any{}
	case orchestrator.EventError:
		return "error", map[string]string{"error": ev.Err}
	default:
		return "error", map[string]string{"error": "unknown event"}
	}
}

// writeFrame emits one SSE frame and flushes it so tokens reach the
// client as they arrive.
func writeFrame(w http.ResponseWriter, flusher http.Flusher, name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[server] marshal %s frame: %v", name, err)
		return
	}
	if _, err := w.Write([]byte("event: " + name + "\ndata: " + string(data) + "\n\n")); err != nil {
		// Client went away; the request context cancellation stops the
		// orchestrator.
		return
	}
	flusher.Flush()
}

// skillView is one entry of the /skills response.
type skillView struct {
	ID          string       `json:"id"`
	Description string       `json:"description,omitempty"`
	Scripts     []scriptView `json:"scripts"`
}

type scriptView struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	views := make([]skillView, 0, s.registry.Len())
	for _, desc := range s.registry.All() {
		view := skillView{ID: desc.ID, Description: desc.Description, Scripts: []scriptView{}}
		for _, script := range desc.Scripts() {
			view.Scripts = append(view.Scripts, scriptView{Name: script.Name, Description: script.Description})
		}
		sort.Slice(view.Scripts, func(i, j int) bool { return view.Scripts[i].Name < view.Scripts[j].Name })
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"skills": views,
		"tools":  s.mapper.Catalog(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[server] write response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
