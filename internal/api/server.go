// Package api exposes the wrapper over HTTP with an OpenAI
// chat-completion-shaped surface.
package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/claude"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/envelope"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/log"
	"github.com/ChrisColeTech/claude-wrapper-sub018/internal/session"
)

// Runner executes one conversation. The session manager satisfies this;
// tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, req session.RunRequest) (*claude.Result, error)
	RunStreaming(ctx context.Context, req session.RunRequest) (io.ReadCloser, error)
}

// Server serves the chat-completion API.
type Server struct {
	runner Runner
	apiKey string
	model  string
	srv    *http.Server
}

// NewServer builds a Server listening on addr. apiKey empty disables
// bearer auth. model is the default advertised by /v1/models and used
// when a request omits one.
func NewServer(addr string, runner Runner, apiKey, model string) *Server {
	s := &Server{
		runner: runner,
		apiKey: apiKey,
		model:  model,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/models", s.auth(s.handleModels))
	mux.HandleFunc("POST /v1/chat/completions", s.auth(s.handleCompletions))
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	log.Info(log.CatAPI, "listening", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid_api_key", "invalid or missing API key")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{
				"id":       s.model,
				"object":   "model",
				"created":  time.Now().Unix(),
				"owned_by": "anthropic",
			},
		},
	})
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req envelope.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "malformed request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}
	if req.Model == "" {
		req.Model = s.model
	}

	runReq := session.RunRequest{Messages: req.Messages, Model: req.Model}
	if req.Stream {
		s.streamCompletion(w, r, req, runReq)
		return
	}

	res, err := s.runner.Run(r.Context(), runReq)
	if err != nil {
		writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope.Normalize(res.Output, req))
}

// streamCompletion relays the CLI's stream-json events as SSE chunks.
// Assistant events become content deltas; the result event closes the
// stream with a finish chunk and [DONE].
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, req envelope.ChatCompletionRequest, runReq session.RunRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "api_error", "streaming unsupported by connection")
		return
	}

	stream, err := s.runner.RunStreaming(r.Context(), runReq)
	if err != nil {
		writeRunError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	id := "chatcmpl-" + uuid.NewString()
	sendChunk := func(chunk envelope.ChatCompletionChunk) {
		payload, err := json.Marshal(chunk)
		if err != nil {
			log.ErrorErr(log.CatAPI, "marshaling stream chunk", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		event, err := claude.ParseEvent(line)
		if err != nil {
			// Non-JSON noise on stdout is skipped, not fatal.
			log.Debug(log.CatAPI, "skipping unparseable stream line", "len", len(line))
			continue
		}
		switch {
		case event.IsAssistant():
			if text := event.Message.GetText(); text != "" {
				sendChunk(envelope.NewChunk(id, req.Model, text, false))
			}
		case event.IsResult():
			sendChunk(envelope.NewChunk(id, req.Model, "", true))
		}
	}
	if err := scanner.Err(); err != nil {
		log.ErrorErr(log.CatAPI, "reading process stream", err)
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// writeRunError maps executor failures onto HTTP statuses. Timeouts are
// gateway timeouts; session seeding failures are bad gateways; the rest
// are plain server errors.
func writeRunError(w http.ResponseWriter, err error) {
	var creation *session.CreationError
	switch {
	case errors.Is(err, claude.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "timeout_error", err.Error())
	case errors.As(err, &creation):
		writeError(w, http.StatusBadGateway, "api_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "api_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.ErrorErr(log.CatAPI, "writing response", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    kind,
		},
	})
}
