package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tracklane/copilot/internal/assistant"
	"github.com/tracklane/copilot/pkg/models"
)

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeKindError is writeError with the error-taxonomy kind attached, for
// boundary rejections that clients dispatch on.
func writeKindError(w http.ResponseWriter, status int, kind models.ErrKind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "kind": string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeChatRequest parses and sanity-checks the request body. The caller
// context always comes from the verified token, never the body.
func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (*assistant.ChatRequest, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return nil, false
	}

	var req assistant.ChatRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return nil, false
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages are required")
		return nil, false
	}

	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller context")
		return nil, false
	}
	req.Caller = caller
	return &req, true
}

// statusFor maps engine errors onto the boundary's status codes. Tool-level
// failures never surface here (they ride inside tool results); these are
// upstream model failures and timeouts.
func statusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	resp, err := s.engine.Chat(r.Context(), req)
	if err != nil {
		s.logger.Error(r.Context(), "chat failed", "error", err.Error())
		writeError(w, statusFor(err), "the assistant could not complete the request")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	chunks, path, err := s.engine.ChatStream(r.Context(), req)
	if err != nil {
		s.logger.Error(r.Context(), "chat stream failed", "error", err.Error())
		writeError(w, statusFor(err), "the assistant could not complete the request")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Chat-Path", string(path))
	w.WriteHeader(http.StatusOK)

	for chunk := range chunks {
		if chunk.Err != nil {
			// Status is already committed; end the stream after reporting.
			s.logger.Error(r.Context(), "stream interrupted", "error", chunk.Err.Error())
			_, _ = w.Write([]byte("\n[stream error]"))
			flusher.Flush()
			return
		}
		if chunk.Text != "" {
			if _, err := w.Write([]byte(chunk.Text)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
