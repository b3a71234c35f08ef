package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chunlea/computer-use-with-nanokvm/internal/agent"
	"github.com/chunlea/computer-use-with-nanokvm/internal/tracing"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

const maxChatBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("gateway: write response failed", "error", err)
	}
}

func writeOK(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, protocol.NewOKResponse("", payload))
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, protocol.NewErrorResponse("", code, message))
}

func writeFrame(w http.ResponseWriter, status int, resp *protocol.ResponseFrame) {
	writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{
		"status":    "ok",
		"version":   s.opts.Version,
		"connected": s.sess.Link.Connected(),
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(clientKey(r)) {
		w.Header().Set("Retry-After", "60")
		writeFrame(w, http.StatusTooManyRequests, rateLimitedResponse(""))
		return
	}

	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "invalid body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "message is required")
		return
	}

	res, err := s.chat(r.Context(), req.Message)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, agent.ErrBusy):
			status = http.StatusConflict
		case errors.Is(err, agent.ErrInputBlocked):
			status = http.StatusBadRequest
		}
		writeFrame(w, status, submitErrorResponse("", err))
		return
	}
	writeOK(w, newChatReply(res))
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{"turns": s.sess.Loop.Snapshot()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.statusPayload())
}

func (s *Server) statusPayload() map[string]any {
	return map[string]any{
		"session":   s.sess.Status(),
		"clients":   s.ClientCount(),
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Loop.Reset(); err != nil {
		writeFrame(w, http.StatusConflict, submitErrorResponse("", err))
		return
	}
	writeOK(w, map[string]any{"reset": true})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.Reconnect(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrUnavailable, err.Error())
		return
	}
	writeOK(w, map[string]any{"connected": true})
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	frame, err := s.sess.Screen.Capture(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrUnavailable, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(frame.Seq, 10))
	w.WriteHeader(http.StatusOK)
	w.Write(frame.PNG)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.proxy == nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrUnavailable, "no upstream stream configured")
		return
	}
	s.proxy.ServeHTTP(w, r)
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	limit := defaultTraceLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeOK(w, map[string]any{"spans": s.recentSpans(limit)})
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "invalid trace id")
		return
	}
	var spans []tracing.SpanData
	if s.opts.Tracing != nil {
		spans = s.opts.Tracing.Trace(id)
	}
	if len(spans) == 0 {
		writeError(w, http.StatusNotFound, protocol.ErrNotFound, "trace not found")
		return
	}
	writeOK(w, map[string]any{"spans": spans})
}

func (s *Server) recentSpans(limit int) []tracing.SpanData {
	if s.opts.Tracing == nil {
		return []tracing.SpanData{}
	}
	if limit <= 0 {
		limit = defaultTraceLimit
	}
	return s.opts.Tracing.Recent(limit)
}
