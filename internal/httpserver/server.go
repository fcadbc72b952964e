package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	qrcode "github.com/skip2/go-qrcode"

	"wa-blast/internal/autoreply"
	"wa-blast/internal/campaign"
	"wa-blast/internal/dispatch"
	"wa-blast/internal/metrics"
	"wa-blast/internal/repo"
	"wa-blast/internal/session"
)

// Dependencies exposes the engines the handlers drive.
type Dependencies struct {
	Sessions  *session.Manager
	Dispatch  *dispatch.Engine
	Campaigns *campaign.Scheduler
	AutoReply *autoreply.Engine
	Store     repo.Store
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	deps       Dependencies
	basePath   string
}

// New creates an HTTP server listening on addr with the full API mounted.
func New(addr string, logger *slog.Logger, metricRegistry *metrics.Metrics, deps Dependencies, basePath string) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		metrics:  metricRegistry,
		deps:     deps,
		basePath: normaliseBasePath(basePath),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /sessions", server.handleStartSession)
	mux.HandleFunc("DELETE /sessions/{id}", server.handleEndSession)
	mux.HandleFunc("GET /sessions/{id}/qr.png", server.handleSessionQR)
	mux.HandleFunc("POST /sessions/{id}/messages", server.handleSendMessage)
	mux.HandleFunc("POST /sessions/{id}/campaigns", server.handleSendBulk)
	mux.HandleFunc("GET /sessions/{id}/groups", server.handleListGroups)
	mux.HandleFunc("GET /sessions/{id}/groups/{gid}/members", server.handleGroupMembers)

	mux.HandleFunc("PUT /campaigns/{id}/autoreply", server.handleUpsertAutoReply)
	mux.HandleFunc("GET /campaigns/{id}/messages", server.handleCampaignMessages)

	handler := mountWithBasePath(server.basePath, mux)

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OwnerUserID string `json:"ownerUserId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if body.OwnerUserID == "" {
		writeError(w, http.StatusBadRequest, "ownerUserId is required")
		return
	}

	res, err := s.deps.Sessions.Start(r.Context(), body.OwnerUserID)
	if err != nil {
		s.writeEngineError(w, "session start", err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Sessions.End(r.Context(), id); err != nil {
		s.writeEngineError(w, "session end", err)
		return
	}
	writeJSON(w, map[string]string{"status": "ended", "sessionId": id})
}

func (s *Server) handleSessionQR(w http.ResponseWriter, r *http.Request) {
	code, err := s.deps.Sessions.QR(r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, "session qr", err)
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		s.logger.Error("qr render failed", "error", err)
		writeError(w, http.StatusInternalServerError, "qr render failed")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To          string               `json:"to"`
		Body        string               `json:"body"`
		Attachment  *dispatch.Attachment `json:"attachment,omitempty"`
		OwnerUserID string               `json:"ownerUserId,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if body.To == "" {
		writeError(w, http.StatusBadRequest, "to is required")
		return
	}

	res, err := s.deps.Dispatch.Send(r.Context(), dispatch.SendInput{
		SessionID:   r.PathValue("id"),
		To:          body.To,
		Body:        body.Body,
		Attachment:  body.Attachment,
		OwnerUserID: body.OwnerUserID,
	})
	if err != nil {
		s.writeEngineError(w, "message send", err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleSendBulk(w http.ResponseWriter, r *http.Request) {
	var in campaign.BulkInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	in.SessionID = r.PathValue("id")

	res, err := s.deps.Campaigns.SendBulk(r.Context(), in)
	if err != nil {
		s.writeEngineError(w, "bulk send", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		s.logger.Error("bulk send response encode failed", "error", err)
	}
}

func (s *Server) handleUpsertAutoReply(w http.ResponseWriter, r *http.Request) {
	var in autoreply.RuleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	rs, err := s.deps.AutoReply.UpsertRule(r.Context(), r.PathValue("id"), in)
	if err != nil {
		s.writeEngineError(w, "auto-reply upsert", err)
		return
	}
	writeJSON(w, rs)
}

func (s *Server) handleCampaignMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.deps.Store.ListMessagesByCampaign(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, "campaign messages", err)
		return
	}
	writeJSON(w, map[string]any{"messages": msgs, "total": len(msgs)})
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	conn, err := s.deps.Sessions.Handle(r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, "group list", err)
		return
	}

	groups, err := conn.JoinedGroups(r.Context())
	if err != nil {
		s.writeEngineError(w, "group list", err)
		return
	}
	writeJSON(w, map[string]any{"groups": groups, "total": len(groups)})
}

func (s *Server) handleGroupMembers(w http.ResponseWriter, r *http.Request) {
	conn, err := s.deps.Sessions.Handle(r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, "group members", err)
		return
	}

	members, err := conn.GroupMembers(r.Context(), r.PathValue("gid"))
	if err != nil {
		s.writeEngineError(w, "group members", err)
		return
	}
	writeJSON(w, map[string]any{"members": members, "total": len(members)})
}

// writeEngineError maps engine sentinels onto HTTP status codes.
func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrNoQRCode):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrQRTimeout):
		writeError(w, http.StatusRequestTimeout, err.Error())
	case errors.Is(err, session.ErrLogoutFailure):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, dispatch.ErrRecipientNotRegistered):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, dispatch.ErrUnsupportedMediaType),
		errors.Is(err, dispatch.ErrNoMediaSource),
		errors.Is(err, dispatch.ErrEmptyMessage),
		errors.Is(err, campaign.ErrNoRecipients),
		errors.Is(err, campaign.ErrEmptyBody),
		errors.Is(err, autoreply.ErrNoTriggerWords),
		errors.Is(err, autoreply.ErrNoReplyRules):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(op+" failed", "error", err)
		s.metrics.Errors.WithLabelValues("http").Inc()
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
