// Package httpapi exposes the conversation agent over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"search-agent/internal/application/port/input"
	"search-agent/internal/application/port/output"
	"search-agent/internal/domain/entity"
	"search-agent/internal/usecase/conversation"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
	"github.com/rs/zerolog"
)

type Config struct {
	Addr         string
	ServiceName  string
	LogLevel     string
	JSONLogs     bool
	TurnTimeout  time.Duration
	ShutdownWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ServiceName:  "search-agent",
		LogLevel:     "info",
		JSONLogs:     true,
		TurnTimeout:  10 * time.Minute,
		ShutdownWait: 10 * time.Second,
	}
}

type ChatRequest struct {
	Message   string   `json:"message"`
	Ephemeral bool     `json:"ephemeral,omitempty"`
	Raw       bool     `json:"raw,omitempty"`
	Files     []string `json:"files,omitempty"`
}

type ChatResponse struct {
	Reply     string          `json:"reply"`
	Message   *entity.Message `json:"message,omitempty"`
	ToolCalls int             `json:"toolCalls"`
	Retries   int             `json:"retries"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	agent  input.ConversationAgent
	cfg    Config
	logger output.LoggerPort
	srv    *http.Server
}

func NewServer(agent input.ConversationAgent, cfg Config, log output.LoggerPort) *Server {
	s := &Server{agent: agent, cfg: cfg, logger: log}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the chi router with request logging.
func (s *Server) Routes() http.Handler {
	reqLogger := httplog.NewLogger(s.cfg.ServiceName, httplog.Options{
		JSON:     s.cfg.JSONLogs,
		Concise:  true,
		LogLevel: s.cfg.LogLevel,
	})

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(reqLogger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/reset", s.handleReset)
	})
	return r
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return
	}

	for _, f := range req.Files {
		if !isRemoteFile(f) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "files must be http(s) URLs: " + f})
			return
		}
	}

	var opts []input.TurnOption
	if req.Ephemeral {
		opts = append(opts, input.WithoutHistory())
	}
	if len(req.Files) > 0 {
		opts = append(opts, input.WithFiles(req.Files...))
	}

	ctx := r.Context()
	if s.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.TurnTimeout)
		defer cancel()
	}

	entry := httplog.LogEntry(ctx)
	entry.Debug().
		Dict("turn", zerolog.Dict().Bool("ephemeral", req.Ephemeral).Int("files", len(req.Files))).
		Msg("chat turn")

	res, err := s.agent.Run(ctx, req.Message, opts...)
	if err != nil {
		status := http.StatusBadGateway
		var attErr *conversation.AttachmentError
		if errors.As(err, &attErr) {
			status = http.StatusBadRequest
		}
		httplog.LogEntrySetField(ctx, "turnError", err.Error())
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	resp := ChatResponse{Reply: res.Text, ToolCalls: res.ToolCalls, Retries: res.Retries}
	if req.Raw && res.Response != nil {
		msg := res.Response.Message
		resp.Message = &msg
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.agent.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// ListenAndServe blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.cfg.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownWait)
		defer cancel()
		s.logger.Info("HTTP server shutting down")
		return s.srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// isRemoteFile reports whether an attachment names an http(s) resource.
// Local paths would read files from the server's disk.
func isRemoteFile(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
