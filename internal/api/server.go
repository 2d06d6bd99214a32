// Package api implements the interviewer's HTTP and WebSocket API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nugget/resume-interviewer/internal/agent"
	"github.com/nugget/resume-interviewer/internal/buildinfo"
	"github.com/nugget/resume-interviewer/internal/connwatch"
	"github.com/nugget/resume-interviewer/internal/dialog"
	"github.com/nugget/resume-interviewer/internal/events"
	"github.com/nugget/resume-interviewer/internal/interview"
	"github.com/nugget/resume-interviewer/internal/mailer"
	"github.com/nugget/resume-interviewer/internal/schema"
	"github.com/nugget/resume-interviewer/internal/store"
)

// maxBodyBytes bounds request bodies. Pasted resumes are the largest.
const maxBodyBytes = 1 << 20

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Interviewer is the application service behind the API.
type Interviewer interface {
	Start(ctx context.Context, subject string) (*interview.Reply, error)
	Answer(ctx context.Context, subject, field, raw string) (*interview.Reply, error)
	Chat(ctx context.Context, subject, message string) (*interview.ChatReply, error)
	Reset(ctx context.Context, subject string) (*interview.Reply, error)
	Continue(ctx context.Context, subject, profileID string) (*interview.Reply, error)
	CV(ctx context.Context, subject string) (*interview.CVView, error)
	ExtractDocument(ctx context.Context, subject, text string) (*interview.Reply, error)
	MergeExtracted(ctx context.Context, subject string, extracted map[string]any) (*interview.Reply, error)
}

// HealthReporter reports the reachability of external services.
type HealthReporter interface {
	Status() []connwatch.Status
	Ready() bool
}

// SendFunc delivers a complete RFC 5322 message.
type SendFunc func(ctx context.Context, cfg mailer.Config, recipients []string, msg []byte) error

// Server is the HTTP API server.
type Server struct {
	addr   string
	svc    Interviewer
	source interview.SchemaSource
	bus    *events.Bus
	logger *slog.Logger
	server *http.Server

	smtp   mailer.Config
	send   SendFunc
	health HealthReporter
}

// NewServer creates a new API server listening on addr.
func NewServer(addr string, svc Interviewer, source interview.SchemaSource, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:   addr,
		svc:    svc,
		source: source,
		bus:    bus,
		logger: logger.With("component", "api"),
		send:   mailer.Send,
	}
}

// SetMailer enables the resume email endpoint.
func (s *Server) SetMailer(cfg mailer.Config, send SendFunc) {
	s.smtp = cfg
	if send != nil {
		s.send = send
	}
}

// SetHealth adds service reachability to the health endpoint.
func (s *Server) SetHealth(h HealthReporter) {
	s.health = h
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	mux.HandleFunc("GET /v1/schema", s.handleSchema)

	mux.HandleFunc("POST /v1/subjects/{subject}/start", s.handleStart)
	mux.HandleFunc("POST /v1/subjects/{subject}/answer", s.handleAnswer)
	mux.HandleFunc("POST /v1/subjects/{subject}/chat", s.handleChat)
	mux.HandleFunc("POST /v1/subjects/{subject}/reset", s.handleReset)
	mux.HandleFunc("POST /v1/subjects/{subject}/continue", s.handleContinue)
	mux.HandleFunc("POST /v1/subjects/{subject}/document", s.handleDocument)
	mux.HandleFunc("POST /v1/subjects/{subject}/document/merge", s.handleMerge)

	mux.HandleFunc("GET /v1/subjects/{subject}/cv", s.handleCV)
	mux.HandleFunc("POST /v1/subjects/{subject}/cv/email", s.handleCVEmail)

	mux.HandleFunc("GET /v1/subjects/{subject}/ws", s.handleWebSocket)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns when the server stops.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second, // agent turns call the model several times
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("starting API server", "address", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"name":    buildinfo.Name,
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

// handleHealth reports 503 without a schema, "degraded" while a watched
// service is unreachable, and "healthy" otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "healthy", "uptime": buildinfo.Uptime().String()}
	if s.health != nil {
		status["services"] = s.health.Status()
		if !s.health.Ready() {
			status["status"] = "degraded"
		}
	}
	if s.source == nil || s.source.Schema() == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		status["status"] = "no schema"
	}
	writeJSON(w, status, s.logger)
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if s.source == nil || s.source.Schema() == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, dialog.ErrNoSchema.Error())
		return
	}
	writeJSON(w, s.source.Schema().Descriptor(), s.logger)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// fail maps a service error to a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", code, "error", err)
	}
	s.errorResponse(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, interview.ErrEmptyDocument):
		return http.StatusBadRequest
	case errors.Is(err, dialog.ErrUnknownField):
		return http.StatusUnprocessableEntity
	case errors.Is(err, dialog.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, agent.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, dialog.ErrNoSchema), errors.Is(err, schema.ErrEmpty):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}
