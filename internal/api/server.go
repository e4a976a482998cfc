// Package api implements Refine's HTTP server: the JSON generation API,
// usage reporting, health endpoints, and the mounted web UI.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/nugget/refine/internal/buildinfo"
	"github.com/nugget/refine/internal/config"
	"github.com/nugget/refine/internal/generator"
	"github.com/nugget/refine/internal/usage"
	"github.com/nugget/refine/internal/web"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Generator is the part of *generator.Generator the server needs.
type Generator interface {
	Generate(ctx context.Context, req generator.Request) generator.Result
	Model() string
}

// Config holds the server's dependencies.
type Config struct {
	Address string
	Port    int

	Generator Generator

	// Provider names the configured backend for the usage ledger.
	Provider string

	// Credential is the configured provider key. AllowUserKey lets a
	// request supply its own.
	Credential   string
	AllowUserKey bool

	BrandName string

	// Usage, when non-nil, receives one record per generation attempt.
	Usage   *usage.Store
	Pricing map[string]config.PricingEntry

	Logger *slog.Logger
}

// Server is the HTTP server.
type Server struct {
	cfg    Config
	gen    Generator
	usage  *usage.Store
	logger *slog.Logger
	server *http.Server
	stats  *SessionStats
}

// NewServer creates a new server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		gen:    cfg.Generator,
		usage:  cfg.Usage,
		logger: logger,
		stats:  newSessionStats(),
	}
}

// Handler returns the fully wired handler: API routes, web routes and
// request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/generate", s.handleGenerate)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)

	web.NewWebServer(web.Config{
		Generator:    s.gen,
		Credential:   s.cfg.Credential,
		AllowUserKey: s.cfg.AllowUserKey,
		BrandName:    s.cfg.BrandName,
		Observe: func(r *http.Request, res generator.Result) {
			s.record(r.Context(), usage.SurfaceWeb, res)
		},
		Logger: s.logger,
	}).RegisterRoutes(mux)

	return s.withLogging(mux)
}

// Start listens and serves until Shutdown. It returns
// http.ErrServerClosed after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Long enough for a slow generation plus rendering.
		WriteTimeout: 180 * time.Second,
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting server", "address", addr, "port", s.cfg.Port, "model", s.gen.Model())
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type requestIDKey struct{}

// RequestID returns the id withLogging assigned to the request, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))

		s.logger.Info("request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"kind":    kind,
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
