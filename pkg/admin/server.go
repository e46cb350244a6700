// Package admin serves the operator HTTP API: runtime stats, audit
// queries and maintenance actions. It is meant for a private listen
// address behind a bearer token, not for public exposure.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/klio-ai/klio/pkg/analytics"
	"github.com/klio-ai/klio/pkg/audit"
	"github.com/klio-ai/klio/pkg/cache"
	"github.com/klio-ai/klio/pkg/config"
	"github.com/klio-ai/klio/pkg/dialog"
	"github.com/klio-ai/klio/pkg/maintain"
	"github.com/klio-ai/klio/pkg/models"
)

// Deps are the live components the admin surface reads from. Any of
// them may be nil; the corresponding endpoints degrade gracefully.
type Deps struct {
	Cache    *cache.Store
	Recorder analytics.Recorder
	Auditor  *audit.Logger
	Sessions *dialog.SessionStore
	Maint    *maintain.Manager
	Version  string
}

// Server is the admin HTTP server.
type Server struct {
	cfg  config.AdminConfig
	deps Deps
	log  zerolog.Logger
	http *http.Server
}

// New builds the server; call Start to begin listening.
func New(cfg config.AdminConfig, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{cfg: cfg, deps: deps, log: logger}
	s.http = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start listens and serves until Shutdown. It returns
// http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("listen", s.cfg.Listen).Msg("admin api listening")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.auth)
		r.Get("/stats", s.handleStats)
		r.Get("/audit", s.handleAudit)
		r.Get("/audit/stats", s.handleAuditStats)
		r.Get("/actions", s.handleListActions)
		r.Post("/actions/{name}", s.handleRunAction)
	})

	return r
}

// auth requires Authorization: Bearer <token> on /api routes. An
// empty configured token disables the check; the listen address is
// the safety net then.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		event := s.log.Info()
		if sw.status >= 500 {
			event = s.log.Error()
		} else if sw.status >= 400 {
			event = s.log.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("admin request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.deps.Version,
	})
}

// statsResponse is the GET /api/stats payload.
type statsResponse struct {
	Cache         *models.CacheStats    `json:"cache,omitempty"`
	CacheDegraded bool                  `json:"cache_degraded"`
	Sessions      int                   `json:"sessions"`
	Events        []models.EventSummary `json:"events,omitempty"`
	TopTopics     []models.TopicCount   `json:"top_topics,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse

	if s.deps.Cache != nil {
		stats := s.deps.Cache.Stats()
		resp.Cache = &stats
		resp.CacheDegraded = s.deps.Cache.Degraded()
	}
	if s.deps.Sessions != nil {
		resp.Sessions = s.deps.Sessions.Len()
	}
	if s.deps.Recorder != nil {
		events, err := s.deps.Recorder.Summary(r.Context())
		if err != nil {
			s.log.Warn().Err(err).Msg("analytics summary failed")
		} else {
			resp.Events = events
		}
		topics, err := s.deps.Recorder.TopTopics(r.Context(), 10)
		if err == nil {
			resp.TopTopics = topics
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auditor == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "audit disabled"})
		return
	}

	opts := models.CallQueryOpts{
		Model:     r.URL.Query().Get("model"),
		RequestID: r.URL.Query().Get("request_id"),
		Limit:     50,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			opts.Limit = n
		}
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			opts.Since = t
		}
	}

	records, err := s.deps.Auditor.Query(r.Context(), opts)
	if err != nil {
		s.log.Error().Err(err).Msg("audit query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Auditor == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "audit disabled"})
		return
	}
	stats, err := s.deps.Auditor.Stats(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("audit stats failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (s *Server) handleListActions(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Maint == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "maintenance disabled"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": s.deps.Maint.Names()})
}

// actionResponse is the POST /api/actions/{name} payload.
type actionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (s *Server) handleRunAction(w http.ResponseWriter, r *http.Request) {
	if s.deps.Maint == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "maintenance disabled"})
		return
	}

	name := chi.URLParam(r, "name")
	msg, err := s.deps.Maint.Run(r.Context(), name)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, maintain.ErrUnknownAction) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, actionResponse{OK: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{OK: true, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
