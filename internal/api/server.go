package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
	"github.com/JakeFAU/ptt-stock-crawler/internal/metrics"
	"github.com/JakeFAU/ptt-stock-crawler/internal/orchestrator"
	"github.com/JakeFAU/ptt-stock-crawler/internal/store"
)

const (
	defaultPendingLimit = 50
	maxPendingLimit     = 500
	defaultSessionLimit = 20
	maxSessionLimit     = 200
	requestTimeout      = 30 * time.Second
	readyTimeout        = 2 * time.Second
)

// Crawler is the orchestrator surface the API drives.
type Crawler interface {
	RunSession(ctx context.Context) (crawler.CrawlSession, error)
	CrawlSingleAuthor(ctx context.Context, author string) (crawler.CrawlSession, error)
	AnalyzePending(ctx context.Context, limit int) (int, error)
	Running() (string, time.Duration, bool)
}

// Pinger reports whether a downstream dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options carries optional collaborators and toggles.
type Options struct {
	Sessions store.SessionRepository
	Ready    Pinger
	APIKey   string
	Logger   *zap.Logger
}

// Server wires HTTP handlers to the orchestrator.
type Server struct {
	router   chi.Router
	crawler  Crawler
	sessions store.SessionRepository
	ready    Pinger
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. Crawl routes run
// synchronously and are exempt from the request timeout.
func NewServer(c Crawler, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		crawler:  c,
		sessions: opts.Sessions,
		ready:    opts.Ready,
		logger:   logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/crawl", s.crawlAll)
		r.Post("/crawl/{author}", s.crawlAuthor)
		r.Post("/analyze/pending", s.analyzePending)
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))
			r.Get("/status", s.status)
			r.Get("/sessions", s.listSessions)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) crawlAll(w http.ResponseWriter, r *http.Request) {
	session, err := s.crawler.RunSession(r.Context())
	s.writeSession(w, session, err)
}

func (s *Server) crawlAuthor(w http.ResponseWriter, r *http.Request) {
	author := strings.TrimSpace(chi.URLParam(r, "author"))
	if author == "" {
		writeError(w, http.StatusBadRequest, "author is required")
		return
	}
	session, err := s.crawler.CrawlSingleAuthor(r.Context(), author)
	s.writeSession(w, session, err)
}

func (s *Server) writeSession(w http.ResponseWriter, session crawler.CrawlSession, err error) {
	if err != nil {
		s.writeCrawlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": toSessionDTO(session)})
}

func (s *Server) writeCrawlError(w http.ResponseWriter, err error) {
	var running *orchestrator.AlreadyRunningError
	if errors.As(err, &running) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":           "crawl already running",
			"author":          running.Author,
			"elapsed_seconds": running.Elapsed.Seconds(),
		})
		return
	}
	s.logger.Error("crawl request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "crawl failed")
}

func (s *Server) analyzePending(w http.ResponseWriter, r *http.Request) {
	limit, _, err := parseLimitOffset(r, defaultPendingLimit, maxPendingLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.crawler.AnalyzePending(r.Context(), limit)
	if err != nil {
		s.writeCrawlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	author, elapsed, running := s.crawler.Running()
	payload := map[string]any{"running": running}
	if running {
		payload["author"] = author
		payload["elapsed_seconds"] = elapsed.Seconds()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultSessionLimit, maxSessionLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sessions, err := s.sessions.ListCrawlSessions(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list sessions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	out := make([]sessionDTO, 0, len(sessions))
	for _, cs := range sessions {
		out = append(out, toSessionDTO(cs))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

type sessionDTO struct {
	ID              string    `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	Authors         []string  `json:"authors"`
	Found           int       `json:"found"`
	Saved           int       `json:"saved"`
	Analyzed        int       `json:"analyzed"`
	Skipped         int       `json:"skipped"`
	Errors          []string  `json:"errors"`
	DurationSeconds float64   `json:"duration_seconds"`
	Status          string    `json:"status"`
}

func toSessionDTO(cs crawler.CrawlSession) sessionDTO {
	dto := sessionDTO{
		ID:              cs.ID,
		StartedAt:       cs.StartedAt,
		Authors:         cs.Authors,
		Found:           cs.Found,
		Saved:           cs.Saved,
		Analyzed:        cs.Analyzed,
		Skipped:         cs.Skipped,
		Errors:          cs.Errors,
		DurationSeconds: cs.Duration.Seconds(),
		Status:          string(cs.Status),
	}
	if dto.Authors == nil {
		dto.Authors = []string{}
	}
	if dto.Errors == nil {
		dto.Errors = []string{}
	}
	return dto
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
