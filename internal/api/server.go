package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archive/internal/feed"
	"github.com/JakeFAU/newsletter-archive/internal/ingest"
	"github.com/JakeFAU/newsletter-archive/internal/metrics"
	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

// IngestRunner runs manual ingestion and detail sweeps synchronously.
type IngestRunner interface {
	RunIngestion(ctx context.Context) (ingest.Result, error)
	RetryMissingDetails(ctx context.Context) (ingest.RetryResult, error)
}

// TaskSubmitter enqueues background tasks.
type TaskSubmitter interface {
	Submit(ctx context.Context, kind newsletter.TaskKind, trigger string) (newsletter.Task, error)
}

// Subscriber registers push subscriptions and sends the welcome notification.
type Subscriber interface {
	Subscribe(ctx context.Context, in newsletter.SubscriptionInput) (newsletter.Subscription, error)
}

// ReadyCheck reports whether downstream dependencies are reachable.
type ReadyCheck func(ctx context.Context) error

// Deps bundles the collaborators of the HTTP server.
type Deps struct {
	Issues        newsletter.IssueStore
	Subscriptions newsletter.SubscriptionStore
	Subscriber    Subscriber
	Runner        IngestRunner
	Tasks         TaskSubmitter
	Clock         newsletter.Clock
	Ready         ReadyCheck
	Logger        *zap.Logger
}

// Config controls authentication and timeouts.
type Config struct {
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	Site           feed.Site
}

// Server wires HTTP handlers to the stores and the ingestion service.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.RequestTimeout))
			r.Route("/newsletters", func(r chi.Router) {
				r.Get("/", s.listNewsletters)
				r.Get("/search", s.searchNewsletters)
				r.Get("/rss", s.rss)
				r.Get("/embed", s.embed)
			})
			r.Post("/subscriptions", s.subscribe)
			r.Put("/subscriptions/settings", s.updateSettings)
		})
		// Manual runs are bounded by the ingest run timeout, not the request timeout.
		r.Route("/admin", func(r chi.Router) {
			if cfg.AuthEnabled {
				r.Use(apiKeyMiddleware(cfg.APIKey))
			}
			r.Post("/ingest", s.runIngestion)
			r.Post("/ingest/async", s.submitIngestion)
			r.Post("/retry-details", s.retryDetails)
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
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
