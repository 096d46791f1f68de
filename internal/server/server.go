// Package server exposes the ingestion pipeline and tag/profile queries
// over an authenticated JSON API.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/cocorobi/cardpool/internal/auth"
	"github.com/cocorobi/cardpool/internal/config"
	"github.com/cocorobi/cardpool/internal/ingest"
	"github.com/cocorobi/cardpool/internal/ratelimit"
	"github.com/cocorobi/cardpool/internal/store"
)

// Server holds the handler dependencies and the configured router.
type Server struct {
	store    store.Store
	ingestor *ingest.Ingestor
	verifier *auth.Verifier
	limiter  *ratelimit.Keyed
	maxBytes int64
	router   *chi.Mux
}

// New wires routes and middleware. The returned Server is an http.Handler.
func New(cfg *config.Config, st store.Store, ing *ingest.Ingestor, verifier *auth.Verifier) *Server {
	s := &Server{
		store:    st,
		ingestor: ing,
		verifier: verifier,
		limiter:  ratelimit.New(cfg.Ingest.UploadsPerMinute, cfg.Ingest.UploadBurst),
		maxBytes: cfg.Ingest.MaxFileBytes,
		router:   chi.NewRouter(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.verifier.Middleware)

		r.With(s.limitUploads).Post("/cards/ingest", s.handleIngest)
		r.Get("/tags", s.handleTags)
		r.Get("/tag-settings", s.handleGetTagSettings)
		r.Put("/tag-settings", s.handlePutTagSettings)
		r.Get("/profile", s.handleProfile)
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAddr formats the listen address for the configured port.
func ListenAddr(cfg config.ServerConfig) string {
	return fmt.Sprintf(":%d", cfg.Port)
}

// limitUploads throttles the upload endpoint per authenticated user.
func (s *Server) limitUploads(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := auth.FromContext(r.Context()); ok && !s.limiter.Allow(id.UserID) {
			writeError(w, http.StatusTooManyRequests, "upload rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("response encode failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
