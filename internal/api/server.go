// Package api exposes the matching and attempt workflows over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/serveroute/serveroute/internal/attempt"
	"github.com/serveroute/serveroute/internal/dcn"
)

// DefaultMaxUploadBytes caps DCN and photo uploads.
const DefaultMaxUploadBytes = 10 << 20

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds HTTP-layer settings.
type Config struct {
	CORSOrigins      []string
	UploadRatePerMin int
	MaxUploadBytes   int64
}

// Server wires handlers to the domain services.
type Server struct {
	cfg       Config
	auth      *Authenticator
	processor *dcn.Processor
	reviewer  *dcn.Reviewer
	attempts  *attempt.Service
	health    Pinger
	uploads   *companyLimiter
}

// NewServer creates a Server.
func NewServer(cfg Config, auth *Authenticator, processor *dcn.Processor, reviewer *dcn.Reviewer, attempts *attempt.Service, health Pinger) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{
		cfg:       cfg,
		auth:      auth,
		processor: processor,
		reviewer:  reviewer,
		attempts:  attempts,
		health:    health,
		uploads:   newCompanyLimiter(cfg.UploadRatePerMin),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Route("/dcn", func(r chi.Router) {
			r.Get("/template", s.handleTemplate)
			r.With(s.uploads.middleware).Post("/uploads", s.handleUpload)
			r.Get("/uploads", s.handleListBatches)
			r.Get("/uploads/{batchID}", s.handleGetBatch)
			r.Get("/records", s.handleListRecords)
			r.Post("/records/{recordID}/confirm", s.handleConfirm)
			r.Post("/records/{recordID}/reject", s.handleReject)
			r.Get("/records/{recordID}/audit", s.handleAudit)
		})

		r.Get("/addresses/search", s.handleSearch)
		r.Route("/addresses/{addressID}", func(r chi.Router) {
			r.Get("/attempts", s.handleListAttempts)
			r.Post("/attempts/capture", s.handleCapture)
			r.Post("/attempts/finalize", s.handleFinalize)
			r.Post("/attempts/manual", s.handleManual)
			r.Get("/qualifiers", s.handleQualifiers)
		})

		r.Get("/qualifiers/classify", s.handleClassify)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			zap.L().Warn("api: health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
