package main

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/CTAG07/talklike/pkg/persist"
	"github.com/CTAG07/talklike/pkg/talklike"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// requestIDHeader carries the id used to correlate a request with its logs.
const requestIDHeader = "X-Request-Id"

// Server hosts the HTTP API in front of a talklike.Service.
type Server struct {
	config  *Config
	logger  *slog.Logger
	svc     *talklike.Service
	flusher *persist.Flusher
	metrics *Metrics
	auth    *Authenticator
	router  chi.Router
}

// NewServer wires the routes. flusher and metrics may be nil.
func NewServer(config *Config, logger *slog.Logger, svc *talklike.Service, flusher *persist.Flusher, metrics *Metrics) *Server {
	s := &Server{
		config:  config,
		logger:  logger,
		svc:     svc,
		flusher: flusher,
		metrics: metrics,
		auth:    NewAuthenticator(config.Server.ApiKeys, logger),
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	// Public, so health checks and scrapers need no key.
	r.Get("/api/health", s.handleHealthCheck)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Authenticate)
		r.Route("/api", func(r chi.Router) {
			r.With(requireScope(scopeTrain)).Post("/messages", s.handleMessage)
			r.With(requireScope(scopeGenerate)).Post("/generate", s.handleGenerate)
			r.With(requireScope(scopeManage)).Post("/flush", s.handleFlush)
			r.With(requireScope(scopeStats)).Get("/stats", s.handleStats)
			r.With(requireScope(scopeStats)).Get("/version", s.handleVersion)

			r.Route("/users/{id}", func(r chi.Router) {
				r.With(requireScope(scopeTrain)).Post("/train", s.handleTrainText)
				r.With(requireScope(scopeManage)).Post("/clear", s.handleClear)
				r.With(requireScope(scopeStats)).Get("/stats", s.handleUserStats)
				r.With(requireScope(scopeManage)).Get("/export", s.handleExport)
			})
		})
	})
	return r
}

// requestLogger assigns a request id, logs the request, and counts it.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if s.metrics != nil {
			s.metrics.requests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		}
		s.logger.Debug("Handled request",
			slog.String("request_id", id),
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
