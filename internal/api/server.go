// Package api exposes the resale analytics and account operations over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"

	"github.com/rewired-gh/hdbinsight/internal/analytics"
	"github.com/rewired-gh/hdbinsight/internal/auth"
	"github.com/rewired-gh/hdbinsight/internal/dataset"
)

// Options configures the HTTP surface.
type Options struct {
	CORSAllowedOrigins []string
	RateLimitRequests  int // per client IP on account routes; 0 disables
	RateLimitWindow    time.Duration
}

// Server wires handlers to the query, forecast and account services.
type Server struct {
	table    *dataset.Table
	queries  *analytics.Service
	accounts *auth.Service
	metrics  *Metrics
	opts     Options
}

// NewServer creates a server over an already loaded table.
func NewServer(table *dataset.Table, accounts *auth.Service, metrics *Metrics, opts Options) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	metrics.SetDatasetRecords(table.Len())
	return &Server{
		table:    table,
		queries:  analytics.New(table),
		accounts: accounts,
		metrics:  metrics,
		opts:     opts,
	}
}

// Queries returns the query service backing the resale routes.
func (s *Server) Queries() *analytics.Service { return s.queries }

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Router builds the full route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(s.metrics.instrument)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]any{"status": "ok", "records": s.table.Len()})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/resale", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/towns", s.handleTowns)
		r.Get("/years", s.handleYears)
		r.Get("/resale_analysis", s.handleAnalysis)
		r.Get("/resale_roomtype_trends", s.handleRoomTypeTrends)
		r.Get("/resale_comparison", s.handleComparison)
		r.Get("/comparison_graph", s.handleComparisonGraph)
		r.Get("/raw_data_by_town", s.handleRawData)
		r.Get("/ai_predict", s.handlePredict)
	})

	r.Route("/api/account", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		if s.opts.RateLimitRequests > 0 {
			r.Use(httprate.LimitByIP(s.opts.RateLimitRequests, s.opts.RateLimitWindow))
		}

		r.Post("/signup", s.handleSignup)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/forgot-password", s.handleForgotPassword)
		r.Post("/reset-password", s.handleResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Get("/user-profile", s.handleProfile)
			r.Put("/update-profile", s.handleUpdateProfile)
		})
	})

	return r
}
