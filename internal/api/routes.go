package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/engagement-tracker/internal/metrics"
	svc "github.com/ignite/engagement-tracker/internal/service/tracking"
	"github.com/ignite/engagement-tracker/internal/tracking"
)

// Deps are the collaborators the router is built from. Only Service is
// required.
type Deps struct {
	Service        *svc.Service
	Publisher      tracking.EventPublisher
	Metrics        *metrics.Metrics
	Health         *HealthChecker
	AllowedOrigins []string
}

// SetupRoutes configures all routes: health checks, the resolution
// endpoints under /track, and the reporting API under /api.
func SetupRoutes(d Deps) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}

	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	health := d.Health
	if health == nil {
		health = NewHealthChecker(d.Service, nil, nil, "")
	}
	r.Get("/health", health.HandleHealth)
	r.Get("/health/live", health.HandleLiveness)
	r.Get("/health/ready", health.HandleReadiness)

	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	// Pixel and link endpoints embedded in sent mail
	r.Mount("/track", tracking.NewHandler(d.Service, d.Publisher).Routes())

	h := NewHandlers(d.Service)
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats/{campaignID}", h.GetCampaignStats)
		r.Get("/engagement/{contactID}", h.GetContactEngagement)
		r.Get("/recommendations/{campaignID}", h.GetRecommendations)

		r.Get("/export", h.ExportCSV)
		r.Get("/export/{campaignID}", h.ExportCSV)
		r.Get("/data", h.GetData)
		r.Get("/data/{recordID}", h.GetRecord)

		r.Post("/emails/prepare", h.PrepareEmail)
	})

	return r
}
