package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures the full HTTP surface. Feature gates decide
// which route groups exist at all; a disabled subsystem 404s rather
// than 403s so the surface does not advertise what it hides.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://app.castradar.io", "http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", TenantHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Unauthenticated surface: liveness and scrape endpoint.
	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", promhttp.HandlerFor(h.metrics.Gatherer(), promhttp.HandlerOpts{}))

	r.Route("/api", func(api chi.Router) {
		api.Use(TenantMiddleware)

		api.Route("/attribution", func(ar chi.Router) {
			ar.Post("/events", h.IngestEvent)
			ar.Post("/tracking-links", h.TrackingLinks)
			ar.Post("/campaigns/{campaignID}/roi", h.CampaignROI)
			ar.Get("/campaigns/{campaignID}/performance", h.CampaignPerformance)
			if h.reportBuilder != nil {
				ar.Post("/campaigns/{campaignID}/report", h.CampaignReport)
			}
		})

		if h.cfg.Features.Matchmaking {
			api.Route("/matchmaking", func(mr chi.Router) {
				mr.Post("/recalculate", h.RecalculateMatches)
				mr.Post("/score", h.ScoreMatch)
				mr.Get("/matches/stale", h.StaleMatches)
				mr.Get("/matches/{advertiserID}/{podcastID}", h.GetMatch)
				mr.Get("/advertisers/{advertiserID}/matches", h.TopMatches)
			})
		}

		if h.cfg.Features.AutomationJobs {
			api.Route("/automation", func(ar chi.Router) {
				ar.Post("/etl-health", h.ETLHealth)
				ar.Post("/refresh-metrics-daily", h.RefreshMetrics)
				ar.Post("/pipeline-alerts", h.PipelineAlerts)
				ar.Post("/run-all", h.RunAllJobs)
				ar.Post("/recalculate-matches", h.RecalculateMatches)
			})
		}

		if h.cfg.Features.Orchestration {
			api.Route("/orchestration", func(or chi.Router) {
				or.Get("/queue", h.QueueStatus)
				or.Get("/jobs/{jobID}", h.JobStatus)
				or.Post("/jobs/{jobID}/schedule", h.ScheduleJob)
				or.Put("/jobs/{jobID}/enabled", h.SetJobEnabled)
				or.Get("/executions/{executionID}", h.ExecutionStatus)
				or.Post("/executions/{executionID}/cancel", h.CancelExecution)
			})
		}
	})

	return r
}
