package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/studioflow-backend/api/controllers"
	"github.com/angelmondragon/studioflow-backend/api/middleware"
	"github.com/angelmondragon/studioflow-backend/pkg/config"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
	"github.com/angelmondragon/studioflow-backend/pkg/redis"
)

// Deps are the services the ops API routes to. Redis is optional; without
// it idempotent replays and rate limiting are off.
type Deps struct {
	Pipelines  controllers.PipelineService
	Embeddings controllers.EmbeddingRunner
	Search     controllers.SearchService
	Redis      *redis.Client
	Ready      map[string]controllers.Pinger
	Metrics    http.Handler
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Ready))
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	searchPolicy := middleware.NewRateLimitPolicy("search", cfg.App.RateLimitWindow, cfg.App.SearchRateLimit)

	r.Route("/api/v1", func(r chi.Router) {
		if deps.Redis != nil {
			r.Use(middleware.Idempotency(deps.Redis, logg))
		}
		r.Post("/pipelines", controllers.PipelineTrigger(deps.Pipelines, logg))
		r.Get("/pipelines/{runId}", controllers.PipelineStatus(deps.Pipelines, logg))
		r.Post("/embeddings", controllers.EmbeddingsRequest(deps.Embeddings, logg))

		searchRoute := r.With()
		if deps.Redis != nil {
			searchRoute = r.With(middleware.RateLimit(searchPolicy, deps.Redis, logg))
		}
		searchRoute.Get("/search", controllers.Search(deps.Search, logg))
	})

	return r
}
