// Package api serves audience builds, settings, and geo unit scoring over
// HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/audience-cli/internal/audience"
	"github.com/sells-group/audience-cli/internal/metrics"
	"github.com/sells-group/audience-cli/internal/model"
	"github.com/sells-group/audience-cli/internal/provider"
	"github.com/sells-group/audience-cli/internal/resilience"
)

// Builder runs builds and scoring. *audience.Builder implements it.
type Builder interface {
	Build(ctx context.Context, req audience.Request) (*model.Build, error)
	ScoreUnits(ctx context.Context, audienceID string, scaleAccuracy float64) ([]model.GeoUnit, error)
	Preview(settings *model.ConstructionSettings, scaleAccuracy float64, n int) ([]model.GeoUnit, error)
}

// Store is the persistence the handlers read and write directly.
type Store interface {
	GetSettings(ctx context.Context, audienceID string) (*model.ConstructionSettings, error)
	SaveSettings(ctx context.Context, s *model.ConstructionSettings) error
	GetBuild(ctx context.Context, audienceID string, mode model.ConstructionMode) (*model.Build, error)
	ListGeoUnits(ctx context.Context, audienceID string) ([]model.GeoUnit, error)
}

// ProviderLister describes registered providers. *provider.Registry
// implements it.
type ProviderLister interface {
	Describe(ctx context.Context) []provider.Info
}

// BreakerStates reports circuit breaker states. *resilience.Breakers
// implements it.
type BreakerStates interface {
	States() map[string]resilience.State
}

// Deps wires the router.
type Deps struct {
	Builder              Builder
	Store                Store
	Providers            ProviderLister
	Breakers             BreakerStates // optional
	Metrics              *metrics.Recorder
	DefaultScaleAccuracy float64
	AllowedOrigins       []string
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	if d.DefaultScaleAccuracy == 0 {
		d.DefaultScaleAccuracy = audience.DefaultScaleAccuracy
	}
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(RequestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", health(d.Breakers))
	r.Handle("/metrics", d.Metrics.Handler())

	h := &handlers{deps: d}
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/audiences/{id}", func(r chi.Router) {
			r.Get("/settings", h.getSettings)
			r.Put("/settings", h.putSettings)
			r.Post("/build", h.build)
			r.Get("/build", h.getBuild)
			r.Post("/geo-units", h.scoreUnits)
			r.Get("/geo-units", h.listUnits)
		})
		r.Post("/score/preview", h.preview)
		r.Get("/providers", h.providers)
	})
	return r
}

// health reports "degraded" while any breaker is open. The status code
// stays 200.
func health(breakers BreakerStates) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := struct {
			Status   string                      `json:"status"`
			Breakers map[string]resilience.State `json:"breakers,omitempty"`
		}{Status: "ok"}
		if breakers != nil {
			resp.Breakers = breakers.States()
			for _, st := range resp.Breakers {
				if st == resilience.Open {
					resp.Status = "degraded"
				}
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
