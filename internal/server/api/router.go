package api

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/metrics"
	"github.com/dmitrijs2005/balli/internal/server/auth"
	"github.com/dmitrijs2005/balli/internal/server/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps groups what NewRouter wires together.
type RouterDeps struct {
	Service      SyncService
	SecretKey    []byte
	Gatherer     prometheus.Gatherer
	Logger       logging.Logger
	MaxBodyBytes int64
}

// NewRouter builds the chi router.
//
//	GET  /healthz
//	GET  /metrics
//	POST /sync{Category}          bearer token required
//	GET  /sync{Category}?userId=  bearer token required
func NewRouter(deps RouterDeps) http.Handler {
	h := NewHandler(deps.Service, deps.Logger, deps.MaxBodyBytes)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.healthz)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(deps.SecretKey))
		for _, c := range models.Categories {
			r.Post("/sync"+c.Path(), h.push(c))
			r.Get("/sync"+c.Path(), h.pull(c))
		}
	})

	return r
}
