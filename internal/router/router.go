package router

import (
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quickpoll/backend/internal/broker"
	"github.com/quickpoll/backend/internal/config"
	"github.com/quickpoll/backend/internal/handlers"
	"github.com/quickpoll/backend/internal/middleware"
	"github.com/quickpoll/backend/internal/services"
)

// Deps are the long-lived components the HTTP surface is built on.
type Deps struct {
	Polls    *services.PollService
	Broker   *broker.Broker
	Gatherer prometheus.Gatherer
	Clock    clockwork.Clock
}

func New(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.NewClientIPResolver(cfg.TrustedProxies).Handler)
	r.Use(middleware.RequestContextMiddleware)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORSMiddleware(cfg.CORSAllowedOrigins))

	// Handlers
	systemHandler := handlers.NewSystemHandler(cfg.Version, deps.Broker)
	pollHandler := handlers.NewPollHandler(deps.Polls)
	liveHandler := handlers.NewLiveHandler(deps.Broker, cfg, deps.Clock)

	// Rate limiter for mutations
	mutationRateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, deps.Clock)

	// Panics are reported with request context; they are re-raised for Recoverer.
	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})

	r.Get("/", systemHandler.Root)

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Live updates
	r.Get("/ws", liveHandler.Serve)

	// Routes
	r.Route("/api", func(r chi.Router) {
		r.Use(sentryHandler.Handle)

		// Health check
		r.Get("/health", systemHandler.Health)

		r.Route("/polls", func(r chi.Router) {
			r.Get("/", pollHandler.List)
			r.With(mutationRateLimiter.Middleware).Post("/", pollHandler.Create)

			r.Route("/{pollID}", func(r chi.Router) {
				r.Get("/", pollHandler.Get)

				r.Group(func(r chi.Router) {
					r.Use(mutationRateLimiter.Middleware)
					r.Post("/vote", pollHandler.Vote)
					r.Post("/like", pollHandler.Like)
				})
			})
		})
	})

	return r
}
