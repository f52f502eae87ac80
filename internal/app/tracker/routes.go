package tracker

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/auth/signin"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/auth/signup"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/health"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/subscription/cancel"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/subscription/create"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/subscription/list"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/subscription/read"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/subscription/remove"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/subscription/update"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/subscription/upcoming"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/handlers/subscription/userlist"
	"github.com/magabrotheeeer/subscription-tracker/internal/http/middlewarectx"
	"github.com/magabrotheeeer/subscription-tracker/internal/metrics"
	authservice "github.com/magabrotheeeer/subscription-tracker/internal/services/auth"
	subservice "github.com/magabrotheeeer/subscription-tracker/internal/services/subscription"
)

// Services зависимости маршрутов.
type Services struct {
	Auth          *authservice.AuthService
	Subscriptions *subservice.SubscriptionService
	Health        health.Checker
	Limiter       *middlewarectx.RateLimiter
	Users         *gocache.Cache
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, s Services) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		metrics.Middleware,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.Limiter.Middleware)

		// Открытые конечные точки
		r.Post("/auth/sign-up", signup.New(logger, s.Auth).ServeHTTP)
		r.Post("/auth/sign-in", signin.New(logger, s.Auth).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(s.Auth, s.Users, logger))
			r.Get("/subscriptions", list.New(logger, s.Subscriptions).ServeHTTP)
			r.Post("/subscriptions", create.New(logger, s.Subscriptions).ServeHTTP)
			r.Get("/subscriptions/upcoming-renewals", upcoming.New(logger, s.Subscriptions).ServeHTTP)
			r.Get("/subscriptions/user/{id}", userlist.New(logger, s.Subscriptions).ServeHTTP)
			r.Get("/subscriptions/{id}", read.New(logger, s.Subscriptions).ServeHTTP)
			r.Put("/subscriptions/{id}", update.New(logger, s.Subscriptions).ServeHTTP)
			r.Delete("/subscriptions/{id}", remove.New(logger, s.Subscriptions).ServeHTTP)
			r.Put("/subscriptions/{id}/cancel", cancel.New(logger, s.Subscriptions).ServeHTTP)
		})
	})

	r.Get("/health", health.New(logger, s.Health).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
