package router

import (
	"net/http"
	"strings"

	"mentorship/internal/api/v1/handler"
	"mentorship/internal/bootstrap"
	"mentorship/internal/config"
	"mentorship/internal/middleware"

	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

func New(cfg *config.Config, app *bootstrap.App, logger zerolog.Logger) http.Handler {
	logger.Info().Msg("Router initialized")

	// 1. Initialize validator
	validate := validator.New(validator.WithRequiredStructEnabled())

	// 2. Initialize handlers
	cronHandler := handler.NewCronHandler(app.Sessions, app.Renewals, cfg.JobTimeout, logger)
	sessionHandler := handler.NewSessionHandler(app.Sessions, validate, logger)
	subscriptionHandler := handler.NewSubscriptionHandler(app.Subscriptions, validate, logger)
	userHandler := handler.NewUserHandler(app.Users, logger)

	// 3. Initialize middleware
	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret, logger)
	cronAuth := middleware.CronAuthMiddleware(middleware.CronAuthConfig{
		Secret:         cfg.CronSecret,
		Audience:       cfg.SchedulerAudience,
		ServiceAccount: cfg.SchedulerServiceAccount,
	}, logger)
	rateLimit := middleware.RateLimitMiddleware(app.CronLimiter, logger)
	cronMiddleware := func(next http.Handler) http.Handler {
		return rateLimit(cronAuth(next))
	}

	// 4. Create ServeMux router
	mux := http.NewServeMux()

	// Create a subrouter for API v1 with the /v1 prefix
	apiV1Mux := http.NewServeMux()
	cronHandler.RegisterRoutes(apiV1Mux, cronMiddleware)
	sessionHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	subscriptionHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	userHandler.RegisterRoutes(apiV1Mux, authMiddleware)

	// Mount the API v1 routes under /v1
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})

	// Redirect /api/* to /v1/* for backward compatibility
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/")
		http.Redirect(w, r, "/v1/"+rest, http.StatusMovedPermanently)
	})

	// 5. Apply CORS middleware
	origins := []string{"*"}
	if !cfg.IsDevelopment() {
		origins = cfg.AllowedOrigins
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(logger)(c.Handler(mux))
}
