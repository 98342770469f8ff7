package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/linkshield/cloaker/api/handlers"
	"github.com/linkshield/cloaker/api/middleware"
	"github.com/linkshield/cloaker/config"
	"github.com/linkshield/cloaker/internal/repository"
	"github.com/linkshield/cloaker/internal/tracing"
	"github.com/linkshield/cloaker/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(ctx context.Context, r *gin.Engine, cfg *config.Config, s *services.Services, repos *repository.Repositories) {
	if s == nil {
		panic("Services cannot be nil")
	}
	if repos == nil {
		panic("Repositories cannot be nil")
	}

	// Add recovery middlewares
	r.Use(gin.Recovery())                                         // Gin's built-in recovery
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer())) // Our custom Jaeger recovery

	// setup handlers
	apiHandlers := handlers.InitHandlers(cfg, s, repos)

	// Health check endpoint (no custom context needed)
	r.GET("/health", handlers.HealthCheck)

	// Public click route; no auth, the slug is the capability
	r.GET("/:slug", apiHandlers.Click.Handle())

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-CLOAKER-API-KEY",
		ValidAPIKey: cfg.AppConfig.APIKey,
	})

	// Management API group with version and custom context
	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.UserIdMiddleware())
	api.Use(middleware.CustomContextMiddleware("cloaker")) // Add custom context for all /v1/* endpoints
	api.Use(middleware.TracingMiddleware())                // Add tracing for all /v1/* endpoints
	{
		links := api.Group("/links")
		{
			links.POST("", apiHandlers.Links.Create())
			links.GET("", apiHandlers.Links.List())
			links.GET("/:id", apiHandlers.Links.Get())
			links.PUT("/:id", apiHandlers.Links.Update())
			links.DELETE("/:id", apiHandlers.Links.Delete())
			links.GET("/:id/visitors", apiHandlers.Visitors.ListByLink())
		}

		domains := api.Group("/domains")
		{
			domains.POST("", apiHandlers.Domains.Register())
			domains.GET("", apiHandlers.Domains.List())
			domains.GET("/:id", apiHandlers.Domains.Get())
			domains.DELETE("/:id", apiHandlers.Domains.Delete())
			domains.POST("/:id/verify", apiHandlers.Domains.Verify())
			domains.POST("/:id/set-default", apiHandlers.Domains.SetDefault())
		}
	}
}
