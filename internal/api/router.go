// Package api assembles the HTTP surface of the print spooler.
package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printspool/internal/api/handlers"
	"github.com/orrn/printspool/internal/api/middleware"
	"github.com/orrn/printspool/internal/config"
	"github.com/orrn/printspool/internal/core"
	"github.com/orrn/printspool/internal/label"
	"github.com/orrn/printspool/internal/registry"
	"github.com/orrn/printspool/internal/webhook"
)

type Deps struct {
	Config   *config.Config
	Registry registry.Registry
	Manager  *core.Manager
	Catalog  *label.Catalog
	Renderer *label.Renderer
	Webhooks *webhook.Sender
	Version  string
}

func NewRouter(ctx context.Context, d Deps) (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())

	r.GET("/healthz", handlers.NewHealthHandler(d.Manager, d.Version).Health)

	apiGroup := r.Group("/api")
	v1 := apiGroup.Group("/v1")
	legacy := r.Group("")

	if d.Config.Auth.Enabled {
		auth, err := middleware.NewAuthMiddleware(ctx, d.Registry, middleware.AuthOptions{
			TokenDuration: d.Config.Auth.SessionTTL,
			SecureCookie:  d.Config.Auth.SecureCookie,
		})
		if err != nil {
			return nil, err
		}
		auth.RegisterRoutes(apiGroup)
		v1.Use(auth.RequireAuth())
		legacy.Use(auth.RequireAuth())
	}

	var submit []gin.HandlerFunc
	if d.Config.Server.SubmitRate > 0 {
		limiter := middleware.NewRateLimiter(d.Config.Server.SubmitRate, d.Config.Server.SubmitBurst)
		submit = append(submit, limiter.Handler())
	}

	jobs := handlers.NewJobHandler(d.Manager, d.Renderer, d.Catalog)
	jobs.RegisterRoutes(v1, submit...)
	jobs.RegisterLegacyRoutes(legacy, submit...)

	handlers.NewWebhookHandler(d.Webhooks).RegisterRoutes(v1)
	handlers.RegisterSettingsRoutes(v1, handlers.NewSettingsHandler(d.Config))

	return r, nil
}
