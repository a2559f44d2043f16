package app

import (
	"github.com/gin-gonic/gin"
	"github.com/infinity-learn/core/internal/middleware"
	"github.com/infinity-learn/core/internal/modules/analytics"
	"github.com/infinity-learn/core/internal/modules/auth"
	"github.com/infinity-learn/core/internal/modules/card"
	"github.com/infinity-learn/core/internal/modules/explanation"
	"github.com/infinity-learn/core/internal/modules/health"
	"github.com/infinity-learn/core/internal/modules/learning"
	"github.com/infinity-learn/core/internal/modules/topic"
	"github.com/infinity-learn/core/internal/modules/user"
	pkgredis "github.com/infinity-learn/core/internal/pkg/redis"
	"github.com/infinity-learn/core/internal/pkg/response"
)

type routeServices struct {
	auth        *auth.Handler
	user        *user.Handler
	topic       *topic.Handler
	card        *card.Handler
	learning    *learning.Handler
	explanation *explanation.Handler
	analytics   *analytics.Handler
	health      *health.Handler
}

func (a *App) registerRoutes(rc *pkgredis.Client, svcs routeServices) {
	a.router.NoRoute(func(c *gin.Context) { response.NotFound(c) })
	a.router.NoMethod(func(c *gin.Context) { response.MethodNotAllowed(c) })

	api := a.router.Group("/api/v2")
	api.Use(middleware.RateLimit(rc.Raw()))
	api.Use(middleware.Idempotence(rc.Raw()))

	// public routes; topic reads are cached for anonymous traffic
	public := api.Group("")
	public.Use(middleware.OptionalAuth(a.db))
	public.Use(middleware.HTTPCache(rc.Raw(), middleware.HTTPCacheOptions{}))
	svcs.health.Register(public)
	svcs.auth.Register(public)
	svcs.topic.Register(public)

	// everything else requires a signed-in learner
	protected := api.Group("")
	protected.Use(middleware.Auth(a.db))
	svcs.auth.RegisterProtected(protected)
	svcs.user.Register(protected)
	svcs.card.Register(protected)
	svcs.learning.Register(protected)
	svcs.explanation.Register(protected)
	svcs.analytics.Register(protected)
}
