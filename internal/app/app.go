package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/infinity-learn/core/internal/config"
	"github.com/infinity-learn/core/internal/database"
	"github.com/infinity-learn/core/internal/middleware"
	"github.com/infinity-learn/core/internal/modules/analytics"
	"github.com/infinity-learn/core/internal/modules/auth"
	"github.com/infinity-learn/core/internal/modules/card"
	"github.com/infinity-learn/core/internal/modules/explanation"
	"github.com/infinity-learn/core/internal/modules/generation"
	"github.com/infinity-learn/core/internal/modules/health"
	"github.com/infinity-learn/core/internal/modules/learning"
	"github.com/infinity-learn/core/internal/modules/topic"
	"github.com/infinity-learn/core/internal/modules/user"
	pkgcron "github.com/infinity-learn/core/internal/pkg/cron"
	jwtpkg "github.com/infinity-learn/core/internal/pkg/jwt"
	pkgredis "github.com/infinity-learn/core/internal/pkg/redis"
	"github.com/infinity-learn/core/internal/pkg/taskqueue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	logger *zap.Logger
	cancel context.CancelFunc

	learningSvc *learning.Service
}

// New initializes the application: config → DB → Redis → services → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" {
		jwtpkg.SetSecret(secret)
	} else {
		logger.Warn("jwt_secret is empty, using built-in default secret")
	}

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(buildCORSConfig(cfg)))

	taskSvc := taskqueue.NewService(rc)
	genSvc := generation.NewService(logger.Named("generation"), rc, cfg.AI)
	learningSvc := learning.NewService(db, logger.Named("learning"), genSvc, learning.Options{})
	explanationSvc := explanation.NewService(db, logger.Named("explanation"), genSvc, rc, taskSvc)
	analyticsSvc := analytics.NewService(db, logger.Named("analytics"))

	ctx, cancel := context.WithCancel(context.Background())

	sched := pkgcron.New()
	registerCronJobs(sched, db, logger, learningSvc, analyticsSvc, explanationSvc, taskSvc)
	go sched.Start(ctx)

	app := &App{
		cfg:         cfg,
		router:      router,
		db:          db,
		logger:      logger,
		cancel:      cancel,
		learningSvc: learningSvc,
	}
	app.registerRoutes(rc, routeServices{
		auth:        auth.NewHandler(auth.NewService(db)),
		user:        user.NewHandler(user.NewService(db)),
		topic:       topic.NewHandler(topic.NewService(db)),
		card:        card.NewHandler(card.NewService(db)),
		learning:    learning.NewHandler(learningSvc),
		explanation: explanation.NewHandler(explanationSvc),
		analytics:   analytics.NewHandler(analyticsSvc),
		health:      health.NewHandler(db, rc),
	})

	return app, nil
}

func buildCORSConfig(cfg *config.AppConfig) cors.Config {
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "x-ifl-cache"},
		AllowCredentials: true,
	}
	if len(cfg.AllowedOrigins) > 0 && !cfg.IsDev() {
		patterns := cfg.AllowedOrigins
		corsConfig.AllowOriginFunc = func(origin string) bool {
			host := extractOriginHost(origin)
			for _, pattern := range patterns {
				if matchOriginPattern(pattern, host) {
					return true
				}
			}
			return false
		}
	} else {
		corsConfig.AllowOriginFunc = func(origin string) bool { return true }
	}
	return corsConfig
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops background goroutines and drains the session refill loops.
func (a *App) Shutdown() {
	a.cancel()
	a.learningSvc.Close()
}
