package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	redisc "github.com/infinity-learn/core/internal/pkg/redis"
	"gorm.io/gorm"
)

type Handler struct {
	db    *gorm.DB
	redis *redisc.Client
}

func NewHandler(db *gorm.DB, redis *redisc.Client) *Handler {
	return &Handler{db: db, redis: redis}
}

func (h *Handler) Register(r *gin.RouterGroup) {
	r.GET("/health", h.health)
	r.GET("/ping", h.ping)
}

func (h *Handler) ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

func (h *Handler) health(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK

	dbState := "up"
	if sqlDB, err := h.db.DB(); err != nil {
		dbState = "down"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbState = "down"
	}

	redisState := "up"
	if err := h.redis.Raw().Ping(ctx).Err(); err != nil {
		redisState = "down"
	}

	if dbState != "up" || redisState != "up" {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[string]string{
			"database": dbState,
			"redis":    redisState,
		},
		"time": time.Now().Format(time.RFC3339),
	})
}
