package explanation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/infinity-learn/core/internal/middleware"
	"github.com/infinity-learn/core/internal/models"
	"github.com/infinity-learn/core/internal/modules/generation"
	"github.com/infinity-learn/core/internal/pkg/response"
	"github.com/infinity-learn/core/internal/pkg/taskqueue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	cachePrefix = "ifl:explanation:"
	cacheTTL    = 24 * time.Hour

	// TaskTypeExplanation identifies queued warm-up generations.
	TaskTypeExplanation = "explanation.generate"
)

// Cache is the subset of the redis client the explainer needs.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type refineDTO struct {
	Question string `json:"question" binding:"required"`
}

type explanationResponse struct {
	CardID      string `json:"card_id"`
	Level       string `json:"level"`
	Explanation string `json:"explanation"`
	Cached      bool   `json:"cached"`
}

// Service generates, caches and refines per-card explanations.
type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	gen     *generation.Service
	cache   Cache
	taskSvc *taskqueue.Service
}

func NewService(db *gorm.DB, log *zap.Logger, gen *generation.Service, cache Cache, taskSvc *taskqueue.Service) *Service {
	return &Service{db: db, log: log, gen: gen, cache: cache, taskSvc: taskSvc}
}

// Explain returns the explanation for a card at the user's preferred level,
// serving from cache when one is fresh.
func (s *Service) Explain(ctx context.Context, cardID, userID string) (*explanationResponse, error) {
	card, level, err := s.cardAndLevel(cardID, userID)
	if err != nil {
		return nil, err
	}

	key := cacheKey(cardID, level)
	if cached, err := s.cache.Get(ctx, key); err == nil && cached != "" {
		return &explanationResponse{CardID: cardID, Level: level, Explanation: cached, Cached: true}, nil
	}

	text, err := s.gen.Explain(ctx, card.Question, card.Answer, level)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, text, cacheTTL); err != nil {
		s.log.Warn("explanation cache write failed", zap.Error(err))
	}

	s.recordInteraction(userID, cardID)
	return &explanationResponse{CardID: cardID, Level: level, Explanation: text}, nil
}

// Refine answers a follow-up question about a card's explanation. Refinements
// are user-specific and never cached.
func (s *Service) Refine(ctx context.Context, cardID, userID string, followUp string) (*explanationResponse, error) {
	card, level, err := s.cardAndLevel(cardID, userID)
	if err != nil {
		return nil, err
	}

	base, _ := s.cache.Get(ctx, cacheKey(cardID, level))
	text, err := s.gen.Refine(ctx, card.Question, card.Answer, base, followUp)
	if err != nil {
		return nil, err
	}

	s.recordInteraction(userID, cardID)
	return &explanationResponse{CardID: cardID, Level: level, Explanation: text}, nil
}

// Warm queues a background generation so the explanation is cached before
// the learner asks for it.
func (s *Service) Warm(ctx context.Context, cardID, level string) error {
	if s.taskSvc == nil {
		return nil
	}
	payload := map[string]string{"card_id": cardID, "level": normalizeLevel(level)}
	dedup := fmt.Sprintf("%s:%s:%s", TaskTypeExplanation, cardID, normalizeLevel(level))
	_, err := s.taskSvc.Enqueue(ctx, TaskTypeExplanation, payload, dedup, "explanation")
	return err
}

// RunWarmTask executes one queued warm-up and stores the result.
func (s *Service) RunWarmTask(ctx context.Context, task *taskqueue.Task) {
	var payload struct {
		CardID string `json:"card_id"`
		Level  string `json:"level"`
	}
	if err := json.Unmarshal(task.Payload, &payload); err != nil || payload.CardID == "" {
		_ = s.taskSvc.UpdateStatus(ctx, task.ID, taskqueue.TaskFailed, nil, "bad payload")
		return
	}
	cardID, level := payload.CardID, payload.Level

	var card models.CardModel
	if err := s.db.First(&card, "id = ?", cardID).Error; err != nil {
		_ = s.taskSvc.UpdateStatus(ctx, task.ID, taskqueue.TaskFailed, nil, "card not found")
		return
	}

	text, err := s.gen.Explain(ctx, card.Question, card.Answer, level)
	if err != nil {
		_ = s.taskSvc.UpdateStatus(ctx, task.ID, taskqueue.TaskFailed, nil, err.Error())
		return
	}
	if err := s.cache.Set(ctx, cacheKey(cardID, normalizeLevel(level)), text, cacheTTL); err != nil {
		s.log.Warn("explanation warm cache write failed", zap.Error(err))
	}
	_ = s.taskSvc.UpdateStatus(ctx, task.ID, taskqueue.TaskCompleted, nil, "")
}

// Stats aggregates how often a card's explanations were requested.
func (s *Service) Stats(cardID string) (map[string]interface{}, error) {
	var card models.CardModel
	if err := s.db.First(&card, "id = ?", cardID).Error; err != nil {
		return nil, err
	}

	var requests int64
	if err := s.db.Model(&models.CardInteraction{}).
		Where("card_id = ? AND action = ?", cardID, models.ActionView).
		Where("answer_revealed = ?", true).
		Count(&requests).Error; err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"card_id":              cardID,
		"explanation_requests": requests,
		"total_views":          card.TotalViews,
	}, nil
}

func (s *Service) cardAndLevel(cardID, userID string) (*models.CardModel, string, error) {
	var card models.CardModel
	if err := s.db.First(&card, "id = ?", cardID).Error; err != nil {
		return nil, "", err
	}

	level := "intermediate"
	if userID != "" {
		var u models.UserModel
		if err := s.db.Select("preferred_difficulty").First(&u, "id = ?", userID).Error; err == nil && u.PreferredDifficulty != "" {
			level = u.PreferredDifficulty
		}
	}
	return &card, normalizeLevel(level), nil
}

func (s *Service) recordInteraction(userID, cardID string) {
	if userID == "" {
		return
	}
	interaction := models.CardInteraction{
		UserID:         userID,
		CardID:         cardID,
		Action:         models.ActionView,
		AnswerRevealed: true,
	}
	if err := s.db.Create(&interaction).Error; err != nil {
		s.log.Warn("explanation interaction write failed", zap.Error(err))
	}
}

func cacheKey(cardID, level string) string {
	return cachePrefix + cardID + ":" + level
}

func normalizeLevel(level string) string {
	switch level {
	case "beginner", "intermediate", "advanced":
		return level
	default:
		return "intermediate"
	}
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r *gin.RouterGroup) {
	r.GET("/cards/:id/explanation", h.explain)
	r.POST("/cards/:id/explanation/refine", h.refine)
	r.POST("/cards/:id/explanation/warm", h.warm)
	r.GET("/cards/:id/explanation/stats", h.stats)
}

func (h *Handler) explain(c *gin.Context) {
	result, err := h.svc.Explain(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFoundMsg(c, "card not found")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, result)
}

func (h *Handler) refine(c *gin.Context) {
	var dto refineDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "question is required")
		return
	}

	result, err := h.svc.Refine(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), dto.Question)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFoundMsg(c, "card not found")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, result)
}

func (h *Handler) warm(c *gin.Context) {
	if err := h.svc.Warm(c.Request.Context(), c.Param("id"), c.Query("level")); err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFoundMsg(c, "card not found")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, stats)
}
