package topic

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/infinity-learn/core/internal/models"
	"github.com/infinity-learn/core/internal/pkg/pagination"
	"github.com/infinity-learn/core/internal/pkg/response"
	"gorm.io/gorm"
)

const trendingWindow = 7 * 24 * time.Hour

type trendingEntry struct {
	Topic        models.TopicModel `json:"topic"`
	SessionCount int64             `json:"session_count"`
}

type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

// List returns topics filtered by category and/or a name search.
func (s *Service) List(category, search string, q pagination.Query) ([]models.TopicModel, response.Pagination, error) {
	query := s.db.Model(&models.TopicModel{})
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if search != "" {
		query = query.Where("name LIKE ?", "%"+search+"%")
	}
	query = query.Order("name ASC")

	var topics []models.TopicModel
	page, err := pagination.Paginate(query, q, &topics)
	return topics, page, err
}

// Get resolves a topic by id or slug.
func (s *Service) Get(idOrSlug string) (*models.TopicModel, error) {
	var topic models.TopicModel
	err := s.db.Where("id = ? OR slug = ?", idOrSlug, idOrSlug).First(&topic).Error
	if err != nil {
		return nil, err
	}
	return &topic, nil
}

// Trending ranks topics by session count over the last week.
func (s *Service) Trending(limit int) ([]trendingEntry, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	since := time.Now().Add(-trendingWindow)

	var rows []struct {
		TopicID      string
		SessionCount int64
	}
	err := s.db.Model(&models.LearningSession{}).
		Select("topic_id, COUNT(*) AS session_count").
		Where("started_at > ?", since).
		Group("topic_id").
		Order("session_count DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []trendingEntry{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.TopicID)
	}
	var topics []models.TopicModel
	if err := s.db.Where("id IN ?", ids).Find(&topics).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]models.TopicModel, len(topics))
	for _, t := range topics {
		byID[t.ID] = t
	}

	out := make([]trendingEntry, 0, len(rows))
	for _, row := range rows {
		topic, ok := byID[row.TopicID]
		if !ok {
			continue
		}
		out = append(out, trendingEntry{Topic: topic, SessionCount: row.SessionCount})
	}
	return out, nil
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r *gin.RouterGroup) {
	r.GET("/topics", h.list)
	r.GET("/topics/trending", h.trending)
	r.GET("/topics/:id", h.get)
}

func (h *Handler) list(c *gin.Context) {
	topics, page, err := h.svc.List(c.Query("category"), c.Query("search"), pagination.FromContext(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, topics, page)
}

func (h *Handler) get(c *gin.Context) {
	topic, err := h.svc.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFoundMsg(c, "topic not found")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, topic)
}

func (h *Handler) trending(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	entries, err := h.svc.Trending(limit)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, entries)
}
