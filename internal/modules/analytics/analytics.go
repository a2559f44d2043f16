package analytics

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/infinity-learn/core/internal/middleware"
	"github.com/infinity-learn/core/internal/models"
	"github.com/infinity-learn/core/internal/pkg/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordInteractionDTO struct {
	CardID           string  `json:"card_id"    binding:"required"`
	SessionID        string  `json:"session_id" binding:"required"`
	Action           string  `json:"action"     binding:"required"`
	TimeSpentSeconds float64 `json:"time_spent_seconds"`
	AnswerRevealed   bool    `json:"answer_revealed"`
	ConfidenceRating *int    `json:"confidence_rating"`
}

type sessionReport struct {
	SessionID      string           `json:"session_id"`
	CardsViewed    int64            `json:"cards_viewed"`
	CardsSkipped   int64            `json:"cards_skipped"`
	CardsSaved     int64            `json:"cards_saved"`
	CardsMastered  int64            `json:"cards_mastered"`
	AvgTimeSeconds float64          `json:"avg_time_seconds"`
	ByAction       map[string]int64 `json:"by_action"`
}

type userOverview struct {
	Sessions         int64   `json:"sessions"`
	CardsViewed      int64   `json:"cards_viewed"`
	TotalTimeSeconds float64 `json:"total_time_seconds"`
	CardsSaved       int64   `json:"cards_saved"`
	TopicsStudied    int64   `json:"topics_studied"`
}

var (
	errInvalidAction     = errors.New("invalid interaction action")
	errInvalidConfidence = errors.New("confidence rating must be between 1 and 5")
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(db *gorm.DB, log *zap.Logger) *Service {
	return &Service{db: db, log: log}
}

// Record stores one card interaction and refreshes the card's aggregate
// skip and save rates.
func (s *Service) Record(userID string, dto *recordInteractionDTO) (*models.CardInteraction, error) {
	switch dto.Action {
	case models.ActionView, models.ActionSkip, models.ActionSave, models.ActionMaster:
	default:
		return nil, errInvalidAction
	}
	if dto.ConfidenceRating != nil && (*dto.ConfidenceRating < 1 || *dto.ConfidenceRating > 5) {
		return nil, errInvalidConfidence
	}

	var card models.CardModel
	if err := s.db.First(&card, "id = ?", dto.CardID).Error; err != nil {
		return nil, err
	}

	interaction := models.CardInteraction{
		UserID:           userID,
		CardID:           dto.CardID,
		SessionID:        dto.SessionID,
		Action:           dto.Action,
		TimeSpentSeconds: dto.TimeSpentSeconds,
		AnswerRevealed:   dto.AnswerRevealed,
		ConfidenceRating: dto.ConfidenceRating,
	}
	if err := s.db.Create(&interaction).Error; err != nil {
		return nil, err
	}

	if err := s.RefreshCardRates(dto.CardID); err != nil {
		s.log.Warn("card rate refresh failed", zap.String("card_id", dto.CardID), zap.Error(err))
	}
	return &interaction, nil
}

// RefreshCardRates recomputes a card's skip and save rates from its
// interaction history.
func (s *Service) RefreshCardRates(cardID string) error {
	var counts []struct {
		Action string
		N      int64
	}
	if err := s.db.Model(&models.CardInteraction{}).
		Select("action, COUNT(*) AS n").
		Where("card_id = ?", cardID).
		Group("action").
		Scan(&counts).Error; err != nil {
		return err
	}

	var views, skips, saves int64
	for _, row := range counts {
		switch row.Action {
		case models.ActionView:
			views = row.N
		case models.ActionSkip:
			skips = row.N
		case models.ActionSave:
			saves = row.N
		}
	}

	total := views + skips
	if total == 0 {
		return nil
	}

	return s.db.Model(&models.CardModel{}).
		Where("id = ?", cardID).
		Updates(map[string]interface{}{
			"skip_rate": float64(skips) / float64(total),
			"save_rate": float64(saves) / float64(total),
		}).Error
}

// SessionReport aggregates the interactions of one session.
func (s *Service) SessionReport(sessionID, userID string) (*sessionReport, error) {
	var session models.LearningSession
	if err := s.db.First(&session, "id = ?", sessionID).Error; err != nil {
		return nil, err
	}
	if userID != "" && session.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}

	var rows []struct {
		Action  string
		N       int64
		AvgTime float64
	}
	if err := s.db.Model(&models.CardInteraction{}).
		Select("action, COUNT(*) AS n, AVG(time_spent_seconds) AS avg_time").
		Where("session_id = ?", sessionID).
		Group("action").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	report := &sessionReport{
		SessionID: sessionID,
		ByAction:  map[string]int64{},
	}
	var timedActions int64
	var timeSum float64
	for _, row := range rows {
		report.ByAction[row.Action] = row.N
		switch row.Action {
		case models.ActionView:
			report.CardsViewed = row.N
		case models.ActionSkip:
			report.CardsSkipped = row.N
		case models.ActionSave:
			report.CardsSaved = row.N
		case models.ActionMaster:
			report.CardsMastered = row.N
		}
		timedActions += row.N
		timeSum += row.AvgTime * float64(row.N)
	}
	if timedActions > 0 {
		report.AvgTimeSeconds = timeSum / float64(timedActions)
	}
	return report, nil
}

// Overview summarizes a user's lifetime activity.
func (s *Service) Overview(userID string) (*userOverview, error) {
	out := &userOverview{}

	if err := s.db.Model(&models.LearningSession{}).
		Where("user_id = ?", userID).
		Count(&out.Sessions).Error; err != nil {
		return nil, err
	}

	var agg struct {
		Viewed int64
		Time   float64
	}
	if err := s.db.Model(&models.LearningSession{}).
		Select("COALESCE(SUM(cards_viewed),0) AS viewed, COALESCE(SUM(total_time_seconds),0) AS time").
		Where("user_id = ?", userID).
		Scan(&agg).Error; err != nil {
		return nil, err
	}
	out.CardsViewed = agg.Viewed
	out.TotalTimeSeconds = agg.Time

	if err := s.db.Model(&models.SavedCardModel{}).
		Where("user_id = ?", userID).
		Count(&out.CardsSaved).Error; err != nil {
		return nil, err
	}

	if err := s.db.Model(&models.LearningSession{}).
		Where("user_id = ?", userID).
		Distinct("topic_id").
		Count(&out.TopicsStudied).Error; err != nil {
		return nil, err
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
	r.POST("/analytics/interactions", h.record)
	r.GET("/analytics/sessions/:id", h.sessionReport)
	r.GET("/analytics/overview", h.overview)
}

func (h *Handler) record(c *gin.Context) {
	var dto recordInteractionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	interaction, err := h.svc.Record(middleware.CurrentUserID(c), &dto)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			response.NotFoundMsg(c, "card not found")
		case errors.Is(err, errInvalidAction), errors.Is(err, errInvalidConfidence):
			response.UnprocessableEntity(c, err.Error())
		default:
			response.InternalError(c, err)
		}
		return
	}
	response.Created(c, interaction)
}

func (h *Handler) sessionReport(c *gin.Context) {
	report, err := h.svc.SessionReport(c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFoundMsg(c, "session not found")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, report)
}

func (h *Handler) overview(c *gin.Context) {
	overview, err := h.svc.Overview(middleware.CurrentUserID(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, overview)
}
