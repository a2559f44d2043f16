package card

import (
	"bytes"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/infinity-learn/core/internal/middleware"
	"github.com/infinity-learn/core/internal/models"
	"github.com/infinity-learn/core/internal/pkg/pagination"
	"github.com/infinity-learn/core/internal/pkg/response"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"gorm.io/gorm"
)

var markdownEngine = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Strikethrough,
		extension.Typographer,
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithHardWraps(),
		htmlrenderer.WithXHTML(),
	),
)

type saveCardDTO struct {
	Folder string   `json:"folder"`
	Tags   []string `json:"tags"`
	Notes  string   `json:"notes"`
}

type cardResponse struct {
	models.CardModel
	AnswerHTML string `json:"answer_html"`
}

var errAlreadySaved = errors.New("card already saved")

type Service struct{ db *gorm.DB }

func NewService(db *gorm.DB) *Service { return &Service{db: db} }

// Get returns a card and bumps its view counter.
func (s *Service) Get(id string) (*models.CardModel, error) {
	var card models.CardModel
	if err := s.db.First(&card, "id = ?", id).Error; err != nil {
		return nil, err
	}

	if err := s.db.Model(&models.CardModel{}).
		Where("id = ?", id).
		UpdateColumn("total_views", gorm.Expr("total_views + 1")).Error; err != nil {
		return nil, err
	}
	card.TotalViews++
	return &card, nil
}

// RenderAnswer converts the card's markdown answer to HTML.
func RenderAnswer(card *models.CardModel) (string, error) {
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(card.Answer), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Save bookmarks a card for the user.
func (s *Service) Save(userID, cardID string, dto *saveCardDTO) (*models.SavedCardModel, error) {
	var card models.CardModel
	if err := s.db.First(&card, "id = ?", cardID).Error; err != nil {
		return nil, err
	}

	var count int64
	if err := s.db.Model(&models.SavedCardModel{}).
		Where("user_id = ? AND card_id = ?", userID, cardID).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errAlreadySaved
	}

	saved := models.SavedCardModel{
		UserID: userID,
		CardID: cardID,
		Folder: dto.Folder,
		Tags:   models.StringArray(dto.Tags),
		Notes:  dto.Notes,
	}
	return &saved, s.db.Create(&saved).Error
}

// Unsave removes a bookmark.
func (s *Service) Unsave(userID, cardID string) error {
	res := s.db.Where("user_id = ? AND card_id = ?", userID, cardID).Delete(&models.SavedCardModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Saved lists the user's bookmarks, optionally filtered by folder.
func (s *Service) Saved(userID, folder string, q pagination.Query) ([]models.SavedCardModel, response.Pagination, error) {
	query := s.db.Model(&models.SavedCardModel{}).Where("user_id = ?", userID)
	if folder != "" {
		query = query.Where("folder = ?", folder)
	}
	query = query.Order("created_at DESC")

	var saved []models.SavedCardModel
	page, err := pagination.Paginate(query, q, &saved)
	return saved, page, err
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r *gin.RouterGroup) {
	r.GET("/cards/:id", h.get)
	r.POST("/cards/:id/save", h.save)
	r.DELETE("/cards/:id/save", h.unsave)
	r.GET("/cards/saved", h.saved)
}

func (h *Handler) get(c *gin.Context) {
	card, err := h.svc.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFoundMsg(c, "card not found")
			return
		}
		response.InternalError(c, err)
		return
	}

	html, err := RenderAnswer(card)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, cardResponse{CardModel: *card, AnswerHTML: html})
}

func (h *Handler) save(c *gin.Context) {
	// body is optional; folder/tags/notes default to empty
	var dto saveCardDTO
	_ = c.ShouldBindJSON(&dto)

	saved, err := h.svc.Save(middleware.CurrentUserID(c), c.Param("id"), &dto)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			response.NotFoundMsg(c, "card not found")
		case errors.Is(err, errAlreadySaved):
			response.Conflict(c, err.Error())
		default:
			response.InternalError(c, err)
		}
		return
	}
	response.Created(c, saved)
}

func (h *Handler) unsave(c *gin.Context) {
	err := h.svc.Unsave(middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c)
			return
		}
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) saved(c *gin.Context) {
	saved, page, err := h.svc.Saved(middleware.CurrentUserID(c), c.Query("folder"), pagination.FromContext(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Paged(c, saved, page)
}
