package learning

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/infinity-learn/core/internal/middleware"
	"github.com/infinity-learn/core/internal/pkg/pagination"
	"github.com/infinity-learn/core/internal/pkg/response"
)

// Handler exposes the learning session endpoints.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r *gin.RouterGroup) {
	r.POST("/learning/start", h.start)
	r.GET("/learning/sessions", h.list)
	r.GET("/learning/sessions/:id/next", h.next)
	r.GET("/learning/sessions/:id/stats", h.stats)
	r.POST("/learning/sessions/:id/end", h.end)
}

func (h *Handler) start(c *gin.Context) {
	var dto startSessionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, "topic is required")
		return
	}

	result, err := h.svc.InitializeSession(c.Request.Context(), middleware.CurrentUserID(c), dto.Topic, dto.Mode)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Created(c, result)
}

func (h *Handler) next(c *gin.Context) {
	result, err := h.svc.GetNextCard(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		switch {
		case errors.Is(err, ErrNoMoreCards):
			response.OK(c, gin.H{"done": true, "message": err.Error()})
		case errors.Is(err, ErrSessionNotFound):
			response.NotFoundMsg(c, err.Error())
		case errors.Is(err, ErrSessionEnded):
			response.Conflict(c, err.Error())
		default:
			response.InternalError(c, err)
		}
		return
	}
	response.OK(c, result)
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.svc.SessionStats(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			response.NotFoundMsg(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, stats)
}

func (h *Handler) end(c *gin.Context) {
	stats, err := h.svc.EndSession(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			response.NotFoundMsg(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, stats)
}

func (h *Handler) list(c *gin.Context) {
	q := pagination.FromContext(c)
	sessions, total, err := h.svc.ListSessions(middleware.CurrentUserID(c), q.Size, (q.Page-1)*q.Size)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	totalPage := int((total + int64(q.Size) - 1) / int64(q.Size))
	response.Paged(c, sessions, response.Pagination{
		Total:       total,
		CurrentPage: q.Page,
		TotalPage:   totalPage,
		Size:        q.Size,
		HasNextPage: q.Page < totalPage,
	})
}
