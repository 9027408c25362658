package history

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/listening-room-system/internal/auth"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	records := r.Group("/records", auth.UserOnly())
	{
		records.GET("", h.records)
		records.DELETE("/listen/:id", h.deleteListenRecord)
		records.DELETE("/room/:id", h.deleteParticipationRecord)
	}
}

func (h *Handler) records(c *gin.Context) {
	user := auth.CurrentUser(c)

	listen, err := h.service.ListenRecords(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rooms, err := h.service.ParticipationRecords(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"listen_records": listen, "room_records": rooms})
}

func recordID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) deleteListenRecord(c *gin.Context) {
	user := auth.CurrentUser(c)

	id, ok := recordID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteListenRecord(c.Request.Context(), user.ID, id); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) deleteParticipationRecord(c *gin.Context) {
	user := auth.CurrentUser(c)

	id, ok := recordID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteParticipationRecord(c.Request.Context(), user.ID, id); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
