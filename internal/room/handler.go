package room

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
	rooms := r.Group("/rooms", auth.UserOnly())
	{
		rooms.POST("", h.createRoom)
		rooms.GET("/mine", h.myRooms)
		rooms.POST("/join", h.joinRoom)
		rooms.GET("/:code", h.enterRoom)
		rooms.GET("/:code/state", h.state)
		rooms.POST("/:code/toggle", h.toggle)
		rooms.POST("/:code/messages", h.sendMessage)
		rooms.POST("/:code/leave", h.leaveRoom)
		rooms.POST("/:code/availability", h.setAvailability)
		rooms.DELETE("/:code", h.deleteRoom)
		rooms.POST("/:code/playlist", h.addPlaylistEntry)
		rooms.DELETE("/:code/playlist/:entryId", h.removePlaylistEntry)
	}
}

// respondError maps service errors to HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrEntryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrRoomClosed), errors.Is(err, ErrOwnerCannotLeave):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrRoomQuotaExceeded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrTrackNotPlayable), errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrUnknownAction), errors.Is(err, ErrNotAMember):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type CreateRoomRequest struct {
	Name string `json:"name"`
}

func (h *Handler) createRoom(c *gin.Context) {
	user := auth.CurrentUser(c)

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.service.CreateRoom(c.Request.Context(), user, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, room)
}

func (h *Handler) myRooms(c *gin.Context) {
	user := auth.CurrentUser(c)

	owned, err := h.service.OwnedRooms(c.Request.Context(), user)
	if err != nil {
		respondError(c, err)
		return
	}
	joined, err := h.service.JoinedRooms(c.Request.Context(), user)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"owned": owned, "joined": joined})
}

type JoinRoomRequest struct {
	Code string `json:"code" binding:"required,len=6,numeric"`
}

func (h *Handler) joinRoom(c *gin.Context) {
	user := auth.CurrentUser(c)

	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a 6-digit room code is required"})
		return
	}

	room, err := h.service.JoinRoom(c.Request.Context(), req.Code, user)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, room)
}

func (h *Handler) enterRoom(c *gin.Context) {
	user := auth.CurrentUser(c)

	room, err := h.service.EnterRoom(c.Request.Context(), c.Param("code"), user)
	if err != nil {
		respondError(c, err)
		return
	}

	memberCount, err := h.service.MemberCount(c.Request.Context(), room.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room":         room,
		"is_owner":     room.OwnerID == user.ID,
		"member_count": memberCount,
	})
}

func (h *Handler) state(c *gin.Context) {
	user := auth.CurrentUser(c)

	snapshot, err := h.service.Snapshot(c.Request.Context(), c.Param("code"), user)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

type TogglePlaybackRequest struct {
	TrackID  *uint    `json:"track_id"`
	Action   string   `json:"action"`
	Position *float64 `json:"position"`
}

func (h *Handler) toggle(c *gin.Context) {
	user := auth.CurrentUser(c)

	var req TogglePlaybackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.service.Toggle(c.Request.Context(), c.Param("code"), user, ToggleRequest{
		TrackID:  req.TrackID,
		Action:   req.Action,
		Position: req.Position,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, room)
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	user := auth.CurrentUser(c)

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message content is required"})
		return
	}

	msg, err := h.service.SendMessage(c.Request.Context(), c.Param("code"), user, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) leaveRoom(c *gin.Context) {
	user := auth.CurrentUser(c)

	if err := h.service.LeaveRoom(c.Request.Context(), c.Param("code"), user); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

type AvailabilityRequest struct {
	Action string `json:"action" binding:"required"`
}

func (h *Handler) setAvailability(c *gin.Context) {
	user := auth.CurrentUser(c)

	var req AvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action is required"})
		return
	}

	room, err := h.service.SetAvailability(c.Request.Context(), c.Param("code"), user, req.Action)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, room)
}

func (h *Handler) deleteRoom(c *gin.Context) {
	user := auth.CurrentUser(c)

	if err := h.service.DeleteRoom(c.Request.Context(), c.Param("code"), user); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type AddPlaylistEntryRequest struct {
	TrackID uint `json:"track_id" binding:"required"`
}

func (h *Handler) addPlaylistEntry(c *gin.Context) {
	user := auth.CurrentUser(c)

	var req AddPlaylistEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "track_id is required"})
		return
	}

	entry, err := h.service.AddPlaylistEntry(c.Request.Context(), c.Param("code"), user, req.TrackID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) removePlaylistEntry(c *gin.Context) {
	user := auth.CurrentUser(c)

	entryID, err := strconv.ParseUint(c.Param("entryId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
		return
	}

	if err := h.service.RemovePlaylistEntry(c.Request.Context(), c.Param("code"), user, uint(entryID)); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}
