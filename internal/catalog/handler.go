package catalog

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/listening-room-system/internal/auth"
)

const maxMusicBytes = 50 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	tracks := r.Group("/tracks", auth.UserOnly())
	{
		tracks.POST("", h.upload)
		tracks.GET("", h.myTracks)
		tracks.GET("/approved", h.myApprovedTracks)
		tracks.DELETE("/:id", h.deleteTrack)
	}

	admin := r.Group("/admin/tracks", auth.AdminRequired())
	{
		admin.GET("", h.moderationQueue)
		admin.POST("/:id/approve", h.approve)
		admin.POST("/:id/reject", h.reject)
	}
}

func (h *Handler) upload(c *gin.Context) {
	user := auth.CurrentUser(c)

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "an MP3 file is required"})
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext != ".mp3" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only MP3 files are accepted"})
		return
	}
	mimetype := strings.ToLower(file.Header.Get("Content-Type"))
	if mimetype != "" && !strings.Contains(mimetype, "mpeg") && !strings.Contains(mimetype, "mp3") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file content is not a standard MP3"})
		return
	}
	if file.Size > maxMusicBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file exceeds the 50MB limit"})
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		base := filepath.Base(file.Filename)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if title == "" {
		title = "Untitled track"
	}

	storedName := fmt.Sprintf("music_%s%s", uuid.New().String(), ext)
	dest := filepath.Join(h.service.MusicDir(), storedName)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
		return
	}
	if err := c.SaveUploadedFile(file, dest); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
		return
	}

	track, err := h.service.AddTrack(c.Request.Context(), user.ID, title, file.Filename, storedName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, track)
}

func (h *Handler) myTracks(c *gin.Context) {
	user := auth.CurrentUser(c)

	tracks, err := h.service.MyTracks(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, tracks)
}

func (h *Handler) myApprovedTracks(c *gin.Context) {
	user := auth.CurrentUser(c)

	tracks, err := h.service.MyApprovedTracks(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, tracks)
}

func trackID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid track id"})
		return 0, false
	}
	return uint(id), true
}

func (h *Handler) deleteTrack(c *gin.Context) {
	user := auth.CurrentUser(c)

	id, ok := trackID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteTrack(c.Request.Context(), user.ID, id); err != nil {
		if errors.Is(err, ErrTrackNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) moderationQueue(c *gin.Context) {
	pending, err := h.service.PendingTracks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rejected, err := h.service.RejectedTracks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"pending": pending, "rejected": rejected})
}

func (h *Handler) approve(c *gin.Context) {
	id, ok := trackID(c)
	if !ok {
		return
	}

	track, err := h.service.ApproveTrack(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTrackNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, track)
}

type RejectTrackRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) reject(c *gin.Context) {
	id, ok := trackID(c)
	if !ok {
		return
	}

	var req RejectTrackRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	track, err := h.service.RejectTrack(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		if errors.Is(err, ErrTrackNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, track)
}
