package auth

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/listening-room-system/pkg/database"
	"github.com/listening-room-system/pkg/jwt"
	"github.com/listening-room-system/pkg/models"
	"github.com/listening-room-system/pkg/redis"
)

const (
	maxAvatarBytes = 5 << 20
	tokenTTL       = 24 * time.Hour
)

var allowedAvatarExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
}

type Handler struct {
	db        *database.DB
	sessions  *redis.SessionStore
	limiter   LoginLimiter
	ipLimiter *IPRateLimiter
	uploadDir string
}

func NewHandler(db *database.DB, sessions *redis.SessionStore, limiter LoginLimiter, uploadDir string) *Handler {
	return &Handler{
		db:        db,
		sessions:  sessions,
		limiter:   limiter,
		ipLimiter: NewIPRateLimiter(10, 5, 5*time.Minute),
		uploadDir: uploadDir,
	}
}

// Close stops the handler's background rate-limiter cleanup.
func (h *Handler) Close() {
	h.ipLimiter.Stop()
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", RateLimitByIP(h.ipLimiter), h.register)
		authGroup.POST("/login", RateLimitByIP(h.ipLimiter), h.login)
		authGroup.POST("/logout", AuthRequired(h.db, h.sessions), h.logout)
	}
}

// RegisterUserRoutes adds the identity/profile routes to an authenticated group.
func (h *Handler) RegisterUserRoutes(r *gin.RouterGroup) {
	r.GET("/me", h.me)
	r.PUT("/me", h.updateMe)
	r.GET("/notifications", h.notifications)
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Password string `json:"password" binding:"required,min=6"`
	Nickname string `json:"nickname"`
	IsAdmin  bool   `json:"is_admin"`
}

func (h *Handler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.db.GetUserByUsername(req.Username); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "username already taken"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to hash password"})
		return
	}

	nickname := strings.TrimSpace(req.Nickname)
	if nickname == "" {
		nickname = "new listener"
	}

	user := &models.User{
		Username:     req.Username,
		PasswordHash: string(hash),
		Nickname:     nickname,
		IsAdmin:      req.IsAdmin,
	}
	if err := h.db.CreateUser(user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create account"})
		return
	}

	token, err := h.issueToken(c, user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token, "user": identity(user)})
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	allowed, err := h.limiter.Allow(ctx, req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check login attempts"})
		return
	}
	if !allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many failed attempts, try again in a minute"})
		return
	}

	user, err := h.db.GetUserByUsername(req.Username)
	if err != nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		if err := h.limiter.RecordFailure(ctx, req.Username); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record login attempt"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}

	if err := h.limiter.Clear(ctx, req.Username); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear login attempts"})
		return
	}

	token, err := h.issueToken(c, user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": identity(user)})
}

func (h *Handler) issueToken(c *gin.Context, user *models.User) (string, error) {
	token, err := jwt.GenerateToken(user.ID, user.IsAdmin)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	if h.sessions != nil {
		session := &redis.SessionInfo{
			UserID:    user.ID,
			IssuedAt:  time.Now().UTC(),
			ExpiresAt: time.Now().Add(tokenTTL).UTC(),
		}
		if err := h.sessions.StoreSession(c.Request.Context(), user.ID, session); err != nil {
			return "", fmt.Errorf("failed to store session: %w", err)
		}
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	return token, nil
}

func (h *Handler) logout(c *gin.Context) {
	user := CurrentUser(c)

	if h.sessions != nil {
		if err := h.sessions.DeleteSession(c.Request.Context(), user.ID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
			return
		}
	}

	c.SetCookie("auth_token", "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func identity(user *models.User) gin.H {
	return gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"nickname":   user.Nickname,
		"is_admin":   user.IsAdmin,
		"avatar_url": user.AvatarURL(),
		"created_at": user.CreatedAt,
	}
}

func (h *Handler) me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": identity(CurrentUser(c))})
}

func (h *Handler) updateMe(c *gin.Context) {
	user := CurrentUser(c)

	if nickname := strings.TrimSpace(c.PostForm("nickname")); nickname != "" {
		user.Nickname = nickname
	}

	if file, err := c.FormFile("avatar"); err == nil {
		ext := strings.ToLower(filepath.Ext(file.Filename))
		if !allowedAvatarExts[ext] || file.Size > maxAvatarBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "avatar must be a png/jpg/jpeg/gif up to 5MB"})
			return
		}

		storedName := fmt.Sprintf("avatar_%s%s", uuid.New().String(), ext)
		dest := filepath.Join(h.uploadDir, "avatars", storedName)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store avatar"})
			return
		}
		if err := c.SaveUploadedFile(file, dest); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store avatar"})
			return
		}
		user.AvatarPath = storedName
	}

	if err := h.db.Save(user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": identity(user)})
}

// notifications returns and clears the caller's pending moderation notice.
func (h *Handler) notifications(c *gin.Context) {
	user := CurrentUser(c)

	notice := user.NotificationMessage
	if notice != "" {
		if err := h.db.Model(user).Update("notification_message", "").Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear notification"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"notification": notice})
}
