package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/listening-room-system/pkg/database"
	"github.com/listening-room-system/pkg/jwt"
	"github.com/listening-room-system/pkg/models"
	"github.com/listening-room-system/pkg/redis"
)

// CtxUser is the context key the authenticated user is stored under.
const CtxUser = "user"

// CurrentUser returns the user loaded by AuthRequired. Panics if the route
// was not protected by it.
func CurrentUser(c *gin.Context) *models.User {
	return c.MustGet(CtxUser).(*models.User)
}

// AuthRequired validates the bearer JWT, checks that the session has not
// been revoked, and loads the user into the context.
func AuthRequired(db *database.DB, sessions *redis.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization token"})
			return
		}

		claims, err := jwt.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		// Logout deletes the session, which invalidates the JWT early.
		if sessions != nil {
			if _, err := sessions.GetSession(c.Request.Context(), claims.UserID); err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
				return
			}
		}

		user, err := db.GetUserByID(claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}

		c.Set(CtxUser, user)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if cookie, err := c.Cookie("auth_token"); err == nil {
		return cookie
	}
	return ""
}

// AdminRequired gates moderation routes.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if !user.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

// UserOnly keeps admin accounts out of listener-facing routes; moderators
// do not upload music or sit in rooms.
func UserOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not available for admin accounts"})
			return
		}
		c.Next()
	}
}
