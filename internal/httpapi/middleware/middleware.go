package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/esnafgo/marketplace/internal/auth"
	"github.com/esnafgo/marketplace/internal/common"
)

const (
	UserIDKey       = "user_id"
	RoleKey         = "user_role"
	AdminSessionKey = "admin_session"
	AdminTokenKey   = "admin_token_raw"
	RequestIDHeader = "X-Request-ID"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("panic recovered path=%s err=%v", c.FullPath(), r)
				common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
				c.Abort()
			}
		}()
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// AuthRequired validates the session JWT and stashes the caller's
// identity in the request context.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			c.Abort()
			return
		}
		claims, err := auth.ParseJWT(token, secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			c.Abort()
			return
		}
		c.Set(UserIDKey, claims.UserID)
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

// AdminAuthRequired accepts the opaque admin token via the admin_token
// cookie or a bearer header and resolves it against the token cache.
func AdminAuthRequired(sessions *auth.AdminSessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, _ := c.Cookie("admin_token")
		if raw == "" {
			raw = bearerToken(c)
		}
		sess, err := sessions.Authenticate(c.Request.Context(), raw)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "authentication failed")
			c.Abort()
			return
		}
		c.Set(AdminSessionKey, sess)
		c.Set(AdminTokenKey, raw)
		c.Next()
	}
}
