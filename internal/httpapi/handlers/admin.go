package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/esnafgo/marketplace/internal/activity"
	"github.com/esnafgo/marketplace/internal/auth"
	"github.com/esnafgo/marketplace/internal/common"
	"github.com/esnafgo/marketplace/internal/httpapi/middleware"
	"github.com/esnafgo/marketplace/internal/models"
)

type adminLoginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AdminLogin exchanges admin credentials for an opaque session token.
// The raw token travels back in the body and as the admin_token cookie;
// only its digest is cached server-side.
func (h *Handler) AdminLogin(c *gin.Context) {
	var req adminLoginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).
		Where("email = ? AND role = ?", req.Email, models.RoleAdmin).
		First(&user).Error; err != nil {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid credentials")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid credentials")
		return
	}

	token, err := h.Sessions.Issue(c.Request.Context(), user.ID, string(user.Role))
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20011, "failed to issue token")
		return
	}

	h.Activity.Record(c.Request.Context(), activity.Entry{
		Type:    activity.TypeAdminLogin,
		UserID:  user.ID,
		Subject: user.Email,
	})

	c.SetCookie("admin_token", token, int(h.Cfg.AdminTokenTTL.Seconds()), "/", "", false, true)
	common.OK(c, gin.H{
		"token":      token,
		"expires_in": int(h.Cfg.AdminTokenTTL.Seconds()),
	})
}

func adminSessionFromContext(c *gin.Context) (*auth.AdminSession, bool) {
	v, ok := c.Get(middleware.AdminSessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*auth.AdminSession)
	return sess, ok
}

func (h *Handler) AdminSession(c *gin.Context) {
	sess, ok := adminSessionFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40102, "authentication failed")
		return
	}
	common.OK(c, gin.H{
		"user_id":    sess.UserID,
		"role":       sess.Role,
		"expires_at": sess.ExpiresAt,
	})
}

func (h *Handler) AdminLogout(c *gin.Context) {
	sess, ok := adminSessionFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40102, "authentication failed")
		return
	}

	raw := c.GetString(middleware.AdminTokenKey)
	if err := h.Sessions.Revoke(c.Request.Context(), raw); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20012, "failed to revoke token")
		return
	}

	h.Activity.Record(c.Request.Context(), activity.Entry{
		Type:   activity.TypeAdminRevoked,
		UserID: sess.UserID,
	})

	c.SetCookie("admin_token", "", -1, "/", "", false, true)
	common.OK(c, gin.H{"revoked": true})
}
