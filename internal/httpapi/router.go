package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/esnafgo/marketplace/internal/common"
	"github.com/esnafgo/marketplace/internal/httpapi/handlers"
	"github.com/esnafgo/marketplace/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	// accounts
	r.POST("/register", h.CreateUser)
	r.POST("/login", h.Login)

	// OTP issuance / verification (pre-auth: login codes)
	r.POST("/otp/issue", h.IssueOTP)
	r.POST("/otp/verify", h.VerifyOTP)

	// chat socket: credentials via bearer header or token= query
	r.GET("/ws/chat/:id", h.ChatSocket)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(h.Cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	authGroup.POST("/logout", h.Logout)
	authGroup.GET("/conversations", h.ListConversations)
	authGroup.POST("/conversations", h.CreateConversation)
	authGroup.GET("/conversations/:id/messages", h.ListConversationMessages)
	authGroup.POST("/conversations/:id/messages", h.SendConversationMessage)
	authGroup.POST("/conversations/:id/read", h.MarkConversationRead)

	// admin: opaque token via admin_token cookie or bearer header
	r.POST("/admin/login", h.AdminLogin)
	adminGroup := r.Group("/admin")
	adminGroup.Use(middleware.AdminAuthRequired(h.Sessions))
	adminGroup.GET("/session", h.AdminSession)
	adminGroup.POST("/logout", h.AdminLogout)

	return r
}
