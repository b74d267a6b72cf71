package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/esnafgo/marketplace/internal/auth"
	"github.com/esnafgo/marketplace/internal/chat"
	"github.com/esnafgo/marketplace/internal/common"
	"github.com/esnafgo/marketplace/internal/relay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin allow-list is enforced at the proxy
	},
}

// socketSession binds one joined connection to the chat service. The
// sender identity and side were resolved at connect time.
type socketSession struct {
	svc            *chat.Service
	conversationID uint64
	userID         uint64
}

func (s *socketSession) HandleMessage(ctx context.Context, content string) error {
	_, err := s.svc.SendMessage(ctx, s.conversationID, s.userID, content)
	return err
}

func (s *socketSession) HandleTyping(ctx context.Context, isTyping bool) error {
	return s.svc.Typing(ctx, s.conversationID, s.userID, isTyping)
}

// ChatSocket upgrades /ws/chat/:id. Credentials come from the session
// bearer header or a signed token= query parameter. Unauthenticated
// callers are refused before the upgrade; authenticated non-participants
// get the forbidden close code after it.
func (h *Handler) ChatSocket(c *gin.Context) {
	convID, okk := conversationIDParam(c)
	if !okk {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid conversation id")
		return
	}

	token := c.Query("token")
	if token == "" {
		if v := c.GetHeader("Authorization"); strings.HasPrefix(v, "Bearer ") {
			token = strings.TrimPrefix(v, "Bearer ")
		}
	}
	claims, err := auth.ParseJWT(token, h.Cfg.JWTSecret)
	if err != nil {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	conv, _, err := h.ChatSvc.GetConversation(c.Request.Context(), convID, claims.UserID)
	if err != nil {
		code := relay.CloseForbidden
		reason := "forbidden"
		if errors.Is(err, gorm.ErrRecordNotFound) {
			reason = "conversation not found"
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	session := &socketSession{
		svc:            h.ChatSvc,
		conversationID: conv.ID,
		userID:         claims.UserID,
	}
	client := relay.NewClient(chat.Topic(conv.ID), conn, h.Broker, session)
	client.Run(c.Request.Context())
}
