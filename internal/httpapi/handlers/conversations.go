package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/esnafgo/marketplace/internal/chat"
	"github.com/esnafgo/marketplace/internal/common"
	"github.com/esnafgo/marketplace/internal/models"
)

func conversationIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func failChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrForbidden):
		common.Fail(c, http.StatusForbidden, 40300, "not a participant of this conversation")
	case errors.Is(err, chat.ErrEmptyContent):
		common.Fail(c, http.StatusBadRequest, 10030, "message content required")
	case errors.Is(err, gorm.ErrRecordNotFound):
		common.Fail(c, http.StatusNotFound, 40403, "conversation not found")
	default:
		log.Printf("[chat] request failed err=%v", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

func (h *Handler) ListConversations(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	convs, err := h.ChatSvc.ListConversations(c.Request.Context(), uid, limit)
	if err != nil {
		failChatError(c, err)
		return
	}
	common.OK(c, gin.H{"conversations": convs})
}

type createConversationReq struct {
	PeerID uint64 `json:"peer_id" binding:"required"`
}

// CreateConversation resolves the vendor/client orientation from the two
// users' roles; a pair already in contact gets its existing thread back.
func (h *Handler) CreateConversation(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.PeerID == uid {
		common.Fail(c, http.StatusBadRequest, 10031, "cannot start a conversation with yourself")
		return
	}

	var caller, peer models.User
	if err := h.DB.WithContext(c.Request.Context()).First(&caller, uid).Error; err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if err := h.DB.WithContext(c.Request.Context()).First(&peer, req.PeerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	var vendorID, clientID uint64
	switch {
	case caller.Role == models.RoleVendor && peer.Role == models.RoleClient:
		vendorID, clientID = caller.ID, peer.ID
	case caller.Role == models.RoleClient && peer.Role == models.RoleVendor:
		vendorID, clientID = peer.ID, caller.ID
	default:
		common.Fail(c, http.StatusBadRequest, 10032, "conversation requires one vendor and one client")
		return
	}

	conv, err := h.ChatSvc.StartConversation(c.Request.Context(), vendorID, clientID)
	if err != nil {
		failChatError(c, err)
		return
	}
	common.OK(c, gin.H{"conversation": conv})
}

func (h *Handler) ListConversationMessages(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	convID, okk := conversationIDParam(c)
	if !okk {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid conversation id")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if v := c.Query("before_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), convID, uid, limit, beforeID)
	if err != nil {
		failChatError(c, err)
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}

	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

type sendMessageReq struct {
	Content string `json:"content"`
}

// SendConversationMessage is the request/response ingress into the same
// persist-then-broadcast path the socket uses, so open sockets still
// get message.new for messages sent over HTTP.
func (h *Handler) SendConversationMessage(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	convID, okk := conversationIDParam(c)
	if !okk {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid conversation id")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	msg, err := h.ChatSvc.SendMessage(c.Request.Context(), convID, uid, req.Content)
	if err != nil {
		failChatError(c, err)
		return
	}

	common.OK(c, gin.H{"message": msg})
}

func (h *Handler) MarkConversationRead(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	convID, okk := conversationIDParam(c)
	if !okk {
		common.Fail(c, http.StatusBadRequest, 10004, "invalid conversation id")
		return
	}

	if err := h.ChatSvc.MarkRead(c.Request.Context(), convID, uid); err != nil {
		failChatError(c, err)
		return
	}
	common.OK(c, gin.H{"read": true})
}
