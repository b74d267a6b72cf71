package handlers

import (
	"context"

	"gorm.io/gorm"

	"github.com/esnafgo/marketplace/internal/activity"
	"github.com/esnafgo/marketplace/internal/auth"
	"github.com/esnafgo/marketplace/internal/chat"
	"github.com/esnafgo/marketplace/internal/common"
	"github.com/esnafgo/marketplace/internal/config"
	"github.com/esnafgo/marketplace/internal/notify"
	"github.com/esnafgo/marketplace/internal/otp"
	"github.com/esnafgo/marketplace/internal/relay"

	"github.com/gin-gonic/gin"
)

// DispatchPublisher enqueues a stored dispatch for the worker.
// Implemented by the rabbitmq publisher; faked in tests.
type DispatchPublisher interface {
	PublishDispatch(ctx context.Context, dispatchID string) error
}

type Handler struct {
	DB         *gorm.DB
	Cfg        config.Config
	OTP        *otp.Service
	Sessions   *auth.AdminSessions
	ChatSvc    *chat.Service
	Broker     relay.Broker
	NotifyRepo *notify.Repo
	Publisher  DispatchPublisher
	Activity   activity.Recorder
}

func NewHandler(
	db *gorm.DB,
	cfg config.Config,
	otpSvc *otp.Service,
	sessions *auth.AdminSessions,
	chatSvc *chat.Service,
	broker relay.Broker,
	notifyRepo *notify.Repo,
	publisher DispatchPublisher,
	recorder activity.Recorder,
) *Handler {
	return &Handler{
		DB:         db,
		Cfg:        cfg,
		OTP:        otpSvc,
		Sessions:   sessions,
		ChatSvc:    chatSvc,
		Broker:     broker,
		NotifyRepo: notifyRepo,
		Publisher:  publisher,
		Activity:   recorder,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}
