package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/esnafgo/marketplace/internal/activity"
	"github.com/esnafgo/marketplace/internal/auth"
	"github.com/esnafgo/marketplace/internal/common"
	"github.com/esnafgo/marketplace/internal/models"
	"github.com/esnafgo/marketplace/internal/notify"
	"github.com/esnafgo/marketplace/internal/otp"
)

type issueOTPReq struct {
	Phone   string `json:"phone" binding:"required"`
	Purpose string `json:"purpose" binding:"required"`
}

// IssueOTP generates a code for (phone, purpose) and hands it to the
// dispatch pipeline. The code never appears in the response; delivery
// is out-of-band.
func (h *Handler) IssueOTP(c *gin.Context) {
	var req issueOTPReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	code, err := h.OTP.Issue(c.Request.Context(), req.Phone, req.Purpose)
	if err != nil {
		if errors.Is(err, otp.ErrRateLimited) {
			common.Fail(c, http.StatusTooManyRequests, 42900, "too many codes requested, try again later")
			return
		}
		log.Printf("[IssueOTP] issue failed phone=%s purpose=%s err=%v", req.Phone, req.Purpose, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	dispatchID, err := common.NewULID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	d := &notify.Dispatch{
		ID:        dispatchID,
		Channel:   "sms",
		Recipient: req.Phone,
		Body:      "Your verification code is " + code,
		Status:    notify.DispatchQueued,
	}
	if err := h.NotifyRepo.Create(c.Request.Context(), d); err != nil {
		log.Printf("[IssueOTP] dispatch create failed phone=%s err=%v", req.Phone, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	if err := h.Publisher.PublishDispatch(c.Request.Context(), d.ID); err != nil {
		log.Printf("[IssueOTP] enqueue failed dispatch=%s err=%v", d.ID, err)
		common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
		return
	}

	h.Activity.Record(c.Request.Context(), activity.Entry{
		Type:    activity.TypeOTPIssued,
		Subject: req.Phone,
		Detail:  "purpose=" + req.Purpose,
	})

	common.OK(c, gin.H{
		"expires_in": int(h.Cfg.OTPTTL.Seconds()),
	})
}

type verifyOTPReq struct {
	Phone   string `json:"phone" binding:"required"`
	Code    string `json:"code" binding:"required"`
	Purpose string `json:"purpose" binding:"required"`
}

// VerifyOTP consumes a code. For the login purpose a session JWT is
// returned when the phone maps to a known account.
func (h *Handler) VerifyOTP(c *gin.Context) {
	var req verifyOTPReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	err := h.OTP.Verify(c.Request.Context(), req.Phone, req.Code, req.Purpose, true)
	switch {
	case errors.Is(err, otp.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40404, "code expired or not found")
		return
	case errors.Is(err, otp.ErrTooManyAttempts):
		common.Fail(c, http.StatusTooManyRequests, 42901, "too many attempts, request a new code")
		return
	case errors.Is(err, otp.ErrInvalidCode):
		common.Fail(c, http.StatusBadRequest, 10021, "invalid code")
		return
	case err != nil:
		log.Printf("[VerifyOTP] verify failed phone=%s purpose=%s err=%v", req.Phone, req.Purpose, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	h.Activity.Record(c.Request.Context(), activity.Entry{
		Type:    activity.TypeOTPVerified,
		Subject: req.Phone,
		Detail:  "purpose=" + req.Purpose,
	})

	if req.Purpose == "login" {
		var user models.User
		if err := h.DB.WithContext(c.Request.Context()).
			Where("phone = ?", req.Phone).First(&user).Error; err == nil {
			token, signErr := auth.SignJWT(user.ID, string(user.Role), h.Cfg.JWTSecret, 24*time.Hour)
			if signErr == nil {
				common.OK(c, gin.H{"verified": true, "id": user.ID, "role": user.Role, "token": token})
				return
			}
		}
	}

	common.OK(c, gin.H{"verified": true})
}
