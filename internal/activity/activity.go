// Package activity records audit events. The event type is an explicit
// tag chosen at the call site; nothing is inferred from message text.
package activity

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"
)

type Type string

const (
	TypeLogin        Type = "login"
	TypeOTPIssued    Type = "otp_issued"
	TypeOTPVerified  Type = "otp_verified"
	TypeMessageSent  Type = "message_sent"
	TypeAdminLogin   Type = "admin_login"
	TypeAdminRevoked Type = "admin_revoked"
)

type Entry struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Type      Type      `gorm:"type:varchar(32);index;not null"`
	UserID    uint64    `gorm:"index"`
	Subject   string    `gorm:"type:varchar(255)"`
	Detail    string    `gorm:"type:varchar(512)"`
	CreatedAt time.Time `gorm:"index"`
}

func (Entry) TableName() string { return "activity_log" }

// Recorder is injected at startup; there is no package-level sink.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// GormRecorder persists entries. Recording is best-effort: a failed
// insert is logged and dropped, never surfaced to the request path.
type GormRecorder struct {
	db *gorm.DB
}

func NewGormRecorder(db *gorm.DB) *GormRecorder {
	return &GormRecorder{db: db}
}

func (r *GormRecorder) Record(ctx context.Context, e Entry) {
	if err := r.db.WithContext(ctx).Create(&e).Error; err != nil {
		log.Printf("activity: record failed type=%s err=%v", e.Type, err)
	}
}

// NopRecorder discards everything; used in tests.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Entry) {}
