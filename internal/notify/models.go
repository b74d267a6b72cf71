package notify

import "time"

type DispatchStatus string

const (
	DispatchQueued    DispatchStatus = "queued"
	DispatchRunning   DispatchStatus = "running"
	DispatchSucceeded DispatchStatus = "succeeded"
	DispatchFailed    DispatchStatus = "failed"
)

// Dispatch is one outbound notification (OTP code, chat push) handed to
// the queue. The worker owns its status transitions.
type Dispatch struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	Channel   string `gorm:"type:varchar(16);not null"`
	Recipient string `gorm:"type:varchar(255);not null"`
	Body      string `gorm:"type:text;not null"`

	Status   DispatchStatus `gorm:"type:varchar(16);index;not null"`
	Attempts int            `gorm:"not null;default:0"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Dispatch) TableName() string { return "notify_dispatches" }
