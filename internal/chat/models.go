package chat

import "time"

// Side identifies which half of a conversation a user or message
// belongs to.
type Side string

const (
	SideVendor Side = "vendor"
	SideClient Side = "client"
)

type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// Conversation is the single 1:1 thread between a vendor and a client.
// The last_message_* columns and unread counters mirror the newest
// message state so listings never recompute it.
type Conversation struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	VendorID uint64 `gorm:"not null;index:uniq_conv_pair,unique,priority:1" json:"vendor_id"`
	ClientID uint64 `gorm:"not null;index:uniq_conv_pair,unique,priority:2" json:"client_id"`

	LastMessageText string     `gorm:"type:varchar(255)" json:"last_message_text"`
	LastMessageAt   *time.Time `gorm:"index" json:"last_message_at"`

	VendorUnreadCount uint `gorm:"not null;default:0" json:"vendor_unread_count"`
	ClientUnreadCount uint `gorm:"not null;default:0" json:"client_unread_count"`

	VendorLastReadAt *time.Time `json:"vendor_last_read_at"`
	ClientLastReadAt *time.Time `json:"client_last_read_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

// Message is immutable once created except for status transitions.
type Message struct {
	ID             uint64        `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint64        `gorm:"not null;index" json:"conversation_id"`
	SenderID       uint64        `gorm:"not null" json:"sender_id"`
	FromVendor     bool          `gorm:"not null" json:"from_vendor"`
	Content        string        `gorm:"type:text;not null" json:"content"`
	Status         MessageStatus `gorm:"type:varchar(16);not null;default:sent" json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// SideOf returns the side a message was sent from.
func (m *Message) SideOf() Side {
	if m.FromVendor {
		return SideVendor
	}
	return SideClient
}
