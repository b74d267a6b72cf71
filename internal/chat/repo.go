package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) GetConversationByID(ctx context.Context, id uint64) (*Conversation, error) {
	var c Conversation
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// EnsureConversation returns the conversation for (vendor, client),
// creating it on first contact. The unique pair index keeps concurrent
// first contacts down to a single row; a lost create race falls back to
// the winner's row.
func (r *Repo) EnsureConversation(ctx context.Context, vendorID, clientID uint64) (*Conversation, error) {
	var c Conversation
	err := r.db.WithContext(ctx).
		Where("vendor_id = ? AND client_id = ?", vendorID, clientID).
		First(&c).Error
	if err == nil {
		return &c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	c = Conversation{VendorID: vendorID, ClientID: clientID}
	if createErr := r.db.WithContext(ctx).Create(&c).Error; createErr != nil {
		var winner Conversation
		if retryErr := r.db.WithContext(ctx).
			Where("vendor_id = ? AND client_id = ?", vendorID, clientID).
			First(&winner).Error; retryErr == nil {
			return &winner, nil
		}
		return nil, createErr
	}
	return &c, nil
}

// ListConversationsForUser returns the user's conversations, most
// recently active first.
func (r *Repo) ListConversationsForUser(ctx context.Context, userID uint64, limit int) ([]Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var convs []Conversation
	if err := r.db.WithContext(ctx).
		Where("vendor_id = ? OR client_id = ?", userID, userID).
		Order("last_message_at DESC").
		Limit(limit).
		Find(&convs).Error; err != nil {
		return nil, err
	}
	return convs, nil
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ListMessages returns messages in DESC id order (newest -> oldest).
func (r *Repo) ListMessages(ctx context.Context, conversationID uint64, limit int, beforeID uint64) ([]Message, error) {
	q := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit)

	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var msgs []Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// UpdateConversationOnSend refreshes the denormalized last-message state
// and bumps the unread counter of the side that did NOT send. The
// increment runs in SQL so concurrent sends cannot lose counts.
func (r *Repo) UpdateConversationOnSend(ctx context.Context, conversationID uint64, text string, at time.Time, senderSide Side) error {
	updates := map[string]any{
		"last_message_text": text,
		"last_message_at":   at,
	}
	if senderSide == SideVendor {
		updates["client_unread_count"] = gorm.Expr("client_unread_count + 1")
	} else {
		updates["vendor_unread_count"] = gorm.Expr("vendor_unread_count + 1")
	}
	return r.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", conversationID).
		Updates(updates).Error
}

// MarkConversationRead zeroes the reader's unread counter and stamps the
// reader's last-read time. Safe to repeat.
func (r *Repo) MarkConversationRead(ctx context.Context, conversationID uint64, readerSide Side, at time.Time) error {
	updates := map[string]any{}
	if readerSide == SideVendor {
		updates["vendor_unread_count"] = 0
		updates["vendor_last_read_at"] = at
	} else {
		updates["client_unread_count"] = 0
		updates["client_last_read_at"] = at
	}
	return r.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", conversationID).
		Updates(updates).Error
}

// MarkMessagesRead flips the counterpart's messages to read.
func (r *Repo) MarkMessagesRead(ctx context.Context, conversationID uint64, readerSide Side) error {
	fromVendor := readerSide == SideClient
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("conversation_id = ? AND from_vendor = ? AND status <> ?", conversationID, fromVendor, MessageRead).
		Update("status", MessageRead).Error
}
