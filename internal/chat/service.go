package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/esnafgo/marketplace/internal/activity"
	"github.com/esnafgo/marketplace/internal/relay"
)

var (
	ErrForbidden    = errors.New("chat: not a participant of this conversation")
	ErrEmptyContent = errors.New("chat: empty message content")
)

// Topic names the broadcast group of one conversation.
func Topic(conversationID uint64) string {
	return "conversation:" + strconv.FormatUint(conversationID, 10)
}

// MessagePayload is the message.new event body.
type MessagePayload struct {
	ID             uint64    `json:"id"`
	ConversationID uint64    `json:"conversation_id"`
	SenderID       uint64    `json:"sender_id"`
	Side           Side      `json:"side"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// TypingPayload is the ephemeral typing event body; never persisted.
type TypingPayload struct {
	ConversationID uint64 `json:"conversation_id"`
	SenderID       uint64 `json:"sender_id"`
	Side           Side   `json:"side"`
	IsTyping       bool   `json:"is_typing"`
}

// lastMessageColumnLimit matches the conversations.last_message_text
// column (varchar(255)); the configured preview length never exceeds it.
const lastMessageColumnLimit = 255

type Service struct {
	repo          *Repo
	broker        relay.Broker
	recorder      activity.Recorder
	lastMsgMaxLen int

	// striped per-conversation write locks: serializes persist ->
	// denormalize -> broadcast so group delivery order matches
	// persistence order. Conversations hashing to the same stripe
	// share a mutex; memory stays fixed.
	convLocks [64]sync.Mutex
}

func NewService(repo *Repo, broker relay.Broker, recorder activity.Recorder, lastMsgMaxLen int) *Service {
	if lastMsgMaxLen <= 0 {
		lastMsgMaxLen = 120
	}
	if lastMsgMaxLen > lastMessageColumnLimit {
		lastMsgMaxLen = lastMessageColumnLimit
	}
	return &Service{
		repo:          repo,
		broker:        broker,
		recorder:      recorder,
		lastMsgMaxLen: lastMsgMaxLen,
	}
}

func (s *Service) lockConversation(id uint64) *sync.Mutex {
	return &s.convLocks[id%uint64(len(s.convLocks))]
}

// SideFor resolves which side of the conversation a user is, or
// ErrForbidden for everyone else.
func (s *Service) SideFor(conv *Conversation, userID uint64) (Side, error) {
	switch userID {
	case conv.VendorID:
		return SideVendor, nil
	case conv.ClientID:
		return SideClient, nil
	default:
		return "", ErrForbidden
	}
}

// GetConversation loads a conversation and authorizes the caller in one
// step. Non-participants get ErrForbidden regardless of existence.
func (s *Service) GetConversation(ctx context.Context, conversationID, userID uint64) (*Conversation, Side, error) {
	conv, err := s.repo.GetConversationByID(ctx, conversationID)
	if err != nil {
		return nil, "", err
	}
	side, err := s.SideFor(conv, userID)
	if err != nil {
		return nil, "", err
	}
	return conv, side, nil
}

// StartConversation returns the (vendor, client) conversation, creating
// it on first contact.
func (s *Service) StartConversation(ctx context.Context, vendorID, clientID uint64) (*Conversation, error) {
	return s.repo.EnsureConversation(ctx, vendorID, clientID)
}

func (s *Service) ListConversations(ctx context.Context, userID uint64, limit int) ([]Conversation, error) {
	return s.repo.ListConversationsForUser(ctx, userID, limit)
}

func truncateRunes(v string, max int) string {
	r := []rune(v)
	if len(r) <= max {
		return v
	}
	return string(r[:max])
}

// SendMessage persists a message, refreshes the conversation's
// denormalized state, and broadcasts message.new to the conversation's
// group. The broadcast only happens after the insert committed; a
// stored-but-unbroadcast message is the accepted failure mode, never
// the reverse. Both the socket and the HTTP ingress go through here, so
// the group is the single source of new-message notification.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID uint64, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	conv, side, err := s.GetConversation(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}

	l := s.lockConversation(conv.ID)
	l.Lock()
	defer l.Unlock()

	msg := &Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		FromVendor:     side == SideVendor,
		Content:        content,
		Status:         MessageSent,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateConversationOnSend(ctx, conv.ID,
		truncateRunes(content, s.lastMsgMaxLen), msg.CreatedAt, side); err != nil {
		return nil, err
	}

	s.broker.Publish(Topic(conv.ID), relay.Event{
		Event: relay.EventMessageNew,
		Data: MessagePayload{
			ID:             msg.ID,
			ConversationID: conv.ID,
			SenderID:       senderID,
			Side:           side,
			Content:        content,
			CreatedAt:      msg.CreatedAt,
		},
	})

	// recorded here so the socket and HTTP ingresses audit identically
	s.recorder.Record(ctx, activity.Entry{
		Type:   activity.TypeMessageSent,
		UserID: senderID,
		Detail: "conversation=" + strconv.FormatUint(conv.ID, 10),
	})
	return msg, nil
}

// Typing broadcasts an ephemeral typing event. Fire-and-forget: no
// persistence, no acknowledgement, no retry.
func (s *Service) Typing(ctx context.Context, conversationID, senderID uint64, isTyping bool) error {
	conv, side, err := s.GetConversation(ctx, conversationID, senderID)
	if err != nil {
		return err
	}
	s.broker.Publish(Topic(conv.ID), relay.Event{
		Event: relay.EventTyping,
		Data: TypingPayload{
			ConversationID: conv.ID,
			SenderID:       senderID,
			Side:           side,
			IsTyping:       isTyping,
		},
	})
	return nil
}

// MarkRead zeroes the caller's unread counter, stamps the caller's
// last-read time, and flips the counterpart's messages to read.
// Idempotent.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID uint64) error {
	conv, side, err := s.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return err
	}

	l := s.lockConversation(conv.ID)
	l.Lock()
	defer l.Unlock()

	now := time.Now()
	if err := s.repo.MarkConversationRead(ctx, conv.ID, side, now); err != nil {
		return err
	}
	return s.repo.MarkMessagesRead(ctx, conv.ID, side)
}

// ListMessages returns paginated history, newest first.
func (s *Service) ListMessages(ctx context.Context, conversationID, userID uint64, limit int, beforeID uint64) ([]Message, error) {
	if _, _, err := s.GetConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListMessages(ctx, conversationID, limit, beforeID)
}
