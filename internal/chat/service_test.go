package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/esnafgo/marketplace/internal/activity"
	"github.com/esnafgo/marketplace/internal/relay"
	"gorm.io/gorm"
)

type recordingBroker struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	topic string
	ev    relay.Event
}

func (b *recordingBroker) Subscribe(string, relay.Sink)   {}
func (b *recordingBroker) Unsubscribe(string, relay.Sink) {}

func (b *recordingBroker) Publish(topic string, ev relay.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, publishedEvent{topic: topic, ev: ev})
}

func (b *recordingBroker) published() []publishedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishedEvent(nil), b.events...)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Conversation{}, &Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *recordingBroker, *gorm.DB) {
	t.Helper()
	db := openTestDB(t)
	broker := &recordingBroker{}
	return NewService(NewRepo(db), broker, activity.NopRecorder{}, 120), broker, db
}

const (
	vendorID = uint64(1)
	clientID = uint64(2)
)

func TestSendMessage_PersistsAndBroadcasts(t *testing.T) {
	svc, broker, db := newTestService(t)
	ctx := context.Background()

	conv, err := svc.StartConversation(ctx, vendorID, clientID)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}

	msg, err := svc.SendMessage(ctx, conv.ID, clientID, "Merhaba")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if msg.ID == 0 || msg.FromVendor {
		t.Fatalf("unexpected message row: id=%d from_vendor=%v", msg.ID, msg.FromVendor)
	}

	// denormalized conversation state: only the vendor side accrues unread
	var got Conversation
	if err := db.First(&got, conv.ID).Error; err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	if got.VendorUnreadCount != 1 {
		t.Fatalf("vendor_unread_count = %d, want 1", got.VendorUnreadCount)
	}
	if got.ClientUnreadCount != 0 {
		t.Fatalf("client_unread_count = %d, want 0", got.ClientUnreadCount)
	}
	if got.LastMessageText != "Merhaba" {
		t.Fatalf("last_message_text = %q", got.LastMessageText)
	}
	if got.LastMessageAt == nil {
		t.Fatalf("last_message_at not set")
	}

	events := broker.published()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	if events[0].topic != Topic(conv.ID) || events[0].ev.Event != relay.EventMessageNew {
		t.Fatalf("unexpected event: topic=%s event=%s", events[0].topic, events[0].ev.Event)
	}
	payload, ok := events[0].ev.Data.(MessagePayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[0].ev.Data)
	}
	if payload.Side != SideClient || payload.Content != "Merhaba" || payload.ID != msg.ID {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestSendMessage_EmptyContentRejected(t *testing.T) {
	svc, broker, db := newTestService(t)
	ctx := context.Background()

	conv, err := svc.StartConversation(ctx, vendorID, clientID)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}

	if _, err := svc.SendMessage(ctx, conv.ID, clientID, "   "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}

	var cnt int64
	if err := db.Model(&Message{}).Count(&cnt).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if cnt != 0 {
		t.Fatalf("expected no message rows, got %d", cnt)
	}
	if len(broker.published()) != 0 {
		t.Fatalf("expected no broadcast for rejected message")
	}
}

func TestSendMessage_ForbiddenForOutsider(t *testing.T) {
	svc, broker, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.StartConversation(ctx, vendorID, clientID)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}

	if _, err := svc.SendMessage(ctx, conv.ID, 99, "hi"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if len(broker.published()) != 0 {
		t.Fatalf("expected no broadcast for forbidden sender")
	}
}

func TestMarkRead_Idempotent(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	conv, err := svc.StartConversation(ctx, vendorID, clientID)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}
	if _, err := svc.SendMessage(ctx, conv.ID, clientID, "Merhaba"); err != nil {
		t.Fatalf("send message: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := svc.MarkRead(ctx, conv.ID, vendorID); err != nil {
			t.Fatalf("mark read (call %d): %v", i+1, err)
		}
		var got Conversation
		if err := db.First(&got, conv.ID).Error; err != nil {
			t.Fatalf("reload conversation: %v", err)
		}
		if got.VendorUnreadCount != 0 {
			t.Fatalf("call %d: vendor_unread_count = %d, want 0", i+1, got.VendorUnreadCount)
		}
		if got.VendorLastReadAt == nil {
			t.Fatalf("call %d: vendor_last_read_at not set", i+1)
		}
	}

	// the client's message flipped to read
	var msg Message
	if err := db.Where("conversation_id = ?", conv.ID).First(&msg).Error; err != nil {
		t.Fatalf("reload message: %v", err)
	}
	if msg.Status != MessageRead {
		t.Fatalf("message status = %q, want read", msg.Status)
	}
}

func TestListMessages_NewestFirstRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conv, err := svc.StartConversation(ctx, vendorID, clientID)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}

	sent := []string{"first", "second", "third"}
	for _, content := range sent {
		if _, err := svc.SendMessage(ctx, conv.ID, clientID, content); err != nil {
			t.Fatalf("send %q: %v", content, err)
		}
	}

	msgs, err := svc.ListMessages(ctx, conv.ID, vendorID, 10, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != len(sent) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(sent))
	}
	for i, m := range msgs {
		want := sent[len(sent)-1-i]
		if m.Content != want {
			t.Fatalf("message %d = %q, want %q", i, m.Content, want)
		}
		if m.SideOf() != SideClient {
			t.Fatalf("message %d side = %q, want client", i, m.SideOf())
		}
	}

	// paging: before the newest id yields the older two
	older, err := svc.ListMessages(ctx, conv.ID, vendorID, 10, msgs[0].ID)
	if err != nil {
		t.Fatalf("list older: %v", err)
	}
	if len(older) != 2 || older[0].Content != "second" {
		t.Fatalf("unexpected page: %+v", older)
	}
}

func TestEnsureConversation_OnePerPair(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	a, err := svc.StartConversation(ctx, vendorID, clientID)
	if err != nil {
		t.Fatalf("first contact: %v", err)
	}
	b, err := svc.StartConversation(ctx, vendorID, clientID)
	if err != nil {
		t.Fatalf("second contact: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("pair resolved to two conversations: %d and %d", a.ID, b.ID)
	}

	var cnt int64
	if err := db.Model(&Conversation{}).Count(&cnt).Error; err != nil {
		t.Fatalf("count conversations: %v", err)
	}
	if cnt != 1 {
		t.Fatalf("expected 1 conversation row, got %d", cnt)
	}
}

func TestSendMessage_ConcurrentCountsStayExact(t *testing.T) {
	svc, broker, db := newTestService(t)
	ctx := context.Background()

	// sqlite cannot take concurrent writers; the point here is the
	// service-level serialization, so the pool is pinned to one conn
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	conv, err := svc.StartConversation(ctx, vendorID, clientID)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}

	const perSide = 10
	errs := make(chan error, 2*perSide)
	var wg sync.WaitGroup
	wg.Add(2 * perSide)
	for i := 0; i < perSide; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := svc.SendMessage(ctx, conv.ID, vendorID, fmt.Sprintf("v-%d", i))
			errs <- err
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := svc.SendMessage(ctx, conv.ID, clientID, fmt.Sprintf("c-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	// no lost counter increments: each side's unread equals the number
	// of messages the other side sent
	var got Conversation
	if err := db.First(&got, conv.ID).Error; err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	if got.VendorUnreadCount != perSide {
		t.Fatalf("vendor_unread_count = %d, want %d", got.VendorUnreadCount, perSide)
	}
	if got.ClientUnreadCount != perSide {
		t.Fatalf("client_unread_count = %d, want %d", got.ClientUnreadCount, perSide)
	}
	if got.LastMessageAt == nil {
		t.Fatalf("last_message_at not set")
	}

	// broadcast order matches persistence order, and the denormalized
	// preview is the last broadcast message, not a stale one
	events := broker.published()
	if len(events) != 2*perSide {
		t.Fatalf("published %d events, want %d", len(events), 2*perSide)
	}
	var lastID uint64
	var lastContent string
	for i, ev := range events {
		payload, ok := ev.ev.Data.(MessagePayload)
		if !ok {
			t.Fatalf("event %d: unexpected payload type %T", i, ev.ev.Data)
		}
		if payload.ID <= lastID {
			t.Fatalf("event %d out of order: id %d after %d", i, payload.ID, lastID)
		}
		lastID = payload.ID
		lastContent = payload.Content
	}
	if got.LastMessageText != lastContent {
		t.Fatalf("last_message_text = %q, want %q (newest message)", got.LastMessageText, lastContent)
	}
}

func TestSendMessage_PreviewCappedToColumn(t *testing.T) {
	db := openTestDB(t)
	broker := &recordingBroker{}
	// an oversized configured length is capped at the column size
	svc := NewService(NewRepo(db), broker, activity.NopRecorder{}, 9999)
	ctx := context.Background()

	conv, err := svc.StartConversation(ctx, vendorID, clientID)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}

	content := strings.Repeat("ğ", 300)
	msg, err := svc.SendMessage(ctx, conv.ID, clientID, content)
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if msg.Content != content {
		t.Fatalf("message content was truncated")
	}

	var got Conversation
	if err := db.First(&got, conv.ID).Error; err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	if n := utf8.RuneCountInString(got.LastMessageText); n != 255 {
		t.Fatalf("last_message_text is %d runes, want 255", n)
	}
	if !strings.HasPrefix(content, got.LastMessageText) {
		t.Fatalf("preview is not a prefix of the message")
	}
}

type capturingRecorder struct {
	mu      sync.Mutex
	entries []activity.Entry
}

func (r *capturingRecorder) Record(_ context.Context, e activity.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *capturingRecorder) all() []activity.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]activity.Entry(nil), r.entries...)
}

func TestSendMessage_RecordsActivity(t *testing.T) {
	db := openTestDB(t)
	rec := &capturingRecorder{}
	svc := NewService(NewRepo(db), &recordingBroker{}, rec, 120)
	ctx := context.Background()

	conv, err := svc.StartConversation(ctx, vendorID, clientID)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}
	if _, err := svc.SendMessage(ctx, conv.ID, clientID, "Merhaba"); err != nil {
		t.Fatalf("send message: %v", err)
	}

	entries := rec.all()
	if len(entries) != 1 {
		t.Fatalf("recorded %d entries, want 1", len(entries))
	}
	if entries[0].Type != activity.TypeMessageSent || entries[0].UserID != clientID {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}

	// rejected sends record nothing
	if _, err := svc.SendMessage(ctx, conv.ID, 99, "hi"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if len(rec.all()) != 1 {
		t.Fatalf("rejected send was recorded")
	}
}

func TestTyping_NotPersisted(t *testing.T) {
	svc, broker, db := newTestService(t)
	ctx := context.Background()

	conv, err := svc.StartConversation(ctx, vendorID, clientID)
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}

	if err := svc.Typing(ctx, conv.ID, vendorID, true); err != nil {
		t.Fatalf("typing: %v", err)
	}

	events := broker.published()
	if len(events) != 1 || events[0].ev.Event != relay.EventTyping {
		t.Fatalf("expected one typing event, got %+v", events)
	}
	payload := events[0].ev.Data.(TypingPayload)
	if payload.Side != SideVendor || !payload.IsTyping {
		t.Fatalf("unexpected typing payload: %+v", payload)
	}

	var cnt int64
	if err := db.Model(&Message{}).Count(&cnt).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if cnt != 0 {
		t.Fatalf("typing event was persisted")
	}
}
