package outbox

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/freelancehub/convo/internal/bus"
	"github.com/freelancehub/convo/internal/chat"
	"github.com/freelancehub/convo/internal/status"
	"github.com/freelancehub/convo/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// mockDeliverer records calls and returns configurable results.
type mockDeliverer struct {
	calls []chat.OutboxEntry
	err   error
	delay time.Duration // artificial delay to observe intermediate states
	db    *store.DB
}

func (m *mockDeliverer) Deliver(_ context.Context, e chat.OutboxEntry) (string, error) {
	m.calls = append(m.calls, e)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.err != nil {
		return "", m.err
	}
	// Behave like the real deliverer: promote the placeholder in the store.
	msgID := uuid.NewString()
	err := m.db.CommitMessage(&chat.Message{
		ID:             msgID,
		ConversationID: e.ConversationID,
		SenderID:       e.SenderID,
		ReceiverID:     e.ReceiverID,
		Text:           e.Body,
		Status:         status.Sent,
		CreatedAt:      time.Now().UnixMilli(),
	}, e.ClientMsgID)
	return msgID, err
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func queueTestMessage(t *testing.T, db *store.DB, clientMsgID, body string) string {
	t.Helper()
	ua, ub := chat.SortPair("alice", "bob")
	convID := chat.PairID("alice", "bob")
	if _, err := db.CreateConversation(&chat.Conversation{ID: convID, UserA: ua, UserB: ub}); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox(&chat.OutboxEntry{
		ClientMsgID:    clientMsgID,
		ConversationID: convID,
		SenderID:       "alice",
		ReceiverID:     "bob",
		Body:           body,
	}); err != nil {
		t.Fatal(err)
	}
	return convID
}

func TestSenderProcessesPendingMessages(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockDeliverer{db: db}
	logger, _ := zap.NewDevelopment()
	s := NewSender(db, mock, b, logger)

	queueTestMessage(t, db, "c1", "hello")

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(time.Second)

	if len(mock.calls) != 1 {
		t.Fatalf("got %d deliver calls, want 1", len(mock.calls))
	}
	if mock.calls[0].Body != "hello" {
		t.Errorf("delivered body = %q, want hello", mock.calls[0].Body)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 after delivery", len(pending))
	}
}

func TestSenderHandlesFailure(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockDeliverer{db: db, err: fmt.Errorf("store unreachable")}
	logger, _ := zap.NewDevelopment()
	s := NewSender(db, mock, b, logger)

	ch, unsub := b.Subscribe(chat.EvtMessageFailed, 10)
	defer unsub()

	convID := queueTestMessage(t, db, "c1", "doomed")

	s.Start(context.Background())
	defer s.Stop()

	select {
	case evt := <-ch:
		if evt.Kind != chat.EvtMessageFailed {
			t.Errorf("event kind = %q, want %s", evt.Kind, chat.EvtMessageFailed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send_failed event")
	}

	// Entry is marked failed, not retried.
	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 (marked failed)", len(pending))
	}
	failed, err := db.FailedOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ErrorMessage != "store unreachable" {
		t.Errorf("failed = %+v, want one entry with the store error", failed)
	}

	// The failed placeholder is excluded from the durable thread.
	msgs, err := db.ListMessages(convID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("thread has %d messages, want 0 (failed excluded)", len(msgs))
	}
}

// TestSenderOptimisticPlaceholder verifies that a queued message shows up in
// the thread with status sending before the durable commit completes, then
// is promoted to sent under the store-assigned id.
func TestSenderOptimisticPlaceholder(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	mock := &mockDeliverer{db: db, delay: 500 * time.Millisecond}
	logger, _ := zap.NewDevelopment()
	s := NewSender(db, mock, b, logger)

	convID := queueTestMessage(t, db, "c1", "optimistic")

	ch, unsub := b.Subscribe(chat.EvtMessageUpserted, 10)
	defer unsub()

	s.Start(context.Background())
	defer s.Stop()

	// Wait for the placeholder emission (before the mock's delay finishes).
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for placeholder event")
	}

	msgs, err := db.ListMessages(convID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (placeholder)", len(msgs))
	}
	if msgs[0].Status != status.Sending {
		t.Errorf("status = %s, want sending (optimistic)", msgs[0].Status)
	}
	if msgs[0].ID != "c1" {
		t.Errorf("placeholder id = %q, want the client nonce", msgs[0].ID)
	}

	// Wait for the commit.
	time.Sleep(time.Second)

	msgs, err = db.ListMessages(convID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (promoted, not duplicated)", len(msgs))
	}
	if msgs[0].Status != status.Sent {
		t.Errorf("final status = %s, want sent", msgs[0].Status)
	}
	if msgs[0].ID == "c1" {
		t.Error("message still keyed by client nonce, want durable id")
	}
}
