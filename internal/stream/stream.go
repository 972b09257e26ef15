// Package stream owns the per-conversation message log: sending, read
// receipts, delivery acks, and the thread subscription.
package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/freelancehub/convo/internal/bus"
	"github.com/freelancehub/convo/internal/chat"
	"github.com/freelancehub/convo/internal/directory"
	"github.com/freelancehub/convo/internal/status"
	"github.com/freelancehub/convo/internal/store"
	"go.uber.org/zap"
)

// Service is the message stream over the store.
type Service struct {
	db     *store.DB
	bus    *bus.Bus
	dir    *directory.Service
	logger *zap.Logger
}

// NewService creates a message stream service.
func NewService(db *store.DB, b *bus.Bus, dir *directory.Service, logger *zap.Logger) *Service {
	return &Service{db: db, bus: b, dir: dir, logger: logger}
}

// Send validates and queues an outgoing message, creating the conversation
// on first contact. The message enters the outbox keyed by a client nonce
// and shows up optimistically with status sending once the sender picks it
// up; the durable commit happens asynchronously. Returns the client nonce.
func (s *Service) Send(ctx context.Context, senderID, receiverID, text string) (string, error) {
	if !chat.ValidText(text) {
		return "", chat.ErrEmptyText
	}
	conv, err := s.dir.GetOrCreate(ctx, senderID, receiverID)
	if err != nil {
		return "", err
	}

	clientMsgID := uuid.NewString()
	if err := s.db.QueueOutbox(&chat.OutboxEntry{
		ClientMsgID:    clientMsgID,
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Body:           text,
	}); err != nil {
		return "", fmt.Errorf("queue outbox: %w", err)
	}

	s.logger.Info("message queued",
		zap.String("conversation_id", conv.ID),
		zap.String("client_msg_id", clientMsgID))
	return clientMsgID, nil
}

// Deliver commits a queued outbox entry to the durable store: the store
// assigns the permanent message id, the optimistic placeholder is promoted
// in place, and the conversation summary is updated in the same transaction.
// Returns the durable message id.
func (s *Service) Deliver(ctx context.Context, e chat.OutboxEntry) (string, error) {
	msgID := uuid.NewString()
	now := time.Now().UnixMilli()
	m := &chat.Message{
		ID:             msgID,
		ConversationID: e.ConversationID,
		SenderID:       e.SenderID,
		ReceiverID:     e.ReceiverID,
		Text:           e.Body,
		Status:         status.Sent,
		CreatedAt:      now,
	}
	if err := s.db.CommitMessage(m, e.ClientMsgID); err != nil {
		return "", fmt.Errorf("commit message: %w", err)
	}

	s.bus.Emit(chat.EvtMessageUpserted, chat.MessageEvent{
		ConversationID: e.ConversationID,
		MessageID:      msgID,
		ClientMsgID:    e.ClientMsgID,
		Status:         string(status.Sent),
	})
	conv, err := s.dir.Get(ctx, e.ConversationID)
	if err == nil {
		s.bus.Emit(chat.EvtConversationUpdated, chat.ConversationEvent{
			ConversationID: conv.ID, UserA: conv.UserA, UserB: conv.UserB,
		})
	}
	return msgID, nil
}

// MarkRead transitions the given messages to read on behalf of readerID and
// flags the conversation summary. Only the receiver of a message can mark it
// read; re-marking an already-read message is a no-op.
func (s *Service) MarkRead(ctx context.Context, conversationID, readerID string, msgIDs []string) error {
	conv, err := s.dir.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(readerID) {
		return chat.ErrNotParticipant
	}

	n, err := s.db.MarkMessagesRead(conversationID, readerID, msgIDs, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if n == 0 {
		return nil
	}

	s.bus.Emit(chat.EvtMessageRead, chat.MessageEvent{
		ConversationID: conversationID,
		Status:         string(status.Read),
	})
	s.bus.Emit(chat.EvtConversationUpdated, chat.ConversationEvent{
		ConversationID: conv.ID, UserA: conv.UserA, UserB: conv.UserB,
	})
	return nil
}

// MarkThreadRead marks every unread message addressed to readerID in the
// conversation. Called when the receiver opens the thread.
func (s *Service) MarkThreadRead(ctx context.Context, conversationID, readerID string) error {
	ids, err := s.db.UnreadMessageIDs(conversationID, readerID)
	if err != nil {
		return fmt.Errorf("list unread: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	return s.MarkRead(ctx, conversationID, readerID, ids)
}

// MarkDelivered records a receipt that the given messages reached readerID's
// client before being read. Messages already read or still in flight are
// untouched.
func (s *Service) MarkDelivered(ctx context.Context, conversationID, readerID string, msgIDs []string) error {
	conv, err := s.dir.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(readerID) {
		return chat.ErrNotParticipant
	}

	n, err := s.db.MarkMessagesDelivered(conversationID, readerID, msgIDs)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if n > 0 {
		s.bus.Emit(chat.EvtMessageUpserted, chat.MessageEvent{
			ConversationID: conversationID,
			Status:         string(status.Delivered),
		})
	}
	return nil
}

// History returns up to limit messages older than beforeTs, newest first.
func (s *Service) History(ctx context.Context, conversationID string, beforeTs int64, limit int) ([]chat.Message, error) {
	return s.db.ListMessagesBefore(conversationID, beforeTs, limit)
}

// ThreadUpdate is one emission on a thread stream. Err is terminal.
type ThreadUpdate struct {
	Messages []chat.Message
	Err      error
}

// Subscribe streams the full ordered message list for a conversation,
// ascending by (createdAt, id). The current thread is emitted immediately,
// then re-emitted on every message change in the conversation.
func (s *Service) Subscribe(ctx context.Context, conversationID string) (<-chan ThreadUpdate, func()) {
	out := make(chan ThreadUpdate, 1)
	ctx, cancel := context.WithCancel(ctx)
	events, unsub := s.bus.Subscribe("message.", 64)

	emit := func() bool {
		msgs, err := s.db.ListMessages(conversationID, 0)
		if err != nil {
			select {
			case out <- ThreadUpdate{Err: err}:
			case <-ctx.Done():
			}
			return false
		}
		select {
		case out <- ThreadUpdate{Messages: msgs}:
		case <-ctx.Done():
			return false
		}
		return true
	}

	go func() {
		defer close(out)
		defer unsub()

		if !emit() {
			return
		}
		for {
			select {
			case evt := <-events:
				me, ok := evt.Payload.(chat.MessageEvent)
				if ok && me.ConversationID != conversationID {
					continue
				}
				if !emit() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, cancel
}
