// Package outbox drains queued outgoing messages into the durable store,
// maintaining the optimistic placeholder lifecycle along the way.
package outbox

import (
	"context"
	"time"

	"github.com/freelancehub/convo/internal/bus"
	"github.com/freelancehub/convo/internal/chat"
	"github.com/freelancehub/convo/internal/status"
	"github.com/freelancehub/convo/internal/store"
	"go.uber.org/zap"
)

// Deliverer commits a queued entry to the durable store and returns the
// store-assigned message id.
type Deliverer interface {
	Deliver(ctx context.Context, e chat.OutboxEntry) (msgID string, err error)
}

// Sender drains the outbox. Each queued entry first appears as an optimistic
// placeholder with status sending, then is promoted to sent on commit or
// flagged failed on rejection. Failed entries are never retried
// automatically; the user must resend.
type Sender struct {
	db      *store.DB
	deliver Deliverer
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, d Deliverer, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		db:      db,
		deliver: d,
		bus:     b,
		logger:  logger,
	}
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		// Optimistic placeholder: the thread shows the message immediately,
		// keyed by the client nonce until the store assigns the durable id.
		now := time.Now().UnixMilli()
		if err := s.db.InsertLocalMessage(&chat.Message{
			ID:             entry.ClientMsgID,
			ConversationID: entry.ConversationID,
			SenderID:       entry.SenderID,
			ReceiverID:     entry.ReceiverID,
			Text:           entry.Body,
			Status:         status.Sending,
			CreatedAt:      now,
		}); err != nil {
			s.logger.Error("failed to insert placeholder", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		s.bus.Emit(chat.EvtMessageUpserted, chat.MessageEvent{
			ConversationID: entry.ConversationID,
			MessageID:      entry.ClientMsgID,
			ClientMsgID:    entry.ClientMsgID,
			Status:         string(status.Sending),
		})

		serverMsgID, err := s.deliver.Deliver(ctx, entry)
		if err != nil {
			s.logger.Error("failed to deliver message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			_ = s.db.MarkMessageFailed(entry.ConversationID, entry.ClientMsgID)
			s.bus.Emit(chat.EvtMessageFailed, chat.MessageEvent{
				ConversationID: entry.ConversationID,
				MessageID:      entry.ClientMsgID,
				ClientMsgID:    entry.ClientMsgID,
				Status:         string(status.Failed),
			})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID, serverMsgID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		s.logger.Info("message delivered",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.String("msg_id", serverMsgID))
	}
}
