// Package directory maps participant pairs to conversations and streams
// per-user conversation lists.
package directory

import (
	"context"
	"fmt"

	"github.com/freelancehub/convo/internal/bus"
	"github.com/freelancehub/convo/internal/chat"
	"github.com/freelancehub/convo/internal/store"
	"go.uber.org/zap"
)

// Service is the conversation directory.
type Service struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewService creates a conversation directory backed by the store.
func NewService(db *store.DB, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{db: db, bus: b, logger: logger}
}

// GetOrCreate returns the conversation for the pair (a, b), creating it with
// empty summary fields if absent. The id is derived from the sorted pair, so
// both participants calling concurrently converge on the same document.
func (s *Service) GetOrCreate(ctx context.Context, a, b string) (*chat.Conversation, error) {
	if a == "" || b == "" {
		return nil, chat.ErrMissingUser
	}
	if a == b {
		return nil, chat.ErrSameParticipant
	}

	ua, ub := chat.SortPair(a, b)
	conv := &chat.Conversation{ID: chat.PairID(a, b), UserA: ua, UserB: ub}
	created, err := s.db.CreateConversation(conv)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if created {
		s.logger.Info("conversation created",
			zap.String("conversation_id", conv.ID),
			zap.String("user_a", ua),
			zap.String("user_b", ub))
		s.snapshotNames(conv.ID, ua, ub)
		s.bus.Emit(chat.EvtConversationUpdated, chat.ConversationEvent{
			ConversationID: conv.ID, UserA: ua, UserB: ub,
		})
	}

	got, err := s.db.GetConversation(conv.ID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if got == nil {
		return nil, chat.ErrNotFound
	}
	return got, nil
}

// snapshotNames seeds the per-conversation display-name snapshots from the
// profile cache at creation time. Later profile changes do not rewrite them;
// the snapshot is the first link of the name fallback chain.
func (s *Service) snapshotNames(conversationID, ua, ub string) {
	profiles, err := s.db.ProfilesByID([]string{ua, ub})
	if err != nil {
		s.logger.Warn("failed to load profiles for name snapshot", zap.Error(err))
		return
	}
	for _, userID := range []string{ua, ub} {
		p, ok := profiles[userID]
		if !ok || p.DisplayName == "" {
			continue
		}
		if err := s.db.CacheParticipantName(conversationID, userID, p.DisplayName); err != nil {
			s.logger.Warn("failed to cache participant name", zap.Error(err))
		}
	}
}

// Get returns a conversation by id, or chat.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*chat.Conversation, error) {
	c, err := s.db.GetConversation(id)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if c == nil {
		return nil, chat.ErrNotFound
	}
	return c, nil
}

// ListUpdate is one emission on a conversation-list stream. Err is terminal:
// after a non-nil Err the channel is closed and the caller must re-subscribe,
// with backoff if desired.
type ListUpdate struct {
	Conversations []chat.Conversation
	Err           error
}

// SubscribeForUser streams the full conversation list for userID, ordered by
// recency. The current list is emitted immediately, then re-emitted whenever
// any conversation involving the user changes. The returned cancel function
// tears the subscription down; it is also torn down when ctx ends.
func (s *Service) SubscribeForUser(ctx context.Context, userID string) (<-chan ListUpdate, func()) {
	out := make(chan ListUpdate, 1)
	ctx, cancel := context.WithCancel(ctx)
	events, unsub := s.bus.Subscribe("conversation.", 64)

	emit := func() bool {
		convs, err := s.db.ListConversationsForUser(userID, 0)
		if err != nil {
			select {
			case out <- ListUpdate{Err: err}:
			case <-ctx.Done():
			}
			return false
		}
		select {
		case out <- ListUpdate{Conversations: convs}:
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
				ce, ok := evt.Payload.(chat.ConversationEvent)
				if ok && ce.UserA != userID && ce.UserB != userID {
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
