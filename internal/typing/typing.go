// Package typing carries the ephemeral "peer is typing" signal. Indicators
// never touch the durable store; they ride the push fabric only and clear on
// their own when the sender goes quiet.
package typing

import (
	"context"

	"github.com/freelancehub/convo/internal/bus"
	"github.com/freelancehub/convo/internal/chat"
)

// Publisher fans typing signals out to watchers of a conversation.
type Publisher interface {
	// SetTyping announces whether userID is currently typing in the
	// conversation.
	SetTyping(ctx context.Context, conversationID, userID string, typing bool) error

	// Subscribe streams typing signals from userID in the conversation.
	// The channel closes when ctx is canceled or the returned cancel
	// function is called.
	Subscribe(ctx context.Context, conversationID, userID string) (<-chan bool, func())
}

// Memory publishes typing signals over the in-process bus. It is the default
// when no Redis address is configured.
type Memory struct {
	bus *bus.Bus
}

// NewMemory creates a bus-backed typing publisher.
func NewMemory(b *bus.Bus) *Memory {
	return &Memory{bus: b}
}

func (m *Memory) SetTyping(_ context.Context, conversationID, userID string, typing bool) error {
	m.bus.Emit(chat.TypingKind(conversationID, userID), chat.TypingEvent{
		ConversationID: conversationID,
		UserID:         userID,
		Typing:         typing,
	})
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, conversationID, userID string) (<-chan bool, func()) {
	return watch(ctx, m.bus, conversationID, userID)
}

// watch streams typing signals for one (conversation, user) pair off the bus.
// Matching is done on the event payload, so ids with dots or underscores
// cannot bleed into neighboring subscriptions.
func watch(ctx context.Context, b *bus.Bus, conversationID, userID string) (<-chan bool, func()) {
	events, unsub := b.Subscribe(chat.TypingNamespace(conversationID), 16)
	out := make(chan bool, 16)

	go func() {
		defer close(out)
		for {
			select {
			case evt, ok := <-events:
				if !ok {
					return
				}
				p, ok := evt.Payload.(chat.TypingEvent)
				if !ok || p.ConversationID != conversationID || p.UserID != userID {
					continue
				}
				select {
				case out <- p.Typing:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, unsub
}
