package typing

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/freelancehub/convo/internal/bus"
	"github.com/freelancehub/convo/internal/chat"
)

// typingChannel is the single Redis pub/sub channel all instances share.
// Signals carry a JSON chat.TypingEvent, so no routing information has to be
// encoded in (and later parsed out of) the channel name.
const typingChannel = "typing"

// Redis relays typing signals through Redis so that indicators reach watchers
// connected to other daemon instances. Outbound signals are published to the
// shared channel; a bridge goroutine started with Start re-emits inbound
// signals onto the in-process bus, where the push fabric picks them up the
// same way it does in memory-only mode.
//
// The presence key carries a TTL of twice the debounce window, and the bridge
// runs a watchdog per active sender, so a crashed sender's indicator clears
// on its own even if the explicit typing=false never arrives.
type Redis struct {
	client *redis.Client
	bus    *bus.Bus
	ttl    time.Duration
	logger *zap.Logger

	mu        sync.Mutex
	watchdogs map[string]*time.Timer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedis creates a Redis-backed typing publisher. window is the debounce
// window; the presence TTL is twice that.
func NewRedis(client *redis.Client, b *bus.Bus, window time.Duration, logger *zap.Logger) *Redis {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Redis{
		client:    client,
		bus:       b,
		ttl:       2 * window,
		logger:    logger,
		watchdogs: make(map[string]*time.Timer),
	}
}

func typingKey(conversationID, userID string) string {
	return "typing:" + conversationID + ":" + userID
}

func (r *Redis) SetTyping(ctx context.Context, conversationID, userID string, typing bool) error {
	key := typingKey(conversationID, userID)
	if typing {
		if err := r.client.Set(ctx, key, "1", r.ttl).Err(); err != nil {
			return err
		}
	} else if err := r.client.Del(ctx, key).Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(chat.TypingEvent{
		ConversationID: conversationID,
		UserID:         userID,
		Typing:         typing,
	})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, typingChannel, payload).Err()
}

// Subscribe streams signals off the in-process bus; the bridge goroutine is
// what feeds remote signals into it.
func (r *Redis) Subscribe(ctx context.Context, conversationID, userID string) (<-chan bool, func()) {
	return watch(ctx, r.bus, conversationID, userID)
}

// Start launches the bridge goroutine that relays signals from the shared
// Redis channel onto the in-process bus.
func (r *Redis) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	sub := r.client.Subscribe(ctx, typingChannel)

	go func() {
		defer close(r.done)
		defer func() { _ = sub.Close() }()

		msgs := sub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				r.dispatch([]byte(msg.Payload))
			case <-ctx.Done():
				return
			}
		}
	}()

	r.logger.Info("typing bridge started", zap.Duration("ttl", r.ttl))
}

// Stop shuts the bridge down and clears any pending watchdogs.
func (r *Redis) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done

	r.mu.Lock()
	for key, t := range r.watchdogs {
		t.Stop()
		delete(r.watchdogs, key)
	}
	r.mu.Unlock()
}

// dispatch re-emits one inbound signal onto the bus and arms or disarms the
// sender's watchdog.
func (r *Redis) dispatch(payload []byte) {
	var evt chat.TypingEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		r.logger.Warn("dropping malformed typing signal", zap.Error(err))
		return
	}
	r.bus.Emit(chat.TypingKind(evt.ConversationID, evt.UserID), evt)

	key := typingKey(evt.ConversationID, evt.UserID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.watchdogs[key]; ok {
		t.Stop()
		delete(r.watchdogs, key)
	}
	if !evt.Typing {
		return
	}
	r.watchdogs[key] = time.AfterFunc(r.ttl, func() {
		r.mu.Lock()
		delete(r.watchdogs, key)
		r.mu.Unlock()
		r.bus.Emit(chat.TypingKind(evt.ConversationID, evt.UserID), chat.TypingEvent{
			ConversationID: evt.ConversationID,
			UserID:         evt.UserID,
			Typing:         false,
		})
	})
}
