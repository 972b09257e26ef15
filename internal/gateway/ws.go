package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/freelancehub/convo/internal/chat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Envelope is the wire frame for pushed events.
type Envelope struct {
	EventID          string `json:"eventId"`
	Kind             string `json:"kind"`
	OccurredAtUnixMs int64  `json:"occurredAtUnixMs"`
	Payload          any    `json:"payload,omitempty"`
}

// wsCommand is a client-to-daemon frame. Delivered acks and typing signals
// arrive this way so the client does not need an HTTP round-trip per
// keystroke.
type wsCommand struct {
	Kind           string   `json:"kind"`
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds,omitempty"`
	Typing         bool     `json:"typing,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &wsClient{
		server: s,
		conn:   conn,
		userID: userID,
		cancel: cancel,
		member: make(map[string]bool),
	}

	s.logger.Info("websocket connected", zap.String("user_id", userID))
	go c.readPump(ctx)
	c.writePump(ctx)
}

type wsClient struct {
	server *Server
	conn   *websocket.Conn
	userID string
	cancel context.CancelFunc

	// member caches whether the user participates in a conversation, so
	// event filtering does not hit the store on every push. Guarded by mu;
	// both pumps consult it.
	mu     sync.Mutex
	member map[string]bool
}

func (c *wsClient) isParticipant(conversationID string) bool {
	c.mu.Lock()
	in, ok := c.member[conversationID]
	c.mu.Unlock()
	if ok {
		return in
	}
	conv, err := c.server.db.GetConversation(conversationID)
	in = err == nil && conv != nil && conv.HasParticipant(c.userID)
	c.mu.Lock()
	c.member[conversationID] = in
	c.mu.Unlock()
	return in
}

func (c *wsClient) markMember(conversationID string) {
	c.mu.Lock()
	c.member[conversationID] = true
	c.mu.Unlock()
}

// writePump forwards bus events to the socket, filtered to conversations the
// user participates in. Only writePump touches the connection's write side.
func (c *wsClient) writePump(ctx context.Context) {
	defer func() { _ = c.conn.Close() }()
	defer c.cancel()

	events, unsub := c.server.bus.Subscribe("", 256)
	defer unsub()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt := <-events:
			env, ok := c.envelopeFor(evt.Kind, evt.Timestamp, evt.Payload)
			if !ok {
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *wsClient) envelopeFor(kind string, at time.Time, payload any) (Envelope, bool) {
	env := Envelope{
		EventID:          uuid.NewString(),
		Kind:             kind,
		OccurredAtUnixMs: at.UnixMilli(),
		Payload:          payload,
	}

	switch p := payload.(type) {
	case chat.ConversationEvent:
		if p.UserA != c.userID && p.UserB != c.userID {
			return env, false
		}
		// Membership may have just been established.
		c.markMember(p.ConversationID)
	case chat.MessageEvent:
		if !c.isParticipant(p.ConversationID) {
			return env, false
		}
	case chat.TypingEvent:
		// Own signals echo back through the bus; peers are the audience.
		if p.UserID == c.userID || !c.isParticipant(p.ConversationID) {
			return env, false
		}
		env.Kind = "typing"
		env.Payload = p
	}
	return env, true
}

// readPump consumes client frames: delivered acks, typing signals, and pongs.
func (c *wsClient) readPump(ctx context.Context) {
	defer c.cancel()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd wsCommand
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.server.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		switch cmd.Kind {
		case "delivered":
			if err := c.server.stream.MarkDelivered(ctx, cmd.ConversationID, c.userID, cmd.MessageIDs); err != nil {
				c.server.logger.Warn("delivered ack rejected",
					zap.Error(err), zap.String("conversation_id", cmd.ConversationID))
			}
		case "typing":
			if !c.isParticipant(cmd.ConversationID) {
				continue
			}
			if err := c.server.typing.SetTyping(ctx, cmd.ConversationID, c.userID, cmd.Typing); err != nil {
				c.server.logger.Warn("typing signal failed", zap.Error(err))
			}
		}
	}
}
