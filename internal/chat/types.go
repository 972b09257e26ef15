package chat

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/freelancehub/convo/internal/status"
)

// Conversation is the durable record of a two-party thread. Participants are
// stored as the sorted pair (UserA < UserB) so the id is order-independent.
// NameA/NameB are eventually-consistent display-name snapshots; they may be
// stale or empty and are refreshed opportunistically from the profile service.
type Conversation struct {
	ID              string `json:"id"`
	UserA           string `json:"userA"`
	UserB           string `json:"userB"`
	NameA           string `json:"nameA"`
	NameB           string `json:"nameB"`
	LastMessage     string `json:"lastMessage"`
	LastMessageTime int64  `json:"lastMessageTime"`
	LastSenderID    string `json:"lastSenderId"`
	LastMessageRead bool   `json:"lastMessageRead"`
	UpdatedAt       int64  `json:"updatedAt"`
}

// PairID derives the deterministic conversation id for an unordered pair of
// user ids. PairID(a, b) == PairID(b, a) for all pairs, which is what keeps
// both participants from creating duplicate conversations concurrently. The
// sorted pair is length-prefixed before hashing so no two distinct pairs can
// share an id, whatever characters the user ids contain.
func PairID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s:%s", len(a), a, b)))
	return hex.EncodeToString(sum[:])
}

// SortPair returns the pair in canonical (UserA, UserB) order.
func SortPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.UserA == userID || c.UserB == userID
}

// Other returns the counterparty id for userID, or "" if userID is not a
// participant.
func (c *Conversation) Other(userID string) string {
	switch userID {
	case c.UserA:
		return c.UserB
	case c.UserB:
		return c.UserA
	}
	return ""
}

// OtherName returns the cached display-name snapshot for the counterparty of
// userID. May be empty.
func (c *Conversation) OtherName(userID string) string {
	switch userID {
	case c.UserA:
		return c.NameB
	case c.UserB:
		return c.NameA
	}
	return ""
}

// UnreadFor reports whether the conversation shows as unread to userID:
// the last message came from the other participant, is non-empty, and has
// not been read yet.
func (c *Conversation) UnreadFor(userID string) bool {
	return c.LastSenderID != userID && c.LastMessage != "" && !c.LastMessageRead
}

// Message is a single unit of text within a conversation. ID is assigned by
// the store on commit; while a send is in flight the optimistic placeholder
// carries the client-generated nonce instead. Read state is derived from
// Status; there is no independent read flag to drift out of sync.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	ReceiverID     string        `json:"receiverId"`
	Text           string        `json:"text"`
	Status         status.Status `json:"deliveryStatus"`
	CreatedAt      int64         `json:"createdAt"`
	ReadAt         int64         `json:"readAt,omitempty"`
}

// IsRead reports whether the receiver has read the message.
func (m *Message) IsRead() bool {
	return m.Status.IsRead()
}

// MarshalJSON adds the derived isRead field for clients that key off a
// boolean rather than the status enum.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	return json.Marshal(struct {
		alias
		IsRead bool `json:"isRead"`
	}{alias(m), m.Status.IsRead()})
}

// ValidText reports whether text is non-empty after trimming.
func ValidText(text string) bool {
	return strings.TrimSpace(text) != ""
}

// Profile is a public profile snapshot from the directory service, cached
// locally to enrich conversation display.
type Profile struct {
	UserID      string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	AvatarURL   string `json:"profilePictureUrl"`
}

// OutboxEntry is a queued outgoing message awaiting durable commit.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	SenderID       string
	ReceiverID     string
	Body           string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
	ServerMsgID    string
	CreatedAt      int64
}
