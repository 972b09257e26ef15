package chat

// Bus event kinds published by the chat core. Namespaces are prefix-matched
// by subscribers: "conversation." for directory streams, "message." for
// thread streams, "typing.<conversationID>." for presence.
const (
	EvtConversationUpdated = "conversation.updated"
	EvtMessageUpserted     = "message.upserted"
	EvtMessageRead         = "message.read"
	EvtMessageFailed       = "message.send_failed"
	EvtProfilesRefreshed   = "profile.refreshed"
)

// TypingKind builds the bus event kind for a typing signal.
func TypingKind(conversationID, userID string) string {
	return "typing." + conversationID + "." + userID
}

// TypingNamespace is the subscription prefix for all typing signals in a
// conversation.
func TypingNamespace(conversationID string) string {
	return "typing." + conversationID + "."
}

// TypingEvent is the payload for typing.* events. Subscribers match on the
// payload fields, not the kind string, so ids may contain any characters.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Typing         bool   `json:"typing"`
}

// ConversationEvent is the payload for conversation.* events.
type ConversationEvent struct {
	ConversationID string
	UserA          string
	UserB          string
}

// MessageEvent is the payload for message.* events.
type MessageEvent struct {
	ConversationID string
	MessageID      string
	ClientMsgID    string
	Status         string
}
