package chat

import "errors"

var (
	// ErrEmptyText rejects empty or whitespace-only message bodies before
	// any store call.
	ErrEmptyText = errors.New("message text is empty")

	// ErrSameParticipant rejects conversations of a user with themselves.
	ErrSameParticipant = errors.New("sender and receiver are the same user")

	// ErrMissingUser rejects blank participant identifiers.
	ErrMissingUser = errors.New("participant id is empty")

	// ErrNotParticipant rejects operations by users outside the conversation.
	ErrNotParticipant = errors.New("user is not a participant of this conversation")

	// ErrNotFound signals a conversation id with no matching document.
	// Callers treat this as "no conversation selected", not a fatal error.
	ErrNotFound = errors.New("conversation not found")
)
