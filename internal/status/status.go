package status

import (
	"fmt"
	"slices"
)

// Status is the delivery state of a message as shown to the sender.
//
// sending -> sent -> delivered -> read is the happy path. failed is a
// local-only terminal state for messages the store rejected; failed
// messages never enter the durable thread and must be resent manually.
type Status string

const (
	Sending   Status = "sending"
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
	Failed    Status = "failed"
)

// validTransitions defines allowed status transitions.
var validTransitions = map[Status][]Status{
	Sending:   {Sent, Failed},
	Sent:      {Delivered, Read},
	Delivered: {Read},
	Read:      {},
	Failed:    {},
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// IsRead reports whether s is the read terminal state.
func (s Status) IsRead() bool {
	return s == Read
}

// CanTransition reports whether from -> to is an allowed transition.
func CanTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Transition validates from -> to and returns the new status.
// Read is terminal: once a message is read it never goes back.
func Transition(from, to Status) (Status, error) {
	if !CanTransition(from, to) {
		return from, fmt.Errorf("invalid status transition from %s to %s", from, to)
	}
	return to, nil
}

// Resolve normalizes a raw stored status against the read flag at the
// deserialization boundary. The read flag is the source of truth when the
// two disagree; a missing or unknown status on an unread message defaults
// to sent.
func Resolve(raw string, isRead bool) Status {
	if isRead {
		return Read
	}
	s := Status(raw)
	if !s.Valid() || s == Read {
		return Sent
	}
	return s
}
