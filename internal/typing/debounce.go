package typing

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is the silence window after which an indicator clears.
const DefaultWindow = 2000 * time.Millisecond

// Debouncer collapses a burst of keystrokes into a single typing=true
// followed by a single typing=false once the sender pauses. Clearing the
// input, leaving the conversation, or completing a send clears the indicator
// immediately via Stop or a Keystroke with an empty input.
type Debouncer struct {
	pub            Publisher
	conversationID string
	userID         string
	window         time.Duration

	mu     sync.Mutex
	active bool
	timer  *time.Timer
}

// NewDebouncer creates a debouncer for one user in one conversation.
// A non-positive window falls back to DefaultWindow.
func NewDebouncer(pub Publisher, conversationID, userID string, window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{
		pub:            pub,
		conversationID: conversationID,
		userID:         userID,
		window:         window,
	}
}

// Keystroke records an input change. The first keystroke of a burst publishes
// typing=true; every keystroke pushes the clear deadline out by the window.
// An empty input clears immediately.
func (d *Debouncer) Keystroke(inputEmpty bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if inputEmpty {
		d.clearLocked()
		return
	}

	if !d.active {
		d.active = true
		d.publish(true)
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.expire)
}

// Stop clears the indicator immediately. Call it when the composer loses
// focus or a send completes.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearLocked()
}

func (d *Debouncer) expire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return
	}
	d.active = false
	d.timer = nil
	d.publish(false)
}

func (d *Debouncer) clearLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.active {
		d.active = false
		d.publish(false)
	}
}

func (d *Debouncer) publish(typing bool) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = d.pub.SetTyping(ctx, d.conversationID, d.userID, typing)
}
