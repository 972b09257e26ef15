package typing

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/freelancehub/convo/internal/bus"
)

// fakePublisher records every signal with its arrival time.
type fakePublisher struct {
	mu    sync.Mutex
	calls []fakeCall
}

type fakeCall struct {
	typing bool
	at     time.Time
}

func (f *fakePublisher) SetTyping(_ context.Context, _, _ string, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{typing: typing, at: time.Now()})
	return nil
}

func (f *fakePublisher) Subscribe(context.Context, string, string) (<-chan bool, func()) {
	ch := make(chan bool)
	close(ch)
	return ch, func() {}
}

func (f *fakePublisher) snapshot() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// TestDebounceCollapsesBurst: a burst of keystrokes produces exactly one
// typing=true, and exactly one typing=false once the window of silence
// elapses.
func TestDebounceCollapsesBurst(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDebouncer(pub, "conv1", "alice", 50*time.Millisecond)

	for i := 0; i < 10; i++ {
		d.Keystroke(false)
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)

	calls := pub.snapshot()
	if len(calls) != 2 {
		t.Fatalf("got %d signals, want 2 (true then false): %+v", len(calls), calls)
	}
	if !calls[0].typing || calls[1].typing {
		t.Errorf("signals = %+v, want [true false]", calls)
	}
	// The clear fires only after the window of silence, not mid-burst.
	if gap := calls[1].at.Sub(calls[0].at); gap < 50*time.Millisecond {
		t.Errorf("cleared after %v, want at least the window", gap)
	}
}

func TestDebounceKeystrokesExtendWindow(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDebouncer(pub, "conv1", "alice", 60*time.Millisecond)

	d.Keystroke(false)
	time.Sleep(40 * time.Millisecond)
	d.Keystroke(false) // within the window, pushes the deadline out
	time.Sleep(40 * time.Millisecond)

	if calls := pub.snapshot(); len(calls) != 1 {
		t.Fatalf("got %d signals before silence, want 1 (still typing)", len(calls))
	}

	time.Sleep(60 * time.Millisecond)
	if calls := pub.snapshot(); len(calls) != 2 || calls[1].typing {
		t.Errorf("signals = %+v, want trailing false after silence", pub.snapshot())
	}
}

func TestDebounceEmptyInputClearsImmediately(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDebouncer(pub, "conv1", "alice", time.Minute)

	d.Keystroke(false)
	d.Keystroke(true) // input cleared

	calls := pub.snapshot()
	if len(calls) != 2 || !calls[0].typing || calls[1].typing {
		t.Fatalf("signals = %+v, want immediate [true false]", calls)
	}
}

func TestDebounceStopClears(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDebouncer(pub, "conv1", "alice", time.Minute)

	d.Keystroke(false)
	d.Stop()

	calls := pub.snapshot()
	if len(calls) != 2 || calls[1].typing {
		t.Fatalf("signals = %+v, want [true false]", calls)
	}

	// Stop while idle publishes nothing.
	d.Stop()
	if calls := pub.snapshot(); len(calls) != 2 {
		t.Errorf("idle Stop added signals: %+v", calls)
	}
}

func TestMemoryPublisherDelivers(t *testing.T) {
	b := bus.New()
	pub := NewMemory(b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsub := pub.Subscribe(ctx, "conv1", "alice")
	defer unsub()

	if err := pub.SetTyping(ctx, "conv1", "alice", true); err != nil {
		t.Fatal(err)
	}
	select {
	case typing := <-ch:
		if !typing {
			t.Error("got typing=false, want true")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for typing signal")
	}

	if err := pub.SetTyping(ctx, "conv1", "alice", false); err != nil {
		t.Fatal(err)
	}
	select {
	case typing := <-ch:
		if typing {
			t.Error("got typing=true, want false")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for clear signal")
	}
}

func TestMemoryPublisherScopedToUser(t *testing.T) {
	b := bus.New()
	pub := NewMemory(b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsub := pub.Subscribe(ctx, "conv1", "alice")
	defer unsub()

	// Signals from another user or conversation must not leak in.
	_ = pub.SetTyping(ctx, "conv1", "bob", true)
	_ = pub.SetTyping(ctx, "conv2", "alice", true)

	select {
	case typing := <-ch:
		t.Errorf("unexpected signal %v for unrelated sender", typing)
	case <-time.After(100 * time.Millisecond):
		// Expected.
	}
}

// TestMemoryPublisherDottedIDs: ids containing dots must not bleed across
// subscriptions, since matching is on the event payload rather than on a
// delimited kind string.
func TestMemoryPublisherDottedIDs(t *testing.T) {
	b := bus.New()
	pub := NewMemory(b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsub := pub.Subscribe(ctx, "conv.one", "user.a")
	defer unsub()

	// Same concatenated kind shape, different pair.
	_ = pub.SetTyping(ctx, "conv.one.user", "a", true)
	select {
	case typing := <-ch:
		t.Errorf("unexpected signal %v for different pair", typing)
	case <-time.After(100 * time.Millisecond):
	}

	_ = pub.SetTyping(ctx, "conv.one", "user.a", true)
	select {
	case typing := <-ch:
		if !typing {
			t.Error("got typing=false, want true")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for typing signal")
	}
}

// TestRedisDispatchBridgesToBus feeds the bridge a wire payload directly and
// checks it surfaces on the in-process bus, where the push fabric and local
// subscribers pick it up.
func TestRedisDispatchBridgesToBus(t *testing.T) {
	b := bus.New()
	// The bridge's dispatch path never touches the connection.
	r := NewRedis(nil, b, 50*time.Millisecond, zap.NewNop())

	ch, unsub := r.Subscribe(context.Background(), "conv1", "alice")
	defer unsub()

	r.dispatch([]byte(`{"conversationId":"conv1","userId":"alice","typing":true}`))
	select {
	case typing := <-ch:
		if !typing {
			t.Error("got typing=false, want true")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for bridged signal")
	}

	// Garbage on the channel is dropped, not relayed.
	r.dispatch([]byte(`{not json`))
	r.dispatch([]byte(`{"conversationId":"conv1","userId":"alice","typing":false}`))
	select {
	case typing := <-ch:
		if typing {
			t.Error("got typing=true, want false")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for clear signal")
	}
}

// TestRedisDispatchWatchdogClearsStuckIndicator: when the explicit
// typing=false never arrives, the bridge emits one itself after the
// presence TTL.
func TestRedisDispatchWatchdogClearsStuckIndicator(t *testing.T) {
	b := bus.New()
	r := NewRedis(nil, b, 25*time.Millisecond, zap.NewNop())

	ch, unsub := r.Subscribe(context.Background(), "conv1", "alice")
	defer unsub()

	r.dispatch([]byte(`{"conversationId":"conv1","userId":"alice","typing":true}`))
	select {
	case typing := <-ch:
		if !typing {
			t.Fatal("got typing=false, want true")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for typing signal")
	}

	select {
	case typing := <-ch:
		if typing {
			t.Error("watchdog emitted typing=true, want false")
		}
	case <-time.After(time.Second):
		t.Fatal("watchdog never cleared the indicator")
	}

	r.mu.Lock()
	n := len(r.watchdogs)
	r.mu.Unlock()
	if n != 0 {
		t.Errorf("%d watchdogs left armed after expiry", n)
	}
}
