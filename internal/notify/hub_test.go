package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndNotify(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(UserKey("u1"))

	sent := Event{Kind: KindWalletChanged, UserID: "u1", Reference: "tx-1", Timestamp: time.Now()}
	hub.Notify(UserKey("u1"), sent)

	select {
	case got := <-ch:
		assert.Equal(t, sent.Kind, got.Kind)
		assert.Equal(t, sent.Reference, got.Reference)
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}
}

func TestNotifyOnlyMatchingKey(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(UserKey("u1"))

	hub.Notify(UserKey("u2"), Event{Kind: KindWalletChanged, UserID: "u2"})

	select {
	case event := <-ch:
		t.Fatalf("unexpected event: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifyDoesNotBlockOnFullChannel(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(GroupKey("g1"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			hub.Notify(GroupKey("g1"), Event{Kind: KindGroupChanged, GroupID: "g1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notify blocked on a full channel")
	}

	// The buffer holds what it could; overflow was dropped, not queued.
	assert.Len(t, ch, 10)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(UserKey("u1"))
	hub.Unsubscribe(UserKey("u1"), ch)

	_, ok := <-ch
	require.False(t, ok, "channel must be closed after unsubscribe")

	// Notifying after unsubscribe is a no-op.
	hub.Notify(UserKey("u1"), Event{Kind: KindWalletChanged})
}
