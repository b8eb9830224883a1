package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/broker"
)

// attach adds a connectionless client straight to the hub map so transport
// behaviour can be observed on its send channel without running pumps.
func attach(t *testing.T, h *Hub) *Client {
	t.Helper()

	c := NewClient(nil, h, "test", 0)
	h.mutex.Lock()
	h.clients[c.id] = c
	h.mutex.Unlock()
	return c
}

func receive(t *testing.T, c *Client) Envelope {
	t.Helper()

	select {
	case raw, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var env Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		return env
	case <-time.After(readTimeout):
		t.Fatal("timed out waiting for outbound message")
		return Envelope{}
	}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	assert.Empty(t, c.send, "unexpected queued messages")
}

func runHub(t *testing.T) *Hub {
	t.Helper()

	h := NewHub(zerolog.Nop())
	go h.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h
}

func TestHubTransportDelivery(t *testing.T) {
	h := NewHub(zerolog.Nop())
	a := attach(t, h)
	b := attach(t, h)
	require.Equal(t, 2, h.ClientCount())

	h.SendTo(a.ID(), broker.EventAdminClearSuccess, nil)
	assert.Equal(t, broker.EventAdminClearSuccess, receive(t, a).Event)
	assertEmpty(t, b)

	h.BroadcastExcept(a.ID(), broker.EventUserTyping, broker.TypingStatus{SessionID: a.ID(), IsTyping: true})
	assert.Equal(t, broker.EventUserTyping, receive(t, b).Event)
	assertEmpty(t, a)

	h.BroadcastAll(broker.EventMessagesCleared, nil)
	assert.Equal(t, broker.EventMessagesCleared, receive(t, a).Event)
	assert.Equal(t, broker.EventMessagesCleared, receive(t, b).Event)

	h.SendTo("missing", broker.EventMessagesCleared, nil)
	assertEmpty(t, a)
	assertEmpty(t, b)
}

func TestHubRemovesClientWithFullBuffer(t *testing.T) {
	h := NewHub(zerolog.Nop())
	slow := attach(t, h)
	fast := attach(t, h)

	for range sendQueueLen {
		slow.send <- []byte(`{}`)
	}

	h.BroadcastAll(broker.EventMessagesCleared, nil)

	assert.Equal(t, 1, h.ClientCount())
	assert.Equal(t, broker.EventMessagesCleared, receive(t, fast).Event)

	drained := 0
	for range slow.send {
		drained++
	}
	assert.Equal(t, sendQueueLen, drained, "channel closed after queued messages")
}

func TestHubEvictedClientLeavesOnDisconnect(t *testing.T) {
	h := runHub(t)
	slow := attach(t, h)
	fast := attach(t, h)

	require.True(t, h.submit(inboundEvent{client: slow, event: broker.JoinEvent{Name: "Slow"}}))
	require.True(t, h.submit(inboundEvent{client: fast, event: broker.JoinEvent{Name: "Fast"}}))
	for _, event := range []string{broker.EventMessageHistory, broker.EventNewMessage, broker.EventUsersUpdate} {
		require.Equal(t, event, receive(t, fast).Event)
	}

	// history, own join, roster, then Fast's join and roster.
	require.Eventually(t, func() bool { return len(slow.send) == 5 }, readTimeout, time.Millisecond)
	for len(slow.send) < sendQueueLen {
		slow.send <- []byte(`{}`)
	}

	require.True(t, h.submit(inboundEvent{client: fast, event: broker.SendMessageEvent{Text: "anyone there?"}}))
	assert.Equal(t, broker.EventNewMessage, receive(t, fast).Event)

	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, readTimeout, time.Millisecond, "slow client is evicted")
	assert.Equal(t, 2, h.Broker().Stats().UserCount, "eviction alone does not leave")

	// The read pump unregisters once the evicted connection closes.
	h.unregisterClient(slow)

	var left broker.ChatMessage
	env := receive(t, fast)
	require.Equal(t, broker.EventNewMessage, env.Event)
	require.NoError(t, json.Unmarshal(env.Data, &left))
	assert.Equal(t, "Slow left the chat", left.Text)

	var roster []broker.Session
	env = receive(t, fast)
	require.Equal(t, broker.EventUsersUpdate, env.Event)
	require.NoError(t, json.Unmarshal(env.Data, &roster))
	require.Len(t, roster, 1)
	assert.Equal(t, "Fast", roster[0].DisplayName)

	assert.Equal(t, 1, h.Broker().Stats().UserCount)
}

func TestHubRunDispatchesEvents(t *testing.T) {
	h := runHub(t)
	alice := attach(t, h)
	bob := attach(t, h)

	require.True(t, h.submit(inboundEvent{client: alice, event: broker.JoinEvent{Name: "Alice"}}))

	history := receive(t, alice)
	assert.Equal(t, broker.EventMessageHistory, history.Event)
	assert.JSONEq(t, `[]`, string(history.Data))

	var joined broker.ChatMessage
	for _, c := range []*Client{alice, bob} {
		env := receive(t, c)
		require.Equal(t, broker.EventNewMessage, env.Event)
		require.NoError(t, json.Unmarshal(env.Data, &joined))
		assert.Equal(t, "Alice joined the chat", joined.Text)

		assert.Equal(t, broker.EventUsersUpdate, receive(t, c).Event)
	}

	require.True(t, h.submit(inboundEvent{client: alice, event: broker.SendMessageEvent{Text: "  hello  "}}))
	for _, c := range []*Client{alice, bob} {
		env := receive(t, c)
		var msg broker.ChatMessage
		require.NoError(t, json.Unmarshal(env.Data, &msg))
		assert.Equal(t, "hello", msg.Text)
		assert.Equal(t, "Alice", msg.AuthorDisplayName)
		assert.Equal(t, alice.ID(), msg.AuthorSessionID)
	}

	h.unregisterClient(alice)

	env := receive(t, bob)
	var left broker.ChatMessage
	require.NoError(t, json.Unmarshal(env.Data, &left))
	assert.Equal(t, "Alice left the chat", left.Text)

	env = receive(t, bob)
	require.Equal(t, broker.EventUsersUpdate, env.Event)
	assert.JSONEq(t, `[]`, string(env.Data))

	_, open := <-alice.send
	assert.False(t, open, "unregistered client's channel is closed")
	assert.Equal(t, 1, h.ClientCount())
	assert.Equal(t, broker.Stats{MessageCount: 3, UserCount: 0}, h.Broker().Stats())
}

func TestHubShutdown(t *testing.T) {
	h := NewHub(zerolog.Nop())
	go h.Run()
	c := attach(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	_, open := <-c.send
	assert.False(t, open, "client channels are closed on shutdown")
	assert.Zero(t, h.ClientCount())

	assert.False(t, h.Register(NewClient(nil, h, "late", 0)), "registration is refused after shutdown")
	assert.False(t, h.submit(inboundEvent{client: c, event: broker.TypingEvent{}}))

	// Second shutdown is a no-op.
	require.NoError(t, h.Shutdown(ctx))
}

func TestHubShutdownTimeout(t *testing.T) {
	h := NewHub(zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Run was never started, so the loop cannot finish.
	require.ErrorIs(t, h.Shutdown(ctx), context.Canceled)
}
