package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatrelay/internal/broker"
)

const readTimeout = 2 * time.Second

// startTestServer runs a hub and an httptest server wired through
// SetupRoutes. customize may adjust the config before handlers are built.
func startTestServer(t *testing.T, customize func(cfg *Config)) (*Hub, *httptest.Server) {
	t.Helper()

	cfg := NewConfig()
	if customize != nil {
		customize(cfg)
	}

	hub := NewHub(zerolog.Nop(), broker.WithHistoryLimit(cfg.HistoryLimit))
	go hub.Run()

	srv := httptest.NewServer(SetupRoutes(NewHandlers(hub, cfg, zerolog.Nop())))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		srv.Close()
	})

	return hub, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func newOriginHeader(origin string) http.Header {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return header
}

// testClient reads envelopes from a relay connection. Frames may carry
// several newline separated envelopes; extras are buffered.
type testClient struct {
	t       *testing.T
	conn    *websocket.Conn
	pending []Envelope
}

func dial(t *testing.T, srv *httptest.Server, origin string) *testClient {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(wsURL(srv), newOriginHeader(origin))
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testClient{t: t, conn: conn}
}

func (c *testClient) emit(event string, data any) {
	c.t.Helper()

	frame := map[string]any{"event": event}
	if data != nil {
		frame["data"] = data
	}
	require.NoError(c.t, c.conn.WriteJSON(frame))
}

func (c *testClient) next() (Envelope, error) {
	if len(c.pending) == 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return Envelope{}, err
		}
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return Envelope{}, err
		}
		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			var env Envelope
			if err := json.Unmarshal(line, &env); err != nil {
				return Envelope{}, err
			}
			c.pending = append(c.pending, env)
		}
	}

	env := c.pending[0]
	c.pending = c.pending[1:]
	return env, nil
}

// waitFor skips envelopes until one named event arrives.
func (c *testClient) waitFor(event string) Envelope {
	c.t.Helper()

	for {
		env, err := c.next()
		require.NoError(c.t, err, "waiting for %q", event)
		if env.Event == event {
			return env
		}
	}
}

// expectIdle asserts that nothing is queued for the client. It requests the
// history as a barrier: deliveries to one session keep their order, so any
// pending envelope would arrive before the reply.
func (c *testClient) expectIdle() {
	c.t.Helper()

	c.emit(broker.EventAdminRequestMessages, nil)
	env, err := c.next()
	require.NoError(c.t, err)
	require.Equal(c.t, broker.EventAdminMessagesData, env.Event, "unexpected envelope %s", env.Data)
}

// join emits user-join and consumes the joiner's own join traffic.
func (c *testClient) join(name string) []broker.ChatMessage {
	c.t.Helper()

	c.emit(broker.EventUserJoin, name)
	var history []broker.ChatMessage
	decode(c.t, c.waitFor(broker.EventMessageHistory), &history)
	c.waitFor(broker.EventNewMessage)
	c.waitFor(broker.EventUsersUpdate)
	return history
}

func decode(t *testing.T, env Envelope, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}
