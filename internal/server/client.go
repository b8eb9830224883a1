// Package server manages individual WebSocket clients, handling read/write
// pumps and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrelay/internal/broker"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	writeWait    = 10 * time.Second
	sendQueueLen = 256
)

// Client represents a WebSocket client connection in the chat relay. Its id is
// the session id the broker knows it by.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	maxMessageSize int64
	log            zerolog.Logger
}

// NewClient creates a new Client with a fresh session id for the provided
// WebSocket connection. The client's send channel is buffered to handle
// message queuing.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, maxMessageSize int64) *Client {
	if conn != nil && maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}

	id := uuid.NewString()
	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, sendQueueLen),
		hub:            hub,
		addr:           addr,
		maxMessageSize: maxMessageSize,
		log:            hub.log.With().Str("session", id).Str("addr", addr).Logger(),
	}
}

// ID returns the session id assigned at connect time.
func (c *Client) ID() string {
	return c.id
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Error().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Error().Err(err).Msg("error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs the read error according to its type.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn().Int64("limit", c.maxMessageSize).Msg("message exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug().Err(err).Msg("client closed connection")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug().Err(err).Msg("connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn().Err(err).Msg("unexpected WebSocket close")
	default:
		c.log.Warn().Err(err).Msg("WebSocket read error")
	}
}

// processMessage decodes a raw frame and hands the event to the hub. It
// returns false when the frame was dropped or the hub is gone.
func (c *Client) processMessage(rawMessage []byte) bool {
	event, err := decodeEvent(rawMessage, c.log)
	if err != nil {
		c.log.Debug().Err(err).Msg("dropping invalid client frame")
		return false
	}

	c.log.Debug().Str("event", broker.EventName(event)).Msg("received event")
	return c.hub.submit(inboundEvent{client: c, event: event})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Error().Err(err).Msg("error closing connection in readPump")
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Error().Err(err).Msg("error closing connection in writePump")
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug().Err(err).Msg("error setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Debug().Err(err).Msg("error writing close message")
	}
	return false
}

// writeTextMessage writes a text frame holding the message and any queued
// messages, one envelope per line.
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.log.Debug().Err(err).Msg("error creating writer")
		return false
	}

	if _, err := w.Write(message); err != nil {
		c.log.Debug().Err(err).Msg("error writing message")
		return false
	}

	if !c.writeQueuedMessages(w) {
		return false
	}

	if err := w.Close(); err != nil {
		c.log.Debug().Err(err).Msg("error closing writer")
		return false
	}
	return true
}

// writeQueuedMessages writes any additional queued messages
func (c *Client) writeQueuedMessages(w io.Writer) bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		queued, ok := <-c.send
		if !ok {
			return true
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			c.log.Debug().Err(err).Msg("error writing newline")
			return false
		}
		if _, err := w.Write(queued); err != nil {
			c.log.Debug().Err(err).Msg("error writing queued message")
			return false
		}
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug().Err(err).Msg("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug().Err(err).Msg("error writing ping message")
		return false
	}
	return true
}
