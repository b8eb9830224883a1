// Package server coordinates client registration, inbound event dispatch, and
// outbound delivery for the chat relay via the Hub type.
package server

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrelay/internal/broker"
)

// inboundEvent is a decoded client event waiting for the hub loop.
type inboundEvent struct {
	client *Client
	event  broker.Event
}

// Hub manages all WebSocket client connections and is the Transport of the
// session broker. Registration, unregistration and every inbound client event
// pass through the single Run loop, so broker operations run one at a time in
// arrival order.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent
	broker     *broker.Broker
	log        zerolog.Logger
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub and the session broker it drives. The broker options
// configure history size and similar state policies.
func NewHub(log zerolog.Logger, opts ...broker.Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent),
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	h.broker = broker.New(h, append([]broker.Option{
		broker.WithLogger(log.With().Str("component", "broker").Logger()),
	}, opts...)...)
	return h
}

// Broker returns the session broker owned by the hub.
func (h *Hub) Broker() *broker.Broker {
	return h.broker
}

// ClientCount returns the number of open connections, joined or not.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Register hands a new connection to the hub. It returns false when the hub
// is shutting down and the caller must close the connection itself.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) submit(ev inboundEvent) bool {
	select {
	case h.inbound <- ev:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Run starts the hub's main event loop. It should be called in a separate
// goroutine and returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn().Msg("received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)
			h.broker.Leave(client.id)

		case ev := <-h.inbound:
			h.broker.Dispatch(ev.client.id, ev.event)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()

	client.log.Info().Int("clients", clientCount).Msg("client connected")

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if current, ok := h.clients[client.id]; ok && current == client {
		delete(h.clients, client.id)
		client.closed = true
		clientCount := len(h.clients)
		h.mutex.Unlock()
		// Close the channel after releasing the lock
		close(client.send)
		client.log.Info().Int("clients", clientCount).Msg("client disconnected")
		return
	}
	h.mutex.Unlock()
}

// SendTo implements broker.Transport.
func (h *Hub) SendTo(sessionID, event string, payload any) {
	message, ok := h.encode(event, payload)
	if !ok {
		return
	}

	h.mutex.RLock()
	client, exists := h.clients[sessionID]
	h.mutex.RUnlock()
	if !exists {
		return
	}

	if !h.safeSend(client, message) {
		h.removeFailedClients([]*Client{client})
	}
}

// BroadcastAll implements broker.Transport.
func (h *Hub) BroadcastAll(event string, payload any) {
	h.broadcast("", event, payload)
}

// BroadcastExcept implements broker.Transport.
func (h *Hub) BroadcastExcept(sessionID, event string, payload any) {
	h.broadcast(sessionID, event, payload)
}

func (h *Hub) broadcast(exceptID, event string, payload any) {
	message, ok := h.encode(event, payload)
	if !ok {
		return
	}

	clients := h.getClientSnapshot()
	h.log.Debug().Str("event", event).Int("clients", len(clients)).Msg("broadcasting")

	clientsToRemove := h.broadcastToClients(clients, exceptID, message)
	h.removeFailedClients(clientsToRemove)
}

func (h *Hub) encode(event string, payload any) ([]byte, bool) {
	message, err := encodeEnvelope(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("failed to encode outbound event")
		return nil, false
	}
	return message, true
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Msg("recovered from panic in safeSend")
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if current, exists := h.clients[client.id]; !exists || current != client || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// broadcastToClients sends the message to all clients except exceptID and returns failed clients
func (h *Hub) broadcastToClients(clients []*Client, exceptID string, message []byte) []*Client {
	var clientsToRemove []*Client

	for _, client := range clients {
		if exceptID != "" && client.id == exceptID {
			continue
		}
		if !h.safeSend(client, message) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}

	return clientsToRemove
}

// removeFailedClients drops clients whose send buffer is full. Their pumps
// then close the connection and the resulting unregistration drives Leave.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if current, exists := h.clients[client.id]; exists && current == client {
			delete(h.clients, client.id)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			client.log.Warn().Msg("client removed due to full send buffer")
		}
	}
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients closes all active client connections
func (h *Hub) shutdownClients() {
	h.log.Info().Msg("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, client := range h.clients {
		delete(h.clients, id)
		client.closed = true
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				client.log.Error().Err(err).Msg("error closing client connection")
			}
		}
	}

	h.log.Info().Int("clients", len(clients)).Msg("closed client connections")
}

// Shutdown stops the hub loop and waits for every client goroutine to finish
// or for ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.log.Info().Msg("initiating hub shutdown")

	h.cancel()

	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info().Msg("hub shutdown completed")
		return nil
	case <-ctx.Done():
		h.log.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return ctx.Err()
	}
}
