// Package server exposes HTTP handlers, including WebSocket upgrades, the
// snapshot API, health checks, and the embedded chat pages.
package server

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/chatrelay/internal/broker"
	"github.com/Tyrowin/chatrelay/web"
)

const healthMessage = "Chat relay is running!"

// MessagesResponse is the body of GET /api/messages.
type MessagesResponse struct {
	Count       int                  `json:"count"`
	Messages    []broker.ChatMessage `json:"messages"`
	ActiveUsers []broker.Session     `json:"activeUsers"`
}

// StatusResponse is the body of GET /api/test.
type StatusResponse struct {
	Status       string `json:"status"`
	MessageCount int    `json:"messageCount"`
	UserCount    int    `json:"userCount"`
	Connections  int    `json:"connections"`
}

// Handlers serves every HTTP endpoint of the relay.
type Handlers struct {
	hub      *Hub
	cfg      Config
	origins  *originPolicy
	upgrader websocket.Upgrader
	pages    fs.FS
	log      zerolog.Logger
}

// NewHandlers builds the HTTP handlers for hub using cfg.
func NewHandlers(hub *Hub, cfg *Config, log zerolog.Logger) *Handlers {
	origins := newOriginPolicy(cfg.AllowedOrigins, log)
	return &Handlers{
		hub:     hub,
		cfg:     *cfg,
		origins: origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		pages: web.FS(),
		log:   log,
	}
}

// WebSocketHandler handles WebSocket upgrade requests. It validates that the
// request uses the GET method, upgrades the connection, and registers a new
// Client with the hub, which then starts the client's read/write pumps.
func (h *Handlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Str("addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr, h.cfg.MaxMessageSize)
	if !h.hub.Register(client) {
		_ = conn.Close()
	}
}

// HealthHandler responds with a plain text liveness line.
func (h *Handlers) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, healthMessage)
}

// MessagesHandler returns the current history and roster.
func (h *Handlers) MessagesHandler(w http.ResponseWriter, _ *http.Request) {
	b := h.hub.Broker()
	messages := b.History()
	h.writeJSON(w, http.StatusOK, MessagesResponse{
		Count:       len(messages),
		Messages:    messages,
		ActiveUsers: b.Roster(),
	})
}

// StatusHandler returns a liveness indicator with message and user counts.
func (h *Handlers) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	stats := h.hub.Broker().Stats()
	h.writeJSON(w, http.StatusOK, StatusResponse{
		Status:       "Server is running",
		MessageCount: stats.MessageCount,
		UserCount:    stats.UserCount,
		Connections:  h.hub.ClientCount(),
	})
}

// ChatPageHandler serves the chat client.
func (h *Handlers) ChatPageHandler(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, h.pages, "index.html")
}

// AdminPageHandler serves the admin panel.
func (h *Handlers) AdminPageHandler(w http.ResponseWriter, r *http.Request) {
	http.ServeFileFS(w, r, h.pages, "admin.html")
}

// cors returns the CORS middleware for the API routes. An open policy
// answers with "*"; an allow-list reflects the matching origin and permits
// credentials.
func (h *Handlers) cors() func(http.Handler) http.Handler {
	opts := []handlers.CORSOption{
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.OptionStatusCode(http.StatusNoContent),
	}
	if h.origins.allowAll {
		opts = append(opts, handlers.AllowedOrigins([]string{"*"}))
	} else {
		opts = append(opts,
			handlers.AllowedOriginValidator(h.origins.isAllowed),
			handlers.AllowCredentials(),
		)
	}
	return handlers.CORS(opts...)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("error writing JSON response")
	}
}
