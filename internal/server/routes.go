// Package server wires HTTP handlers into a gorilla/mux router for the chat
// relay via routing helpers.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// SetupRoutes configures and returns a router with all application routes:
// the chat and admin pages, the WebSocket endpoint, the snapshot API, and
// the health check.
func SetupRoutes(h *Handlers) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.HealthHandler)
	r.HandleFunc("/ws", h.WebSocketHandler)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.cors())
	api.HandleFunc("/messages", h.MessagesHandler).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/test", h.StatusHandler).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/", h.ChatPageHandler).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/admin", h.AdminPageHandler).Methods(http.MethodGet, http.MethodHead)
	r.PathPrefix("/").Handler(http.FileServerFS(h.pages)).Methods(http.MethodGet, http.MethodHead)

	return r
}
