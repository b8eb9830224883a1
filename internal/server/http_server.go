// Package server constructs, starts, and stops the relay's HTTP service with
// helpers that apply production defaults.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartHub runs the hub loop in a separate goroutine. It should be called
// before starting the HTTP server.
func StartHub(hub *Hub) {
	go hub.Run()
	log.Info().Msg("hub started and ready to manage WebSocket connections")
}

// StartServer starts the HTTP server and blocks until it stops. A server
// closed through ShutdownServer returns nil.
func StartServer(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting
// active requests, waiting until they finish or ctx expires. Hijacked
// WebSocket connections are closed by Hub.Shutdown.
func ShutdownServer(ctx context.Context, server *http.Server) error {
	log.Info().Msg("shutting down HTTP server")

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
		return err
	}

	log.Info().Msg("HTTP server shutdown completed")
	return nil
}
