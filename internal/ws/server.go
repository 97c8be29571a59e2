package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/btouchard/opcbridge/internal/pubsub"
)

// Server pushes every message published on the hub to all connected
// WebSocket clients. The peer side of the socket is never read for content;
// the transport is used as a unidirectional push channel.
type Server struct {
	hub      *pubsub.Hub
	addr     string
	upgrader websocket.Upgrader
}

// NewServer creates a Server serving the hub on host:port.
func NewServer(hub *pubsub.Hub, host string, port int) *Server {
	return &Server{
		hub:  hub,
		addr: fmt.Sprintf("%s:%d", host, port),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The bridge pushes plant data to any HMI that connects.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler builds the HTTP routes. Delivery loops stop when ctx is cancelled.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		s.serveSocket(ctx, w, r)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts the listener down. In-flight
// delivery loops observe the same ctx and unwind on their own.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("websocket server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("websocket server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// clientAddress resolves the peer address, preferring forwarding headers set
// by a reverse proxy over the socket peer name.
func clientAddress(r *http.Request) (addr, source string) {
	for _, header := range []string{"X-Real-Ip", "X-Forwarded-For"} {
		if v := r.Header.Get(header); v != "" {
			return v, header
		}
	}
	return r.RemoteAddr, "socket peer name"
}
