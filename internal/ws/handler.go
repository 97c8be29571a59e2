package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// serveSocket runs the delivery loop for one client: subscribe to the hub,
// then race the next message against connection teardown. The subscription
// is released on every exit path, after the read pump has been reaped.
func (s *Server) serveSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	addr, source := clientAddress(r)
	slog.Info("websocket client connected", "client", addr, "via", source)

	sub := s.hub.Subscribe()
	defer sub.Close()

	// Peer disconnects surface as read errors. Inbound frames are
	// discarded; the peer is not expected to send anything.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		_ = conn.Close()
		<-closed
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			slog.Info("websocket client disconnected", "client", addr, "via", source)
			return
		case msg := <-sub.C():
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				slog.Error("websocket send failed", "client", addr, "error", err)
				return
			}
		}
	}
}
