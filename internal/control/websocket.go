package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsHandler upgrades to a WebSocket connection and registers the client
// for live Shared Status pushes (SPEC_FULL §10, adapted from the
// teacher's scheduler/server.go wsHandler).
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "control: websocket upgrade failed", "error", err)
		return
	}
	s.clients.Store(conn, true)
	s.sendSnapshotTo(conn)

	defer func() {
		s.clients.Delete(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.WarnContext(r.Context(), "control: websocket read error", "error", err)
			}
			return
		}
	}
}

func (s *Server) sendSnapshotTo(conn *websocket.Conn) {
	if err := conn.WriteJSON(s.status.Snapshot()); err != nil {
		slog.WarnContext(context.Background(), "control: websocket initial send failed", "error", err)
	}
}

// handleBroadcasts fans a marshalled snapshot out to every connected
// client, closing and dropping any that errors.
func (s *Server) handleBroadcasts() {
	for {
		select {
		case message := <-s.broadcast:
			s.clients.Range(func(key, _ any) bool {
				conn, ok := key.(*websocket.Conn)
				if !ok {
					return true
				}
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					conn.Close()
					s.clients.Delete(conn)
				}
				return true
			})
		case <-s.done:
			return
		}
	}
}

// broadcastStatusLoop periodically pushes the Shared Status snapshot to
// every connected dashboard client, mirroring the teacher's 5s
// broadcastStatus ticker.
func (s *Server) broadcastStatusLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hasClients := false
			s.clients.Range(func(_, _ any) bool {
				hasClients = true
				return false
			})
			if !hasClients {
				continue
			}
			data, err := json.Marshal(s.status.Snapshot())
			if err != nil {
				continue
			}
			s.broadcast <- data
		case <-s.done:
			return
		}
	}
}
