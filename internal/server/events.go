package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// Origin checks belong to the fronting proxy, like authentication.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents streams session snapshots as JSON text frames. The stream
// closes normally after a terminal snapshot.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sched, ok := s.existing(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	updates, unsubscribe := sched.Subscribe()
	defer unsubscribe()

	// Drain client frames so close and pong control frames are processed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				s.logger.Debug("Websocket write failed", "err", err)
				return
			}
			if snap.Status.Terminal() {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, snap.Summary())
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
