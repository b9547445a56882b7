package api

import (
	"encoding/json"
	"net/http"
	"time"

	"warden/core"
	"warden/stream"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum message size allowed from peer.
	maxMessageSize = 512
)

// upgrader configures WebSocket connection upgrades. Origin checks are
// handled by the surrounding middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamNotifications upgrades the connection and relays the notification
// stream to the peer. Each connection holds its own bus subscription, so a
// slow consumer only drops its own notifications.
func (a *API) streamNotifications(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	ch, unsubscribe := a.bus.Subscribe("ws:"+r.RemoteAddr, stream.DefaultBufferSize)

	a.logger.Debugw("Stream client connected", "remote", r.RemoteAddr)

	go a.streamWritePump(conn, ch, unsubscribe)
	go a.streamReadPump(conn, unsubscribe)
}

// streamReadPump discards inbound frames and detects disconnection.
func (a *API) streamReadPump(conn *websocket.Conn, unsubscribe func()) {
	defer func() {
		unsubscribe()
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				a.logger.Debugw("Stream client unexpected close", "error", err)
			}
			return
		}
	}
}

// streamWritePump relays notifications to the peer and keeps the
// connection alive with pings.
func (a *API) streamWritePump(conn *websocket.Conn, ch <-chan core.Notification, unsubscribe func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		unsubscribe()
		conn.Close()
	}()

	for {
		select {
		case notification, ok := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			payload, err := json.Marshal(notification)
			if err != nil {
				a.logger.Errorw("Failed to marshal notification", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
