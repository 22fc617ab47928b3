package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/burntcarrot/pairpad/commons"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Upgrader instance to upgrade all HTTP connections to a WebSocket.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveWs upgrades the connection and hands the participant to the hub.
func serveWs(h *hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Error("failed to upgrade connection to websocket")
		return
	}

	p := newPeer()
	select {
	case h.register <- p:
	case <-h.done:
		conn.Close()
		return
	}

	go writePump(h, p, conn)
	readPump(h, p, conn)
}

// readPump forwards messages from the connection to the hub until the
// connection fails.
func readPump(h *hub, p *peer, conn *websocket.Conn) {
	defer func() {
		select {
		case h.unregister <- p:
		case <-h.done:
		}
		conn.Close()
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg commons.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithField("participant", p.id).WithError(err).Warn("websocket error")
			}
			return
		}

		select {
		case h.inbound <- inbound{from: p, msg: msg}:
		case <-h.done:
			return
		}
	}
}

// writePump writes queued messages to the connection. The hub closes the
// queue when it drops the participant.
func writePump(h *hub, p *peer, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-p.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.log.WithField("participant", p.id).WithError(err).Warn("failed to send message")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
