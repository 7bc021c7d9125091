package realtime

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // tokens are the access control, not origins
	},
}

// ServeWS authenticates the request and upgrades it to a subscriber socket.
//
//	wscat -c "ws://localhost:8080/ws?token={jwt}"
//	{"action":"subscribe","device_ids":["meter-01"]}
func ServeWS(hub *Hub, auth *Authenticator, w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	claims, err := auth.VerifyToken(token)
	if err != nil {
		hub.logger.Debugw("rejected websocket token", "error", err)
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, hub, claimString(claims, "sub"))
	hub.Register(client)
	hub.logger.Infow("websocket client connected", "user", client.userID, "remote", conn.RemoteAddr().String())

	go client.WritePump()
	client.ReadPump()
}
