package realtime

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	userID string
	hub    *Hub
}

func NewClient(conn *websocket.Conn, hub *Hub, userID string) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    hub,
		userID: userID,
	}
}

type SubscribeMessage struct {
	Action    string   `json:"action"`
	DeviceIDs []string `json:"device_ids"`
}

// ReadPump handles subscribe/unsubscribe requests until the socket closes
func (c *Client) ReadPump() {
	defer func() {
		c.hub.logger.Debugw("ReadPump exiting", "user", c.userID)
		c.hub.Unsubscribe(c)
		close(c.send)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warnw("ReadMessage error", "error", err)
			}
			return
		}

		var req SubscribeMessage
		if err := json.Unmarshal(msg, &req); err != nil {
			c.hub.logger.Warnw("JSON unmarshal error", "error", err)
			continue
		}

		switch req.Action {
		case "subscribe":
			for _, deviceID := range req.DeviceIDs {
				if deviceID == "" {
					continue
				}
				c.hub.logger.Infow("subscribing to device", "user", c.userID, "device", deviceID)
				c.hub.Subscribe(deviceID, c)
			}
		case "unsubscribe":
			for _, deviceID := range req.DeviceIDs {
				c.hub.UnsubscribeDevice(deviceID, c)
			}
		default:
			c.hub.logger.Warnw("unknown action", "action", req.Action, "user", c.userID)
		}
	}
}

// WritePump drains the send channel and keeps the socket alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Warnw("WriteMessage error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
