package wsforward

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// Start connects once and, if that fails, keeps retrying in the background
func (c *Client) Start(ctx context.Context) {
	if err := c.Connect(ctx); err != nil {
		c.logger.Warn("initial upstream connect failed, retrying in background", zap.Error(err))
		c.mu.Lock()
		c.state = stateReconnecting
		c.mu.Unlock()
		go c.reconnect()
	}
}

// Send writes v as one JSON text frame
func (c *Client) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	// a failed or timed out write leaves the conn unusable
	if err := wsjson.Write(ctx, conn, v); err != nil {
		c.dropConn(conn, err)
		return err
	}
	return nil
}

// readLoop drains inbound frames so control frames (pong, close) are processed
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.dropConn(conn, err)
			return
		}
	}
}

// heartbeatLoop periodically pings the upstream
func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.heartbeatTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Error("Heartbeat failed", zap.Error(err))
				c.dropConn(conn, err)
				return
			}
			c.logger.Debug("heartbeat ok")
		}
	}
}
