// Package wsforward keeps a single outbound websocket open and writes JSON
// frames to it, reconnecting in the background when the link drops.
package wsforward

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Send while the link is down.
var ErrNotConnected = errors.New("wsforward: not connected")

// connectionState represents the WebSocket connection status
type connectionState int

const (
	stateDisconnected connectionState = iota
	stateConnecting
	stateConnected
	stateReconnecting
)

// Client is the upstream WebSocket forwarder
type Client struct {
	URL    string
	header http.Header

	mu       sync.Mutex
	conn     *websocket.Conn
	connStop context.CancelFunc
	state    connectionState
	shutdown bool

	reconnectMu sync.Mutex
	logger      *zap.Logger

	dialTimeout       time.Duration
	writeTimeout      time.Duration
	reconnectInterval time.Duration
	maxReconnect      time.Duration
	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration
}

// New creates a Client; token, when set, is sent as a bearer Authorization header
func New(url, token string, logger *zap.Logger) *Client {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &Client{
		URL:               url,
		header:            header,
		logger:            logger,
		dialTimeout:       10 * time.Second,
		writeTimeout:      5 * time.Second,
		reconnectInterval: 500 * time.Millisecond,
		maxReconnect:      30 * time.Second,
		heartbeatInterval: 20 * time.Second,
		heartbeatTimeout:  5 * time.Second,
		state:             stateDisconnected,
	}
}

// Connect dials the upstream and starts the reader and heartbeat loops
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return errors.New("wsforward: client closed")
	}
	if c.state == stateConnected && c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if c.state != stateReconnecting {
		c.state = stateConnecting
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		if c.state == stateConnecting {
			c.state = stateDisconnected
		}
		c.mu.Unlock()
		return fmt.Errorf("connect failed: %w", err)
	}

	connCtx, stop := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		stop()
		_ = conn.Close(websocket.StatusNormalClosure, "client closed")
		return errors.New("wsforward: client closed")
	}
	c.conn = conn
	c.connStop = stop
	c.state = stateConnected
	c.mu.Unlock()

	go c.readLoop(connCtx, conn)
	go c.heartbeatLoop(connCtx, conn)

	c.logger.Info("upstream websocket connected", zap.String("url", c.URL))
	return nil
}

// dial connects to the WebSocket server
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, c.URL, &websocket.DialOptions{HTTPHeader: c.header})
	if err != nil {
		c.logger.Error("Dial failed", zap.Error(err))
		return nil, err
	}
	return conn, nil
}

// Close gracefully closes the WebSocket connection and stops reconnecting
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.shutdown = true
	if c.connStop != nil {
		c.connStop()
		c.connStop = nil
	}

	var err error
	if c.conn != nil {
		err = c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
		c.conn = nil
	}
	c.state = stateDisconnected
	return err
}

// IsConnected checks if the client is connected
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateConnected && c.conn != nil
}

// dropConn tears down conn if it is still the active one and starts a reconnect
func (c *Client) dropConn(conn *websocket.Conn, reason error) {
	c.mu.Lock()
	if c.conn != conn || c.shutdown {
		c.mu.Unlock()
		return
	}
	if c.connStop != nil {
		c.connStop()
		c.connStop = nil
	}
	c.conn = nil
	c.state = stateReconnecting
	c.mu.Unlock()

	_ = conn.CloseNow()
	c.logger.Warn("upstream websocket lost", zap.Error(reason))
	go c.reconnect()
}

// reconnect attempts to reconnect with exponential backoff
func (c *Client) reconnect() {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	interval := c.reconnectInterval
	for {
		c.mu.Lock()
		if c.shutdown {
			c.mu.Unlock()
			c.logger.Info("Reconnect stopped: client is shutting down")
			return
		}
		if c.state == stateConnected {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		time.Sleep(interval)

		if err := c.Connect(context.Background()); err == nil {
			c.logger.Info("Reconnected successfully")
			return
		} else {
			c.logger.Warn("Reconnect failed", zap.Error(err), zap.Duration("retry_in", interval))
		}

		interval *= 2
		if interval > c.maxReconnect {
			interval = c.maxReconnect
		}
	}
}
