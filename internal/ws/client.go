package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

var (
	// ErrSlowConsumer is returned by Send when the client's queue is full.
	ErrSlowConsumer = errors.New("websocket client is not keeping up")
	errClientClosed = errors.New("websocket client closed")
)

// Client represents a websocket client connection.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	send   chan []byte
	once   sync.Once
	closed chan struct{}
}

// NewClient constructs a client wrapper.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{conn: conn, log: logger, send: make(chan []byte, sendBuffer), closed: make(chan struct{})}
}

// Send queues a message for the write pump. It never blocks.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.closed:
		return errClientClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("websocket client dropped, send queue full", "queued", len(c.send))
		return ErrSlowConsumer
	}
}

// Close terminates the connection.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closed)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// Run keeps the connection alive with pings and returns once the peer goes away.
func (c *Client) Run() {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.writePump()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.Close()
			return
		}
	}
}

// writePump is the only goroutine that writes to conn.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.Close()
				return
			}
		}
	}
}
