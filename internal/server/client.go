package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	sendBuffer = 256
)

// Client 代表一个 WebSocket 连接
type Client struct {
	ID string
	IP string

	server *Server
	conn   *websocket.Conn
	send   chan string
	logger *slog.Logger

	mu     sync.RWMutex
	name   string
	closed bool
}

func newClient(s *Server, conn *websocket.Conn, ip string) *Client {
	id := uuid.NewString()
	return &Client{
		ID:     id,
		IP:     ip,
		server: s,
		conn:   conn,
		send:   make(chan string, sendBuffer),
		logger: s.logger.With("client", id, "ip", ip),
	}
}

// Name returns the registered username, or "" before register.
func (c *Client) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

func (c *Client) setName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
}

// ReadPump 从 WebSocket 读取帧, until the peer goes away.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.server.disconnect(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.server.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read failed", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		c.server.handleFrame(ctx, c, string(data))
	}
}

// WritePump 向 WebSocket 写入帧并定时发送 ping
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
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

// SendFrame queues frame for delivery. A client whose buffer is full is
// too slow to keep up and gets disconnected.
func (c *Client) SendFrame(frame string) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	select {
	case c.send <- frame:
		c.mu.RUnlock()
	default:
		c.mu.RUnlock()
		c.logger.Warn("send buffer full, closing")
		c.Close()
	}
}

// Close 关闭发送通道, which makes WritePump send a close frame.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
