// Package transport is the WebSocket connection to the chat server: one text
// frame per envelope, in both directions.
package transport

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// 消息最大大小
	maxMessageSize = 64 * 1024

	defaultSendBuffer        = 256
	defaultHandshakeTimeout  = 10 * time.Second
	defaultReconnectInterval = 2 * time.Second
	maxReconnectBackoff      = 30 * time.Second
)

var (
	ErrClosed     = errors.New("connection closed")
	ErrBufferFull = errors.New("send buffer full")
)

// Options 连接选项
type Options struct {
	SendBuffer           int
	HandshakeTimeout     time.Duration
	MaxReconnectAttempts int // 0 disables reconnecting
	ReconnectInterval    time.Duration
	Logger               *slog.Logger
}

func (o *Options) withDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = defaultReconnectInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Client WebSocket 客户端
//
// Callbacks must be set before Connect. OnFrame is called from the read
// goroutine, one frame at a time, in arrival order.
type Client struct {
	ServerURL string
	opts      Options
	logger    *slog.Logger

	send chan string
	done chan struct{}

	OnFrame        func(frame string)
	OnError        func(error)
	OnClose        func()
	OnReconnecting func(attempt, maxTries int)
	OnReconnect    func()

	mu           sync.RWMutex
	conn         *websocket.Conn
	handshake    string
	closed       bool
	closeOnce    sync.Once
	reconnecting atomic.Bool
}

// NewClient 创建客户端
func NewClient(serverURL string, opts Options) *Client {
	opts.withDefaults()
	return &Client{
		ServerURL: serverURL,
		opts:      opts,
		logger:    opts.Logger.With("component", "transport"),
		send:      make(chan string, opts.SendBuffer),
		done:      make(chan struct{}),
	}
}

// Connect 连接服务器
func (c *Client) Connect() error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	conn, err := c.dial()
	if err != nil {
		return err
	}
	c.start(conn)
	c.logger.Info("connected", "url", c.ServerURL)
	return nil
}

func (c *Client) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout:  c.opts.HandshakeTimeout,
		EnableCompression: false,
	}
	conn, _, err := dialer.Dial(c.ServerURL, nil)
	return conn, err
}

// start 启动读写协程
func (c *Client) start(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := make(chan struct{})
	go c.readPump(conn, stop)
	go c.writePump(conn, stop)
}

// Send queues one frame. It never blocks: a full buffer is reported as
// ErrBufferFull. Frames queued while reconnecting go out on the new
// connection.
func (c *Client) Send(frame string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close 关闭连接
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
	c.notifyClose()
}

// SetHandshake sets the frame that opens every reconnected session. It is
// written before any queued frame, so the server sees the session resumed
// before it sees traffic. An empty frame disables the replay.
func (c *Client) SetHandshake(frame string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handshake = frame
}

func (c *Client) handshakeFrame() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handshake
}

// IsConnected 是否已连接
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && c.conn != nil && !c.reconnecting.Load()
}

// IsReconnecting 是否正在重连
func (c *Client) IsReconnecting() bool {
	return c.reconnecting.Load()
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) notifyClose() {
	c.closeOnce.Do(func() {
		c.logger.Info("connection closed")
		if c.OnClose != nil {
			c.OnClose()
		}
	})
}
