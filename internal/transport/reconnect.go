package transport

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/palemoky/chat-room/internal/logger"
)

// tryReconnect 尝试重连 with exponential backoff. The handshake frame, if
// set, is replayed first; frames queued meanwhile follow on the new
// connection.
func (c *Client) tryReconnect() {
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r)
			c.reconnecting.Store(false)
		}
	}()

	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}

	maxTries := c.opts.MaxReconnectAttempts
	backoff := c.opts.ReconnectInterval

	for attempt := 1; attempt <= maxTries; attempt++ {
		c.logger.Info("reconnecting", "attempt", attempt, "max", maxTries)
		if c.OnReconnecting != nil {
			c.OnReconnecting(attempt, maxTries)
		}

		select {
		case <-time.After(backoff):
		case <-c.done:
			c.reconnecting.Store(false)
			return
		}

		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}

		conn, err := c.dial()
		if err != nil {
			c.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
			continue
		}
		if c.isClosed() {
			_ = conn.Close()
			c.reconnecting.Store(false)
			return
		}
		if err := c.replayHandshake(conn); err != nil {
			c.logger.Warn("handshake replay failed", "attempt", attempt, "error", err)
			_ = conn.Close()
			continue
		}

		c.reconnecting.Store(false)
		c.start(conn)
		c.logger.Info("reconnected", "attempt", attempt)
		if c.OnReconnect != nil {
			c.OnReconnect()
		}
		return
	}

	c.logger.Error("giving up reconnecting", "attempts", maxTries)
	c.reconnecting.Store(false)
	c.Close()
}

// replayHandshake writes the handshake frame before the pumps start.
func (c *Client) replayHandshake(conn *websocket.Conn) error {
	frame := c.handshakeFrame()
	if frame == "" {
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, []byte(frame))
}
