package transport

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/palemoky/chat-room/internal/logger"
)

// readPump 从服务器读取消息
func (c *Client) readPump(conn *websocket.Conn, stop chan struct{}) {
	defer c.handleReadExit(conn, stop)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if msgType != websocket.TextMessage {
			c.logger.Warn("non-text frame ignored", "type", msgType, "size", len(message))
			continue
		}
		if c.OnFrame != nil {
			c.OnFrame(string(message))
		}
	}
}

func (c *Client) handleReadExit(conn *websocket.Conn, stop chan struct{}) {
	if r := recover(); r != nil {
		logger.LogPanic(r)
	}
	close(stop)
	_ = conn.Close()

	if c.isClosed() {
		return
	}
	if c.opts.MaxReconnectAttempts > 0 && !c.reconnecting.Load() {
		go c.tryReconnect()
		return
	}
	c.Close()
}

func (c *Client) handleReadError(err error) {
	if c.isClosed() {
		return
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		c.logger.Warn("read failed", "error", err)
		if c.OnError != nil {
			c.OnError(err)
		}
	}
}

// writePump 向服务器写入消息
func (c *Client) writePump(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r)
		}
		ticker.Stop()
		// Unblocks readPump, which owns reconnect decisions.
		_ = conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				c.logger.Warn("write failed, frame dropped", "error", err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-stop:
			return
		case <-c.done:
			return
		}
	}
}
