package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/palemoky/chat-room/internal/relay"
	"github.com/palemoky/chat-room/internal/transport"
)

// --- Tea Messages ---

// frameMsg 收到服务器的一帧
type frameMsg struct{ frame string }

// framesClosedMsg means the relay is closed and no more frames will arrive.
type framesClosedMsg struct{}

// ConnectedMsg indicates successful connection.
type ConnectedMsg struct{}

// ConnectionErrorMsg indicates the initial connection failed.
type ConnectionErrorMsg struct{ Err error }

// ReconnectingMsg 正在重连
type ReconnectingMsg struct {
	Attempt  int
	MaxTries int
}

// ReconnectSuccessMsg 重连成功
type ReconnectSuccessMsg struct{}

// TransportErrorMsg reports an unexpected read error; a reconnect usually
// follows.
type TransportErrorMsg struct{ Err error }

// ConnectionClosedMsg means the transport gave up or was closed.
type ConnectionClosedMsg struct{}

// clearNotificationMsg hides a temporary notification.
type clearNotificationMsg struct{ id int }

const notificationTTL = 3 * time.Second

// eventBuffer 连接事件缓冲
const eventBuffer = 10

// Bind wires the transport's callbacks: inbound frames go through the relay
// in arrival order and connection events come back as tea messages on the
// returned channel.
func Bind(c *transport.Client, r *relay.Local) <-chan tea.Msg {
	events := make(chan tea.Msg, eventBuffer)
	emit := func(msg tea.Msg) {
		select {
		case events <- msg:
		default:
		}
	}

	c.OnFrame = func(frame string) {
		// Publish only fails once the relay is closed, after OnClose.
		_ = r.Publish(frame)
	}
	c.OnError = func(err error) {
		emit(TransportErrorMsg{Err: err})
	}
	c.OnReconnecting = func(attempt, maxTries int) {
		emit(ReconnectingMsg{Attempt: attempt, MaxTries: maxTries})
	}
	c.OnReconnect = func() {
		emit(ReconnectSuccessMsg{})
	}
	c.OnClose = func() {
		emit(ConnectionClosedMsg{})
		r.Close()
	}
	return events
}
