package chat

import (
	"errors"

	"github.com/palemoky/chat-room/internal/protocol"
)

var (
	// ErrTransport wraps a failed send. The frame is not retried.
	ErrTransport = errors.New("transport send failed")

	// ErrDecode and ErrProtocol classify discarded inbound frames.
	ErrDecode   = protocol.ErrDecode
	ErrProtocol = protocol.ErrProtocol

	// ErrAlreadyActive is returned by a second Initialize.
	ErrAlreadyActive = errors.New("chat session already initialized")
)
