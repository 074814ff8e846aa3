package protocol

import "errors"

var (
	// ErrDecode marks a frame that is not a well-formed envelope, or a message
	// frame whose nested payload is not a ChatMessage.
	ErrDecode = errors.New("malformed frame")

	// ErrProtocol marks a well-formed envelope the protocol does not allow:
	// an unknown message type, or a known type missing its payload.
	ErrProtocol = errors.New("unexpected frame")
)
