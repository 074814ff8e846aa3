// Package protocol defines the JSON envelope exchanged with the chat server.
package protocol

import "strings"

// Envelope 基础消息结构
//
// Exactly one payload field is populated per type: users carries DataArray,
// register and message carry Data.
type Envelope struct {
	Type      MessageType `json:"messageType"`
	DataArray []string    `json:"dataArray,omitempty"`
	Data      *string     `json:"data,omitempty"`
}

// MessageType 消息类型
type MessageType string

const (
	// MsgUsers 服务端 → 客户端: full roster snapshot
	MsgUsers MessageType = "users"
	// MsgRegister 客户端 → 服务端: announces the local username, sent once
	MsgRegister MessageType = "register"
	// MsgMessage 双向: chat text from the client, ChatMessage JSON from the server
	MsgMessage MessageType = "message"
)

// Known reports whether t is one of the protocol's message types.
func (t MessageType) Known() bool {
	switch t {
	case MsgUsers, MsgRegister, MsgMessage:
		return true
	default:
		return false
	}
}

// DataString returns Data, or "" when it is absent.
func (e *Envelope) DataString() string {
	if e == nil || e.Data == nil {
		return ""
	}
	return *e.Data
}

// ChatMessage 聊天消息, nested inside the data field of a server message frame.
type ChatMessage struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

var imageSuffixes = []string{".gif", ".jpg", ".png"}

// IsImage reports whether the message text is a link to an image.
func (m ChatMessage) IsImage() bool {
	for _, suffix := range imageSuffixes {
		if strings.HasSuffix(m.Message, suffix) {
			return true
		}
	}
	return false
}
