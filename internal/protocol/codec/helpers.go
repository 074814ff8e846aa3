package codec

import (
	"encoding/json"
	"fmt"

	"github.com/palemoky/chat-room/internal/protocol"
)

// NewRegister 创建注册消息
func NewRegister(username string) *protocol.Envelope {
	return &protocol.Envelope{Type: protocol.MsgRegister, Data: &username}
}

// NewUsers 创建在线用户列表消息
func NewUsers(names []string) *protocol.Envelope {
	return &protocol.Envelope{Type: protocol.MsgUsers, DataArray: names}
}

// NewChat 创建客户端聊天消息, carrying the raw text in data.
func NewChat(text string) *protocol.Envelope {
	return &protocol.Envelope{Type: protocol.MsgMessage, Data: &text}
}

// NewChatBroadcast 创建服务端广播的聊天消息, with a nested ChatMessage in data.
func NewChatBroadcast(from, text string) (*protocol.Envelope, error) {
	nested, err := marshal(protocol.ChatMessage{From: from, Message: text})
	if err != nil {
		return nil, fmt.Errorf("encode chat message: %w", err)
	}
	return &protocol.Envelope{Type: protocol.MsgMessage, Data: &nested}, nil
}

// Encode 将消息编码为一帧 JSON 文本
func Encode(env *protocol.Envelope) (string, error) {
	if env == nil {
		return "", fmt.Errorf("encode: nil envelope")
	}
	return marshal(env)
}

// MustEncode 编码消息，失败时 panic
func MustEncode(env *protocol.Envelope) string {
	frame, err := Encode(env)
	if err != nil {
		panic(err)
	}
	return frame
}

// Decode 从一帧 JSON 文本解码消息
//
// Malformed JSON and envelopes without a messageType wrap protocol.ErrDecode.
// Unknown message types wrap protocol.ErrProtocol; the envelope is still
// returned so callers can log what arrived.
func Decode(frame string) (*protocol.Envelope, error) {
	var env protocol.Envelope
	if err := json.Unmarshal([]byte(frame), &env); err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrDecode, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing messageType", protocol.ErrDecode)
	}
	if !env.Type.Known() {
		return &env, fmt.Errorf("%w: unknown messageType %q", protocol.ErrProtocol, env.Type)
	}
	return &env, nil
}

// DecodeChatMessage 解析 message 帧中嵌套的 ChatMessage
func DecodeChatMessage(env *protocol.Envelope) (protocol.ChatMessage, error) {
	if env == nil || env.Data == nil {
		return protocol.ChatMessage{}, fmt.Errorf("%w: message frame without data", protocol.ErrProtocol)
	}

	// Both fields are required; null or {} is not a chat message.
	var raw struct {
		From    *string `json:"from"`
		Message *string `json:"message"`
	}
	if err := json.Unmarshal([]byte(*env.Data), &raw); err != nil {
		return protocol.ChatMessage{}, fmt.Errorf("%w: nested chat message: %w", protocol.ErrDecode, err)
	}
	if raw.From == nil || raw.Message == nil {
		return protocol.ChatMessage{}, fmt.Errorf("%w: nested chat message missing from or message", protocol.ErrDecode)
	}
	return protocol.ChatMessage{From: *raw.From, Message: *raw.Message}, nil
}
