package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/palemoky/chat-room/internal/protocol"
	"github.com/palemoky/chat-room/internal/protocol/codec"
)

var (
	errNotRegistered = errors.New("sender not registered")
	errRateLimited   = errors.New("rate limited")
)

type frameHandler func(s *Server, ctx context.Context, c *Client, env *protocol.Envelope) error

// 客户端只发送 register 和 message
var frameHandlers = map[protocol.MessageType]frameHandler{
	protocol.MsgRegister: (*Server).handleRegister,
	protocol.MsgMessage:  (*Server).handleMessage,
}

// handleFrame 解码并分发一帧. Bad frames are logged and dropped; the
// connection stays open.
func (s *Server) handleFrame(ctx context.Context, c *Client, raw string) {
	env, err := codec.Decode(raw)
	if err != nil {
		c.logger.Warn("frame dropped", "error", err)
		return
	}

	handle, ok := frameHandlers[env.Type]
	if !ok {
		c.logger.Warn("frame dropped", "error", fmt.Errorf("%w: %s from client", protocol.ErrProtocol, env.Type))
		return
	}
	if err := handle(s, ctx, c, env); err != nil {
		c.logger.Warn("frame rejected", "type", env.Type, "error", err)
	}
}

// handleRegister 加入在线名单. Registering again under a new name renames
// the connection; the same name again is a no-op.
func (s *Server) handleRegister(ctx context.Context, c *Client, env *protocol.Envelope) error {
	name := strings.TrimSpace(env.DataString())
	if name == "" {
		return fmt.Errorf("%w: empty username", protocol.ErrProtocol)
	}

	previous := c.Name()
	if previous == name {
		return nil
	}
	// The connection takes the name only once presence holds it.
	if err := s.broker.Join(ctx, name); err != nil {
		return err
	}
	c.setName(name)
	if previous != "" {
		if err := s.broker.Leave(ctx, previous); err != nil {
			c.logger.Warn("leave previous name failed", "name", previous, "error", err)
		}
	}

	c.logger.Info("client registered", "name", name)
	return s.publishRoster(ctx)
}

// handleMessage 广播聊天消息 as {from, message} nested in data.
func (s *Server) handleMessage(ctx context.Context, c *Client, env *protocol.Envelope) error {
	from := c.Name()
	if from == "" {
		return errNotRegistered
	}
	text := strings.TrimSpace(env.DataString())
	if text == "" {
		return nil
	}
	if !s.limiter.Allow(c.ID) {
		return errRateLimited
	}

	out, err := codec.NewChatBroadcast(from, text)
	if err != nil {
		return err
	}
	frame, err := codec.Encode(out)
	if err != nil {
		return err
	}
	return s.broker.Publish(ctx, frame)
}

func (s *Server) publishRoster(ctx context.Context) error {
	names, err := s.broker.Roster(ctx)
	if err != nil {
		return err
	}
	frame, err := codec.Encode(codec.NewUsers(names))
	if err != nil {
		return err
	}
	return s.broker.Publish(ctx, frame)
}
