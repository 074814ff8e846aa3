// Package server implements the chat room WebSocket server: it accepts
// register and message frames from clients and broadcasts users and
// message frames back to every connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/palemoky/chat-room/internal/config"
	"github.com/palemoky/chat-room/internal/server/broker"
)

const (
	shutdownTimeout = 10 * time.Second
	// 断开连接后更新在线名单的超时
	leaveTimeout = 5 * time.Second
)

// Server WebSocket 服务器
type Server struct {
	cfg    config.ServerConfig
	broker broker.Broker
	logger *slog.Logger

	upgrader  websocket.Upgrader
	origins   *OriginChecker
	limiter   *MessageLimiter
	semaphore chan struct{}
	heartbeat time.Duration

	clientsMu sync.RWMutex
	clients   map[string]*Client
}

// New 创建服务器实例. The broker is owned by the caller.
func New(cfg config.ServerConfig, b broker.Broker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 1
	}

	s := &Server{
		cfg:       cfg,
		broker:    b,
		logger:    logger.With("component", "server"),
		origins:   NewOriginChecker(cfg.AllowedOrigins),
		limiter:   NewMessageLimiter(cfg.MessagesPerSecond),
		semaphore: make(chan struct{}, cfg.MaxConnections),
		clients:   make(map[string]*Client),
		heartbeat: broker.HeartbeatInterval,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.Check,
	}
	return s
}

// Handler returns the HTTP routes: /ws for the chat socket and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// StartFanout subscribes to the broker and relays every published frame to
// the local connections until ctx is cancelled.
func (s *Server) StartFanout(ctx context.Context) error {
	frames, err := s.broker.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	go func() {
		for frame := range frames {
			s.broadcast(frame)
		}
		s.logger.Debug("fanout stopped")
	}()
	go s.heartbeatLoop(ctx)
	return nil
}

// heartbeatLoop keeps this instance's presence alive and republishes the
// roster when names held by a dead instance were dropped.
func (s *Server) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := s.broker.Heartbeat(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("presence heartbeat failed", "error", err)
				}
				continue
			}
			if changed {
				if err := s.publishRoster(ctx); err != nil {
					s.logger.Warn("publish roster failed", "error", err)
				}
			}
		}
	}
}

// Start 启动服务器, blocking until ctx is cancelled or listening fails.
func (s *Server) Start(ctx context.Context) error {
	if err := s.StartFanout(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", "ws://"+srv.Addr+"/ws")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", "clients", s.OnlineCount())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	// Hijacked WebSocket connections are not closed by Shutdown.
	s.closeAll()
	return err
}

// OnlineCount 返回当前连接数
func (s *Server) OnlineCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	select {
	case s.semaphore <- struct{}{}:
		defer func() { <-s.semaphore }()
	default:
		s.logger.Warn("connection limit reached", "max", s.cfg.MaxConnections, "ip", ip)
		http.Error(w, "Server Full", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "ip", ip, "error", err)
		return
	}

	c := newClient(s, conn, ip)
	s.register(c)
	c.logger.Info("client connected")

	go c.WritePump()
	// Stay in the handler so the connection slot is held until the peer leaves.
	c.ReadPump(context.WithoutCancel(r.Context()))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) register(c *Client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c.ID] = c
}

// disconnect 注销连接, and if it was registered, drops its name from the
// roster and broadcasts the new roster.
func (s *Server) disconnect(c *Client) {
	s.clientsMu.Lock()
	_, ok := s.clients[c.ID]
	delete(s.clients, c.ID)
	s.clientsMu.Unlock()
	if !ok {
		return
	}

	c.Close()
	s.limiter.Remove(c.ID)

	name := c.Name()
	c.logger.Info("client disconnected", "name", name)
	if name == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := s.broker.Leave(ctx, name); err != nil {
		c.logger.Error("leave failed", "name", name, "error", err)
		return
	}
	if err := s.publishRoster(ctx); err != nil {
		c.logger.Error("roster broadcast failed", "error", err)
	}
}

func (s *Server) broadcast(frame string) {
	s.clientsMu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	for _, c := range clients {
		c.SendFrame(frame)
	}
}

func (s *Server) closeAll() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		c.Close()
	}
}
