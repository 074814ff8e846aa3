package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// --- 来源验证 ---

// OriginChecker 来源验证器
type OriginChecker struct {
	allowedOrigins map[string]bool
	allowAll       bool
}

// NewOriginChecker 创建来源验证器. An empty list allows every origin.
func NewOriginChecker(origins []string) *OriginChecker {
	oc := &OriginChecker{
		allowedOrigins: make(map[string]bool),
		allowAll:       len(origins) == 0,
	}
	for _, origin := range origins {
		if origin == "*" {
			oc.allowAll = true
			return oc
		}
		oc.allowedOrigins[strings.ToLower(origin)] = true
	}
	return oc
}

// Check 检查来源是否允许
func (oc *OriginChecker) Check(r *http.Request) bool {
	if oc.allowAll {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// 本地终端客户端不带 Origin
		return true
	}
	return oc.allowedOrigins[strings.ToLower(origin)]
}

// --- 消息速率限制 ---

// MessageLimiter 限制每个连接每秒发送的消息数
type MessageLimiter struct {
	mu     sync.Mutex
	limits map[string]*messageRate
	max    int
	now    func() time.Time
}

type messageRate struct {
	count     int
	lastReset time.Time
}

// NewMessageLimiter 创建消息速率限制器
func NewMessageLimiter(maxPerSecond int) *MessageLimiter {
	return &MessageLimiter{
		limits: make(map[string]*messageRate),
		max:    maxPerSecond,
		now:    time.Now,
	}
}

// Allow 检查是否允许发送消息
func (ml *MessageLimiter) Allow(clientID string) bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.now()
	rate, ok := ml.limits[clientID]
	if !ok || now.Sub(rate.lastReset) >= time.Second {
		ml.limits[clientID] = &messageRate{count: 1, lastReset: now}
		return true
	}

	rate.count++
	return rate.count <= ml.max
}

// Remove 移除客户端记录
func (ml *MessageLimiter) Remove(clientID string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	delete(ml.limits, clientID)
}

// clientIP 获取客户端真实 IP
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
