//go:build !production

// Package testutil holds test doubles shared across packages.
package testutil

import (
	"bytes"
	"log/slog"
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockSender 实现 chat.Sender 的 mock
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(frame string) error {
	args := m.Called(frame)
	return args.Error(0)
}

// RecordingSender 简单的发送记录器，不使用 testify（用于不需要断言调用的测试）
type RecordingSender struct {
	mu     sync.Mutex
	Frames []string
	Err    error
}

func (s *RecordingSender) Send(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Frames = append(s.Frames, frame)
	return nil
}

// Sent returns a copy of the recorded frames.
func (s *RecordingSender) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Frames...)
}

// LogBuffer is a goroutine-safe buffer for capturing log output.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewLogger returns a debug-level text logger writing into a fresh LogBuffer.
func NewLogger() (*slog.Logger, *LogBuffer) {
	buf := &LogBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}
