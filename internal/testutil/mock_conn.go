//go:build !production

package testutil

import (
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockConn 模拟服务器连接
type MockConn struct {
	mock.Mock
}

func (c *MockConn) Connect() error {
	args := c.Called()
	return args.Error(0)
}

func (c *MockConn) Close() {
	c.Called()
}

func (c *MockConn) SetHandshake(frame string) {
	c.Called(frame)
}

// RecordingPlayer records the names of sounds played.
type RecordingPlayer struct {
	mu     sync.Mutex
	played []string
}

func (p *RecordingPlayer) Play(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, name)
}

// Played returns a copy of the sounds played so far.
func (p *RecordingPlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}
