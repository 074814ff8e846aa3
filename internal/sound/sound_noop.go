//go:build ci

// Package sound plays short notification sounds from mp3/wav assets.
package sound

// Manager is silent in CI builds, which have no audio device.
type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) Init(string) error { return nil }

func (m *Manager) Loaded(string) bool { return false }

func (m *Manager) Play(string) {}

func (m *Manager) Close() {}
