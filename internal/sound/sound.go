//go:build !ci

// Package sound plays short notification sounds from mp3/wav assets.
package sound

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
)

const sampleRate = beep.SampleRate(44100)

// Manager 按名称播放已加载的音效
type Manager struct {
	mu      sync.RWMutex
	buffers map[string]*beep.Buffer
	enabled bool
}

func NewManager() *Manager {
	return &Manager{buffers: make(map[string]*beep.Buffer)}
}

// Init loads every mp3/wav file in dir, keyed by base name, then opens the
// speaker. A missing dir is not an error; there is simply nothing to play.
func (m *Manager) Init(dir string) error {
	loaded, err := m.load(dir)
	if err != nil {
		return err
	}
	if loaded == 0 {
		return nil
	}

	// Small buffer for lower latency
	if err := speaker.Init(sampleRate, sampleRate.N(time.Second/10)); err != nil {
		return fmt.Errorf("failed to initialize speaker: %w", err)
	}

	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
	return nil
}

func (m *Manager) load(dir string) (int, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read sound directory: %w", err)
	}

	loaded := 0
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(file.Name()))
		if ext != ".mp3" && ext != ".wav" {
			continue
		}
		buffer, err := decodeFile(filepath.Join(dir, file.Name()), ext)
		if err != nil {
			// 单个文件失败不影响其他音效
			continue
		}

		m.mu.Lock()
		m.buffers[strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))] = buffer
		m.mu.Unlock()
		loaded++
	}
	return loaded, nil
}

func decodeFile(path, ext string) (*beep.Buffer, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch ext {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	default:
		streamer, format, err = wav.Decode(f)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = streamer.Close() }()

	var resampled beep.Streamer = streamer
	if format.SampleRate != sampleRate {
		resampled = beep.Resample(4, format.SampleRate, sampleRate, streamer)
	}

	buffer := beep.NewBuffer(beep.Format{SampleRate: sampleRate, NumChannels: 2, Precision: 4})
	buffer.Append(resampled)
	return buffer, nil
}

// Loaded reports whether a sound with the given name is available.
func (m *Manager) Loaded(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.buffers[name]
	return ok
}

// Play 播放音效; unknown names and a closed manager are silent.
func (m *Manager) Play(name string) {
	m.mu.RLock()
	buffer, ok := m.buffers[name]
	enabled := m.enabled
	m.mu.RUnlock()
	if !enabled || !ok {
		return
	}
	speaker.Play(buffer.Streamer(0, buffer.Len()))
}

func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}
