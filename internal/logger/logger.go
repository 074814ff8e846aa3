// Package logger sets up the file-backed structured logger. Terminal clients
// cannot log to stdout without corrupting the screen, so everything goes to
// ~/.<app>/debug.log.
package logger

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

var (
	mu       sync.Mutex
	debugLog *os.File
	logPath  string

	// maxLogSize 超过该大小时轮转日志
	maxLogSize int64 = 10 * 1024 * 1024
)

// Init opens ~/.<appName>/debug.log and installs it as the default logger.
func Init(appName string, level slog.Level) (*slog.Logger, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return InitAt(filepath.Join(homeDir, "."+appName), level)
}

// InitAt is Init with an explicit log directory.
func InitAt(logDir string, level slog.Level) (*slog.Logger, error) {
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(logDir, "debug.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Rotate if file is too large
	if info, err := f.Stat(); err == nil && info.Size() > maxLogSize {
		_ = f.Close()
		backupPath := filepath.Join(logDir, fmt.Sprintf("debug.log.%d", time.Now().UnixNano()))
		_ = os.Rename(path, backupPath)
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to create new log file: %w", err)
		}
	}

	if debugLog != nil {
		_ = debugLog.Close()
	}
	debugLog = f
	logPath = path

	l := New(f, level)
	slog.SetDefault(l)
	// Libraries still using the log package end up in the same file.
	log.SetOutput(f)

	l.Info("logger initialized", "path", path)
	return l, nil
}

// New returns a text logger writing to w.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}))
}

// ParseLevel maps debug/info/warn/error to a level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Close closes the debug log file
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if debugLog != nil {
		log.SetOutput(os.Stderr)
		_ = debugLog.Close()
		debugLog = nil
	}
}

// LogPanic logs a recovered panic with its stack trace.
func LogPanic(r any) {
	slog.Error("panic recovered", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
}

// GetLogPath returns the current log file path
func GetLogPath() string {
	mu.Lock()
	defer mu.Unlock()
	return logPath
}
