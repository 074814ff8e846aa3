package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/palemoky/chat-room/internal/chat"
	"github.com/palemoky/chat-room/internal/config"
	"github.com/palemoky/chat-room/internal/logger"
	"github.com/palemoky/chat-room/internal/relay"
	"github.com/palemoky/chat-room/internal/sound"
	"github.com/palemoky/chat-room/internal/transport"
	"github.com/palemoky/chat-room/internal/ui"
)

const appName = "chat-room"

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	serverURL := flag.String("server", "", "服务器地址, e.g. ws://localhost:1780/ws")
	name := flag.String("name", "", "用户名 (留空则在界面中输入)")
	soundDir := flag.String("sounds", sound.DefaultDir, "音效目录")
	flag.Parse()

	cfg, cfgErr := config.Load(*configPath)
	if cfgErr != nil {
		cfg = config.Default()
	}
	if *serverURL != "" {
		cfg.Client.ServerURL = *serverURL
	}
	if *name != "" {
		cfg.Client.Username = *name
	}

	// The TUI owns the terminal, so logs go to a file.
	lg, err := logger.Init(appName, logger.ParseLevel(cfg.Log.Level))
	if err != nil {
		fmt.Fprintf(os.Stderr, "日志初始化失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()
	defer func() {
		if r := recover(); r != nil {
			logger.LogPanic(r)
			panic(r)
		}
	}()

	if cfgErr != nil && !errors.Is(cfgErr, fs.ErrNotExist) {
		lg.Warn("加载配置文件失败，使用默认配置", "path", *configPath, "error", cfgErr)
	}

	if err := run(cfg, *soundDir, lg); err != nil {
		lg.Error("client exited with error", "error", err)
		fmt.Fprintf(os.Stderr, "启动客户端时出错: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, soundDir string, lg *slog.Logger) error {
	conn := transport.NewClient(cfg.Client.ServerURL, transport.Options{
		SendBuffer:           cfg.Client.SendBuffer,
		MaxReconnectAttempts: max(cfg.Client.MaxReconnectAttempts, 0),
		Logger:               lg,
	})
	frames := relay.NewLocal(cfg.Client.ReceiveBuffer)
	events := ui.Bind(conn, frames)
	defer frames.Close()
	defer conn.Close()

	player := sound.NewManager()
	go func() {
		if err := player.Init(soundDir); err != nil {
			lg.Warn("sound disabled", "error", err)
		}
	}()
	defer player.Close()

	machine := chat.NewMachine(conn, lg)
	model := ui.New(machine, ui.Options{
		Conn:     conn,
		Frames:   frames.Frames(),
		Events:   events,
		Sound:    player,
		Username: cfg.Client.Username,
	})

	lg.Info("client starting", "server", cfg.Client.ServerURL, "log", logger.GetLogPath())
	_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}
