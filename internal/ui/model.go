// Package ui is the terminal front end of the chat room. The Model owns the
// chat.Machine and is the only thing that drives it.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/palemoky/chat-room/internal/chat"
	"github.com/palemoky/chat-room/internal/sound"
)

// Status 连接状态
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// Conn is the server connection as the UI sees it.
type Conn interface {
	Connect() error
	Close()
	// SetHandshake sets the frame replayed first after a reconnect.
	SetHandshake(frame string)
}

// Player plays a named notification sound.
type Player interface {
	Play(name string)
}

// Options 模型依赖
type Options struct {
	Conn     Conn
	Frames   <-chan string
	Events   <-chan tea.Msg
	Sound    Player
	Username string
}

const maxUsernameLength = 32

// Model 聊天界面模型
type Model struct {
	machine *chat.Machine
	conn    Conn
	frames  <-chan string
	events  <-chan tea.Msg
	sound   Player

	username string
	naming   bool
	status   Status
	attempt  int
	maxTries int

	notification   string
	notificationID int
	fatal          string

	// log length already seen, so only new messages trigger a sound
	seen int

	input  textinput.Model
	width  int
	height int
}

// New creates the model. An empty username starts on the name prompt.
func New(machine *chat.Machine, opts Options) *Model {
	ti := textinput.New()
	ti.CharLimit = 500
	ti.Focus()

	m := &Model{
		machine:  machine,
		conn:     opts.Conn,
		frames:   opts.Frames,
		events:   opts.Events,
		sound:    opts.Sound,
		username: strings.TrimSpace(opts.Username),
		input:    ti,
		width:    80,
		height:   24,
	}
	if m.username == "" {
		m.naming = true
		m.input.Placeholder = "Enter your name"
		m.input.CharLimit = maxUsernameLength
	} else {
		m.input.Placeholder = "Type a message..."
	}

	machine.Observe(m.onChange)
	return m
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.listenForFrames(), m.listenForEvents()}
	if !m.naming {
		cmds = append(cmds, m.connect())
	}
	return tea.Batch(cmds...)
}

func (m *Model) connect() tea.Cmd {
	if m.conn == nil {
		return nil
	}
	return func() tea.Msg {
		if err := m.conn.Connect(); err != nil {
			return ConnectionErrorMsg{Err: err}
		}
		return ConnectedMsg{}
	}
}

func (m *Model) listenForFrames() tea.Cmd {
	if m.frames == nil {
		return nil
	}
	return func() tea.Msg {
		frame, ok := <-m.frames
		if !ok {
			return framesClosedMsg{}
		}
		return frameMsg{frame: frame}
	}
}

func (m *Model) listenForEvents() tea.Cmd {
	if m.events == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-m.events
		if !ok {
			return nil
		}
		return msg
	}
}

// Update handles tea messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case frameMsg:
		// Rejected frames are logged by the machine and otherwise ignored.
		_, _ = m.machine.HandleInboundFrame(msg.frame)
		return m, m.listenForFrames()

	case framesClosedMsg:
		return m, nil

	case ConnectedMsg:
		m.status = StatusConnected
		var cmd tea.Cmd
		if m.machine.Phase() == chat.PhaseUninitialized {
			if _, err := m.machine.Initialize(m.username); err != nil {
				cmd = m.notify(err.Error())
			}
			// The server forgets the name with the socket; resume it on reconnect.
			if frame, ok := m.machine.Handshake(); ok && m.conn != nil {
				m.conn.SetHandshake(frame)
			}
		}
		return m, cmd

	case ConnectionErrorMsg:
		m.status = StatusClosed
		m.fatal = fmt.Sprintf("Unable to connect: %v. Press Esc to quit.", msg.Err)
		return m, nil

	case ReconnectingMsg:
		m.status = StatusReconnecting
		m.attempt, m.maxTries = msg.Attempt, msg.MaxTries
		return m, m.listenForEvents()

	case ReconnectSuccessMsg:
		m.status = StatusConnected
		return m, tea.Batch(m.notify("Reconnected"), m.listenForEvents())

	case TransportErrorMsg:
		return m, tea.Batch(m.notify("Connection error: "+msg.Err.Error()), m.listenForEvents())

	case ConnectionClosedMsg:
		m.status = StatusClosed
		return m, nil

	case clearNotificationMsg:
		if msg.id == m.notificationID {
			m.notification = ""
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		if m.conn != nil {
			m.conn.Close()
		}
		return m, tea.Quit

	case tea.KeyCtrlT:
		m.machine.ToggleDisplayMode()
		return m, nil

	case tea.KeyCtrlL:
		m.machine.ClearLog()
		return m, nil

	case tea.KeyEnter:
		if m.naming {
			return m, m.submitName()
		}
		change, err := m.machine.SubmitMessage(m.input.Value())
		if change.Has(chat.ChangeInput) {
			m.input.Reset()
		}
		if err != nil {
			return m, m.notify("Failed to send: " + err.Error())
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) submitName() tea.Cmd {
	name := strings.TrimSpace(m.input.Value())
	if name == "" {
		return nil
	}
	m.username = name
	m.naming = false
	m.input.Reset()
	m.input.CharLimit = 500
	m.input.Placeholder = "Type a message..."
	return m.connect()
}

// notify shows a temporary notification.
func (m *Model) notify(text string) tea.Cmd {
	m.notificationID++
	id := m.notificationID
	m.notification = text
	return tea.Tick(notificationTTL, func(time.Time) tea.Msg {
		return clearNotificationMsg{id: id}
	})
}

// onChange plays the message sound for new messages from someone else.
func (m *Model) onChange(change chat.Change, state chat.State) {
	if !change.Has(chat.ChangeLog) {
		return
	}
	n := len(state.Log)
	if n < m.seen {
		// cleared
		m.seen = n
		return
	}
	fromOthers := false
	for _, msg := range state.Log[m.seen:] {
		if msg.From != m.machine.Self() {
			fromOthers = true
		}
	}
	m.seen = n
	if fromOthers && m.sound != nil {
		m.sound.Play(sound.Message)
	}
}

// Status returns the connection status.
func (m *Model) Status() Status { return m.status }

// Machine returns the chat state machine the model drives.
func (m *Model) Machine() *chat.Machine { return m.machine }
