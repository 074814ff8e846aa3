// Package chat maintains the client-side view of a group chat: who is online
// and what has been said.
//
// A Machine is not safe for concurrent use. It is driven from a single event
// loop that hands it one inbound frame or one user action at a time.
package chat

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/palemoky/chat-room/internal/protocol"
	"github.com/palemoky/chat-room/internal/protocol/codec"
)

// Sender 发送一帧到服务器
type Sender interface {
	Send(frame string) error
}

// Observer is notified after an operation that changed state.
type Observer func(change Change, state State)

// maxLoggedFrame caps how much of a rejected frame goes into the log.
const maxLoggedFrame = 256

// frameHandler 消息处理函数类型
type frameHandler func(m *Machine, env *protocol.Envelope) (Change, error)

// frameHandlers 消息处理器映射表
var frameHandlers = map[protocol.MessageType]frameHandler{
	protocol.MsgUsers:    (*Machine).handleUsers,
	protocol.MsgMessage:  (*Machine).handleMessage,
	protocol.MsgRegister: (*Machine).handleRegister,
}

// Machine 聊天状态机
type Machine struct {
	sender Sender
	logger *slog.Logger

	phase Phase
	self  string

	roster []Participant
	log    []protocol.ChatMessage
	mode   DisplayMode

	observers []Observer
}

// NewMachine creates a machine in the uninitialized phase with an empty
// roster, an empty log and light mode.
func NewMachine(sender Sender, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		sender: sender,
		logger: logger.With("component", "chat"),
	}
}

// Observe registers an observer. Observers run synchronously, in registration
// order, on the goroutine that drives the machine.
func (m *Machine) Observe(o Observer) {
	if o == nil {
		return
	}
	m.observers = append(m.observers, o)
}

// Phase returns the session phase.
func (m *Machine) Phase() Phase { return m.phase }

// Self returns the username passed to Initialize.
func (m *Machine) Self() string { return m.self }

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	return State{
		Roster:      slices.Clone(m.roster),
		Log:         slices.Clone(m.log),
		DisplayMode: m.mode,
	}
}

// Initialize registers self with the server. It sends one register frame and
// leaves roster and log untouched; the server answers with a users frame.
// Only the first call has any effect.
func (m *Machine) Initialize(self string) (Change, error) {
	if m.phase == PhaseActive {
		m.logger.Warn("initialize ignored, session already active",
			"self", m.self, "requested", self)
		return 0, ErrAlreadyActive
	}
	m.phase = PhaseActive
	m.self = self

	if err := m.send(codec.NewRegister(self)); err != nil {
		return 0, err
	}
	m.logger.Debug("register sent", "self", self)
	return 0, nil
}

// Handshake returns the register frame that resumes this session on a new
// connection. ok is false until Initialize has run.
func (m *Machine) Handshake() (frame string, ok bool) {
	if m.phase != PhaseActive {
		return "", false
	}
	frame, err := codec.Encode(codec.NewRegister(m.self))
	if err != nil {
		return "", false
	}
	return frame, true
}

// HandleInboundFrame applies one frame from the relay. Frames that cannot be
// decoded or are not meant for clients are logged and dropped; the returned
// error only classifies what happened and never needs handling.
func (m *Machine) HandleInboundFrame(raw string) (Change, error) {
	env, err := codec.Decode(raw)
	if err != nil {
		attrs := []any{"error", err, "frame", truncate(raw)}
		if env != nil {
			attrs = append(attrs, "message_type", string(env.Type))
		}
		m.logger.Warn("inbound frame discarded", attrs...)
		return 0, err
	}

	handler, ok := frameHandlers[env.Type]
	if !ok {
		// Known() and frameHandlers agree; kept for types added to one but not the other.
		m.logger.Warn("no handler for message type", "message_type", string(env.Type))
		return 0, fmt.Errorf("%w: unhandled messageType %q", ErrProtocol, env.Type)
	}

	change, err := handler(m, env)
	if err != nil {
		m.logger.Warn("inbound frame discarded",
			"error", err, "message_type", string(env.Type), "frame", truncate(raw))
		return 0, err
	}
	m.notify(change)
	return change, nil
}

// SubmitMessage sends text as a chat message. Whitespace-only text is a
// no-op. Otherwise the input buffer is always cleared, even if the send fails.
func (m *Machine) SubmitMessage(text string) (Change, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, nil
	}

	err := m.send(codec.NewChat(text))
	m.notify(ChangeInput)
	return ChangeInput, err
}

// ToggleDisplayMode flips between light and dark mode.
func (m *Machine) ToggleDisplayMode() Change {
	if m.mode == Light {
		m.mode = Dark
	} else {
		m.mode = Light
	}
	m.notify(ChangeDisplayMode)
	return ChangeDisplayMode
}

// ClearLog empties the message log. The roster is untouched.
func (m *Machine) ClearLog() Change {
	if len(m.log) == 0 {
		return 0
	}
	m.log = nil
	m.notify(ChangeLog)
	return ChangeLog
}

// handleUsers replaces the roster with the snapshot. Anyone missing from the
// snapshot has disconnected, even if their messages remain in the log.
func (m *Machine) handleUsers(env *protocol.Envelope) (Change, error) {
	if slices.EqualFunc(m.roster, env.DataArray, func(p Participant, name string) bool {
		return p.Name == name
	}) {
		return 0, nil
	}

	roster := make([]Participant, 0, len(env.DataArray))
	for _, name := range env.DataArray {
		roster = append(roster, NewParticipant(name))
	}
	m.roster = roster
	m.logger.Debug("roster replaced", "users", len(roster))
	return ChangeRoster, nil
}

func (m *Machine) handleMessage(env *protocol.Envelope) (Change, error) {
	msg, err := codec.DecodeChatMessage(env)
	if err != nil {
		return 0, err
	}
	m.log = append(m.log, msg)
	return ChangeLog, nil
}

// handleRegister drops register frames; they only travel client to server.
func (m *Machine) handleRegister(env *protocol.Envelope) (Change, error) {
	m.logger.Debug("ignoring inbound register frame", "data", env.DataString())
	return 0, nil
}

func (m *Machine) send(env *protocol.Envelope) error {
	if m.sender == nil {
		err := fmt.Errorf("%w: no transport", ErrTransport)
		m.logger.Warn("send failed", "message_type", string(env.Type), "error", err)
		return err
	}
	frame, err := codec.Encode(env)
	if err != nil {
		m.logger.Error("encode failed", "message_type", string(env.Type), "error", err)
		return err
	}
	if err := m.sender.Send(frame); err != nil {
		m.logger.Warn("send failed", "message_type", string(env.Type), "error", err)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

func (m *Machine) notify(change Change) {
	if change == 0 || len(m.observers) == 0 {
		return
	}
	state := m.Snapshot()
	for _, o := range m.observers {
		o(change, state)
	}
}

// truncate cuts frame to at most maxLoggedFrame bytes on a rune boundary.
func truncate(frame string) string {
	if len(frame) <= maxLoggedFrame {
		return frame
	}
	cut := maxLoggedFrame
	for cut > 0 && !utf8.RuneStart(frame[cut]) {
		cut--
	}
	return frame[:cut] + "…"
}
