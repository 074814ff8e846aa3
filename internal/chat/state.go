package chat

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/palemoky/chat-room/internal/palette"
	"github.com/palemoky/chat-room/internal/protocol"
)

// DisplayMode is the local light/dark preference. It never reaches the wire.
type DisplayMode int

const (
	Light DisplayMode = iota
	Dark
)

func (d DisplayMode) String() string {
	if d == Dark {
		return "dark"
	}
	return "light"
}

// Phase 会话阶段
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseActive
)

func (p Phase) String() string {
	if p == PhaseActive {
		return "active"
	}
	return "uninitialized"
}

// Participant 在线用户
type Participant struct {
	Name  string
	Color string
}

// NewParticipant derives the participant's color from its name.
func NewParticipant(name string) Participant {
	return Participant{Name: name, Color: palette.ColorFor(name)}
}

// Initial returns the upper-cased first letter of the name, or "?".
func (p Participant) Initial() string {
	return initial(p.Name)
}

func initial(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if size == 0 {
		return "?"
	}
	return strings.ToUpper(string(r))
}

// State is a read-only snapshot of the chat view state.
type State struct {
	Roster      []Participant
	Log         []protocol.ChatMessage
	DisplayMode DisplayMode
}

// ColorOf returns the color for a message sender: the roster entry when the
// sender is online, otherwise the color computed from the name.
func (s State) ColorOf(from string) string {
	if i := slices.IndexFunc(s.Roster, func(p Participant) bool { return p.Name == from }); i >= 0 {
		return s.Roster[i].Color
	}
	return palette.ColorFor(from)
}

// InitialOf returns the badge letter for a sender name.
func (s State) InitialOf(from string) string {
	return initial(from)
}

func (s State) UserCount() int    { return len(s.Roster) }
func (s State) MessageCount() int { return len(s.Log) }

// Change 标记一次操作改变了哪些状态
type Change uint8

const (
	ChangeRoster Change = 1 << iota
	ChangeLog
	ChangeDisplayMode
	// ChangeInput asks the rendering layer to clear the input buffer.
	ChangeInput
)

// Has reports whether every bit of flag is set.
func (c Change) Has(flag Change) bool {
	return flag != 0 && c&flag == flag
}

func (c Change) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		flag Change
		name string
	}{
		{ChangeRoster, "roster"},
		{ChangeLog, "log"},
		{ChangeDisplayMode, "display_mode"},
		{ChangeInput, "input"},
	} {
		if c.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}
