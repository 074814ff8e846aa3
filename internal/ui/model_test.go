package ui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/palemoky/chat-room/internal/chat"
	"github.com/palemoky/chat-room/internal/protocol/codec"
	"github.com/palemoky/chat-room/internal/relay"
	"github.com/palemoky/chat-room/internal/sound"
	"github.com/palemoky/chat-room/internal/testutil"
	"github.com/palemoky/chat-room/internal/transport"
)

type harness struct {
	model  *Model
	sender *testutil.RecordingSender
	conn   *testutil.MockConn
	player *testutil.RecordingPlayer
}

func newHarness(t *testing.T, username string) *harness {
	t.Helper()
	logger, _ := testutil.NewLogger()
	sender := &testutil.RecordingSender{}
	conn := &testutil.MockConn{}
	conn.On("SetHandshake", mock.Anything).Return().Maybe()
	player := &testutil.RecordingPlayer{}

	m := New(chat.NewMachine(sender, logger), Options{
		Conn:     conn,
		Sound:    player,
		Username: username,
	})
	return &harness{model: m, sender: sender, conn: conn, player: player}
}

func (h *harness) send(msg tea.Msg) tea.Cmd {
	_, cmd := h.model.Update(msg)
	return cmd
}

func (h *harness) connected(t *testing.T) {
	t.Helper()
	h.send(ConnectedMsg{})
	require.Equal(t, StatusConnected, h.model.Status())
}

func (h *harness) frame(t *testing.T, raw string) {
	t.Helper()
	h.send(frameMsg{frame: raw})
}

func (h *harness) chatFrame(t *testing.T, from, text string) {
	t.Helper()
	env, err := codec.NewChatBroadcast(from, text)
	require.NoError(t, err)
	h.frame(t, codec.MustEncode(env))
}

func (h *harness) typeText(s string) {
	h.model.input.SetValue(s)
}

func TestModel_ConnectedRegistersOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")

	h.connected(t)
	assert.Equal(t, []string{`{"messageType":"register","data":"alice"}`}, h.sender.Sent())
	assert.Equal(t, chat.PhaseActive, h.model.Machine().Phase())
	h.conn.AssertCalled(t, "SetHandshake", `{"messageType":"register","data":"alice"}`)
	h.conn.AssertNumberOfCalls(t, "SetHandshake", 1)

	// Reconnects do not register again.
	h.send(ReconnectingMsg{Attempt: 1, MaxTries: 5})
	assert.Equal(t, StatusReconnecting, h.model.Status())
	h.send(ReconnectSuccessMsg{})
	h.connected(t)
	assert.Len(t, h.sender.Sent(), 1)
	h.conn.AssertNumberOfCalls(t, "SetHandshake", 1)
}

func TestModel_TransportErrorNotifies(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	h.connected(t)

	cmd := h.send(TransportErrorMsg{Err: errors.New("connection reset by peer")})
	assert.NotNil(t, cmd)
	assert.Equal(t, StatusConnected, h.model.Status())
	assert.Contains(t, h.model.View(), "Connection error: connection reset by peer")
}

func TestModel_InitConnects(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	h.conn.On("Connect").Return(nil).Once()

	cmd := h.model.connect()
	require.NotNil(t, cmd)
	assert.Equal(t, ConnectedMsg{}, cmd())
	h.conn.AssertExpectations(t)
}

func TestModel_ConnectFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	h.conn.On("Connect").Return(errors.New("refused")).Once()

	msg := h.model.connect()()
	require.IsType(t, ConnectionErrorMsg{}, msg)
	h.send(msg)

	assert.Equal(t, StatusClosed, h.model.Status())
	assert.Contains(t, h.model.View(), "Unable to connect")
	assert.Contains(t, h.model.View(), "refused")
}

func TestModel_NamePrompt(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "  ")
	assert.Contains(t, h.model.View(), "Enter your name")

	// blank names are ignored
	h.send(tea.KeyMsg{Type: tea.KeyEnter})
	assert.True(t, h.model.naming)

	h.conn.On("Connect").Return(nil).Once()
	h.typeText("  carol ")
	cmd := h.send(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.False(t, h.model.naming)
	assert.Equal(t, "", h.model.input.Value())

	h.send(cmd())
	assert.Equal(t, []string{`{"messageType":"register","data":"carol"}`}, h.sender.Sent())
	h.conn.AssertExpectations(t)
}

func TestModel_SubmitMessage(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	h.connected(t)

	h.typeText("  hello  ")
	h.send(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, `{"messageType":"message","data":"hello"}`, h.sender.Sent()[1])
	assert.Equal(t, "", h.model.input.Value())

	// whitespace only: nothing sent, input kept
	h.typeText("   ")
	h.send(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Len(t, h.sender.Sent(), 2)
	assert.Equal(t, "   ", h.model.input.Value())
}

func TestModel_SubmitFailureNotifies(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	h.connected(t)
	h.sender.Err = transport.ErrBufferFull

	h.typeText("hello")
	cmd := h.send(tea.KeyMsg{Type: tea.KeyEnter})
	assert.NotNil(t, cmd)
	assert.Equal(t, "", h.model.input.Value(), "input is cleared even when the send fails")
	assert.Contains(t, h.model.View(), "Failed to send")

	h.send(clearNotificationMsg{id: h.model.notificationID})
	assert.NotContains(t, h.model.View(), "Failed to send")
}

func TestModel_StaleNotificationClearIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")

	h.model.notify("first")
	h.model.notify("second")
	h.send(clearNotificationMsg{id: 1})
	assert.Equal(t, "second", h.model.notification)
}

func TestModel_InboundFrames(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	h.connected(t)

	h.frame(t, codec.MustEncode(codec.NewUsers([]string{"alice", "bob"})))
	h.chatFrame(t, "bob", "hi alice")
	h.frame(t, "garbage")

	state := h.model.Machine().Snapshot()
	assert.Len(t, state.Roster, 2)
	require.Len(t, state.Log, 1)
	assert.Equal(t, "hi alice", state.Log[0].Message)
}

func TestModel_SoundForOthersOnly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	h.connected(t)

	h.chatFrame(t, "alice", "my own echo")
	assert.Empty(t, h.player.Played())

	h.chatFrame(t, "bob", "hello")
	assert.Equal(t, []string{sound.Message}, h.player.Played())

	h.send(tea.KeyMsg{Type: tea.KeyCtrlL})
	assert.Empty(t, h.model.Machine().Snapshot().Log)
	assert.Len(t, h.player.Played(), 1, "clearing the log plays nothing")

	h.chatFrame(t, "bob", "again")
	assert.Len(t, h.player.Played(), 2)
}

func TestModel_ToggleAndClearKeys(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "alice")
	h.connected(t)
	h.chatFrame(t, "bob", "hi")

	h.send(tea.KeyMsg{Type: tea.KeyCtrlT})
	assert.Equal(t, chat.Dark, h.model.Machine().Snapshot().DisplayMode)
	h.send(tea.KeyMsg{Type: tea.KeyCtrlT})
	assert.Equal(t, chat.Light, h.model.Machine().Snapshot().DisplayMode)

	h.send(tea.KeyMsg{Type: tea.KeyCtrlL})
	assert.Empty(t, h.model.Machine().Snapshot().Log)
}

func TestModel_QuitClosesConnection(t *testing.T) {
	t.Parallel()

	for _, key := range []tea.KeyType{tea.KeyCtrlC, tea.KeyEsc} {
		h := newHarness(t, "alice")
		h.conn.On("Close").Return().Once()

		cmd := h.send(tea.KeyMsg{Type: key})
		require.NotNil(t, cmd)
		assert.Equal(t, tea.Quit(), cmd())
		h.conn.AssertExpectations(t)
	}
}

func TestModel_ListenersFollowChannels(t *testing.T) {
	t.Parallel()
	logger, _ := testutil.NewLogger()
	r := relay.NewLocal(4)
	events := make(chan tea.Msg, 1)

	m := New(chat.NewMachine(nil, logger), Options{Frames: r.Frames(), Events: events, Username: "alice"})

	require.NoError(t, r.Publish("frame-1"))
	assert.Equal(t, frameMsg{frame: "frame-1"}, m.listenForFrames()())

	events <- ReconnectingMsg{Attempt: 2, MaxTries: 5}
	assert.Equal(t, ReconnectingMsg{Attempt: 2, MaxTries: 5}, m.listenForEvents()())

	r.Close()
	assert.Equal(t, framesClosedMsg{}, m.listenForFrames()())
}

func TestBind(t *testing.T) {
	t.Parallel()
	logger, _ := testutil.NewLogger()
	c := transport.NewClient("ws://127.0.0.1:1/ws", transport.Options{Logger: logger})
	r := relay.NewLocal(4)
	events := Bind(c, r)

	c.OnFrame("a")
	c.OnFrame("b")
	assert.Equal(t, "a", <-r.Frames())
	assert.Equal(t, "b", <-r.Frames())

	readErr := errors.New("read: connection reset")
	c.OnError(readErr)
	c.OnReconnecting(1, 3)
	c.OnReconnect()
	c.OnClose()

	want := []tea.Msg{TransportErrorMsg{Err: readErr}, ReconnectingMsg{Attempt: 1, MaxTries: 3}, ReconnectSuccessMsg{}, ConnectionClosedMsg{}}
	for _, w := range want {
		select {
		case got := <-events:
			assert.Equal(t, w, got)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	_, ok := <-r.Frames()
	assert.False(t, ok, "relay closes with the connection")
}
