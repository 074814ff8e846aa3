package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palemoky/chat-room/internal/chat"
	"github.com/palemoky/chat-room/internal/config"
	"github.com/palemoky/chat-room/internal/protocol"
	"github.com/palemoky/chat-room/internal/protocol/codec"
	"github.com/palemoky/chat-room/internal/server/broker"
	"github.com/palemoky/chat-room/internal/testutil"
	"github.com/palemoky/chat-room/internal/transport"
)

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:              "127.0.0.1",
		MaxMessageSize:    4096,
		MaxConnections:    10,
		MessagesPerSecond: 100,
	}
}

func startServer(t *testing.T, cfg config.ServerConfig, b broker.Broker) (*Server, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger, _ := testutil.NewLogger()
	s := New(cfg, b, logger)
	require.NoError(t, s.StartFanout(ctx))

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, env *protocol.Envelope) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(codec.MustEncode(env))))
}

func read(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)

	env, err := codec.Decode(string(data))
	require.NoError(t, err)
	return env
}

func readUsers(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	env := read(t, conn)
	require.Equal(t, protocol.MsgUsers, env.Type)
	return env.DataArray
}

func readChat(t *testing.T, conn *websocket.Conn) protocol.ChatMessage {
	t.Helper()
	env := read(t, conn)
	require.Equal(t, protocol.MsgMessage, env.Type)
	msg, err := codec.DecodeChatMessage(env)
	require.NoError(t, err)
	return msg
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	_, ts := startServer(t, testConfig(), broker.NewMemory())

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RegisterAndChat(t *testing.T) {
	t.Parallel()
	_, ts := startServer(t, testConfig(), broker.NewMemory())

	alice := dial(t, ts)
	send(t, alice, codec.NewRegister("alice"))
	assert.Equal(t, []string{"alice"}, readUsers(t, alice))

	bob := dial(t, ts)
	send(t, bob, codec.NewRegister("bob"))
	assert.Equal(t, []string{"alice", "bob"}, readUsers(t, alice))
	assert.Equal(t, []string{"alice", "bob"}, readUsers(t, bob))

	send(t, alice, codec.NewChat("  hi bob  "))
	want := protocol.ChatMessage{From: "alice", Message: "hi bob"}
	assert.Equal(t, want, readChat(t, alice))
	assert.Equal(t, want, readChat(t, bob))
}

func TestServer_DisconnectUpdatesRoster(t *testing.T) {
	t.Parallel()
	s, ts := startServer(t, testConfig(), broker.NewMemory())

	alice := dial(t, ts)
	send(t, alice, codec.NewRegister("alice"))
	readUsers(t, alice)

	bob := dial(t, ts)
	send(t, bob, codec.NewRegister("bob"))
	readUsers(t, alice)
	readUsers(t, bob)

	require.NoError(t, bob.Close())
	assert.Equal(t, []string{"alice"}, readUsers(t, alice))
	assert.Eventually(t, func() bool { return s.OnlineCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_DropsBadFrames(t *testing.T) {
	t.Parallel()
	_, ts := startServer(t, testConfig(), broker.NewMemory())

	conn := dial(t, ts)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"messageType":"typing"}`)))
	send(t, conn, codec.NewUsers([]string{"mallory"}))
	// message before register
	send(t, conn, codec.NewChat("hello?"))
	send(t, conn, codec.NewRegister("   "))

	// The connection survives and the next valid frame is answered first.
	send(t, conn, codec.NewRegister("carol"))
	assert.Equal(t, []string{"carol"}, readUsers(t, conn))

	send(t, conn, codec.NewChat("   "))
	send(t, conn, codec.NewChat("real"))
	assert.Equal(t, protocol.ChatMessage{From: "carol", Message: "real"}, readChat(t, conn))
}

func TestServer_ReRegisterRenames(t *testing.T) {
	t.Parallel()
	_, ts := startServer(t, testConfig(), broker.NewMemory())

	conn := dial(t, ts)
	send(t, conn, codec.NewRegister("dave"))
	assert.Equal(t, []string{"dave"}, readUsers(t, conn))

	send(t, conn, codec.NewRegister("dave"))
	send(t, conn, codec.NewRegister("david"))
	assert.Equal(t, []string{"david"}, readUsers(t, conn))
}

func TestServer_SameNameTwice(t *testing.T) {
	t.Parallel()
	_, ts := startServer(t, testConfig(), broker.NewMemory())

	first := dial(t, ts)
	send(t, first, codec.NewRegister("erin"))
	readUsers(t, first)

	second := dial(t, ts)
	send(t, second, codec.NewRegister("erin"))
	assert.Equal(t, []string{"erin"}, readUsers(t, first))
	assert.Equal(t, []string{"erin"}, readUsers(t, second))

	require.NoError(t, second.Close())
	assert.Equal(t, []string{"erin"}, readUsers(t, first))
}

func TestServer_RateLimit(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MessagesPerSecond = 1
	_, ts := startServer(t, cfg, broker.NewMemory())

	conn := dial(t, ts)
	send(t, conn, codec.NewRegister("frank"))
	readUsers(t, conn)

	send(t, conn, codec.NewChat("one"))
	send(t, conn, codec.NewChat("two"))
	assert.Equal(t, "one", readChat(t, conn).Message)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "second message should have been dropped")
}

func TestServer_RejectsOrigin(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://chat.example.com"}
	_, ts := startServer(t, cfg, broker.NewMemory())

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://chat.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestServer_ConnectionLimit(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MaxConnections = 1
	_, ts := startServer(t, cfg, broker.NewMemory())

	conn := dial(t, ts)
	send(t, conn, codec.NewRegister("gina"))
	readUsers(t, conn)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_RedisInstancesShareRoom(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	newBroker := func() broker.Broker {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		b := broker.NewRedis(client, broker.RedisOptions{Channel: "chat:frames", PresenceKey: "chat:presence"})
		t.Cleanup(func() { _ = b.Close() })
		return b
	}

	_, tsA := startServer(t, testConfig(), newBroker())
	_, tsB := startServer(t, testConfig(), newBroker())

	alice := dial(t, tsA)
	send(t, alice, codec.NewRegister("alice"))
	assert.Equal(t, []string{"alice"}, readUsers(t, alice))

	bob := dial(t, tsB)
	send(t, bob, codec.NewRegister("bob"))
	assert.Equal(t, []string{"alice", "bob"}, readUsers(t, alice))
	assert.Equal(t, []string{"alice", "bob"}, readUsers(t, bob))

	send(t, bob, codec.NewChat("across instances"))
	want := protocol.ChatMessage{From: "bob", Message: "across instances"}
	assert.Equal(t, want, readChat(t, alice))
	assert.Equal(t, want, readChat(t, bob))
}

// rejectingBroker fails Join for one name.
type rejectingBroker struct {
	broker.Broker
	reject string
}

func (b rejectingBroker) Join(ctx context.Context, name string) error {
	if name == b.reject {
		return errors.New("presence unavailable")
	}
	return b.Broker.Join(ctx, name)
}

func TestServer_FailedJoinLeavesConnectionUnregistered(t *testing.T) {
	t.Parallel()
	s, ts := startServer(t, testConfig(), rejectingBroker{Broker: broker.NewMemory(), reject: "ghost"})

	conn := dial(t, ts)
	send(t, conn, codec.NewRegister("ghost"))
	// Still unregistered, so this message is dropped.
	send(t, conn, codec.NewChat("boo"))

	send(t, conn, codec.NewRegister("henry"))
	assert.Equal(t, []string{"henry"}, readUsers(t, conn))

	send(t, conn, codec.NewChat("hi"))
	assert.Equal(t, protocol.ChatMessage{From: "henry", Message: "hi"}, readChat(t, conn))
	assert.NotNil(t, findClient(s, "henry"))
	assert.Nil(t, findClient(s, "ghost"))
}

func findClient(s *Server, name string) *Client {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func TestServer_ClientResumesAfterReconnect(t *testing.T) {
	t.Parallel()
	s, ts := startServer(t, testConfig(), broker.NewMemory())

	bob := dial(t, ts)
	send(t, bob, codec.NewRegister("bob"))
	assert.Equal(t, []string{"bob"}, readUsers(t, bob))

	logger, _ := testutil.NewLogger()
	conn := transport.NewClient("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", transport.Options{
		MaxReconnectAttempts: 3,
		ReconnectInterval:    10 * time.Millisecond,
		Logger:               logger,
	})
	reconnected := make(chan struct{}, 1)
	conn.OnReconnect = func() { reconnected <- struct{}{} }
	require.NoError(t, conn.Connect())
	t.Cleanup(conn.Close)

	alice := chat.NewMachine(conn, logger)
	_, err := alice.Initialize("alice")
	require.NoError(t, err)
	handshake, ok := alice.Handshake()
	require.True(t, ok)
	conn.SetHandshake(handshake)
	assert.Equal(t, []string{"bob", "alice"}, readUsers(t, bob))

	// Drop alice's socket from the server side without a close frame.
	dropped := findClient(s, "alice")
	require.NotNil(t, dropped)
	_ = dropped.conn.Close()
	assert.Equal(t, []string{"bob"}, readUsers(t, bob))

	select {
	case <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("client did not reconnect")
	}
	assert.Equal(t, []string{"bob", "alice"}, readUsers(t, bob))

	_, err = alice.SubmitMessage("hello after reconnect")
	require.NoError(t, err)
	assert.Equal(t, protocol.ChatMessage{From: "alice", Message: "hello after reconnect"}, readChat(t, bob))
}

// reapingBroker reports one roster change on the first heartbeat after
// dropping a name, as a shared backend does when another instance dies.
type reapingBroker struct {
	*broker.Memory
	stale string
	once  sync.Once
}

func (b *reapingBroker) Heartbeat(ctx context.Context) (bool, error) {
	changed := false
	b.once.Do(func() {
		changed = b.Memory.Leave(ctx, b.stale) == nil
	})
	return changed, nil
}

func TestServer_HeartbeatRepublishesRoster(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	b := &reapingBroker{Memory: broker.NewMemory(), stale: "zombie"}
	require.NoError(t, b.Join(ctx, "zombie"))

	logger, _ := testutil.NewLogger()
	s := New(testConfig(), b, logger)
	s.heartbeat = 20 * time.Millisecond
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	conn := dial(t, ts)
	require.NoError(t, s.StartFanout(ctx))
	send(t, conn, codec.NewRegister("ivy"))

	// The heartbeat may land before or after the register roster.
	var users []string
	for i := 0; i < 3; i++ {
		if users = readUsers(t, conn); assert.ObjectsAreEqual([]string{"ivy"}, users) {
			break
		}
	}
	assert.Equal(t, []string{"ivy"}, users)
}
