package notifications

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testEventuallyTimeout = time.Second
	testPollInterval      = 10 * time.Millisecond
)

func newTestHub(t *testing.T, rdb *redis.Client, grace time.Duration) (*Hub, *int32) {
	t.Helper()
	hub := NewHub(rdb)
	hub.presence.Stop()

	var offline int32
	hub.presence = NewConnectionManager(rdb, PresenceConfig{
		OfflineGrace: grace,
		OnOffline:    func(uint) { atomic.AddInt32(&offline, 1) },
	})
	t.Cleanup(func() { _ = hub.Shutdown(context.Background()) })
	return hub, &offline
}

func drain(c *Client) []string {
	var out []string
	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				return out
			}
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestHub_GracePeriodSuppressesOfflineOnRapidReconnect(t *testing.T) {
	hub, offline := newTestHub(t, nil, 40*time.Millisecond)

	clientA, err := hub.Register(10, nil)
	require.NoError(t, err)
	hub.UnregisterClient(clientA)
	_, err = hub.Register(10, nil)
	require.NoError(t, err)

	assert.Never(t, func() bool { return atomic.LoadInt32(offline) > 0 }, 20*testPollInterval, testPollInterval)
	assert.True(t, hub.IsOnline(10))
}

func TestHub_LastDisconnectTriggersOfflineOnce(t *testing.T) {
	hub, offline := newTestHub(t, nil, 30*time.Millisecond)

	clientA, err := hub.Register(15, nil)
	require.NoError(t, err)
	clientB, err := hub.Register(15, nil)
	require.NoError(t, err)

	hub.UnregisterClient(clientA)
	assert.Never(t, func() bool { return atomic.LoadInt32(offline) > 0 }, 10*testPollInterval, testPollInterval)

	hub.UnregisterClient(clientB)
	hub.UnregisterClient(clientB)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(offline) == 1 }, testEventuallyTimeout, testPollInterval)
	assert.False(t, hub.IsOnline(15))
	assert.Equal(t, 0, hub.ConnCount())
}

func TestHub_PerUserLimit(t *testing.T) {
	hub, _ := newTestHub(t, nil, time.Second)

	for i := 0; i < maxConnsPerUser; i++ {
		_, err := hub.Register(3, nil)
		require.NoError(t, err)
	}
	_, err := hub.Register(3, nil)
	assert.ErrorIs(t, err, ErrUserConnsMax)

	_, err = hub.Register(4, nil)
	assert.NoError(t, err, "limit is per user")
	assert.Equal(t, maxConnsPerUser+1, hub.ConnCount())
}

func TestHub_BroadcastTargetsUser(t *testing.T) {
	hub, _ := newTestHub(t, nil, time.Second)

	a1, _ := hub.Register(1, nil)
	a2, _ := hub.Register(1, nil)
	b, _ := hub.Register(2, nil)

	hub.Broadcast(1, "for-one")
	assert.Equal(t, []string{"for-one"}, drain(a1))
	assert.Equal(t, []string{"for-one"}, drain(a2))
	assert.Empty(t, drain(b))

	hub.BroadcastAll("everyone")
	assert.Equal(t, []string{"everyone"}, drain(a1))
	assert.Equal(t, []string{"everyone"}, drain(b))
}

func TestHub_StartWiringRoutesNotifierChannels(t *testing.T) {
	hub, _ := newTestHub(t, nil, time.Second)
	n := NewNotifier(nil)
	require.NoError(t, hub.StartWiring(context.Background(), n))

	a, _ := hub.Register(21, nil)
	b, _ := hub.Register(22, nil)

	require.NoError(t, n.PublishUser(context.Background(), 21, `{"type":"like"}`))
	require.NoError(t, n.PublishBroadcast(context.Background(), `{"type":"announcement"}`))

	assert.Equal(t, []string{`{"type":"like"}`, `{"type":"announcement"}`}, drain(a))
	assert.Equal(t, []string{`{"type":"announcement"}`}, drain(b))
}

func TestUserIDFromChannel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		channel string
		want    uint
		ok      bool
	}{
		{"notifications:user:42", 42, true},
		{"notifications:user:0", 0, false},
		{"notifications:user:abc", 0, false},
		{"voice:room:42", 0, false},
	}
	for _, tt := range tests {
		got, ok := userIDFromChannel(tt.channel)
		assert.Equal(t, tt.ok, ok, tt.channel)
		assert.Equal(t, tt.want, got, tt.channel)
	}
}

func TestHub_ShutdownClosesClientsAndRefusesNew(t *testing.T) {
	hub, _ := newTestHub(t, nil, time.Second)
	c, err := hub.Register(5, nil)
	require.NoError(t, err)

	require.NoError(t, hub.Shutdown(context.Background()))
	_, ok := <-c.Send
	assert.False(t, ok, "send channel closed")

	_, err = hub.Register(5, nil)
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.NotPanics(t, func() { hub.Broadcast(5, "late") })
}

func TestClient_TrySendDropsWhenFull(t *testing.T) {
	hub, _ := newTestHub(t, nil, time.Second)
	c := NewClient(hub, nil, 1)

	for i := 0; i < sendBuffer; i++ {
		c.TrySend([]byte("x"))
	}
	c.TrySend([]byte("overflow"))
	c.TrySend([]byte("overflow"))
	assert.EqualValues(t, 2, c.Dropped())
	msgs := drain(c)
	assert.Len(t, msgs, sendBuffer)
	assert.NotContains(t, msgs, "overflow")

	c.Close()
	assert.NotPanics(t, func() { c.TrySend([]byte("after close")) })
	assert.NotPanics(t, c.Close)
}

// scriptConn records written text frames; reads block until closed.
type scriptConn struct {
	mu     sync.Mutex
	frames []string
	done   chan struct{}
	once   sync.Once
}

func newScriptConn() *scriptConn { return &scriptConn{done: make(chan struct{})} }

func (s *scriptConn) ReadMessage() (int, []byte, error) {
	<-s.done
	return 0, nil, errors.New("closed")
}

func (s *scriptConn) WriteMessage(mt int, data []byte) error {
	if mt == gorillaws.TextMessage {
		s.mu.Lock()
		s.frames = append(s.frames, string(data))
		s.mu.Unlock()
	}
	return nil
}

func (s *scriptConn) SetReadLimit(int64)                {}
func (s *scriptConn) SetReadDeadline(time.Time) error   { return nil }
func (s *scriptConn) SetWriteDeadline(time.Time) error  { return nil }
func (s *scriptConn) SetPongHandler(func(string) error) {}
func (s *scriptConn) Close() error                      { s.once.Do(func() { close(s.done) }); return nil }

func (s *scriptConn) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func TestClient_WritePumpReportsDrops(t *testing.T) {
	hub, _ := newTestHub(t, nil, time.Second)
	conn := newScriptConn()
	c := NewClient(hub, conn, 3)

	for i := 0; i < sendBuffer+3; i++ {
		c.TrySend([]byte("x"))
	}
	done := make(chan struct{})
	go func() {
		c.WritePump()
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(conn.written()) >= sendBuffer+1 }, testEventuallyTimeout, testPollInterval)
	frames := conn.written()
	assert.Equal(t, `{"type":"messages_dropped","payload":{"reason":"buffer_full","count":3}}`, frames[1])
	assert.Zero(t, c.Dropped())

	c.Close()
	<-done
}

func TestHub_PumpsOverWebSocket(t *testing.T) {
	hub, _ := newTestHub(t, nil, time.Second)
	registered := make(chan struct{})

	upgrader := gorillaws.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client, err := hub.Register(7, conn)
		if err != nil {
			_ = conn.Close()
			return
		}
		client.IncomingHandler = func(c *Client, msg []byte) {
			c.TrySend(append([]byte("echo:"), msg...))
		}
		close(registered)
		go client.WritePump()
		client.ReadPump()
	}))
	defer srv.Close()

	ws, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()

	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("client never registered")
	}
	assert.True(t, hub.IsOnline(7))

	hub.Broadcast(7, `{"type":"hello"}`)
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"hello"}`, string(msg))

	require.NoError(t, ws.WriteMessage(gorillaws.TextMessage, []byte("hi")))
	_, msg, err = ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(msg))

	_ = ws.Close()
	assert.Eventually(t, func() bool { return hub.ConnCount() == 0 }, 2*time.Second, testPollInterval)
}
