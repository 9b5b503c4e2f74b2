package notifications

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"playforge/internal/middleware"
	"playforge/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	maxConnsPerUser = 12
	maxTotalConns   = 10000

	hubName = "notifications"
)

var (
	ErrServerFull   = errors.New("server connection limit reached")
	ErrUserConnsMax = errors.New("user connection limit reached")
	ErrHubClosed    = errors.New("hub is shutting down")
)

// Hub fans realtime events out to every socket a user holds on this
// instance.
type Hub struct {
	mu     sync.RWMutex
	conns  map[uint]map[*Client]struct{}
	total  int
	closed bool

	presence *ConnectionManager
}

// NewHub creates a Hub; rdb may be nil, in which case presence is local only.
func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		conns:    make(map[uint]map[*Client]struct{}),
		presence: NewConnectionManager(rdb, PresenceConfig{}),
	}
}

func (h *Hub) Name() string { return hubName }

// Presence exposes the hub's connection manager.
func (h *Hub) Presence() *ConnectionManager { return h.presence }

// Register adds a socket for userID. The caller runs the client's pumps.
func (h *Hub) Register(userID uint, conn Conn) (*Client, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if h.total >= maxTotalConns {
		h.mu.Unlock()
		return nil, ErrServerFull
	}
	m := h.conns[userID]
	if len(m) >= maxConnsPerUser {
		h.mu.Unlock()
		return nil, ErrUserConnsMax
	}
	if m == nil {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}

	client := NewClient(h, conn, userID)
	client.OnActivity = func(uid uint) { h.presence.Touch(context.Background(), uid) }
	m[client] = struct{}{}
	h.total++
	h.mu.Unlock()

	observability.WebSocketConnectionsTotal.WithLabelValues(hubName).Inc()
	h.presence.Connected(context.Background(), userID)
	return client, nil
}

func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	removed := false
	if m, ok := h.conns[client.UserID]; ok {
		if _, exists := m[client]; exists {
			delete(m, client)
			h.total--
			removed = true
		}
		if len(m) == 0 {
			delete(h.conns, client.UserID)
		}
	}
	h.mu.Unlock()

	if removed {
		client.Close()
		observability.WebSocketConnectionsTotal.WithLabelValues(hubName).Dec()
		h.presence.Disconnected(client.UserID)
	}
}

// Broadcast sends message to every socket of userID on this instance.
func (h *Hub) Broadcast(userID uint, message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	data := []byte(message)
	for c := range h.conns[userID] {
		c.TrySend(data)
	}
}

// BroadcastAll sends message to every socket on this instance.
func (h *Hub) BroadcastAll(message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	data := []byte(message)
	for _, clients := range h.conns {
		for c := range clients {
			c.TrySend(data)
		}
	}
}

func (h *Hub) IsOnline(userID uint) bool {
	return h.presence.IsOnline(context.Background(), userID)
}

// ConnCount reports sockets held on this instance.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// StartWiring subscribes the hub to the notifier's user and broadcast
// channels.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartUserSubscriber(ctx, func(channel, payload string) {
		if channel == broadcastChannel {
			h.BroadcastAll(payload)
			return
		}
		userID, ok := userIDFromChannel(channel)
		if !ok {
			middleware.Logger.Warn("invalid notification channel", slog.String("channel", channel))
			return
		}
		h.Broadcast(userID, payload)
	})
}

func userIDFromChannel(channel string) (uint, bool) {
	raw, ok := strings.CutPrefix(channel, userChannelPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// Shutdown stops every client's write pump, which sends a close frame, and
// refuses new registrations.
func (h *Hub) Shutdown(_ context.Context) error {
	h.presence.Stop()

	h.mu.Lock()
	h.closed = true
	conns := h.conns
	h.conns = make(map[uint]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	n := 0
	for _, clients := range conns {
		for c := range clients {
			c.Close()
			observability.WebSocketConnectionsTotal.WithLabelValues(hubName).Dec()
			n++
		}
	}
	middleware.Logger.Info("notification hub closed", slog.Int("connections", n))
	return nil
}
