package notifications

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"playforge/internal/middleware"
	"playforge/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	presenceOnlineKey     = "presence:online"
	presenceSeenKeyPrefix = "presence:seen:"

	defaultSeenTTL        = 90 * time.Second
	defaultOfflineGrace   = 5 * time.Second
	defaultReaperInterval = time.Minute
)

// PresenceConfig tunes ConnectionManager. Zero values pick the defaults.
type PresenceConfig struct {
	SeenTTL        time.Duration
	OfflineGrace   time.Duration
	ReaperInterval time.Duration
	OnOnline       func(userID uint)
	OnOffline      func(userID uint)
}

// ConnectionManager tracks which users hold sockets. Local counts are
// authoritative for this instance; Redis holds the cluster view as a set of
// user IDs plus one expiring "seen" key per user that sockets refresh.
// A user going offline is only reported after OfflineGrace so quick
// reconnects do not flap.
type ConnectionManager struct {
	rdb *redis.Client
	cfg PresenceConfig

	mu       sync.Mutex
	counts   map[uint]int
	timers   map[uint]*time.Timer
	reported map[uint]bool // true once offline has been emitted

	stopOnce sync.Once
	stop     chan struct{}
}

func NewConnectionManager(rdb *redis.Client, cfg PresenceConfig) *ConnectionManager {
	if cfg.SeenTTL <= 0 {
		cfg.SeenTTL = defaultSeenTTL
	}
	if cfg.OfflineGrace <= 0 {
		cfg.OfflineGrace = defaultOfflineGrace
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = defaultReaperInterval
	}
	m := &ConnectionManager{
		rdb:      rdb,
		cfg:      cfg,
		counts:   make(map[uint]int),
		timers:   make(map[uint]*time.Timer),
		reported: make(map[uint]bool),
		stop:     make(chan struct{}),
	}
	if rdb != nil {
		go m.reapLoop()
	}
	return m
}

// SetCallbacks replaces the online/offline transition hooks.
func (m *ConnectionManager) SetCallbacks(onOnline, onOffline func(userID uint)) {
	m.mu.Lock()
	m.cfg.OnOnline = onOnline
	m.cfg.OnOffline = onOffline
	m.mu.Unlock()
}

func (m *ConnectionManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.mu.Lock()
		for id, t := range m.timers {
			t.Stop()
			delete(m.timers, id)
		}
		m.mu.Unlock()
	})
}

// Connected records a new socket for userID.
func (m *ConnectionManager) Connected(ctx context.Context, userID uint) {
	wasOnline := m.IsOnline(ctx, userID)

	m.mu.Lock()
	if t, ok := m.timers[userID]; ok {
		t.Stop()
		delete(m.timers, userID)
	}
	m.counts[userID]++
	m.reported[userID] = false
	onOnline := m.cfg.OnOnline
	m.mu.Unlock()

	m.Touch(ctx, userID)
	if !wasOnline && onOnline != nil {
		onOnline(userID)
	}
}

// Disconnected drops one socket for userID and schedules the offline check
// when it was the last one.
func (m *ConnectionManager) Disconnected(userID uint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n := m.counts[userID]; n > 1 {
		m.counts[userID] = n - 1
		return
	}
	delete(m.counts, userID)
	if t, ok := m.timers[userID]; ok {
		t.Stop()
	}
	m.timers[userID] = time.AfterFunc(m.cfg.OfflineGrace, func() {
		m.settleOffline(context.Background(), userID)
	})
}

// Touch refreshes the user's seen key.
func (m *ConnectionManager) Touch(ctx context.Context, userID uint) {
	if m.rdb == nil {
		return
	}
	id := strconv.FormatUint(uint64(userID), 10)
	_, err := m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, presenceOnlineKey, id)
		p.Set(ctx, presenceSeenKeyPrefix+id, time.Now().Unix(), m.cfg.SeenTTL)
		return nil
	})
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_touch").Inc()
		middleware.Logger.Debug("presence touch failed",
			slog.Uint64("user_id", uint64(userID)),
			slog.String("error", err.Error()))
	}
}

func (m *ConnectionManager) IsOnline(ctx context.Context, userID uint) bool {
	m.mu.Lock()
	local := m.counts[userID] > 0
	m.mu.Unlock()
	if local || m.rdb == nil {
		return local
	}
	return m.seen(ctx, userID)
}

// OnlineUserIDs is the cluster-wide online list, falling back to local
// sockets when Redis is unavailable.
func (m *ConnectionManager) OnlineUserIDs(ctx context.Context) []uint {
	ids := m.localIDs()
	if m.rdb == nil {
		return ids
	}
	members, err := m.rdb.SMembers(ctx, presenceOnlineKey).Result()
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_members").Inc()
		return ids
	}

	seen := make(map[uint]bool, len(ids)+len(members))
	for _, id := range ids {
		seen[id] = true
	}
	for _, raw := range members {
		id, ok := parseUserID(raw)
		if !ok || seen[id] || !m.seen(ctx, id) {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// OnlineCount is len(OnlineUserIDs).
func (m *ConnectionManager) OnlineCount(ctx context.Context) int {
	return len(m.OnlineUserIDs(ctx))
}

// reap removes users whose seen key has expired and reports them offline.
// Users with a socket on this instance are refreshed instead.
func (m *ConnectionManager) reap(ctx context.Context) {
	members, err := m.rdb.SMembers(ctx, presenceOnlineKey).Result()
	if err != nil {
		return
	}
	for _, raw := range members {
		id, ok := parseUserID(raw)
		if !ok {
			_ = m.rdb.SRem(ctx, presenceOnlineKey, raw).Err()
			continue
		}
		if m.seen(ctx, id) {
			continue
		}

		m.mu.Lock()
		local := m.counts[id] > 0
		m.mu.Unlock()
		if local {
			m.Touch(ctx, id)
			continue
		}
		_ = m.rdb.SRem(ctx, presenceOnlineKey, raw).Err()
		m.emitOffline(id)
	}
}

func (m *ConnectionManager) reapLoop() {
	ticker := time.NewTicker(m.cfg.ReaperInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.reap(context.Background())
		}
	}
}

func (m *ConnectionManager) settleOffline(ctx context.Context, userID uint) {
	m.mu.Lock()
	delete(m.timers, userID)
	reconnected := m.counts[userID] > 0
	m.mu.Unlock()
	if reconnected {
		return
	}

	if m.rdb != nil {
		// A live seen key means another instance may still hold a socket;
		// the reaper settles it once the key expires.
		if m.seen(ctx, userID) {
			return
		}
		_ = m.rdb.SRem(ctx, presenceOnlineKey, strconv.FormatUint(uint64(userID), 10)).Err()
	}
	m.emitOffline(userID)
}

func (m *ConnectionManager) emitOffline(userID uint) {
	m.mu.Lock()
	if m.reported[userID] {
		m.mu.Unlock()
		return
	}
	m.reported[userID] = true
	onOffline := m.cfg.OnOffline
	m.mu.Unlock()
	if onOffline != nil {
		onOffline(userID)
	}
}

func (m *ConnectionManager) seen(ctx context.Context, userID uint) bool {
	n, err := m.rdb.Exists(ctx, presenceSeenKeyPrefix+strconv.FormatUint(uint64(userID), 10)).Result()
	return err == nil && n > 0
}

func (m *ConnectionManager) localIDs() []uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint, 0, len(m.counts))
	for id, n := range m.counts {
		if n > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func parseUserID(raw string) (uint, bool) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}
