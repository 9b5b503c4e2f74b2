package notifications

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionManager_RedisPresence(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	var online, offline int32
	m := NewConnectionManager(rdb, PresenceConfig{
		SeenTTL:        30 * time.Second,
		OfflineGrace:   10 * time.Millisecond,
		ReaperInterval: time.Hour,
		OnOnline:       func(uint) { atomic.AddInt32(&online, 1) },
		OnOffline:      func(uint) { atomic.AddInt32(&offline, 1) },
	})
	defer m.Stop()

	m.Connected(ctx, 8)
	m.Connected(ctx, 8)
	assert.Equal(t, int32(1), atomic.LoadInt32(&online), "second socket is not a transition")
	assert.True(t, mr.Exists("presence:seen:8"))
	ok, err := mr.SIsMember(presenceOnlineKey, "8")
	require.NoError(t, err)
	assert.True(t, ok)

	// Seen by another instance only.
	require.NoError(t, rdb.SAdd(ctx, presenceOnlineKey, "9").Err())
	require.NoError(t, rdb.Set(ctx, "presence:seen:9", "1", 30*time.Second).Err())
	assert.ElementsMatch(t, []uint{8, 9}, m.OnlineUserIDs(ctx))
	assert.Equal(t, 2, m.OnlineCount(ctx))
	assert.True(t, m.IsOnline(ctx, 9))

	// While the seen key lives the user stays online after disconnect.
	m.Disconnected(8)
	m.Disconnected(8)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&offline))
	assert.True(t, m.IsOnline(ctx, 8))

	mr.FastForward(31 * time.Second)
	m.reap(ctx)
	assert.Equal(t, int32(2), atomic.LoadInt32(&offline), "both expired users reported")
	assert.Empty(t, m.OnlineUserIDs(ctx))

	m.reap(ctx)
	assert.Equal(t, int32(2), atomic.LoadInt32(&offline), "offline is reported once")
}

func TestConnectionManager_ReapKeepsLocalSockets(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	var offline int32
	m := NewConnectionManager(rdb, PresenceConfig{
		SeenTTL:        time.Second,
		ReaperInterval: time.Hour,
		OnOffline:      func(uint) { atomic.AddInt32(&offline, 1) },
	})
	defer m.Stop()

	m.Connected(ctx, 3)
	require.NoError(t, rdb.SAdd(ctx, presenceOnlineKey, "garbage", "5").Err())
	mr.FastForward(2 * time.Second)
	m.reap(ctx)

	assert.Equal(t, int32(1), atomic.LoadInt32(&offline), "only the remote user goes offline")
	assert.True(t, m.IsOnline(ctx, 3))

	members, err := mr.Members(presenceOnlineKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, members, "local socket stays in cluster presence")
	assert.True(t, mr.Exists(presenceSeenKeyPrefix+"3"), "seen key is refreshed")
}

func TestConnectionManager_LocalOnly(t *testing.T) {
	var offline int32
	m := NewConnectionManager(nil, PresenceConfig{
		OfflineGrace: 10 * time.Millisecond,
		OnOffline:    func(uint) { atomic.AddInt32(&offline, 1) },
	})
	defer m.Stop()
	ctx := context.Background()

	m.Connected(ctx, 1)
	assert.Equal(t, []uint{1}, m.OnlineUserIDs(ctx))
	m.Disconnected(1)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&offline) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, m.IsOnline(ctx, 1))
}
