package notifications

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	mu     sync.Mutex
	frames []VoiceSignal
	closed bool
}

func (p *fakePeer) WriteMessage(_ int, data []byte) error {
	var sig VoiceSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return err
	}
	p.mu.Lock()
	p.frames = append(p.frames, sig)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) ofType(typ string) []VoiceSignal {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []VoiceSignal
	for _, f := range p.frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type roomUsers struct {
	Users []struct {
		UserID    uint   `json:"user_id"`
		Username  string `json:"username"`
		Initiator bool   `json:"initiator"`
	} `json:"users"`
	Initiator  bool        `json:"initiator"`
	ICEServers []ICEServer `json:"ice_servers"`
}

func decodeRoomUsers(t *testing.T, sig VoiceSignal) roomUsers {
	t.Helper()
	var ru roomUsers
	require.NoError(t, json.Unmarshal(sig.Payload, &ru))
	return ru
}

func errorMessage(t *testing.T, sig VoiceSignal) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(sig.Payload, &body))
	return body["message"]
}

var testICE = ICEServers("stun:stun.example.com:3478", "turn:turn.example.com:3478", "u", "p")

func TestICEServers(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []ICEServer{
		{URLs: []string{"stun:a", "stun:b"}},
		{URLs: []string{"turn:t"}, Username: "user", Credential: "secret"},
	}, ICEServers(" stun:a, stun:b ,", "turn:t", "user", "secret"))
	assert.Empty(t, ICEServers("", "", "", ""))
}

func TestVoiceHub_JoinAssignsInitiator(t *testing.T) {
	hub := NewVoiceHub(VoiceConfig{ICEServers: testICE}, nil, nil)
	ctx := context.Background()
	high, low := &fakePeer{}, &fakePeer{}

	require.NoError(t, hub.Join(ctx, "room-1", 5, "five", high))
	first := high.ofType("room_users")
	require.Len(t, first, 1)
	ru := decodeRoomUsers(t, first[0])
	assert.Empty(t, ru.Users)
	assert.False(t, ru.Initiator)
	assert.Equal(t, testICE, ru.ICEServers)

	require.NoError(t, hub.Join(ctx, "room-1", 3, "three", low))
	ru = decodeRoomUsers(t, low.ofType("room_users")[0])
	require.Len(t, ru.Users, 1)
	assert.Equal(t, uint(5), ru.Users[0].UserID)
	assert.Equal(t, "five", ru.Users[0].Username)
	assert.True(t, ru.Users[0].Initiator, "lower id offers")
	assert.True(t, ru.Initiator)

	joined := high.ofType("user_joined")
	require.Len(t, joined, 1)
	assert.Equal(t, uint(3), joined[0].UserID)
	assert.Equal(t, "three", joined[0].Username)
	assert.Empty(t, low.ofType("user_joined"), "joiner is not told about itself")
	assert.Equal(t, 2, hub.RoomSize("room-1"))
}

func TestVoiceHub_RoomCapacity(t *testing.T) {
	hub := NewVoiceHub(VoiceConfig{}, nil, nil)
	ctx := context.Background()

	require.NoError(t, hub.Join(ctx, "r", 1, "a", &fakePeer{}))
	require.NoError(t, hub.Join(ctx, "r", 2, "b", &fakePeer{}))

	third := &fakePeer{}
	err := hub.Join(ctx, "r", 3, "c", third)
	assert.ErrorIs(t, err, ErrRoomFull)
	errs := third.ofType("error")
	require.Len(t, errs, 1)
	assert.Equal(t, "room is full", errorMessage(t, errs[0]))
	assert.Equal(t, 2, hub.RoomSize("r"))

	bigger := NewVoiceHub(VoiceConfig{MaxPeers: 3}, nil, nil)
	for i := uint(1); i <= 3; i++ {
		require.NoError(t, bigger.Join(ctx, "r", i, "p", &fakePeer{}))
	}
}

func TestVoiceHub_RelayStaysInRoom(t *testing.T) {
	hub := NewVoiceHub(VoiceConfig{}, nil, nil)
	ctx := context.Background()
	a, b, outsider := &fakePeer{}, &fakePeer{}, &fakePeer{}
	require.NoError(t, hub.Join(ctx, "match", 1, "alice", a))
	require.NoError(t, hub.Join(ctx, "match", 2, "bob", b))
	require.NoError(t, hub.Join(ctx, "other", 9, "eve", outsider))

	hub.Handle(ctx, "match", 1, []byte(`{"type":"offer","target_id":2,"payload":{"sdp":"v=0"}}`))
	offers := b.ofType("offer")
	require.Len(t, offers, 1)
	assert.Equal(t, uint(1), offers[0].UserID, "sender is stamped")
	assert.Equal(t, "alice", offers[0].Username)
	assert.Equal(t, "match", offers[0].RoomID)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(offers[0].Payload))

	hub.Handle(ctx, "match", 2, []byte(`{"type":"answer","target_id":1,"payload":{"sdp":"ans"}}`))
	hub.Handle(ctx, "match", 2, []byte(`{"type":"ice-candidate","target_id":1,"payload":{"candidate":"c"}}`))
	assert.Len(t, a.ofType("answer"), 1)
	assert.Len(t, a.ofType("ice-candidate"), 1)

	hub.Handle(ctx, "match", 1, []byte(`{"type":"offer","target_id":9,"payload":{}}`))
	assert.Empty(t, outsider.ofType("offer"), "never relayed across rooms")
	errs := a.ofType("error")
	require.Len(t, errs, 1)
	assert.Equal(t, "peer not in room", errorMessage(t, errs[0]))

	// Spoofed room: user 9 is not in "match".
	hub.Handle(ctx, "match", 9, []byte(`{"type":"offer","target_id":1}`))
	assert.Len(t, a.ofType("offer"), 0)
}

func TestVoiceHub_BadFrames(t *testing.T) {
	hub := NewVoiceHub(VoiceConfig{}, nil, nil)
	ctx := context.Background()
	p := &fakePeer{}
	require.NoError(t, hub.Join(ctx, "r", 1, "a", p))

	hub.Handle(ctx, "r", 1, []byte(`not json`))
	hub.Handle(ctx, "r", 1, []byte(`{"type":"dance"}`))
	hub.Handle(ctx, "r", 1, []byte(`{"type":"offer"}`))
	hub.Handle(ctx, "r", 1, []byte(`{"type":"offer","target_id":1}`))

	errs := p.ofType("error")
	require.Len(t, errs, 4)
	assert.Equal(t, "invalid signal", errorMessage(t, errs[0]))
	assert.Equal(t, "unknown signal type", errorMessage(t, errs[1]))
	assert.Equal(t, "target_id required", errorMessage(t, errs[2]))
}

func TestVoiceHub_LeaveNotifiesRoom(t *testing.T) {
	hub := NewVoiceHub(VoiceConfig{}, nil, nil)
	ctx := context.Background()
	a, b := &fakePeer{}, &fakePeer{}
	require.NoError(t, hub.Join(ctx, "r", 1, "a", a))
	require.NoError(t, hub.Join(ctx, "r", 2, "b", b))

	hub.Handle(ctx, "r", 2, []byte(`{"type":"leave"}`))
	left := a.ofType("user_left")
	require.Len(t, left, 1)
	assert.Equal(t, uint(2), left[0].UserID)
	assert.Equal(t, 1, hub.RoomSize("r"))

	// Disconnect after an explicit leave is a no-op.
	hub.Leave(ctx, "r", 2, b)
	assert.Len(t, a.ofType("user_left"), 1)

	hub.Leave(ctx, "r", 1, a)
	assert.Equal(t, 0, hub.RoomSize("r"))
}

func TestVoiceHub_RejoinReplacesConnection(t *testing.T) {
	hub := NewVoiceHub(VoiceConfig{}, nil, nil)
	ctx := context.Background()
	other, stale, fresh := &fakePeer{}, &fakePeer{}, &fakePeer{}
	require.NoError(t, hub.Join(ctx, "r", 1, "a", other))
	require.NoError(t, hub.Join(ctx, "r", 2, "b", stale))
	require.NoError(t, hub.Join(ctx, "r", 2, "b", fresh), "rejoin does not count against capacity")
	assert.True(t, stale.isClosed())

	// The stale socket's disconnect must not evict the new one.
	hub.Leave(ctx, "r", 2, stale)
	assert.Equal(t, 2, hub.RoomSize("r"))
	assert.Empty(t, other.ofType("user_left"))

	hub.Handle(ctx, "r", 1, []byte(`{"type":"offer","target_id":2}`))
	assert.Len(t, fresh.ofType("offer"), 1)
	assert.Empty(t, stale.ofType("offer"))
}

func TestVoiceHub_Shutdown(t *testing.T) {
	hub := NewVoiceHub(VoiceConfig{}, nil, nil)
	p := &fakePeer{}
	require.NoError(t, hub.Join(context.Background(), "r", 1, "a", p))

	require.NoError(t, hub.Shutdown(context.Background()))
	assert.Len(t, p.ofType("server_shutdown"), 1)
	assert.True(t, p.isClosed())
	assert.Equal(t, 0, hub.RoomSize("r"))
}

func TestVoiceHub_CrossInstanceRelay(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hubA := NewVoiceHub(VoiceConfig{}, rdb, NewNotifier(rdb))
	hubB := NewVoiceHub(VoiceConfig{}, rdb, NewNotifier(rdb))
	require.NoError(t, hubA.StartWiring(ctx, NewNotifier(rdb)))
	require.NoError(t, hubB.StartWiring(ctx, NewNotifier(rdb)))

	alice, bob := &fakePeer{}, &fakePeer{}
	require.NoError(t, hubA.Join(ctx, "m1", 3, "alice", alice))
	require.NoError(t, hubB.Join(ctx, "m1", 5, "bob", bob))

	ru := decodeRoomUsers(t, bob.ofType("room_users")[0])
	require.Len(t, ru.Users, 1, "membership comes from redis")
	assert.Equal(t, uint(3), ru.Users[0].UserID)
	assert.False(t, ru.Initiator, "bob has the higher id")

	assert.Eventually(t, func() bool { return len(alice.ofType("user_joined")) == 1 }, time.Second, 10*time.Millisecond)

	hubA.Handle(ctx, "m1", 3, []byte(`{"type":"offer","target_id":5,"payload":{"sdp":"x"}}`))
	assert.Eventually(t, func() bool { return len(bob.ofType("offer")) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, uint(3), bob.ofType("offer")[0].UserID)

	// Capacity is cluster-wide.
	late := &fakePeer{}
	assert.ErrorIs(t, hubA.Join(ctx, "m1", 7, "carol", late), ErrRoomFull)

	hubB.Leave(ctx, "m1", 5, bob)
	assert.Eventually(t, func() bool { return len(alice.ofType("user_left")) == 1 }, time.Second, 10*time.Millisecond)
	keys, err := mr.HKeys(membersKey("m1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"3"}, keys)
}

func TestVoiceHub_ConcurrentJoinsRespectCapacity(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	hub := NewVoiceHub(VoiceConfig{}, rdb, nil)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		joined int
	)
	for i := uint(1); i <= 6; i++ {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			if err := hub.Join(ctx, "busy", id, "p", &fakePeer{}); err == nil {
				mu.Lock()
				joined++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrRoomFull)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, defaultVoiceMaxPeers, joined)
	assert.Equal(t, defaultVoiceMaxPeers, hub.RoomSize("busy"))
	keys, err := mr.HKeys(membersKey("busy"))
	require.NoError(t, err)
	assert.Len(t, keys, defaultVoiceMaxPeers, "no seat is left behind by a rejected join")
}

func TestVoiceHub_RedisSeatHeldElsewhere(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	for i := 1; i <= defaultVoiceMaxPeers; i++ {
		mr.HSet(membersKey("remote"), strconv.Itoa(100+i), `{"user_id":1}`)
	}

	hub := NewVoiceHub(VoiceConfig{}, rdb, nil)
	peer := &fakePeer{}
	assert.ErrorIs(t, hub.Join(ctx, "remote", 1, "a", peer), ErrRoomFull)
	assert.Zero(t, hub.RoomSize("remote"))
	require.Len(t, peer.ofType("error"), 1)
}
