package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"playforge/internal/middleware"
	"playforge/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	voiceHubName = "voice"

	defaultVoiceMaxPeers = 2
	maxVoiceRooms        = 1000

	voiceMembersKeyPrefix = "voice:members:"
	voiceMembersTTL       = 2 * time.Hour
)

var (
	ErrRoomFull     = errors.New("room is full")
	ErrTooManyRooms = errors.New("too many active rooms")
)

// VoiceSignal is the frame exchanged with voice clients. Payload carries SDP
// or ICE data untouched.
type VoiceSignal struct {
	Type     string          `json:"type"`
	RoomID   string          `json:"room_id,omitempty"`
	UserID   uint            `json:"user_id,omitempty"`
	TargetID uint            `json:"target_id,omitempty"`
	Username string          `json:"username,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// ICEServer mirrors RTCIceServer on the browser side.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ICEServers builds the STUN list plus an optional TURN entry.
func ICEServers(stunURLs, turnURL, turnUser, turnPass string) []ICEServer {
	var servers []ICEServer
	var stun []string
	for _, u := range strings.Split(stunURLs, ",") {
		if u = strings.TrimSpace(u); u != "" {
			stun = append(stun, u)
		}
	}
	if len(stun) > 0 {
		servers = append(servers, ICEServer{URLs: stun})
	}
	if turnURL = strings.TrimSpace(turnURL); turnURL != "" {
		servers = append(servers, ICEServer{URLs: []string{turnURL}, Username: turnUser, Credential: turnPass})
	}
	return servers
}

// VoicePeer is what the hub writes signals to.
type VoicePeer interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type voicePeer struct {
	userID   uint
	username string
	conn     VoicePeer
	writeMu  sync.Mutex
}

func (p *voicePeer) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

type voiceMember struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Instance string `json:"instance,omitempty"`
}

// voiceEnvelope carries a signal between instances.
type voiceEnvelope struct {
	Origin string      `json:"origin"`
	Signal VoiceSignal `json:"signal"`
}

type VoiceConfig struct {
	MaxPeers   int
	ICEServers []ICEServer
}

// VoiceHub relays WebRTC signaling between the players of a match. It never
// sees media. Peers of one room may sit on different instances; membership
// then lives in a Redis hash and signals travel over the notifier.
type VoiceHub struct {
	mu    sync.RWMutex
	rooms map[string]map[uint]*voicePeer

	maxPeers   int
	iceServers []ICEServer
	instance   string

	rdb      *redis.Client
	notifier *Notifier
	log      *observability.HubLogger
}

// joinScript adds a member unless the room is at capacity. Rejoining is
// always allowed.
var joinScript = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 0 and redis.call("HLEN", KEYS[1]) >= tonumber(ARGV[3]) then
  return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("EXPIRE", KEYS[1], ARGV[4])
return 1
`)

// NewVoiceHub creates a hub. rdb and notifier may be nil for a single
// instance.
func NewVoiceHub(cfg VoiceConfig, rdb *redis.Client, notifier *Notifier) *VoiceHub {
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = defaultVoiceMaxPeers
	}
	return &VoiceHub{
		rooms:      make(map[string]map[uint]*voicePeer),
		maxPeers:   cfg.MaxPeers,
		iceServers: cfg.ICEServers,
		instance:   uuid.NewString(),
		rdb:        rdb,
		notifier:   notifier,
		log:        observability.NewHubLogger(voiceHubName),
	}
}

func membersKey(roomID string) string { return voiceMembersKeyPrefix + roomID }

// Join adds userID to roomID. The joiner receives room_users with the
// current members, its initiator role towards each of them and the ICE
// servers; existing members receive user_joined. When the room is full an
// error frame is written and ErrRoomFull returned.
func (h *VoiceHub) Join(ctx context.Context, roomID string, userID uint, username string, conn VoicePeer) error {
	peer := &voicePeer{userID: userID, username: username, conn: conn}

	h.mu.Lock()
	err := h.admit(roomID, userID)
	h.mu.Unlock()
	if err != nil {
		h.sendError(peer, err.Error())
		return err
	}

	// The Redis seat is claimed outside h.mu; admit runs again below.
	if h.rdb != nil {
		ok, err := h.claimSeat(ctx, roomID, peer)
		if err != nil {
			h.sendError(peer, "voice unavailable")
			return err
		}
		if !ok {
			h.sendError(peer, ErrRoomFull.Error())
			return ErrRoomFull
		}
	}

	h.mu.Lock()
	if err := h.admit(roomID, userID); err != nil {
		h.mu.Unlock()
		h.releaseSeat(ctx, roomID, userID)
		h.sendError(peer, err.Error())
		return err
	}
	room := h.rooms[roomID]
	if room == nil {
		room = make(map[uint]*voicePeer)
		h.rooms[roomID] = room
	}
	old := room[userID]
	room[userID] = peer
	locals := make([]voiceMember, 0, len(room))
	for id, p := range room {
		if id != userID {
			locals = append(locals, voiceMember{UserID: id, Username: p.username})
		}
	}
	h.mu.Unlock()

	if old != nil {
		_ = old.conn.Close()
	} else {
		observability.WebSocketConnectionsTotal.WithLabelValues(voiceHubName).Inc()
	}
	h.log.Connect(ctx, userID, roomID)

	members := h.members(ctx, roomID, userID, locals)
	users := make([]map[string]any, 0, len(members))
	for _, m := range members {
		users = append(users, map[string]any{
			"user_id":   m.UserID,
			"username":  m.Username,
			"initiator": userID < m.UserID,
		})
	}
	initiator := false
	for _, m := range members {
		if userID < m.UserID {
			initiator = true
		}
	}
	h.writeTo(peer, VoiceSignal{
		Type:    "room_users",
		RoomID:  roomID,
		Payload: mustJSON(map[string]any{"users": users, "initiator": initiator, "ice_servers": h.iceServers}),
	})

	// Each receiver works out its own initiator flag from user_id.
	h.broadcast(ctx, roomID, VoiceSignal{
		Type:     "user_joined",
		RoomID:   roomID,
		UserID:   userID,
		Username: username,
	})
	return nil
}

// admit checks local room limits for userID. Callers hold h.mu.
func (h *VoiceHub) admit(roomID string, userID uint) error {
	room := h.rooms[roomID]
	if room == nil && len(h.rooms) >= maxVoiceRooms {
		return ErrTooManyRooms
	}
	if _, rejoin := room[userID]; !rejoin && len(room) >= h.maxPeers {
		return ErrRoomFull
	}
	return nil
}

func (h *VoiceHub) releaseSeat(ctx context.Context, roomID string, userID uint) {
	if h.rdb == nil {
		return
	}
	if err := h.rdb.HDel(ctx, membersKey(roomID), strconv.FormatUint(uint64(userID), 10)).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("voice_leave").Inc()
	}
}

// claimSeat records the peer in the room's Redis membership hash.
func (h *VoiceHub) claimSeat(ctx context.Context, roomID string, p *voicePeer) (bool, error) {
	member := mustJSON(voiceMember{UserID: p.userID, Username: p.username, Instance: h.instance})
	n, err := joinScript.Run(ctx, h.rdb, []string{membersKey(roomID)},
		strconv.FormatUint(uint64(p.userID), 10), string(member), h.maxPeers, int(voiceMembersTTL.Seconds())).Int()
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("voice_join").Inc()
		return false, err
	}
	return n == 1, nil
}

// members lists the other peers of a room, cluster-wide when Redis is
// available.
func (h *VoiceHub) members(ctx context.Context, roomID string, self uint, locals []voiceMember) []voiceMember {
	if h.rdb != nil {
		all, err := h.rdb.HGetAll(ctx, membersKey(roomID)).Result()
		if err == nil {
			out := make([]voiceMember, 0, len(all))
			for _, raw := range all {
				var m voiceMember
				if json.Unmarshal([]byte(raw), &m) != nil || m.UserID == self {
					continue
				}
				m.Instance = ""
				out = append(out, m)
			}
			locals = out
		} else {
			observability.RedisErrorRate.WithLabelValues("voice_members").Inc()
		}
	}
	sort.Slice(locals, func(i, j int) bool { return locals[i].UserID < locals[j].UserID })
	return locals
}

// Handle processes one frame from userID's socket.
func (h *VoiceHub) Handle(ctx context.Context, roomID string, userID uint, raw []byte) {
	var sig VoiceSignal
	if err := json.Unmarshal(raw, &sig); err != nil {
		h.errorTo(roomID, userID, "invalid signal")
		return
	}
	observability.WebSocketEventsTotal.WithLabelValues(voiceHubName, sig.Type).Inc()

	switch sig.Type {
	case "offer", "answer", "ice-candidate":
		if sig.TargetID == 0 || sig.TargetID == userID {
			h.errorTo(roomID, userID, "target_id required")
			return
		}
		h.relay(ctx, roomID, userID, sig)
	case "leave":
		h.Leave(ctx, roomID, userID, nil)
	default:
		h.errorTo(roomID, userID, "unknown signal type")
	}
}

// relay forwards a targeted signal. The target must be a member of the same
// room; anything else is dropped.
func (h *VoiceHub) relay(ctx context.Context, roomID string, from uint, sig VoiceSignal) {
	h.mu.RLock()
	room := h.rooms[roomID]
	sender := room[from]
	target := room[sig.TargetID]
	h.mu.RUnlock()

	if sender == nil {
		return
	}
	sig.RoomID = roomID
	sig.UserID = from
	sig.Username = sender.username

	if target != nil {
		h.writeTo(target, sig)
		return
	}
	if h.rdb == nil || !h.isMember(ctx, roomID, sig.TargetID) {
		h.errorTo(roomID, from, "peer not in room")
		return
	}
	h.publish(ctx, roomID, sig)
}

func (h *VoiceHub) isMember(ctx context.Context, roomID string, userID uint) bool {
	ok, err := h.rdb.HExists(ctx, membersKey(roomID), strconv.FormatUint(uint64(userID), 10)).Result()
	return err == nil && ok
}

// Leave removes userID from roomID and tells the rest of the room. With a
// non-nil conn the peer is only removed if it still owns that connection,
// so a stale socket closing does not evict a reconnect.
func (h *VoiceHub) Leave(ctx context.Context, roomID string, userID uint, conn VoicePeer) {
	h.mu.Lock()
	room := h.rooms[roomID]
	peer, ok := room[userID]
	if !ok || (conn != nil && peer.conn != conn) {
		h.mu.Unlock()
		return
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()

	observability.WebSocketConnectionsTotal.WithLabelValues(voiceHubName).Dec()
	h.log.Disconnect(ctx, userID, roomID, "leave")

	h.releaseSeat(ctx, roomID, userID)
	h.broadcast(ctx, roomID, VoiceSignal{Type: "user_left", RoomID: roomID, UserID: userID})
}

// broadcast sends sig to every local member except its sender and forwards
// it to other instances.
func (h *VoiceHub) broadcast(ctx context.Context, roomID string, sig VoiceSignal) {
	h.deliverLocal(roomID, sig)
	if h.rdb != nil {
		h.publish(ctx, roomID, sig)
	}
}

func (h *VoiceHub) publish(ctx context.Context, roomID string, sig VoiceSignal) {
	if h.notifier == nil {
		return
	}
	env := mustJSON(voiceEnvelope{Origin: h.instance, Signal: sig})
	if err := h.notifier.PublishVoice(ctx, roomID, string(env)); err != nil {
		middleware.Logger.Warn("voice relay publish failed",
			slog.String("room_id", roomID),
			slog.String("error", err.Error()))
	}
}

// deliverLocal writes sig to its target, or to all members but the sender
// when untargeted.
func (h *VoiceHub) deliverLocal(roomID string, sig VoiceSignal) {
	h.mu.RLock()
	room := h.rooms[roomID]
	var targets []*voicePeer
	if sig.TargetID != 0 {
		if p := room[sig.TargetID]; p != nil {
			targets = append(targets, p)
		}
	} else {
		for id, p := range room {
			if id != sig.UserID {
				targets = append(targets, p)
			}
		}
	}
	h.mu.RUnlock()

	for _, p := range targets {
		h.writeTo(p, sig)
	}
}

// StartWiring receives signals relayed by other instances.
func (h *VoiceHub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartVoiceSubscriber(ctx, func(channel, payload string) {
		roomID, ok := strings.CutPrefix(channel, voiceChannelPrefix)
		if !ok || roomID == "" {
			return
		}
		var env voiceEnvelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			return
		}
		if env.Origin == h.instance {
			return
		}
		env.Signal.RoomID = roomID
		h.deliverLocal(roomID, env.Signal)
	})
}

// RoomSize reports local peers in roomID.
func (h *VoiceHub) RoomSize(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Shutdown tells every peer the server is going away and drops their
// membership.
func (h *VoiceHub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]map[uint]*voicePeer)
	h.mu.Unlock()

	for roomID, peers := range rooms {
		for id, p := range peers {
			h.writeTo(p, VoiceSignal{Type: "server_shutdown", RoomID: roomID})
			_ = p.conn.Close()
			observability.WebSocketConnectionsTotal.WithLabelValues(voiceHubName).Dec()
			if h.rdb != nil {
				_ = h.rdb.HDel(ctx, membersKey(roomID), strconv.FormatUint(uint64(id), 10)).Err()
			}
		}
	}
	h.log.Lifecycle(ctx, "shutdown", slog.Int("rooms", len(rooms)))
	return nil
}

func (h *VoiceHub) errorTo(roomID string, userID uint, msg string) {
	h.mu.RLock()
	p := h.rooms[roomID][userID]
	h.mu.RUnlock()
	if p != nil {
		h.sendError(p, msg)
	}
}

func (h *VoiceHub) sendError(p *voicePeer, msg string) {
	h.writeTo(p, VoiceSignal{Type: "error", Payload: mustJSON(map[string]string{"message": msg})})
}

func (h *VoiceHub) writeTo(p *voicePeer, sig VoiceSignal) {
	data, err := json.Marshal(sig)
	if err != nil {
		return
	}
	if err := p.write(data); err != nil {
		h.log.Error(context.Background(), p.userID, sig.RoomID, err, sig.Type)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
