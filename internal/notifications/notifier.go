// Package notifications delivers realtime events to WebSocket clients and
// relays voice signaling between match players.
package notifications

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"

	"playforge/internal/middleware"
	"playforge/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	userChannelPrefix  = "notifications:user:"
	broadcastChannel   = "notifications:broadcast"
	voiceChannelPrefix = "voice:room:"
)

// Notifier publishes realtime payloads through Redis pub/sub so every API
// instance can deliver them to its own sockets. Without Redis it hands
// payloads straight to the local subscribers.
type Notifier struct {
	rdb *redis.Client

	mu    sync.RWMutex
	local []localSub
}

type localSub struct {
	patterns []string
	handler  func(channel, payload string)
}

// NewNotifier creates a Notifier; rdb may be nil for single-instance setups.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// UserChannel is the channel carrying events for one user.
func UserChannel(userID uint) string {
	return userChannelPrefix + strconv.FormatUint(uint64(userID), 10)
}

// VoiceChannel is the channel relaying signals for one voice room.
func VoiceChannel(roomID string) string {
	return voiceChannelPrefix + roomID
}

// PublishUser sends payload to every socket of userID.
func (n *Notifier) PublishUser(ctx context.Context, userID uint, payload string) error {
	return n.publish(ctx, UserChannel(userID), payload)
}

// PublishBroadcast sends payload to every connected user.
func (n *Notifier) PublishBroadcast(ctx context.Context, payload string) error {
	return n.publish(ctx, broadcastChannel, payload)
}

// PublishVoice relays a voice signal to the instances holding roomID's peers.
func (n *Notifier) PublishVoice(ctx context.Context, roomID, payload string) error {
	return n.publish(ctx, VoiceChannel(roomID), payload)
}

func (n *Notifier) publish(ctx context.Context, channel, payload string) error {
	if n.rdb == nil {
		n.dispatchLocal(channel, payload)
		return nil
	}
	if err := n.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("publish").Inc()
		return err
	}
	return nil
}

// StartUserSubscriber delivers user and broadcast channels to onMessage
// until ctx is done.
func (n *Notifier) StartUserSubscriber(ctx context.Context, onMessage func(channel, payload string)) error {
	return n.subscribe(ctx, "user", onMessage, userChannelPrefix+"*", broadcastChannel)
}

// StartVoiceSubscriber delivers voice room channels to onMessage until ctx
// is done.
func (n *Notifier) StartVoiceSubscriber(ctx context.Context, onMessage func(channel, payload string)) error {
	return n.subscribe(ctx, "voice", onMessage, voiceChannelPrefix+"*")
}

func (n *Notifier) subscribe(ctx context.Context, name string, onMessage func(channel, payload string), patterns ...string) error {
	if n.rdb == nil {
		n.mu.Lock()
		n.local = append(n.local, localSub{patterns: patterns, handler: onMessage})
		n.mu.Unlock()
		return nil
	}

	sub := n.rdb.PSubscribe(ctx, patterns...)
	// Wait for the subscription so publishes right after start are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				deliver(name, onMessage, msg.Channel, msg.Payload)
			}
		}
	}()
	return nil
}

func (n *Notifier) dispatchLocal(channel, payload string) {
	n.mu.RLock()
	subs := append([]localSub(nil), n.local...)
	n.mu.RUnlock()

	for _, s := range subs {
		for _, p := range s.patterns {
			if matchPattern(p, channel) {
				deliver("local", s.handler, channel, payload)
				break
			}
		}
	}
}

// deliver runs a subscriber callback, keeping the subscription alive if it
// panics.
func deliver(name string, fn func(channel, payload string), channel, payload string) {
	defer func() {
		if r := recover(); r != nil {
			middleware.Logger.Error("panic in realtime subscriber",
				slog.String("subscriber", name),
				slog.String("channel", channel),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	fn(channel, payload)
}

// matchPattern supports the trailing-star patterns used by the subscribers.
func matchPattern(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}
